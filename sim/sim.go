// Package sim provides a synthetic localization bench: analytic reference
// trajectories with exact body-frame IMU signals, noisy IMU and odometry
// sampling, scan synthesis from a global map cloud and residual statistics.
// It exists so the estimator can be exercised end to end without hardware.
package sim

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/milosgajdos/matrix"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	localize "github.com/robolib/go-localize"
	"github.com/robolib/go-localize/model"
	"github.com/robolib/go-localize/noise"
	"github.com/robolib/go-localize/pointcloud"
	"github.com/robolib/go-localize/spatial"
)

// Step is one sample of a reference trajectory.
type Step struct {
	// Stamp is the sample time
	Stamp time.Time
	// Pose is the ground truth pose
	Pose spatial.Pose
	// Velocity is the ground truth velocity in the world frame
	Velocity r3.Vector
	// Acc is the ideal accelerometer reading in the body frame
	Acc r3.Vector
	// Gyro is the ideal gyroscope reading in the body frame
	Gyro r3.Vector
}

// Circle generates a constant-rate circular trajectory in the XY plane:
// radius in meters, omega in rad/s, one step every dt seconds starting at
// start. The platform's x axis points along the direction of travel.
func Circle(radius, omega, dt float64, start time.Time, steps int) []Step {
	out := make([]Step, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) * dt
		theta := omega * t
		yaw := theta + math.Pi/2

		pose := spatial.Pose{
			Translation: r3.Vector{
				X: radius * math.Cos(theta),
				Y: radius * math.Sin(theta),
			},
			Rotation: quat.Number{
				Real: math.Cos(yaw / 2),
				Kmag: math.Sin(yaw / 2),
			},
		}

		vel := r3.Vector{
			X: -radius * omega * math.Sin(theta),
			Y: radius * omega * math.Cos(theta),
		}
		// centripetal acceleration in the world frame
		accWorld := r3.Vector{
			X: -radius * omega * omega * math.Cos(theta),
			Y: -radius * omega * omega * math.Sin(theta),
		}
		// the accelerometer senses the specific force: acceleration plus
		// the gravity reaction, expressed in the body frame
		accBody := spatial.Rotate(quat.Conj(pose.Rotation), accWorld.Add(r3.Vector{Z: model.Gravity}))

		out[i] = Step{
			Stamp:    start.Add(time.Duration(t * float64(time.Second))),
			Pose:     pose,
			Velocity: vel,
			Acc:      accBody,
			Gyro:     r3.Vector{Z: omega},
		}
	}

	return out
}

// IMU samples noisy inertial measurements from trajectory steps.
type IMU struct {
	noise localize.Noise
}

// NewIMU creates an IMU with the given accelerometer and gyroscope noise
// standard deviations.
// It returns error if the noise distribution fails to be created.
func NewIMU(accSigma, gyroSigma float64) (*IMU, error) {
	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		if i < 3 {
			cov.SetSym(i, i, accSigma*accSigma)
		} else {
			cov.SetSym(i, i, gyroSigma*gyroSigma)
		}
	}

	n, err := noise.NewGaussian(make([]float64, 6), cov)
	if err != nil {
		return nil, err
	}

	return &IMU{noise: n}, nil
}

// Sample returns a noisy accelerometer and gyroscope reading for step s.
func (i *IMU) Sample(s Step) (acc, gyro r3.Vector) {
	w := i.noise.Sample()
	acc = s.Acc.Add(r3.Vector{X: w.AtVec(0), Y: w.AtVec(1), Z: w.AtVec(2)})
	gyro = s.Gyro.Add(r3.Vector{X: w.AtVec(3), Y: w.AtVec(4), Z: w.AtVec(5)})

	return acc, gyro
}

// Odometry samples noisy relative transforms between consecutive steps.
type Odometry struct {
	noise localize.Noise
}

// NewOdometry creates an odometry source with the given translation and
// rotation noise standard deviations.
// It returns error if the noise distribution fails to be created.
func NewOdometry(transSigma, rotSigma float64) (*Odometry, error) {
	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		if i < 3 {
			cov.SetSym(i, i, transSigma*transSigma)
		} else {
			cov.SetSym(i, i, rotSigma*rotSigma)
		}
	}

	n, err := noise.NewGaussian(make([]float64, 6), cov)
	if err != nil {
		return nil, err
	}

	return &Odometry{noise: n}, nil
}

// Delta returns a noisy relative transform from prev to cur, expressed in
// prev's body frame.
func (o *Odometry) Delta(prev, cur Step) spatial.Pose {
	delta := prev.Pose.Inverse().Compose(cur.Pose)
	w := o.noise.Sample()

	delta.Translation = delta.Translation.Add(r3.Vector{
		X: w.AtVec(0), Y: w.AtVec(1), Z: w.AtVec(2),
	})
	// small-angle rotation perturbation
	perturb := spatial.Normalize(quat.Number{
		Real: 1,
		Imag: w.AtVec(3) / 2,
		Jmag: w.AtVec(4) / 2,
		Kmag: w.AtVec(5) / 2,
	})
	delta.Rotation = spatial.Normalize(quat.Mul(delta.Rotation, perturb))

	return delta
}

// RandomMap generates a map cloud of n points uniformly distributed in a
// cube of the given extent centered on the origin.
func RandomMap(n int, extent float64, seed uint64) pointcloud.Cloud {
	rnd := rand.New(rand.NewSource(seed))
	cloud := make(pointcloud.Cloud, n)
	for i := range cloud {
		cloud[i] = r3.Vector{
			X: (rnd.Float64() - 0.5) * extent,
			Y: (rnd.Float64() - 0.5) * extent,
			Z: (rnd.Float64() - 0.5) * extent,
		}
	}

	return cloud
}

// Scan synthesizes the scan a range sensor at pose would observe of the map:
// the map cloud expressed in the sensor frame.
func Scan(m pointcloud.Cloud, pose spatial.Pose) pointcloud.Cloud {
	return m.Transform(pose.Inverse())
}

// ResidualCov returns the sample covariance of the position residuals
// est[i] - truth[i].
func ResidualCov(est, truth []r3.Vector) (mat.Symmetric, error) {
	n := len(est)
	res := mat.NewDense(3, n, nil)
	for i := 0; i < n; i++ {
		d := est[i].Sub(truth[i])
		res.Set(0, i, d.X)
		res.Set(1, i, d.Y)
		res.Set(2, i, d.Z)
	}

	cov, err := matrix.Cov(res, "cols")
	if err != nil {
		return nil, err
	}

	return cov, nil
}

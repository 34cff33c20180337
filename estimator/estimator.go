// Package estimator implements scan matching-based 6-DoF pose estimation.
//
// A PoseEstimator fuses three asynchronous streams: high-rate IMU samples
// drive a 16-state unscented filter, optional relative-motion (odometry)
// transforms drive a lazily created 7-state filter, and low-rate range scans
// correct both filters through point cloud registration against a known map.
// The two filters' pose beliefs are combined with information-form fusion
// into the registration initial guess.
package estimator

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/robolib/go-localize/kalman/ukf"
	"github.com/robolib/go-localize/model"
	"github.com/robolib/go-localize/pointcloud"
	"github.com/robolib/go-localize/registration"
	"github.com/robolib/go-localize/spatial"
)

// DefaultCoolTime is the default duration after construction during which
// IMU prediction is suppressed so initial sensor biases can settle.
const DefaultCoolTime = time.Second

// ukfConfig reproduces the lambda=1 sigma point weights the estimator is
// tuned for.
var ukfConfig = &ukf.Config{Alpha: 1, Beta: 0, Kappa: 1}

// poseIdx are the pose sub-state indices of the 16-dimensional state:
// position followed by the orientation quaternion.
var poseIdx = [7]int{0, 1, 2, 6, 7, 8, 9}

// PoseEstimator estimates the pose of a mobile platform relative to a fixed
// global map.
//
// A PoseEstimator is not safe for concurrent use: prediction, correction and
// the accessors all read and write overlapping filter state, and the caller
// must serialize them into one logical stream ordered by sensor time.
type PoseEstimator struct {
	registration registration.Registration

	initStamp           time.Time
	prevStamp           time.Time
	lastCorrectionStamp time.Time
	coolTime            time.Duration

	// processNoise is the 16x16 template rescaled by dt at every prediction
	processNoise *mat.SymDense

	poseModel *model.Pose
	imuFilter *ukf.UKF

	odomModel  *model.Odom
	odomFilter *ukf.UKF

	predErr     *spatial.Pose
	odomPredErr *spatial.Pose
}

// New creates a new PoseEstimator and returns it.
// It accepts the following parameters:
//   - reg:      registration engine aligning scans against the global map
//   - stamp:    initialization timestamp
//   - pos:      initial position
//   - rot:      initial orientation
//   - coolTime: duration during which prediction is suppressed; use
//     DefaultCoolTime unless the platform's biases are known to be settled
//
// It returns error if the primary filter fails to be created.
func New(reg registration.Registration, stamp time.Time, pos r3.Vector, rot quat.Number, coolTime time.Duration) (*PoseEstimator, error) {
	if reg == nil {
		return nil, fmt.Errorf("invalid registration engine: %v", reg)
	}

	processNoise := mat.NewSymDense(16, nil)
	for i := 0; i < 16; i++ {
		switch {
		case i < 6:
			processNoise.SetSym(i, i, 1.0)
		case i < 10:
			processNoise.SetSym(i, i, 0.5)
		default:
			processNoise.SetSym(i, i, 1e-6)
		}
	}

	measurementNoise := mat.NewSymDense(7, nil)
	for i := 0; i < 7; i++ {
		if i < 3 {
			measurementNoise.SetSym(i, i, 0.01)
		} else {
			measurementNoise.SetSym(i, i, 0.001)
		}
	}

	q := spatial.Normalize(rot)
	mean := mat.NewVecDense(16, nil)
	mean.SetVec(0, pos.X)
	mean.SetVec(1, pos.Y)
	mean.SetVec(2, pos.Z)
	mean.SetVec(6, q.Real)
	mean.SetVec(7, q.Imag)
	mean.SetVec(8, q.Jmag)
	mean.SetVec(9, q.Kmag)

	cov := mat.NewSymDense(16, nil)
	for i := 0; i < 16; i++ {
		cov.SetSym(i, i, 0.01)
	}

	poseModel := model.NewPose()
	imuFilter, err := ukf.New(poseModel, model.NewInitCond(mean, cov), processNoise, measurementNoise, ukfConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pose filter: %v", err)
	}

	return &PoseEstimator{
		registration: reg,
		initStamp:    stamp,
		coolTime:     coolTime,
		processNoise: processNoise,
		poseModel:    poseModel,
		imuFilter:    imuFilter,
	}, nil
}

// Predict advances the pose belief with one IMU sample: linear acceleration
// acc and angular velocity gyro, both in the body frame, taken at stamp.
//
// Within the cool-time window, on the very first call and on a repeated
// timestamp the call only records the timestamp: prediction is suppressed
// while initial sensor biases settle.
func (e *PoseEstimator) Predict(stamp time.Time, acc, gyro r3.Vector) error {
	if stamp.Sub(e.initStamp) < e.coolTime || e.prevStamp.IsZero() || e.prevStamp.Equal(stamp) {
		e.prevStamp = stamp
		return nil
	}

	dt := stamp.Sub(e.prevStamp).Seconds()
	e.prevStamp = stamp

	scaled := mat.NewSymDense(16, nil)
	for i := 0; i < 16; i++ {
		for j := i; j < 16; j++ {
			scaled.SetSym(i, j, e.processNoise.At(i, j)*dt)
		}
	}
	if err := e.imuFilter.SetProcessNoiseCov(scaled); err != nil {
		return fmt.Errorf("failed to set process noise: %v", err)
	}
	e.poseModel.SetTimestep(dt)

	control := mat.NewVecDense(6, []float64{
		acc.X, acc.Y, acc.Z,
		gyro.X, gyro.Y, gyro.Z,
	})

	if _, err := e.imuFilter.Predict(control); err != nil {
		return fmt.Errorf("failed to predict pose: %v", err)
	}

	return nil
}

// PredictOdom advances the odometry pose belief with the relative transform
// delta: the platform motion since the previous odometry sample.
//
// The odometry filter is created on first use, seeded from the current
// primary position and orientation. Its process noise is rebuilt every call
// from the magnitude of delta so larger motions inject proportionally larger
// uncertainty. No cool-time gating applies to this path.
func (e *PoseEstimator) PredictOdom(delta spatial.Pose) error {
	if e.odomFilter == nil {
		if err := e.initOdomFilter(); err != nil {
			return err
		}
	}

	t := delta.Translation
	dq := spatial.Normalize(delta.Rotation)

	if err := e.odomFilter.SetProcessNoiseCov(odomProcessNoise(t, dq)); err != nil {
		return fmt.Errorf("failed to set odometry process noise: %v", err)
	}

	control := mat.NewVecDense(7, []float64{
		t.X, t.Y, t.Z,
		dq.Real, dq.Imag, dq.Jmag, dq.Kmag,
	})

	if _, err := e.odomFilter.Predict(control); err != nil {
		return fmt.Errorf("failed to predict odometry pose: %v", err)
	}

	return nil
}

// initOdomFilter creates the odometry filter seeded from the primary belief.
func (e *PoseEstimator) initOdomFilter() error {
	q := mat.NewSymDense(7, nil)
	r := mat.NewSymDense(7, nil)
	cov := mat.NewSymDense(7, nil)
	for i := 0; i < 7; i++ {
		q.SetSym(i, i, 1.0)
		r.SetSym(i, i, 1e-3)
		cov.SetSym(i, i, 1e-2)
	}

	x := e.imuFilter.State()
	mean := mat.NewVecDense(7, nil)
	for i, id := range poseIdx {
		mean.SetVec(i, x.AtVec(id))
	}

	e.odomModel = model.NewOdom()
	f, err := ukf.New(e.odomModel, model.NewInitCond(mean, cov), q, r, ukfConfig)
	if err != nil {
		return fmt.Errorf("failed to create odometry filter: %v", err)
	}
	e.odomFilter = f

	return nil
}

// odomProcessNoise builds the magnitude-adaptive odometry process noise for
// a relative transform with translation t and unit rotation q.
func odomProcessNoise(t r3.Vector, q quat.Number) *mat.SymDense {
	tn := t.Norm() + 1e-3
	rn := (1 - math.Abs(q.Real)) + 1e-3

	cov := mat.NewSymDense(7, nil)
	for i := 0; i < 7; i++ {
		if i < 3 {
			cov.SetSym(i, i, tn)
		} else {
			cov.SetSym(i, i, rn)
		}
	}

	return cov
}

// Correct corrects both pose beliefs by registering cloud against the global
// map, using the fused pose belief as the registration initial guess. It
// records stamp as the last correction time and returns the aligned cloud.
//
// The registration result is accepted unconditionally: no quality gating and
// no retry happen here. A failure between the two filter updates leaves the
// primary filter corrected and the odometry filter not; there is no
// rollback.
func (e *PoseEstimator) Correct(stamp time.Time, cloud pointcloud.Cloud) (pointcloud.Cloud, error) {
	e.lastCorrectionStamp = stamp

	imuGuess := e.Pose()
	initGuess := imuGuess

	var odomGuess spatial.Pose
	if e.odomFilter != nil {
		odomGuess = e.OdomPose()

		imuMean, imuCov := poseBelief(e.imuFilter)
		odomMean, odomCov := e.odomFilter.State(), e.odomFilter.Covariance()

		fused, _, err := Fuse(imuMean, imuCov, odomMean, odomCov)
		if err != nil {
			return nil, fmt.Errorf("failed to fuse pose beliefs: %v", err)
		}

		initGuess = spatial.Pose{
			Translation: r3.Vector{X: fused.AtVec(0), Y: fused.AtVec(1), Z: fused.AtVec(2)},
			Rotation: spatial.Normalize(quat.Number{
				Real: fused.AtVec(3), Imag: fused.AtVec(4), Jmag: fused.AtVec(5), Kmag: fused.AtVec(6),
			}),
		}
	}

	e.registration.SetInputSource(cloud)
	aligned, err := e.registration.Align(initGuess)
	if err != nil {
		return nil, fmt.Errorf("failed to align cloud: %v", err)
	}
	final := e.registration.FinalTransformation()

	// quaternions q and -q encode the same rotation; pick the sign closest
	// to the current orientation to keep the filter state continuous
	q := final.Rotation
	if spatial.Dot(e.Rotation(), q) < 0 {
		q = quat.Scale(-1, q)
	}

	observation := mat.NewVecDense(7, []float64{
		final.Translation.X, final.Translation.Y, final.Translation.Z,
		q.Real, q.Imag, q.Jmag, q.Kmag,
	})

	if _, err := e.imuFilter.Correct(observation); err != nil {
		return nil, fmt.Errorf("failed to correct pose: %v", err)
	}
	predErr := imuGuess.Inverse().Compose(final)
	e.predErr = &predErr

	if e.odomFilter != nil {
		if _, err := e.odomFilter.Correct(observation); err != nil {
			return nil, fmt.Errorf("failed to correct odometry pose: %v", err)
		}
		odomPredErr := odomGuess.Inverse().Compose(final)
		e.odomPredErr = &odomPredErr
	}

	return aligned, nil
}

// poseBelief extracts the 7-dimensional pose sub-state belief (position and
// orientation; velocity and biases ignored) from the primary filter.
func poseBelief(f *ukf.UKF) (mat.Vector, mat.Symmetric) {
	x := f.State()
	p := f.Covariance()

	mean := mat.NewVecDense(7, nil)
	cov := mat.NewSymDense(7, nil)
	for i, ri := range poseIdx {
		mean.SetVec(i, x.AtVec(ri))
		for j := i; j < len(poseIdx); j++ {
			cov.SetSym(i, j, p.At(ri, poseIdx[j]))
		}
	}

	return mean, cov
}

// LastCorrectionTime returns the time of the last correction.
func (e *PoseEstimator) LastCorrectionTime() time.Time {
	return e.lastCorrectionStamp
}

// Position returns the current position estimate.
func (e *PoseEstimator) Position() r3.Vector {
	x := e.imuFilter.State()
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
}

// Velocity returns the current velocity estimate.
func (e *PoseEstimator) Velocity() r3.Vector {
	x := e.imuFilter.State()
	return r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
}

// Rotation returns the current orientation estimate, renormalized to unit
// length.
func (e *PoseEstimator) Rotation() quat.Number {
	x := e.imuFilter.State()
	return spatial.Normalize(quat.Number{
		Real: x.AtVec(6), Imag: x.AtVec(7), Jmag: x.AtVec(8), Kmag: x.AtVec(9),
	})
}

// Pose returns the current pose estimate.
func (e *PoseEstimator) Pose() spatial.Pose {
	return spatial.Pose{Translation: e.Position(), Rotation: e.Rotation()}
}

// Matrix returns the current pose estimate as a 4x4 homogeneous transform.
func (e *PoseEstimator) Matrix() *mat.Dense {
	return e.Pose().Matrix()
}

// HasOdom reports whether an odometry pose estimate exists, i.e. whether
// PredictOdom has been called at least once.
func (e *PoseEstimator) HasOdom() bool {
	return e.odomFilter != nil
}

// OdomPosition returns the current odometry position estimate.
// It panics if no odometry estimate exists; check HasOdom first.
func (e *PoseEstimator) OdomPosition() r3.Vector {
	e.mustOdom()
	x := e.odomFilter.State()
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
}

// OdomRotation returns the current odometry orientation estimate,
// renormalized to unit length.
// It panics if no odometry estimate exists; check HasOdom first.
func (e *PoseEstimator) OdomRotation() quat.Number {
	e.mustOdom()
	x := e.odomFilter.State()
	return spatial.Normalize(quat.Number{
		Real: x.AtVec(3), Imag: x.AtVec(4), Jmag: x.AtVec(5), Kmag: x.AtVec(6),
	})
}

// OdomPose returns the current odometry pose estimate.
// It panics if no odometry estimate exists; check HasOdom first.
func (e *PoseEstimator) OdomPose() spatial.Pose {
	return spatial.Pose{Translation: e.OdomPosition(), Rotation: e.OdomRotation()}
}

func (e *PoseEstimator) mustOdom() {
	if e.odomFilter == nil {
		panic("estimator: odometry estimate queried before any odometry prediction")
	}
}

// PredictionError returns the discrepancy between the IMU-predicted pose and
// the last corrected pose. The second return value is false until the first
// correction.
func (e *PoseEstimator) PredictionError() (spatial.Pose, bool) {
	if e.predErr == nil {
		return spatial.Pose{}, false
	}
	return *e.predErr, true
}

// OdomPredictionError returns the discrepancy between the odometry-predicted
// pose and the last corrected pose. The second return value is false until
// the first correction with an active odometry filter.
func (e *PoseEstimator) OdomPredictionError() (spatial.Pose, bool) {
	if e.odomPredErr == nil {
		return spatial.Pose{}, false
	}
	return *e.odomPredErr, true
}

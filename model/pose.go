// Package model provides the nonlinear process models driven by the pose
// estimator: an IMU-driven kinematic model over the full navigation state and
// a relative-transform model over the pose-only state.
//
// State layouts follow the estimator convention: quaternions are stored as
// (w, x, y, z) coefficients inside the state vector and are normalized before
// use, never trusted to stay unit length through the filter algebra.
package model

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/robolib/go-localize/spatial"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Gravity is the standard gravitational acceleration in m/s^2.
const Gravity = 9.80665

// Pose dimensions: 16 states, 6 control inputs, 7 outputs.
const (
	poseStateDim   = 16
	poseControlDim = 6
	poseOutputDim  = 7
)

// Pose is the IMU kinematic model.
//
// State (16): position (3), velocity (3), orientation quaternion wxyz (4),
// accelerometer bias (3), gyroscope bias (3).
// Control (6): linear acceleration (3), angular velocity (3), both in the
// body frame.
// Output (7): position (3), orientation quaternion wxyz (4).
//
// The propagation timestep is owned by the model and set by the caller
// before every prediction.
type Pose struct {
	// g is the gravity vector in the world frame
	g r3.Vector
	// dt is the propagation timestep in seconds
	dt float64
}

// NewPose creates a new IMU kinematic model and returns it.
func NewPose() *Pose {
	return &Pose{
		g: r3.Vector{Z: Gravity},
	}
}

// SetTimestep sets the propagation timestep to dt seconds.
func (m *Pose) SetTimestep(dt float64) {
	m.dt = dt
}

// Propagate propagates state x to the next step given the IMU control u.
// Velocity integrates the rotated, bias-corrected, gravity-compensated
// acceleration; orientation integrates the bias-corrected angular rate;
// both sensor biases stay constant.
func (m *Pose) Propagate(x, u, q mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != poseStateDim {
		return nil, fmt.Errorf("invalid state vector")
	}
	if u == nil || u.Len() != poseControlDim {
		return nil, fmt.Errorf("invalid control vector")
	}

	pt := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	vt := r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	qt := spatial.Normalize(quat.Number{
		Real: x.AtVec(6), Imag: x.AtVec(7), Jmag: x.AtVec(8), Kmag: x.AtVec(9),
	})
	accBias := r3.Vector{X: x.AtVec(10), Y: x.AtVec(11), Z: x.AtVec(12)}
	gyroBias := r3.Vector{X: x.AtVec(13), Y: x.AtVec(14), Z: x.AtVec(15)}

	rawAcc := r3.Vector{X: u.AtVec(0), Y: u.AtVec(1), Z: u.AtVec(2)}
	rawGyro := r3.Vector{X: u.AtVec(3), Y: u.AtVec(4), Z: u.AtVec(5)}

	// position
	pn := pt.Add(vt.Mul(m.dt))

	// velocity
	acc := spatial.Rotate(qt, rawAcc.Sub(accBias))
	vn := vt.Add(acc.Sub(m.g).Mul(m.dt))

	// orientation
	gyro := rawGyro.Sub(gyroBias)
	dq := spatial.Normalize(quat.Number{
		Real: 1,
		Imag: gyro.X * m.dt / 2,
		Jmag: gyro.Y * m.dt / 2,
		Kmag: gyro.Z * m.dt / 2,
	})
	qn := spatial.Normalize(quat.Mul(qt, dq))

	out := mat.NewVecDense(poseStateDim, []float64{
		pn.X, pn.Y, pn.Z,
		vn.X, vn.Y, vn.Z,
		qn.Real, qn.Imag, qn.Jmag, qn.Kmag,
		accBias.X, accBias.Y, accBias.Z,
		gyroBias.X, gyroBias.Y, gyroBias.Z,
	})

	if q != nil && q.Len() == poseStateDim {
		out.AddVec(out, q)
	}

	return out, nil
}

// Observe observes the pose output [position, quaternion] of state x.
func (m *Pose) Observe(x, u, r mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != poseStateDim {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := mat.NewVecDense(poseOutputDim, []float64{
		x.AtVec(0), x.AtVec(1), x.AtVec(2),
		x.AtVec(6), x.AtVec(7), x.AtVec(8), x.AtVec(9),
	})

	if r != nil && r.Len() == poseOutputDim {
		out.AddVec(out, r)
	}

	return out, nil
}

// SystemDims returns the state, control, output and disturbance dimensions.
func (m *Pose) SystemDims() (nx, nu, ny, nz int) {
	return poseStateDim, poseControlDim, poseOutputDim, 0
}

package model

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/robolib/go-localize/spatial"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Odom dimensions: 7 states, 7 control inputs, 7 outputs.
const odomDim = 7

// Odom is the relative-motion model.
//
// State (7): position (3), orientation quaternion wxyz (4).
// Control (7): relative translation (3) in the body frame and relative
// rotation quaternion wxyz (4) since the previous odometry sample.
//
// Propagation composes the relative transform onto the current pose: the
// translation is rotated into the world frame by the current orientation.
type Odom struct{}

// NewOdom creates a new relative-motion model and returns it.
func NewOdom() *Odom {
	return &Odom{}
}

// Propagate composes the relative transform control u onto state x.
func (m *Odom) Propagate(x, u, q mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != odomDim {
		return nil, fmt.Errorf("invalid state vector")
	}
	if u == nil || u.Len() != odomDim {
		return nil, fmt.Errorf("invalid control vector")
	}

	pt := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	qt := spatial.Normalize(quat.Number{
		Real: x.AtVec(3), Imag: x.AtVec(4), Jmag: x.AtVec(5), Kmag: x.AtVec(6),
	})

	dp := r3.Vector{X: u.AtVec(0), Y: u.AtVec(1), Z: u.AtVec(2)}
	dq := quat.Number{
		Real: u.AtVec(3), Imag: u.AtVec(4), Jmag: u.AtVec(5), Kmag: u.AtVec(6),
	}

	pn := pt.Add(spatial.Rotate(qt, dp))
	qn := spatial.Normalize(quat.Mul(qt, dq))

	out := mat.NewVecDense(odomDim, []float64{
		pn.X, pn.Y, pn.Z,
		qn.Real, qn.Imag, qn.Jmag, qn.Kmag,
	})

	if q != nil && q.Len() == odomDim {
		out.AddVec(out, q)
	}

	return out, nil
}

// Observe observes the pose output of state x: the odometry state is the
// pose itself.
func (m *Odom) Observe(x, u, r mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != odomDim {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := mat.NewVecDense(odomDim, nil)
	for i := 0; i < odomDim; i++ {
		out.SetVec(i, x.AtVec(i))
	}

	if r != nil && r.Len() == odomDim {
		out.AddVec(out, r)
	}

	return out, nil
}

// SystemDims returns the state, control, output and disturbance dimensions.
func (m *Odom) SystemDims() (nx, nu, ny, nz int) {
	return odomDim, odomDim, odomDim, 0
}

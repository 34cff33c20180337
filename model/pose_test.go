package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

// identityState returns a 16-dim state at the origin with an identity
// orientation, zero velocity and zero biases.
func identityState() *mat.VecDense {
	x := mat.NewVecDense(16, nil)
	x.SetVec(6, 1)
	return x
}

func TestPoseDims(t *testing.T) {
	assert := assert.New(t)

	nx, nu, ny, nz := NewPose().SystemDims()
	assert.Equal(16, nx)
	assert.Equal(6, nu)
	assert.Equal(7, ny)
	assert.Equal(0, nz)
}

func TestPosePropagateHover(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()
	m.SetTimestep(0.1)

	// a stationary body measures gravity along +Z: velocity must not drift
	u := mat.NewVecDense(6, []float64{0, 0, Gravity, 0, 0, 0})
	out, err := m.Propagate(identityState(), u, nil)
	assert.NoError(err)

	for i := 0; i < 16; i++ {
		want := 0.0
		if i == 6 {
			want = 1.0
		}
		assert.InDelta(want, out.AtVec(i), 1e-12)
	}
}

func TestPosePropagateAcceleration(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()
	m.SetTimestep(0.5)

	// 1 m/s^2 along body X on top of gravity compensation
	u := mat.NewVecDense(6, []float64{1, 0, Gravity, 0, 0, 0})
	out, err := m.Propagate(identityState(), u, nil)
	assert.NoError(err)

	assert.InDelta(0.5, out.AtVec(3), 1e-12)
	assert.InDelta(0.0, out.AtVec(4), 1e-12)
	assert.InDelta(0.0, out.AtVec(5), 1e-12)
	// position only moves with the previous velocity
	assert.InDelta(0.0, out.AtVec(0), 1e-12)
}

func TestPosePropagateVelocityIntegration(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()
	m.SetTimestep(0.1)

	x := identityState()
	x.SetVec(3, 2) // 2 m/s along X

	u := mat.NewVecDense(6, []float64{0, 0, Gravity, 0, 0, 0})
	out, err := m.Propagate(x, u, nil)
	assert.NoError(err)

	assert.InDelta(0.2, out.AtVec(0), 1e-12)
	assert.InDelta(2.0, out.AtVec(3), 1e-12)
}

func TestPosePropagateGyro(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()
	m.SetTimestep(0.1)

	// rotate about Z at 1 rad/s
	u := mat.NewVecDense(6, []float64{0, 0, Gravity, 0, 0, 1})
	out, err := m.Propagate(identityState(), u, nil)
	assert.NoError(err)

	// small-angle quaternion about Z: half angle 0.05 rad
	half := 0.05
	norm := math.Sqrt(1 + half*half)
	assert.InDelta(1/norm, out.AtVec(6), 1e-12)
	assert.InDelta(0.0, out.AtVec(7), 1e-12)
	assert.InDelta(0.0, out.AtVec(8), 1e-12)
	assert.InDelta(half/norm, out.AtVec(9), 1e-12)

	// quaternion stays unit length
	q := out.AtVec(6)*out.AtVec(6) + out.AtVec(7)*out.AtVec(7) +
		out.AtVec(8)*out.AtVec(8) + out.AtVec(9)*out.AtVec(9)
	assert.InDelta(1.0, q, 1e-12)
}

func TestPosePropagateBias(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()
	m.SetTimestep(0.1)

	x := identityState()
	x.SetVec(10, 1)   // accel bias X
	x.SetVec(15, 0.5) // gyro bias Z

	// raw measurements equal to the biases plus gravity must cancel out
	u := mat.NewVecDense(6, []float64{1, 0, Gravity, 0, 0, 0.5})
	out, err := m.Propagate(x, u, nil)
	assert.NoError(err)

	assert.InDelta(0.0, out.AtVec(3), 1e-12)
	assert.InDelta(1.0, out.AtVec(6), 1e-12)
	assert.InDelta(0.0, out.AtVec(9), 1e-12)
	// biases stay constant
	assert.InDelta(1.0, out.AtVec(10), 1e-12)
	assert.InDelta(0.5, out.AtVec(15), 1e-12)
}

func TestPosePropagateInvalid(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()

	out, err := m.Propagate(nil, mat.NewVecDense(6, nil), nil)
	assert.Error(err)
	assert.Nil(out)

	out, err = m.Propagate(mat.NewVecDense(3, nil), mat.NewVecDense(6, nil), nil)
	assert.Error(err)
	assert.Nil(out)

	out, err = m.Propagate(identityState(), nil, nil)
	assert.Error(err)
	assert.Nil(out)

	out, err = m.Propagate(identityState(), mat.NewVecDense(3, nil), nil)
	assert.Error(err)
	assert.Nil(out)
}

func TestPoseObserve(t *testing.T) {
	assert := assert.New(t)

	m := NewPose()

	x := identityState()
	x.SetVec(0, 1)
	x.SetVec(1, 2)
	x.SetVec(2, 3)

	y, err := m.Observe(x, nil, nil)
	assert.NoError(err)
	assert.Equal(7, y.Len())
	assert.InDelta(1.0, y.AtVec(0), 1e-12)
	assert.InDelta(2.0, y.AtVec(1), 1e-12)
	assert.InDelta(3.0, y.AtVec(2), 1e-12)
	assert.InDelta(1.0, y.AtVec(3), 1e-12)

	y, err = m.Observe(mat.NewVecDense(3, nil), nil, nil)
	assert.Error(err)
	assert.Nil(y)
}

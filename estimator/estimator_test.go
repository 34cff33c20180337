package estimator

import (
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"

	"github.com/robolib/go-localize/pointcloud"
	"github.com/robolib/go-localize/spatial"
)

// fakeRegistration returns a configurable final transformation so the
// correction path can be driven without a real scan matcher.
type fakeRegistration struct {
	final     spatial.Pose
	lastGuess spatial.Pose
	source    pointcloud.Cloud
	alignErr  error
}

func (f *fakeRegistration) SetInputSource(cloud pointcloud.Cloud) {
	f.source = cloud
}

func (f *fakeRegistration) Align(guess spatial.Pose) (pointcloud.Cloud, error) {
	f.lastGuess = guess
	if f.alignErr != nil {
		return nil, f.alignErr
	}
	return f.source.Transform(f.final), nil
}

func (f *fakeRegistration) FinalTransformation() spatial.Pose {
	return f.final
}

func identityReg() *fakeRegistration {
	return &fakeRegistration{final: spatial.Identity()}
}

var testCloud = pointcloud.Cloud{
	{X: 1, Y: 0, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: 1},
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	pos := r3.Vector{X: 1, Y: 2, Z: 3}

	e, err := New(identityReg(), t0, pos, quat.Number{Real: 1}, DefaultCoolTime)
	assert.NoError(err)
	assert.NotNil(e)

	assert.InDelta(pos.X, e.Position().X, 1e-12)
	assert.InDelta(pos.Y, e.Position().Y, 1e-12)
	assert.InDelta(pos.Z, e.Position().Z, 1e-12)
	assert.InDelta(1.0, e.Rotation().Real, 1e-12)
	assert.Equal(r3.Vector{}, e.Velocity())
	assert.False(e.HasOdom())
	assert.True(e.LastCorrectionTime().IsZero())

	_, ok := e.PredictionError()
	assert.False(ok)
	_, ok = e.OdomPredictionError()
	assert.False(ok)

	e, err = New(nil, t0, pos, quat.Number{Real: 1}, DefaultCoolTime)
	assert.Error(err)
	assert.Nil(e)
}

func TestPredictCoolTimeGating(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	e, err := New(identityReg(), t0, r3.Vector{}, quat.Number{Real: 1}, 500*time.Millisecond)
	assert.NoError(err)

	// inside the cool-time window prediction only records the timestamp
	assert.NoError(e.Predict(t0.Add(200*time.Millisecond), r3.Vector{X: 10}, r3.Vector{Z: 5}))
	assert.Equal(r3.Vector{}, e.Position())
	assert.Equal(r3.Vector{}, e.Velocity())
	assert.InDelta(1.0, e.Rotation().Real, 1e-12)

	assert.NoError(e.Predict(t0.Add(400*time.Millisecond), r3.Vector{X: 10}, r3.Vector{Z: 5}))
	assert.Equal(r3.Vector{}, e.Velocity())

	// beyond cool time the filter advances
	assert.NoError(e.Predict(t0.Add(600*time.Millisecond), r3.Vector{}, r3.Vector{}))
	assert.NotEqual(r3.Vector{}, e.Velocity())
}

func TestPredictFirstCallAndRepeatedStamp(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	e, err := New(identityReg(), t0, r3.Vector{}, quat.Number{Real: 1}, 0)
	assert.NoError(err)

	// the very first call has no previous timestamp to integrate from
	t1 := t0.Add(100 * time.Millisecond)
	assert.NoError(e.Predict(t1, r3.Vector{}, r3.Vector{}))
	assert.Equal(r3.Vector{}, e.Velocity())

	// a repeated timestamp is a no-op, not an error
	assert.NoError(e.Predict(t1, r3.Vector{}, r3.Vector{}))
	assert.Equal(r3.Vector{}, e.Velocity())

	assert.NoError(e.Predict(t1.Add(100*time.Millisecond), r3.Vector{}, r3.Vector{}))
	assert.NotEqual(r3.Vector{}, e.Velocity())
}

func TestEndToEndScenario(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	reg := &fakeRegistration{final: spatial.NewPose(r3.Vector{X: 1}, quat.Number{Real: 1})}

	e, err := New(reg, t0, r3.Vector{}, quat.Number{Real: 1}, 500*time.Millisecond)
	assert.NoError(err)

	// t=0.2s: still cooling down
	assert.NoError(e.Predict(t0.Add(200*time.Millisecond), r3.Vector{}, r3.Vector{}))
	assert.Equal(r3.Vector{}, e.Velocity())

	// t=0.6s: dt=0.4s against the recorded stamp; the mean moves
	assert.NoError(e.Predict(t0.Add(600*time.Millisecond), r3.Vector{Z: 9.8}, r3.Vector{}))
	assert.NotEqual(r3.Vector{}, e.Velocity())

	// correcting against a map shifted to (1,0,0) pulls the position over
	aligned, err := e.Correct(t0.Add(600*time.Millisecond), testCloud)
	assert.NoError(err)
	assert.Len(aligned, len(testCloud))
	assert.Greater(e.Position().X, 0.5)
	assert.LessOrEqual(e.Position().X, 1.0+1e-9)

	pe, ok := e.PredictionError()
	assert.True(ok)
	assert.InDelta(1.0, pe.Translation.Norm(), 0.1)
}

func TestQuaternionContinuity(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	// -q encodes the same rotation as q; the estimator must not let the
	// filter state jump between the two charts
	reg := &fakeRegistration{final: spatial.Pose{Rotation: quat.Number{Real: -1}}}

	e, err := New(reg, t0, r3.Vector{}, quat.Number{Real: 1}, 0)
	assert.NoError(err)

	prev := e.Rotation()
	for i := 0; i < 3; i++ {
		_, err := e.Correct(t0.Add(time.Duration(i)*time.Second), testCloud)
		assert.NoError(err)

		cur := e.Rotation()
		assert.GreaterOrEqual(spatial.Dot(prev, cur), 0.0)
		prev = cur
	}
}

func TestLazyOdomCreation(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	pos := r3.Vector{X: 1, Y: 2, Z: 3}
	e, err := New(identityReg(), t0, pos, quat.Number{Real: 1}, DefaultCoolTime)
	assert.NoError(err)

	assert.False(e.HasOdom())
	assert.Panics(func() { e.OdomPosition() })
	assert.Panics(func() { e.OdomRotation() })

	// first odometry prediction creates the filter seeded from the
	// primary pose
	assert.NoError(e.PredictOdom(spatial.Identity()))
	assert.True(e.HasOdom())
	assert.InDelta(pos.X, e.OdomPosition().X, 1e-2)
	assert.InDelta(pos.Y, e.OdomPosition().Y, 1e-2)
	assert.InDelta(pos.Z, e.OdomPosition().Z, 1e-2)
	assert.InDelta(1.0, e.OdomRotation().Real, 1e-2)
}

func TestPredictOdomMovesBelief(t *testing.T) {
	assert := assert.New(t)

	e, err := New(identityReg(), time.Now(), r3.Vector{}, quat.Number{Real: 1}, DefaultCoolTime)
	assert.NoError(err)

	delta := spatial.NewPose(r3.Vector{X: 1}, quat.Number{Real: 1})
	assert.NoError(e.PredictOdom(delta))
	assert.InDelta(1.0, e.OdomPosition().X, 5e-2)

	assert.NoError(e.PredictOdom(delta))
	assert.InDelta(2.0, e.OdomPosition().X, 0.15)

	// the primary belief does not move on the odometry path
	assert.Equal(r3.Vector{}, e.Position())
}

func TestCorrectWithOdometry(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	reg := &fakeRegistration{final: spatial.NewPose(r3.Vector{X: 1}, quat.Number{Real: 1})}

	e, err := New(reg, t0, r3.Vector{}, quat.Number{Real: 1}, 0)
	assert.NoError(err)
	assert.NoError(e.PredictOdom(spatial.Identity()))

	_, err = e.Correct(t0.Add(time.Second), testCloud)
	assert.NoError(err)

	_, ok := e.PredictionError()
	assert.True(ok)
	_, ok = e.OdomPredictionError()
	assert.True(ok)

	// both filters were pulled toward the observation
	assert.InDelta(0.5, e.Position().X, 0.1)
	assert.Greater(e.OdomPosition().X, 0.5)
}

func TestMonotonicCorrectionTime(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	e, err := New(identityReg(), t0, r3.Vector{}, quat.Number{Real: 1}, 0)
	assert.NoError(err)

	last := e.LastCorrectionTime()
	for i := 1; i <= 3; i++ {
		stamp := t0.Add(time.Duration(i) * time.Second)
		_, err := e.Correct(stamp, testCloud)
		assert.NoError(err)
		assert.False(e.LastCorrectionTime().Before(last))
		last = e.LastCorrectionTime()
	}
}

func TestCorrectAlignFailure(t *testing.T) {
	anError := assert.AnError
	assert := assert.New(t)

	reg := identityReg()
	reg.alignErr = anError

	e, err := New(reg, time.Now(), r3.Vector{}, quat.Number{Real: 1}, 0)
	assert.NoError(err)

	aligned, err := e.Correct(time.Now(), testCloud)
	assert.Error(err)
	assert.Nil(aligned)
}

func TestOdomProcessNoiseScaling(t *testing.T) {
	assert := assert.New(t)

	small := odomProcessNoise(r3.Vector{X: 0.01}, quat.Number{Real: 1})
	large := odomProcessNoise(r3.Vector{X: 1.0}, quat.Number{Real: 1})

	assert.InDelta(0.011, small.At(0, 0), 1e-9)
	assert.InDelta(1.001, large.At(0, 0), 1e-9)
	// translation block magnitudes track the motion magnitude
	assert.InDelta((1.0+1e-3)/(0.01+1e-3), large.At(0, 0)/small.At(0, 0), 1e-9)

	// pure translation injects only the floor into the rotation block
	assert.InDelta(1e-3, small.At(3, 3), 1e-9)

	rotated := odomProcessNoise(r3.Vector{}, quat.Number{Real: 0.9, Kmag: 0.4358898943540673})
	assert.InDelta(0.1+1e-3, rotated.At(3, 3), 1e-9)
	assert.InDelta(1e-3, rotated.At(0, 0), 1e-9)
}

func TestFusedInitialGuess(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Now()
	reg := identityReg()
	e, err := New(reg, t0, r3.Vector{X: 2}, quat.Number{Real: 1}, 0)
	assert.NoError(err)

	// without odometry the guess is the primary pose
	_, err = e.Correct(t0, testCloud)
	assert.NoError(err)
	assert.InDelta(2.0, reg.lastGuess.Translation.X, 1e-6)
}

package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewBase(t *testing.T) {
	assert := assert.New(t)

	val := mat.NewVecDense(2, []float64{1, 2})
	e, err := NewBase(val)
	assert.NoError(err)
	assert.Equal(2, e.Val().Len())
	assert.Equal(2, e.Cov().SymmetricDim())

	e, err = NewBase(nil)
	assert.NoError(err)
	assert.Equal(0, e.Val().Len())
}

func TestNewBaseWithCov(t *testing.T) {
	assert := assert.New(t)

	val := mat.NewVecDense(2, []float64{1, 2})
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 4})

	e, err := NewBaseWithCov(val, cov)
	assert.NoError(err)
	assert.InDelta(1.0, e.Val().AtVec(0), 1e-12)
	assert.InDelta(4.0, e.Cov().At(1, 1), 1e-12)

	e, err = NewBaseWithCov(val, mat.NewSymDense(3, nil))
	assert.Error(err)
	assert.Nil(e)
}

func TestBaseReturnsCopies(t *testing.T) {
	assert := assert.New(t)

	val := mat.NewVecDense(1, []float64{1})
	cov := mat.NewSymDense(1, []float64{2})
	e, err := NewBaseWithCov(val, cov)
	assert.NoError(err)

	// mutating the inputs or outputs must not change the estimate
	val.SetVec(0, 100)
	cov.SetSym(0, 0, 100)
	e.Val().(*mat.VecDense).SetVec(0, 50)
	assert.InDelta(1.0, e.Val().AtVec(0), 1e-12)
	assert.InDelta(2.0, e.Cov().At(0, 0), 1e-12)
}

// Package ukf implements an additive-noise Unscented Kalman Filter.
// Unlike a stateless filter recursion, the UKF here owns its mean and
// covariance so a caller can interleave predictions and corrections from
// asynchronous sources and read the belief in between.
package ukf

import (
	"fmt"
	"math"

	localize "github.com/robolib/go-localize"
	"github.com/robolib/go-localize/estimate"
	"github.com/robolib/go-localize/noise"
	"gonum.org/v1/gonum/mat"
)

var _ localize.StateFilter = (*UKF)(nil)

// Config contains UKF [unitless] configuration parameters
type Config struct {
	// Alpha is the sigma point spread parameter (0,1]
	Alpha float64
	// Beta is the distribution parameter (2 is optimal choice for Gaussian)
	Beta float64
	// Kappa is a secondary scaling parameter (must be non-negative)
	Kappa float64
}

// UKF is an Unscented (aka Sigma Point) Kalman Filter
type UKF struct {
	// m is UKF system model
	m localize.Model
	// q is state noise a.k.a. process noise
	q *noise.Static
	// r is output noise a.k.a. measurement noise
	r *noise.Static
	// gamma is the sigma point covariance scaling factor
	gamma float64
	// wm0 is mean sigma point weight
	wm0 float64
	// wc0 is mean sigma point covariance weight
	wc0 float64
	// w is the weight of the remaining sigma points and covariances
	w float64
	// x is the current state mean
	x *mat.VecDense
	// p is the current state covariance
	p *mat.SymDense
}

// New creates new UKF and returns it.
// It accepts the following parameters:
//   - m:    dynamical system model
//   - init: initial condition of the filter
//   - q:    state a.k.a. process noise covariance
//   - r:    output a.k.a. measurement noise covariance
//   - c:    filter configuration
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - invalid noise is given: noise covariance dims must match the model dims
//   - invalid configuration is given: config parameters must be non-negative
func New(m localize.Model, init localize.InitCond, q, r mat.Symmetric, c *Config) (*UKF, error) {
	nx, _, ny, _ := m.SystemDims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, ny)
	}

	if c == nil || c.Alpha <= 0 || c.Beta < 0 || c.Kappa < 0 {
		return nil, fmt.Errorf("invalid config supplied: %v", c)
	}

	if q == nil || q.SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid state noise dimension")
	}
	qn, err := noise.NewStatic(q)
	if err != nil {
		return nil, err
	}

	if r == nil || r.SymmetricDim() != ny {
		return nil, fmt.Errorf("invalid output noise dimension")
	}
	rn, err := noise.NewStatic(r)
	if err != nil {
		return nil, err
	}

	if init.State().Len() != nx || init.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid initial condition dimension")
	}

	// lambda is the composite sigma point scaling parameter
	lambda := c.Alpha*c.Alpha*(float64(nx)+c.Kappa) - float64(nx)
	gamma := math.Sqrt(float64(nx) + lambda)

	wm0 := lambda / (float64(nx) + lambda)
	wc0 := wm0 + (1 - c.Alpha*c.Alpha + c.Beta)
	w := 1 / (2 * (float64(nx) + lambda))

	x := &mat.VecDense{}
	x.CloneFromVec(init.State())

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov())

	return &UKF{
		m:     m,
		q:     qn,
		r:     rn,
		gamma: gamma,
		wm0:   wm0,
		wc0:   wc0,
		w:     w,
		x:     x,
		p:     p,
	}, nil
}

// SetProcessNoiseCov replaces the process noise covariance with cov.
// It returns error if the dimension of cov does not match the state dimension.
func (k *UKF) SetProcessNoiseCov(cov mat.Symmetric) error {
	return k.q.SetCov(cov)
}

// genSigmaPoints generates 2n+1 sigma points spread around the current mean
// and returns them stored in matrix columns.
// It returns error if the covariance square root fails to be computed.
func (k *UKF) genSigmaPoints() (*mat.Dense, error) {
	n := k.x.Len()
	sp := mat.NewDense(n, 2*n+1, nil)

	var svd mat.SVD
	if ok := svd.Factorize(k.p, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}
	sqrtCov := new(mat.Dense)
	svd.UTo(sqrtCov)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	sqrtCov.Mul(sqrtCov, mat.NewDiagDense(len(vals), vals))
	sqrtCov.Scale(k.gamma, sqrtCov)

	for j := 0; j < 2*n+1; j++ {
		sp.Slice(0, n, j, j+1).(*mat.Dense).Copy(k.x)
	}
	// positive sigma points
	sx := sp.Slice(0, n, 1, 1+n).(*mat.Dense)
	sx.Add(sx, sqrtCov)
	// negative sigma points
	sx = sp.Slice(0, n, 1+n, 2*n+1).(*mat.Dense)
	sx.Sub(sx, sqrtCov)

	return sp, nil
}

// Predict advances the filter state given the control input u and returns the
// new state estimate.
// It returns error if it either fails to generate or propagate the sigma points.
func (k *UKF) Predict(u mat.Vector) (localize.Estimate, error) {
	nx, _, _, _ := k.m.SystemDims()

	sp, err := k.genSigmaPoints()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sigma points: %v", err)
	}

	_, cols := sp.Dims()
	xPred := mat.NewDense(nx, cols, nil)
	xMean := mat.NewVecDense(nx, nil)

	for c := 0; c < cols; c++ {
		xNext, err := k.m.Propagate(sp.ColView(c), u, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate sigma point: %v", err)
		}
		xPred.Slice(0, nx, c, c+1).(*mat.Dense).Copy(xNext)

		if c == 0 {
			xMean.AddScaledVec(xMean, k.wm0, xNext)
		} else {
			xMean.AddScaledVec(xMean, k.w, xNext)
		}
	}

	pPred := k.spreadCov(xPred, xMean)
	pPred.AddSym(pPred, k.q.Cov())

	k.x.CopyVec(xMean)
	k.p.CopySym(pPred)

	return estimate.NewBaseWithCov(k.x, k.p)
}

// Correct updates the filter state with the measurement z and returns the
// corrected state estimate.
// It returns error if the measurement dimension is invalid, if the sigma
// points fail to be generated or observed, or if the innovation covariance
// is singular.
func (k *UKF) Correct(z mat.Vector) (localize.Estimate, error) {
	nx, _, ny, _ := k.m.SystemDims()
	if z.Len() != ny {
		return nil, fmt.Errorf("invalid measurement dimension: %d", z.Len())
	}

	sp, err := k.genSigmaPoints()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sigma points: %v", err)
	}

	_, cols := sp.Dims()
	yPred := mat.NewDense(ny, cols, nil)
	yMean := mat.NewVecDense(ny, nil)

	for c := 0; c < cols; c++ {
		y, err := k.m.Observe(sp.ColView(c), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to observe sigma point output: %v", err)
		}
		yPred.Slice(0, ny, c, c+1).(*mat.Dense).Copy(y)

		if c == 0 {
			yMean.AddScaledVec(yMean, k.wm0, y)
		} else {
			yMean.AddScaledVec(yMean, k.w, y)
		}
	}

	// innovation covariance and state-output cross covariance
	pyy := k.spreadCov(yPred, yMean)
	pyy.AddSym(pyy, k.r.Cov())

	pxy := mat.NewDense(nx, ny, nil)
	xVec := mat.NewVecDense(nx, nil)
	yVec := mat.NewVecDense(ny, nil)
	cov := mat.NewDense(nx, ny, nil)
	for c := 0; c < cols; c++ {
		xVec.CopyVec(sp.ColView(c))
		xVec.SubVec(xVec, k.x)
		yVec.CopyVec(yPred.ColView(c))
		yVec.SubVec(yVec, yMean)

		cov.Mul(xVec, yVec.T())
		if c == 0 {
			cov.Scale(k.wc0, cov)
		} else {
			cov.Scale(k.w, cov)
		}
		pxy.Add(pxy, cov)
	}

	// calculate Kalman gain
	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, fmt.Errorf("failed to invert innovation covariance: %v", err)
	}
	gain := &mat.Dense{}
	gain.Mul(pxy, pyyInv)

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(z, yMean)

	corr := &mat.Dense{}
	corr.Mul(gain, inn)
	k.x.AddVec(k.x, corr.ColView(0))

	// correct state covariance: p -= gain * pyy * gain'
	pk := &mat.Dense{}
	pk.Mul(pyy, gain.T())
	pCorr := &mat.Dense{}
	pCorr.Mul(gain, pk)
	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			v := k.p.At(i, j) - (pCorr.At(i, j)+pCorr.At(j, i))/2
			k.p.SetSym(i, j, v)
		}
	}

	return estimate.NewBaseWithCov(k.x, k.p)
}

// spreadCov returns the weighted covariance of the sigma point columns of s
// spread around mean.
func (k *UKF) spreadCov(s *mat.Dense, mean *mat.VecDense) *mat.SymDense {
	rows, cols := s.Dims()

	p := mat.NewSymDense(rows, nil)
	cov := mat.NewDense(rows, rows, nil)
	vec := mat.NewVecDense(rows, nil)

	for c := 0; c < cols; c++ {
		vec.CopyVec(s.ColView(c))
		vec.SubVec(vec, mean)
		cov.Mul(vec, vec.T())

		if c == 0 {
			cov.Scale(k.wc0, cov)
		} else {
			cov.Scale(k.w, cov)
		}

		for i := 0; i < rows; i++ {
			for j := i; j < rows; j++ {
				p.SetSym(i, j, p.At(i, j)+cov.At(i, j))
			}
		}
	}

	return p
}

// State returns a copy of the current state mean.
func (k *UKF) State() mat.Vector {
	x := mat.NewVecDense(k.x.Len(), nil)
	x.CopyVec(k.x)

	return x
}

// Covariance returns a copy of the current state covariance.
func (k *UKF) Covariance() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

package noise

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Static is zero-mean noise with a fixed caller-supplied covariance.
// It never generates samples: it exists for filters which consume the
// covariance additively, such as the deterministic sigma point recursion.
type Static struct {
	// mean stores zero mean values
	mean []float64
	// cov is noise covariance matrix
	cov *mat.SymDense
}

// NewStatic creates new Static noise with covariance cov and returns it.
// It returns error if cov is nil.
func NewStatic(cov mat.Symmetric) (*Static, error) {
	if cov == nil {
		return nil, fmt.Errorf("invalid noise covariance: %v", cov)
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &Static{
		mean: make([]float64, cov.SymmetricDim()),
		cov:  c,
	}, nil
}

// SetCov replaces the noise covariance with cov.
// It returns error if the dimension of cov differs from the original one.
func (s *Static) SetCov(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != s.cov.SymmetricDim() {
		return fmt.Errorf("invalid noise covariance dimension")
	}
	s.cov.CopySym(cov)

	return nil
}

// Sample returns a zero vector.
func (s *Static) Sample() mat.Vector {
	return mat.NewVecDense(len(s.mean), nil)
}

// Cov returns noise covariance matrix.
func (s *Static) Cov() mat.Symmetric {
	cov := mat.NewSymDense(s.cov.SymmetricDim(), nil)
	cov.CopySym(s.cov)

	return cov
}

// Mean returns noise mean.
func (s *Static) Mean() []float64 {
	mean := make([]float64, len(s.mean))
	copy(mean, s.mean)

	return mean
}

// Reset does nothing: it's here to implement the Noise interface
func (s *Static) Reset() {}

// String implements the Stringer interface.
func (s *Static) String() string {
	return fmt.Sprintf("Static{\nCov=%v\n}", mat.Formatted(s.cov, mat.Prefix("    "), mat.Squeeze()))
}

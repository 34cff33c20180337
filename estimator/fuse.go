package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Fuse combines two independent beliefs (ma, ca) and (mb, cb) over the same
// state space with inverse-covariance (information-form) weighting:
//
//	fusedCov  = (ca⁻¹ + cb⁻¹)⁻¹
//	fusedMean = fusedCov·ca⁻¹·ma + fusedCov·cb⁻¹·mb
//
// Fuse is a pure function: it reads nothing but its arguments and mutates
// nothing. It returns error if either covariance, or their information sum,
// is singular.
func Fuse(ma mat.Vector, ca mat.Symmetric, mb mat.Vector, cb mat.Symmetric) (mat.Vector, mat.Symmetric, error) {
	n := ma.Len()
	if mb.Len() != n || ca.SymmetricDim() != n || cb.SymmetricDim() != n {
		return nil, nil, fmt.Errorf("mismatched belief dimensions: %d, %d, %d, %d",
			ma.Len(), ca.SymmetricDim(), mb.Len(), cb.SymmetricDim())
	}

	invA := &mat.Dense{}
	if err := invA.Inverse(ca); err != nil {
		return nil, nil, fmt.Errorf("failed to invert covariance: %v", err)
	}
	invB := &mat.Dense{}
	if err := invB.Inverse(cb); err != nil {
		return nil, nil, fmt.Errorf("failed to invert covariance: %v", err)
	}

	info := &mat.Dense{}
	info.Add(invA, invB)

	fusedCov := &mat.Dense{}
	if err := fusedCov.Inverse(info); err != nil {
		return nil, nil, fmt.Errorf("failed to invert information sum: %v", err)
	}

	wa := &mat.Dense{}
	wa.Mul(fusedCov, invA)
	wb := &mat.Dense{}
	wb.Mul(fusedCov, invB)

	mean := mat.NewVecDense(n, nil)
	va := mat.NewVecDense(n, nil)
	vb := mat.NewVecDense(n, nil)
	va.MulVec(wa, ma)
	vb.MulVec(wb, mb)
	mean.AddVec(va, vb)

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, (fusedCov.At(i, j)+fusedCov.At(j, i))/2)
		}
	}

	return mean, cov, nil
}

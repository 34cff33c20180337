package registration

import (
	"math"

	"github.com/pkg/errors"
	"github.com/robolib/go-localize/pointcloud"
	"github.com/robolib/go-localize/spatial"
	"gonum.org/v1/gonum/mat"
)

// ICP registers a source cloud against a fixed target cloud with
// point-to-point iterative closest point: nearest-neighbour correspondences
// followed by a closed-form (SVD) rigid fit, repeated until the incremental
// transform falls below Tolerance or MaxIterations is reached.
type ICP struct {
	// MaxIterations caps the number of ICP iterations
	MaxIterations int
	// Tolerance is the incremental transform magnitude that stops iteration
	Tolerance float64

	target pointcloud.Cloud
	source pointcloud.Cloud
	final  spatial.Pose
}

// NewICP creates a new ICP engine registering against target and returns it.
func NewICP(target pointcloud.Cloud) *ICP {
	return &ICP{
		MaxIterations: 30,
		Tolerance:     1e-6,
		target:        target,
		final:         spatial.Identity(),
	}
}

// SetInputSource sets the cloud to be registered.
func (icp *ICP) SetInputSource(cloud pointcloud.Cloud) {
	icp.source = cloud
}

// Align registers the input source against the target starting from guess.
// It returns the source cloud transformed by the final transformation.
func (icp *ICP) Align(guess spatial.Pose) (pointcloud.Cloud, error) {
	if len(icp.target) == 0 {
		return nil, errors.New("empty target cloud")
	}
	if len(icp.source) == 0 {
		return nil, errors.New("empty source cloud")
	}

	est := guess
	for i := 0; i < icp.MaxIterations; i++ {
		moved := icp.source.Transform(est)
		matched := icp.correspondences(moved)

		delta, err := rigidFit(moved, matched)
		if err != nil {
			return nil, err
		}
		est = delta.Compose(est)

		if delta.Translation.Norm()+(1-math.Abs(delta.Rotation.Real)) < icp.Tolerance {
			break
		}
	}
	icp.final = est

	return icp.source.Transform(est), nil
}

// FinalTransformation returns the transform found by the last Align.
func (icp *ICP) FinalTransformation() spatial.Pose {
	return icp.final
}

// correspondences returns, for every point of cloud, its nearest neighbour
// in the target.
func (icp *ICP) correspondences(cloud pointcloud.Cloud) pointcloud.Cloud {
	matched := make(pointcloud.Cloud, len(cloud))
	for i, pt := range cloud {
		best := icp.target[0]
		bestDist := math.Inf(1)
		for _, tp := range icp.target {
			if d := pt.Sub(tp).Norm2(); d < bestDist {
				bestDist = d
				best = tp
			}
		}
		matched[i] = best
	}

	return matched
}

// rigidFit returns the rigid transform mapping src onto dst in the
// least-squares sense (Kabsch algorithm).
func rigidFit(src, dst pointcloud.Cloud) (spatial.Pose, error) {
	cs := src.Centroid()
	cd := dst.Centroid()

	h := mat.NewDense(3, 3, nil)
	outer := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		outer.Mul(
			mat.NewVecDense(3, []float64{s.X, s.Y, s.Z}),
			mat.NewVecDense(3, []float64{d.X, d.Y, d.Z}).T(),
		)
		h.Add(h, outer)
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return spatial.Identity(), errors.New("SVD factorization failed")
	}
	u := new(mat.Dense)
	v := new(mat.Dense)
	svd.UTo(u)
	svd.VTo(v)

	// guard against reflections
	vut := new(mat.Dense)
	vut.Mul(v, u.T())
	d := mat.Det(vut)
	sign := mat.NewDiagDense(3, []float64{1, 1, 1})
	if d < 0 {
		sign.SetDiag(2, -1)
	}

	vs := new(mat.Dense)
	vs.Mul(v, sign)
	r := new(mat.Dense)
	r.Mul(vs, u.T())

	rot := spatial.QuatFromRotationMatrix(r)
	t := cd.Sub(spatial.Rotate(rot, cs))

	return spatial.Pose{Translation: t, Rotation: rot}, nil
}

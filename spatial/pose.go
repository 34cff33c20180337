// Package spatial provides rigid transform primitives for localization:
// poses expressed as a translation with a unit quaternion rotation, and
// conversions to and from homogeneous and rotation matrices.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation.
type Pose struct {
	// Translation is the translation component of the transform
	Translation r3.Vector
	// Rotation is the rotation component of the transform as a unit quaternion
	Rotation quat.Number
}

// NewPose returns a Pose with translation t and rotation r.
// The rotation is normalized.
func NewPose(t r3.Vector, r quat.Number) Pose {
	return Pose{Translation: t, Rotation: Normalize(r)}
}

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{Rotation: quat.Number{Real: 1}}
}

// Compose returns the transform equivalent to applying o first and p second,
// i.e. the matrix product p * o.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Translation: p.Translation.Add(Rotate(p.Rotation, o.Translation)),
		Rotation:    Normalize(quat.Mul(p.Rotation, o.Rotation)),
	}
}

// Inverse returns the inverse transform of p.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(Normalize(p.Rotation))
	return Pose{
		Translation: Rotate(inv, p.Translation.Mul(-1)),
		Rotation:    inv,
	}
}

// Matrix returns p as a 4x4 homogeneous transform matrix.
func (p Pose) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	r := RotationMatrix(p.Rotation)
	m.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	m.Set(0, 3, p.Translation.X)
	m.Set(1, 3, p.Translation.Y)
	m.Set(2, 3, p.Translation.Z)
	m.Set(3, 3, 1)

	return m
}

// Normalize returns q scaled to unit length.
// A zero quaternion normalizes to the identity rotation.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Rotate rotates vector v by unit quaternion q.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))

	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Dot returns the dot product of the coefficient vectors of a and b.
func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// RotationMatrix returns the 3x3 rotation matrix of unit quaternion q.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// QuatFromRotationMatrix returns the unit quaternion of rotation matrix m.
// m must be a 3x3 (or larger) proper rotation matrix.
func QuatFromRotationMatrix(m mat.Matrix) quat.Number {
	tr := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)

	var q quat.Number
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) > m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}

	return Normalize(q)
}

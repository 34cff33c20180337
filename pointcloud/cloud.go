// Package pointcloud provides a minimal 3-D point cloud representation for
// scan-matching localization: a slice of points with rigid transform and
// ASCII PCD file support.
package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/robolib/go-localize/spatial"
)

// Cloud is a set of 3-D points.
type Cloud []r3.Vector

// NewVector is a convenience method for creating a point.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Transform returns a new cloud with every point transformed by pose p.
func (c Cloud) Transform(p spatial.Pose) Cloud {
	out := make(Cloud, len(c))
	for i, pt := range c {
		out[i] = spatial.Rotate(p.Rotation, pt).Add(p.Translation)
	}

	return out
}

// Centroid returns the centroid of the cloud.
// The centroid of an empty cloud is the origin.
func (c Cloud) Centroid() r3.Vector {
	if len(c) == 0 {
		return r3.Vector{}
	}

	var sum r3.Vector
	for _, pt := range c {
		sum = sum.Add(pt)
	}

	return sum.Mul(1 / float64(len(c)))
}

// Package registration aligns point clouds against a fixed target cloud.
// The Registration interface mirrors the classic scan matcher surface: the
// caller sets an input source, aligns it from an initial-guess pose and
// queries the final transformation.
package registration

import (
	"github.com/robolib/go-localize/pointcloud"
	"github.com/robolib/go-localize/spatial"
)

// Registration is a point cloud registration engine.
// Align registers the current input source against the engine's target map
// starting from guess and returns the aligned cloud; the converged transform
// is available through FinalTransformation. Behavior on non-convergence is
// engine-defined: whatever transform the engine settles on is reported as
// final.
type Registration interface {
	// SetInputSource sets the cloud to be registered
	SetInputSource(cloud pointcloud.Cloud)
	// Align registers the input source starting from the guess transform
	Align(guess spatial.Pose) (pointcloud.Cloud, error)
	// FinalTransformation returns the transform found by the last Align
	FinalTransformation() spatial.Pose
}

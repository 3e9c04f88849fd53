// Package pointcloud defines the surfel samples fed to segmentation together with the
// read-only spatial structures built over them: bounding boxes, a k-d tree and the
// per-point neighbor table.
package pointcloud

import (
	"github.com/golang/geo/r3"
)

// Surfel is an oriented point sample representing a small disc of scanned surface.
type Surfel struct {
	Position r3.Vector
	Normal   r3.Vector
	Radius   float64

	// Silhouette and Shadow mark samples lying on a depth discontinuity seen from the
	// scanner (silhouette) or on the edge of an occluded region (shadow).
	Silhouette bool
	Shadow     bool
}

// Source gives indexed access to a chunk of surfels. Implementations must be safe for
// concurrent reads.
type Source interface {
	// NPoints returns the number of samples.
	NPoints() int

	// Position returns the position of sample i.
	Position(i int) r3.Vector

	// Normal returns the unit normal of sample i, or the zero vector if unknown.
	Normal(i int) r3.Vector

	IsOnSilhouetteBoundary(i int) bool
	IsOnShadowBoundary(i int) bool
}

// Positions gathers the positions of the given sample indices.
func Positions(src Source, indices []int) []r3.Vector {
	positions := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		positions[i] = src.Position(idx)
	}
	return positions
}

// AllIndices returns [0, src.NPoints()).
func AllIndices(src Source) []int {
	indices := make([]int, src.NPoints())
	for i := range indices {
		indices[i] = i
	}
	return indices
}

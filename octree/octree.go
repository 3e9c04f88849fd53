// Package octree implements a bucket octree over sample positions. It splits space until every leaf
// holds a bounded number of samples and hands those leaves out as disjoint chunks for segmentation.
package octree

import (
	"github.com/golang/geo/r3"
)

// Each node in the octree is either an internal node which links to other nodes, an empty leaf with
// no samples, or a filled leaf holding a bucket of sample indices and their positions.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
	// maxRecursionDepth bounds splitting so that a pile of coincident samples cannot recurse forever.
	maxRecursionDepth = 16
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

// Octree is a data structure that recursively partitions 3D space into octants. Leaves hold at most a
// fixed number of samples unless the maximum depth was reached.
type Octree interface {
	// Set inserts the sample with the given index at position p.
	Set(index int, p r3.Vector) error

	// Size returns the number of samples stored.
	Size() int

	// Leaves returns the sample indices of every non-empty leaf in octant order.
	Leaves() [][]int
}

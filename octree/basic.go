package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
	"github.com/surfelscan/surfelseg/utils"
)

// basicOctree is a data structure that represents a basic octree structure with information regarding center
// point, side length and node data.
type basicOctree struct {
	logger        logging.Logger
	node          basicOctreeNode
	center        r3.Vector
	sideLength    float64
	size          int
	maxLeafPoints int
	depth         int
}

// basicOctreeNode is a struct comprised of the type of node, children nodes (should they exist) and the bucket
// of samples held by a filled leaf.
type basicOctreeNode struct {
	nodeType NodeType
	children []*basicOctree
	points   []indexedPoint
}

type indexedPoint struct {
	index int
	p     r3.Vector
}

// New creates a new basic octree with specified center, side and leaf capacity.
func New(center r3.Vector, sideLength float64, maxLeafPoints int, logger logging.Logger) (Octree, error) {
	return newBasicOctree(center, sideLength, maxLeafPoints, 0, logger)
}

func newBasicOctree(center r3.Vector, sideLength float64, maxLeafPoints, depth int, logger logging.Logger) (*basicOctree, error) {
	if sideLength <= 0 || math.IsInf(sideLength, 0) || math.IsNaN(sideLength) {
		return nil, errors.Errorf("invalid side length (%.2f) for octree", sideLength)
	}
	if maxLeafPoints <= 0 {
		return nil, errors.Wrap(utils.NewOutOfRangeError("leaf capacity", maxLeafPoints, "at least 1"), "invalid leaf capacity")
	}

	return &basicOctree{
		logger:        logger,
		node:          newLeafNodeEmpty(),
		center:        center,
		sideLength:    sideLength,
		maxLeafPoints: maxLeafPoints,
		depth:         depth,
	}, nil
}

// NewFromSource builds an octree enclosing every sample of src.
func NewFromSource(src pc.Source, maxLeafPoints int, logger logging.Logger) (Octree, error) {
	bounds := pc.NewBounds()
	for i := 0; i < src.NPoints(); i++ {
		bounds.Merge(src.Position(i))
	}
	center, side := r3.Vector{}, 1.0
	if !bounds.Empty() {
		ext := bounds.Extent()
		center = bounds.Center()
		// pad so samples on the max faces stay strictly inside.
		side = math.Max(ext.X, math.Max(ext.Y, ext.Z))*(1+1e-6) + 1e-9
	}

	octree, err := New(center, side, maxLeafPoints, logger)
	if err != nil {
		return nil, err
	}
	for i := 0; i < src.NPoints(); i++ {
		if err := octree.Set(i, src.Position(i)); err != nil {
			return nil, errors.Wrapf(err, "inserting sample %d", i)
		}
	}
	logger.Debugw("built octree", "samples", octree.Size(), "leaves", len(octree.Leaves()))
	return octree, nil
}

// Size returns the number of samples stored in the octree.
func (octree *basicOctree) Size() int {
	return octree.size
}

// Set checks if the sample fits inside this octree based on its center and side length. It then recursively
// walks the tree to the leaf containing p and appends the sample there. A leaf that overflows its capacity is
// split into octants unless the maximum depth has been reached.
func (octree *basicOctree) Set(index int, p r3.Vector) error {
	if !octree.checkPointPlacement(p) {
		return errors.Errorf("error point (%v, %v, %v) is outside the bounds of this octree", p.X, p.Y, p.Z)
	}
	return octree.insert(index, p)
}

// insert descends by octant without re-checking placement; a sample exactly on a splitting plane could
// otherwise be rejected by rounding in the child's center.
func (octree *basicOctree) insert(index int, p r3.Vector) error {
	switch octree.node.nodeType {
	case InternalNode:
		if err := octree.node.children[octree.octant(p)].insert(index, p); err != nil {
			return err
		}
		octree.size++
		return nil

	case LeafNodeEmpty, LeafNodeFilled:
		octree.node.nodeType = LeafNodeFilled
		octree.node.points = append(octree.node.points, indexedPoint{index: index, p: p})
		octree.size++
		if len(octree.node.points) <= octree.maxLeafPoints {
			return nil
		}
		if octree.depth >= maxRecursionDepth {
			octree.logger.Debugf("leaf at depth %d holds %d samples, not splitting", octree.depth, len(octree.node.points))
			return nil
		}
		if err := octree.splitIntoOctants(); err != nil {
			return errors.Wrap(err, "error in splitting octree into new octants")
		}
	}
	return nil
}

// Leaves returns the bucket of every filled leaf, children visited in octant order.
func (octree *basicOctree) Leaves() [][]int {
	var out [][]int
	octree.collectLeaves(&out)
	return out
}

func (octree *basicOctree) collectLeaves(out *[][]int) {
	switch octree.node.nodeType {
	case InternalNode:
		for _, child := range octree.node.children {
			child.collectLeaves(out)
		}
	case LeafNodeFilled:
		indices := make([]int, len(octree.node.points))
		for i, ip := range octree.node.points {
			indices[i] = ip.index
		}
		*out = append(*out, indices)
	case LeafNodeEmpty:
	}
}

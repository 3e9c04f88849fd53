package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Creates a new LeafNodeEmpty.
func newLeafNodeEmpty() basicOctreeNode {
	return basicOctreeNode{
		nodeType: LeafNodeEmpty,
	}
}

// Creates a new InternalNode with specified children nodes.
func newInternalNode(tree []*basicOctree) basicOctreeNode {
	return basicOctreeNode{
		nodeType: InternalNode,
		children: tree,
	}
}

// splitIntoOctants turns a filled leaf into an internal node with eight children and redistributes its
// bucket among them.
func (octree *basicOctree) splitIntoOctants() error {
	switch octree.node.nodeType {
	case InternalNode:
		return errors.New("error attempted to split internal node")
	case LeafNodeEmpty:
		return errors.New("error attempted to split empty leaf node")
	case LeafNodeFilled:
	}

	children := make([]*basicOctree, 0, 8)
	newSideLength := octree.sideLength / 2
	for i := 0; i < 8; i++ {
		offset := r3.Vector{X: -1, Y: -1, Z: -1}
		if i&1 != 0 {
			offset.X = 1
		}
		if i&2 != 0 {
			offset.Y = 1
		}
		if i&4 != 0 {
			offset.Z = 1
		}
		newCenter := octree.center.Add(offset.Mul(newSideLength / 2))
		child, err := newBasicOctree(newCenter, newSideLength, octree.maxLeafPoints, octree.depth+1, octree.logger)
		if err != nil {
			return err
		}
		children = append(children, child)
	}

	points := octree.node.points
	octree.node = newInternalNode(children)
	for _, ip := range points {
		if err := children[octree.octant(ip.p)].insert(ip.index, ip.p); err != nil {
			return err
		}
	}
	return nil
}

// octant returns the index of the child containing p: bit 0 for +X, bit 1 for +Y, bit 2 for +Z. Samples on a
// splitting plane go to the positive side.
func (octree *basicOctree) octant(p r3.Vector) int {
	i := 0
	if p.X >= octree.center.X {
		i |= 1
	}
	if p.Y >= octree.center.Y {
		i |= 2
	}
	if p.Z >= octree.center.Z {
		i |= 4
	}
	return i
}

// placementTolerance is the slack, relative to the cube's size and offset, allowed on its faces so that
// samples computed to lie on a face are not lost to rounding.
const placementTolerance = 1e-9

// checkPointPlacement checks that p lies within the cube of this octree, borders included.
func (octree *basicOctree) checkPointPlacement(p r3.Vector) bool {
	half := octree.sideLength / 2
	c := octree.center
	tol := placementTolerance * (half + math.Max(math.Abs(c.X), math.Max(math.Abs(c.Y), math.Abs(c.Z))))
	inside := func(v, mid float64) bool {
		return v >= mid-half-tol && v <= mid+half+tol
	}
	return inside(p.X, c.X) && inside(p.Y, c.Y) && inside(p.Z, c.Z)
}

package pointcloud

import (
	"github.com/golang/geo/r3"
)

// NeighborTable holds, for every indexed position, a bounded nearest-first list of
// nearby positions. It is built once and read-only afterwards.
type NeighborTable struct {
	neighbors   [][]int
	maxDistance float64
}

// NewNeighborTable queries index for every position and keeps at most maxNeighbors other
// positions within maxDistance. positions must be the slice the index was built from.
func NewNeighborTable(index *KDTree, positions []r3.Vector, maxNeighbors int, maxDistance float64) *NeighborTable {
	table := &NeighborTable{
		neighbors:   make([][]int, len(positions)),
		maxDistance: maxDistance,
	}
	for i, p := range positions {
		// one extra slot for the query point itself.
		found := index.FindClosest(p, 0, maxDistance, maxNeighbors+1)
		list := make([]int, 0, len(found))
		for _, n := range found {
			if n.Index == i {
				continue
			}
			if len(list) == maxNeighbors {
				break
			}
			list = append(list, n.Index)
		}
		table.neighbors[i] = list
	}
	return table
}

// Len returns the number of entries.
func (nt *NeighborTable) Len() int {
	return len(nt.neighbors)
}

// Neighbors returns the neighbor list of entry i. Callers must not modify it.
func (nt *NeighborTable) Neighbors(i int) []int {
	return nt.neighbors[i]
}

// MaxDistance returns the radius the table was built with.
func (nt *NeighborTable) MaxDistance() float64 {
	return nt.maxDistance
}

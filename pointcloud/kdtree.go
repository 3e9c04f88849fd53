package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/surfelscan/surfelseg/utils"
)

// Neighbor is a query result: the index of a position passed to BuildKDTree and its
// distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// KDTree is a static k-NN / radius index over a set of positions. It is immutable once
// built and safe for concurrent queries.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// BuildKDTree indexes the given positions. The slice is copied; indices in query results
// refer to positions[i].
func BuildKDTree(positions []r3.Vector) (*KDTree, error) {
	pts := make(kdPoints, len(positions))
	for i, p := range positions {
		if !utils.IsFinite(p.X, p.Y, p.Z) {
			return nil, errors.Errorf("cannot index non-finite position %d (%v, %v, %v)", i, p.X, p.Y, p.Z)
		}
		pts[i] = kdPoint{pos: p, index: i}
	}
	kd := &KDTree{size: len(pts)}
	if len(pts) > 0 {
		kd.tree = kdtree.New(pts, false)
	}
	return kd, nil
}

// Len returns the number of indexed positions.
func (kd *KDTree) Len() int {
	return kd.size
}

// FindClosest returns at most maxCount indexed positions whose distance d to query
// satisfies minDist <= d <= maxDist, ordered nearest-first. Ties are ordered by index.
func (kd *KDTree) FindClosest(query r3.Vector, minDist, maxDist float64, maxCount int) []Neighbor {
	if kd.tree == nil || maxCount <= 0 || maxDist < minDist || maxDist < 0 {
		return nil
	}
	inner := kdtree.NewNKeeper(utils.MinInt(maxCount, kd.size))
	inner.Heap[0].Dist = sentinelDist(maxDist)
	keeper := &rangeKeeper{Keeper: inner, minSq: minSq(minDist)}
	kd.tree.NearestSet(keeper, kdPoint{pos: query, index: -1})
	return collect(inner.Heap, maxDist)
}

// FindAll returns every indexed position within [minDist, maxDist] of query for which
// predicate (if non-nil) returns true. The result is unordered.
func (kd *KDTree) FindAll(query r3.Vector, minDist, maxDist float64, predicate func(int) bool) []int {
	if kd.tree == nil || maxDist < minDist || maxDist < 0 {
		return nil
	}
	inner := kdtree.NewDistKeeper(sentinelDist(maxDist))
	keeper := &rangeKeeper{Keeper: inner, minSq: minSq(minDist), predicate: predicate}
	kd.tree.NearestSet(keeper, kdPoint{pos: query, index: -1})
	found := collect(inner.Heap, maxDist)
	out := make([]int, len(found))
	for i, n := range found {
		out[i] = n.Index
	}
	return out
}

// distances inside the tree are squared; the sentinel sits just past maxDist so that a
// point exactly at maxDist is never confused with it.
func sentinelDist(maxDist float64) float64 {
	if math.IsInf(maxDist, 1) {
		return maxDist
	}
	sq := maxDist * maxDist
	return math.Nextafter(sq, math.Inf(1))
}

func minSq(minDist float64) float64 {
	if minDist <= 0 {
		return math.Inf(-1)
	}
	return minDist * minDist
}

func collect(heap kdtree.Heap, maxDist float64) []Neighbor {
	maxSq := maxDist * maxDist
	out := make([]Neighbor, 0, len(heap))
	for _, c := range heap {
		if c.Comparable == nil || c.Dist > maxSq {
			continue
		}
		p, ok := c.Comparable.(kdPoint)
		if !ok {
			panic(utils.NewUnexpectedTypeError(p, c.Comparable))
		}
		out = append(out, Neighbor{Index: p.index, Distance: math.Sqrt(c.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// rangeKeeper filters candidates before handing them to a gonum keeper.
type rangeKeeper struct {
	kdtree.Keeper
	minSq     float64
	predicate func(int) bool
}

func (k *rangeKeeper) Keep(c kdtree.ComparableDist) {
	if c.Dist < k.minSq {
		return
	}
	if k.predicate != nil {
		p, ok := c.Comparable.(kdPoint)
		if !ok || !k.predicate(p.index) {
			return
		}
	}
	k.Keeper.Keep(c)
}

type kdPoint struct {
	pos   r3.Vector
	index int
}

func (p kdPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.pos.X
	case 1:
		return p.pos.Y
	default:
		return p.pos.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c and
// perpendicular to the dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q, ok := c.(kdPoint)
	if !ok {
		panic(utils.NewUnexpectedTypeError(q, c))
	}
	return p.coord(d) - q.coord(d)
}

func (p kdPoint) Dims() int {
	return 3
}

// Distance is squared euclidean, as the tree expects.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q, ok := c.(kdPoint)
	if !ok {
		panic(utils.NewUnexpectedTypeError(q, c))
	}
	return p.pos.Sub(q.pos).Norm2()
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable {
	return p[i]
}

func (p kdPoints) Len() int {
	return len(p)
}

func (p kdPoints) Pivot(d kdtree.Dim) int {
	return kdPlane{kdPoints: p, dim: d}.Pivot()
}

func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

type kdPlane struct {
	kdPoints
	dim kdtree.Dim
}

func (p kdPlane) Less(i, j int) bool {
	return p.kdPoints[i].coord(p.dim) < p.kdPoints[j].coord(p.dim)
}

func (p kdPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}

func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}

package segmentation

import (
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/golang/geo/r3"

	"github.com/surfelscan/surfelseg/utils"
)

// maxCoverageCells bounds the occupancy grid of Coverage; larger extents use coarser cells.
const maxCoverageCells = 1 << 22

// Cluster is a set of member points sharing one fitted Shape, together with its links in the merge
// forest. A cluster is active while it has no parent.
type Cluster struct {
	id       ClusterID
	seed     int
	members  []int
	parent   ClusterID
	children []ClusterID
	// up shortcuts parent chains for root lookups; parent keeps the exact merge tree.
	up ClusterID

	shape            Shape
	possibleAffinity float64
	totalAffinity    float64
}

// ID returns the arena ID of the cluster.
func (c *Cluster) ID() ClusterID {
	return c.id
}

// Seed returns the chunk position of the seed point.
func (c *Cluster) Seed() int {
	return c.seed
}

// Members returns the chunk positions of the member points. Callers must not modify it.
func (c *Cluster) Members() []int {
	return c.members
}

// Len returns the number of members.
func (c *Cluster) Len() int {
	return len(c.members)
}

// Parent returns the cluster this one was merged into, if any.
func (c *Cluster) Parent() ClusterID {
	return c.parent
}

// Children returns the clusters merged to form this one.
func (c *Cluster) Children() []ClusterID {
	return c.children
}

// IsActive reports whether the cluster has not been merged into another one.
func (c *Cluster) IsActive() bool {
	return c.parent.IsNil()
}

// Shape returns the fitted shape.
func (c *Cluster) Shape() *Shape {
	return &c.shape
}

// PossibleAffinity is the affinity the members would have with a perfect fit.
func (c *Cluster) PossibleAffinity() float64 {
	return c.possibleAffinity
}

// TotalAffinity is the sum of the membership affinities of the members.
func (c *Cluster) TotalAffinity() float64 {
	return c.totalAffinity
}

// InsertPoint adds an unclaimed point with the given membership affinity.
func (c *Cluster) InsertPoint(ch *Chunk, p int, affinity float64) {
	pt := &ch.points[p]
	pt.Cluster = c.id
	pt.Affinity = affinity
	pt.Slot = len(c.members)
	c.members = append(c.members, p)
	c.totalAffinity += affinity
	c.possibleAffinity++
}

// RemovePoint removes a member point and leaves it unclaimed.
func (c *Cluster) RemovePoint(ch *Chunk, p int) {
	pt := &ch.points[p]
	slot := pt.Slot
	last := len(c.members) - 1
	if slot != last {
		moved := c.members[last]
		c.members[slot] = moved
		ch.points[moved].Slot = slot
	}
	c.members = c.members[:last]
	c.totalAffinity -= pt.Affinity
	c.possibleAffinity--
	pt.release()
}

// PointAffinity scores how well point p fits the current shape. It is zero once the point is
// max_cluster_shape_distance away from the shape or its normal deviates by max_cluster_normal_angle.
func (c *Cluster) PointAffinity(ch *Chunk, p int) float64 {
	pt := &ch.points[p]
	return affinityTerm(c.shape.Distance(pt.Position), ch.params.maxShapeDistance) *
		affinityTerm(c.shape.NormalAngle(pt.Normal), ch.params.maxNormalAngle)
}

// Affinity scores how well two clusters would fit one shape. It combines the gap between their
// bounding boxes, the distance of each centroid to the other's shape (the smaller one counts, less the
// spread of both clusters off their shapes) and the angle between their directions, each vanishing at
// its max_pair_* threshold. Clusters splitting the noise band of one surface between them stay
// compatible.
func (c *Cluster) Affinity(ch *Chunk, o *Cluster) float64 {
	pp := &ch.params
	gap := c.shape.Bounds().Gap(o.shape.Bounds())
	shapeDistance := math.Min(c.shape.Distance(o.shape.Centroid()), o.shape.Distance(c.shape.Centroid()))
	shapeDistance = math.Max(shapeDistance-c.shape.Spread()-o.shape.Spread(), 0)
	return affinityTerm(gap, pp.maxPairCentroidDistance) *
		affinityTerm(shapeDistance, pp.maxPairShapeDistance) *
		affinityTerm(c.shape.AngleTo(&o.shape), pp.maxPairNormalAngle)
}

// affinityTerm falls from 1 at v = 0 to 0 at v = limit.
func affinityTerm(v, limit float64) float64 {
	if !(v < limit) {
		return 0
	}
	return 1 - utils.Square(v/limit)
}

// UpdateShape refits the shape to the current members.
func (c *Cluster) UpdateShape(ch *Chunk) error {
	positions := make([]r3.Vector, len(c.members))
	normals := make([]r3.Vector, len(c.members))
	for i, p := range c.members {
		positions[i] = ch.points[p].Position
		normals[i] = ch.points[p].Normal
	}
	shape := NewShape(ch.params.kind)
	if err := shape.FitFrom(positions, normals); err != nil {
		return err
	}
	c.shape = shape
	return nil
}

// UpdatePoints re-scores the members against the current shape, dropping those that no longer fit,
// then grows the cluster through the neighbor table. A cluster left without members restarts from the
// unclaimed points the spatial index finds near its centroid. Unclaimed neighbors join when their affinity is
// positive; neighbors held by another cluster move only when they fit this one strictly better and the two
// clusters are not merge candidates.
func (c *Cluster) UpdatePoints(ch *Chunk) error {
	mark := ch.nextMark()
	for i := len(c.members) - 1; i >= 0; i-- {
		p := c.members[i]
		pt := &ch.points[p]
		pt.mark = mark
		a := c.PointAffinity(ch, p)
		if a <= 0 {
			c.RemovePoint(ch, p)
			continue
		}
		c.totalAffinity += a - pt.Affinity
		pt.Affinity = a
	}

	queue := append([]int(nil), c.members...)
	if len(queue) == 0 {
		unclaimed := func(i int) bool { return !ch.points[i].Claimed() }
		nearby := ch.index.FindAll(c.shape.Centroid(), 0, ch.neighbors.MaxDistance(), unclaimed)
		sort.Ints(nearby)
		for _, p := range nearby {
			ch.points[p].mark = mark
			if ch.claim(c, p, c.PointAffinity(ch, p)) {
				queue = append(queue, p)
			}
		}
	}
	for head := 0; head < len(queue); head++ {
		for _, nb := range ch.neighbors.Neighbors(queue[head]) {
			pt := &ch.points[nb]
			if pt.mark == mark {
				continue
			}
			pt.mark = mark
			if ch.claim(c, nb, c.PointAffinity(ch, nb)) {
				queue = append(queue, nb)
			}
		}
	}

	if len(c.members) == 0 {
		return &MembershipError{Cluster: c.id}
	}
	return nil
}

// Coverage returns the fraction of the cluster's extent occupied by members: members are projected
// onto the shape's principal axes (two for a plane, one for a line) and binned into a grid of
// coverage_cell_size cells spanning the projections. Points and empty clusters are fully covered.
func (c *Cluster) Coverage(ch *Chunk) float64 {
	kind := c.shape.Kind()
	if kind == ShapePoint || len(c.members) == 0 {
		return 1
	}
	dims := 2
	if kind == ShapeLine {
		dims = 1
	}

	origin := c.shape.Centroid()
	coords := make([][2]float64, len(c.members))
	lo := [2]float64{math.Inf(1), math.Inf(1)}
	hi := [2]float64{math.Inf(-1), math.Inf(-1)}
	for i, p := range c.members {
		v := ch.points[p].Position.Sub(origin)
		for d := 0; d < dims; d++ {
			x := v.Dot(c.shape.axes[d])
			coords[i][d] = x
			lo[d] = math.Min(lo[d], x)
			hi[d] = math.Max(hi[d], x)
		}
	}

	cell := ch.params.coverageCellSize
	var cells [2]int
	for {
		total := 1
		for d := 0; d < dims; d++ {
			cells[d] = int((hi[d]-lo[d])/cell) + 1
			total *= cells[d]
		}
		if total <= maxCoverageCells {
			break
		}
		cell *= 2
	}

	total := 1
	for d := 0; d < dims; d++ {
		total *= cells[d]
	}
	occupied := bitset.New(uint(total))
	for _, xy := range coords {
		idx, stride := 0, 1
		for d := 0; d < dims; d++ {
			i := int((xy[d] - lo[d]) / cell)
			if i >= cells[d] {
				i = cells[d] - 1
			}
			idx += i * stride
			stride *= cells[d]
		}
		occupied.Set(uint(idx))
	}
	return float64(occupied.Count()) / float64(total)
}

package segmentation

import (
	"math/rand"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
)

// Chunk is the working state of one leaf chunk: its candidate points, the read-only spatial
// structures over them and the arena of clusters. It is owned by a single goroutine.
type Chunk struct {
	name      string
	points    []Point
	index     *pc.KDTree
	neighbors *pc.NeighborTable
	clusters  *arena
	params    params

	rng    *rand.Rand
	stats  *Stats
	logger logging.Logger
	clock  clock.Clock
	mark   uint32
}

// NewChunk gathers the given samples of src, indexes their positions and builds their neighbor table.
// An invalid cfg is reported as ConfigErrors and a failure to index a non-empty chunk as a
// SpatialIndexError.
func NewChunk(name string, src pc.Source, indices []int, cfg *Config, rng *rand.Rand, logger logging.Logger) (*Chunk, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid segmentation config")
	}
	return newChunk(name, src, indices, cfg, rng, logger, clock.New(), &Stats{})
}

func newChunk(
	name string,
	src pc.Source,
	indices []int,
	cfg *Config,
	rng *rand.Rand,
	logger logging.Logger,
	clk clock.Clock,
	stats *Stats,
) (*Chunk, error) {
	ch := &Chunk{
		name:     name,
		points:   make([]Point, len(indices)),
		clusters: newArena(cfg.MaxClusterRecords),
		params:   newParams(cfg),
		rng:      rng,
		stats:    stats,
		logger:   logger,
		clock:    clk,
	}
	for i, idx := range indices {
		ch.points[i] = Point{Source: idx, Position: src.Position(idx), Normal: src.Normal(idx), Slot: -1}
	}
	positions := make([]r3.Vector, len(ch.points))
	for i := range ch.points {
		positions[i] = ch.points[i].Position
	}
	index, err := pc.BuildKDTree(positions)
	if err != nil {
		return nil, &SpatialIndexError{Err: err}
	}
	ch.index = index
	ch.neighbors = pc.NewNeighborTable(index, positions, cfg.MaxNeighbors, cfg.MaxNeighborDistance)
	stats.Candidates = len(ch.points)
	return ch, nil
}

// Name returns the chunk name used for its output groups.
func (ch *Chunk) Name() string {
	return ch.name
}

// Points returns the candidate points. Callers must not modify them.
func (ch *Chunk) Points() []Point {
	return ch.points
}

// Cluster returns the cluster for id, or nil if it was freed.
func (ch *Chunk) Cluster(id ClusterID) *Cluster {
	return ch.clusters.get(id)
}

// Stats returns the counters of this chunk.
func (ch *Chunk) Stats() *Stats {
	return ch.stats
}

func (ch *Chunk) nextMark() uint32 {
	ch.mark++
	if ch.mark == 0 {
		for i := range ch.points {
			ch.points[i].mark = 0
		}
		ch.mark = 1
	}
	return ch.mark
}

// NewCluster allocates an empty cluster seeded at point p with the given shape.
func (ch *Chunk) NewCluster(p int, shape Shape) (*Cluster, error) {
	c, err := ch.clusters.alloc()
	if err != nil {
		return nil, err
	}
	c.seed = p
	c.shape = shape
	return c, nil
}

// NewSeedCluster allocates a cluster whose shape is fit to point p alone and claims p for it unless
// another cluster holds p at least as strongly.
func (ch *Chunk) NewSeedCluster(p int) (*Cluster, error) {
	shape := NewShape(ch.params.kind)
	shape.FitFromPoint(ch.points[p].Position, ch.points[p].Normal)
	c, err := ch.NewCluster(p, shape)
	if err != nil {
		return nil, err
	}
	ch.claim(c, p, c.PointAffinity(ch, p))
	return c, nil
}

// MergeClusters allocates the parent of two active clusters. The members of both move to the parent
// with their backlinks updated, shapes combine weighted by member count and affinities add up.
func (ch *Chunk) MergeClusters(a, b *Cluster) (*Cluster, error) {
	shape := Combine(a.shape, float64(len(a.members)), b.shape, float64(len(b.members)))
	seed := a.seed
	if b.totalAffinity > a.totalAffinity {
		seed = b.seed
	}
	m, err := ch.NewCluster(seed, shape)
	if err != nil {
		return nil, err
	}

	// the larger member list is reused; its slots stay valid.
	big, small := a, b
	if len(b.members) > len(a.members) {
		big, small = b, a
	}
	m.members = big.members
	for _, p := range m.members {
		ch.points[p].Cluster = m.id
	}
	for _, p := range small.members {
		pt := &ch.points[p]
		pt.Cluster = m.id
		pt.Slot = len(m.members)
		m.members = append(m.members, p)
	}
	a.members, b.members = nil, nil

	m.possibleAffinity = a.possibleAffinity + b.possibleAffinity
	m.totalAffinity = a.totalAffinity + b.totalAffinity
	m.children = []ClusterID{a.id, b.id}
	a.parent, b.parent = m.id, m.id
	a.up, b.up = m.id, m.id
	ch.stats.Merges++
	return m, nil
}

// claim gives point p to c with affinity a when p is unclaimed, or held less strongly by a cluster c
// could not merge with. Points never move between merge candidates, which would otherwise split one
// noisy surface into parallel sheets.
func (ch *Chunk) claim(c *Cluster, p int, a float64) bool {
	if a <= 0 {
		return false
	}
	pt := &ch.points[p]
	if pt.Claimed() {
		if a <= pt.Affinity {
			return false
		}
		if owner := ch.clusters.get(pt.Cluster); owner != nil {
			if owner != c && ch.mergeable(c, owner) {
				return false
			}
			owner.RemovePoint(ch, p)
		}
	}
	c.InsertPoint(ch, p, a)
	return true
}

// mergeable reports whether a merge pass could fold a and b.
func (ch *Chunk) mergeable(a, b *Cluster) bool {
	affinity := a.Affinity(ch, b)
	return affinity > 0 && affinity >= ch.params.minPairAffinity
}

// releaseCluster leaves every member of c unclaimed and frees its record.
func (ch *Chunk) releaseCluster(c *Cluster) {
	for _, p := range c.members {
		ch.points[p].release()
	}
	c.members = nil
	ch.clusters.release(c.id)
}

package segmentation

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
)

// nanSource reports a NaN position for one sample.
type nanSource struct {
	*pc.BasicSource
	bad int
}

func (s *nanSource) Position(i int) r3.Vector {
	if i == s.bad {
		return r3.Vector{X: math.NaN()}
	}
	return s.BasicSource.Position(i)
}

// limitedSink accepts at most limit objects.
type limitedSink struct {
	*MemorySink
	limit int
}

func (s *limitedSink) CreateObject(pointIndices []int, name string) (ObjectHandle, error) {
	if s.Len() >= s.limit {
		return "", errors.New("sink is full")
	}
	return s.MemorySink.CreateObject(pointIndices, name)
}

// appendOnlySink hides the deletion support of the sink it wraps.
type appendOnlySink struct {
	sink *limitedSink
}

func (s appendOnlySink) CreateObject(pointIndices []int, name string) (ObjectHandle, error) {
	return s.sink.CreateObject(pointIndices, name)
}

// stuckSink refuses every deletion.
type stuckSink struct {
	*limitedSink
}

func (s stuckSink) DeleteObject(handle ObjectHandle) error {
	return errors.Errorf("object %q is read only", handle)
}

func newTestSegmenter(t *testing.T, cfg Config, opts ...Option) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return s
}

// checkPartition verifies that the groups split indices into disjoint sorted sets.
func checkPartition(t *testing.T, indices []int, groups []Group) {
	t.Helper()
	var all []int
	for _, g := range groups {
		test.That(t, sort.IntsAreSorted(g.Indices), test.ShouldBeTrue)
		all = append(all, g.Indices...)
	}
	sort.Ints(all)
	expected := append([]int(nil), indices...)
	sort.Ints(expected)
	test.That(t, all, test.ShouldResemble, expected)
}

// checkPruned verifies the limits every committed cluster satisfies.
func checkPruned(t *testing.T, cfg Config, res *ChunkResult) {
	t.Helper()
	clusters := res.Clusters()
	if cfg.MaxClusters > 0 {
		test.That(t, len(clusters), test.ShouldBeLessThanOrEqualTo, cfg.MaxClusters)
	}
	for i, g := range clusters {
		test.That(t, len(g.Indices), test.ShouldBeGreaterThanOrEqualTo, cfg.MinClusterPoints)
		test.That(t, g.Coverage, test.ShouldBeGreaterThanOrEqualTo, cfg.MinClusterCoverage)
		if i > 0 {
			test.That(t, g.TotalAffinity, test.ShouldBeLessThanOrEqualTo, clusters[i-1].TotalAffinity)
		}
	}
}

// twoPlanes returns a floor and a wall more than a unit apart, 3000 samples each.
func twoPlanes(t *testing.T) *pc.BasicSource {
	t.Helper()
	return newTestSource(t, flatPlane(41, 3, 3000, 0.005), wallPlane(42, 5, 0.5, 3, 3000, 0.005))
}

func TestNewSegmenter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNeighbors = 0
	_, err := NewSegmenter(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid segmentation config")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_neighbors")

	s := newTestSegmenter(t, DefaultConfig())
	test.That(t, s.Config(), test.ShouldResemble, DefaultConfig())
	test.That(t, s.chunkSeed(0), test.ShouldEqual, DefaultConfig().RandomSeed)
	test.That(t, s.chunkSeed(1), test.ShouldNotEqual, s.chunkSeed(2))
}

func TestSegmentSinglePlane(t *testing.T) {
	src := newTestSource(t, flatPlane(40, 10, 10000, 0.005))

	t.Run("hierarchical", func(t *testing.T) {
		cfg := DefaultConfig()
		sink := NewMemorySink()
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "scan", sink)
		test.That(t, err, test.ShouldBeNil)

		clusters := res.Clusters()
		test.That(t, clusters, test.ShouldHaveLength, 1)
		test.That(t, clusters[0].Name, test.ShouldEqual, "scan/cluster-1")
		test.That(t, clusters[0].Kind, test.ShouldEqual, ShapePlane)
		test.That(t, math.Abs(clusters[0].Direction.Z), test.ShouldBeGreaterThan, 0.99)
		test.That(t, len(clusters[0].Indices), test.ShouldBeGreaterThanOrEqualTo, 9900)
		test.That(t, res.Unclustered().Name, test.ShouldEqual, "scan/unclustered")
		checkPartition(t, pc.AllIndices(src), res.Groups)
		checkPruned(t, cfg, res)

		test.That(t, sink.Len(), test.ShouldEqual, 2)
		for _, g := range res.Groups {
			obj, ok := sink.Object(g.Name)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, obj.Handle, test.ShouldEqual, g.Handle)
			test.That(t, obj.Indices, test.ShouldResemble, g.Indices)
		}
		test.That(t, res.Stats.Candidates, test.ShouldEqual, 10000)
		test.That(t, res.Stats.Merges, test.ShouldBeGreaterThan, 0)
		test.That(t, res.Stats.MinFoldAffinity, test.ShouldBeGreaterThanOrEqualTo, cfg.MinPairAffinity)
	})

	t.Run("noise close to max_cluster_shape_distance", func(t *testing.T) {
		noisy := newTestSource(t, flatPlane(46, 10, 10000, 0.045))
		for _, hierarchical := range []bool{true, false} {
			cfg := DefaultConfig()
			cfg.InitializeHierarchically = hierarchical
			res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), noisy, pc.AllIndices(noisy), "scan", NewMemorySink())
			test.That(t, err, test.ShouldBeNil)
			clusters := res.Clusters()
			test.That(t, clusters, test.ShouldHaveLength, 1)
			test.That(t, len(clusters[0].Indices), test.ShouldBeGreaterThanOrEqualTo, 9900)
			test.That(t, math.Abs(clusters[0].Direction.Z), test.ShouldBeGreaterThan, 0.99)
			checkPartition(t, pc.AllIndices(noisy), res.Groups)
			checkPruned(t, cfg, res)
		}
	})

	t.Run("max_clusters bounds ransac seeding", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitializeHierarchically = false
		cfg.MaxClusters = 1
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "scan", NewMemorySink())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Stats.SeedAttempts, test.ShouldBeLessThanOrEqualTo, 4)
		test.That(t, res.Clusters(), test.ShouldHaveLength, 1)
		test.That(t, len(res.Clusters()[0].Indices), test.ShouldBeGreaterThanOrEqualTo, 9900)
		checkPruned(t, cfg, res)
	})
}

func TestSegmentTwoPlanes(t *testing.T) {
	src := twoPlanes(t)
	for _, hierarchical := range []bool{true, false} {
		name := "ransac"
		if hierarchical {
			name = "hierarchical"
		}
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.InitializeHierarchically = hierarchical
			s := newTestSegmenter(t, cfg)
			res, err := s.SegmentChunk(context.Background(), src, pc.AllIndices(src), "room", NewMemorySink())
			test.That(t, err, test.ShouldBeNil)

			clusters := res.Clusters()
			test.That(t, clusters, test.ShouldHaveLength, 2)
			var floor, wall int
			for _, g := range clusters {
				test.That(t, g.Kind, test.ShouldEqual, ShapePlane)
				onFloor := g.Indices[0] < 3000
				for _, idx := range g.Indices {
					test.That(t, idx < 3000, test.ShouldEqual, onFloor)
				}
				if onFloor {
					floor++
				} else {
					wall++
				}
				test.That(t, len(g.Indices), test.ShouldBeGreaterThanOrEqualTo, 2900)
			}
			test.That(t, floor, test.ShouldEqual, 1)
			test.That(t, wall, test.ShouldEqual, 1)
			checkPartition(t, pc.AllIndices(src), res.Groups)
			checkPruned(t, cfg, res)

			// same seed, same answer
			again, err := s.SegmentChunk(context.Background(), src, pc.AllIndices(src), "room", NewMemorySink())
			test.That(t, err, test.ShouldBeNil)
			diff := cmp.Diff(res.Groups, again.Groups, cmpopts.IgnoreFields(Group{}, "Handle"), cmpopts.EquateEmpty())
			test.That(t, diff, test.ShouldBeEmpty)
		})
	}
}

func TestSegmentTinyChunk(t *testing.T) {
	src := newTestSource(t, flatPlane(43, 1, 5, 0))
	sink := NewMemorySink()
	logger, logs := logging.NewObservedTestLogger(t)
	s, err := NewSegmenter(DefaultConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	res, err := s.SegmentChunk(context.Background(), src, pc.AllIndices(src), "tiny", sink)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Clusters(), test.ShouldBeEmpty)
	test.That(t, res.Unclustered().Name, test.ShouldEqual, "tiny/unclustered")
	test.That(t, res.Unclustered().Indices, test.ShouldResemble, []int{0, 1, 2, 3, 4})
	test.That(t, res.Stats.Candidates, test.ShouldEqual, 5)
	test.That(t, sink.Len(), test.ShouldEqual, 1)

	summary := logs.FilterMessage("segmented chunk").All()
	test.That(t, summary, test.ShouldHaveLength, 1)
	test.That(t, summary[0].LoggerName, test.ShouldEqual, "tiny")
	test.That(t, summary[0].ContextMap()["clusters"], test.ShouldEqual, int64(0))
	test.That(t, logs.FilterMessage("nothing to cluster").Len(), test.ShouldEqual, 1)
}

func TestSegmentSilhouetteLines(t *testing.T) {
	r := rand.New(rand.NewSource(44))
	first := pc.SampleLine(r, r3.Vector{}, r3.Vector{X: 2}, r3.Vector{Z: 1}, 300, 0.002)
	second := pc.SampleLine(r, r3.Vector{Y: 3}, r3.Vector{Y: 3, Z: 2}, r3.Vector{X: 1}, 300, 0.002)
	for i := 0; i < 10; i++ {
		second[i].Shadow = true
	}
	surface := shifted(flatPlane(45, 2, 1000, 0), 10)
	src := newTestSource(t, first, second, surface)

	cfg := DefaultConfig()
	cfg.ShapeType = LineShapeType
	cfg.InitializeHierarchically = false
	cfg.MinClusterPoints = 20
	cfg.SilhouettePointsOnly = true
	res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "edges", NewMemorySink())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Stats.Candidates, test.ShouldEqual, 590)

	clusters := res.Clusters()
	test.That(t, clusters, test.ShouldNotBeEmpty)
	clustered := 0
	seen := map[bool]bool{}
	for _, g := range clusters {
		test.That(t, g.Kind, test.ShouldEqual, ShapeLine)
		onFirst := g.Indices[0] < 300
		seen[onFirst] = true
		for _, idx := range g.Indices {
			test.That(t, idx, test.ShouldBeLessThan, 600)
			test.That(t, idx < 300, test.ShouldEqual, onFirst)
			if !onFirst {
				test.That(t, idx, test.ShouldBeGreaterThanOrEqualTo, 310)
			}
		}
		clustered += len(g.Indices)
	}
	test.That(t, seen, test.ShouldResemble, map[bool]bool{true: true, false: true})
	test.That(t, clustered, test.ShouldBeGreaterThanOrEqualTo, 500)

	unclustered := res.Unclustered().Indices
	for idx := 300; idx < 310; idx++ {
		test.That(t, unclustered, test.ShouldContain, idx)
	}
	for idx := 600; idx < 1600; idx++ {
		test.That(t, unclustered, test.ShouldContain, idx)
	}
	checkPartition(t, pc.AllIndices(src), res.Groups)
	checkPruned(t, cfg, res)
}

func TestSegmentChunkFailures(t *testing.T) {
	plane := flatPlane(46, 2, 500, 0.005)

	t.Run("arena exhausted", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxClusterRecords = 10
		src := newTestSource(t, plane)
		sink := NewMemorySink()
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "scan", sink)
		test.That(t, res, test.ShouldBeNil)
		var allocErr *AllocationError
		test.That(t, errors.As(err, &allocErr), test.ShouldBeTrue)
		test.That(t, allocErr.Limit, test.ShouldEqual, 10)
		test.That(t, IsFatal(err), test.ShouldBeTrue)
		test.That(t, sink.Len(), test.ShouldEqual, 0)
	})

	t.Run("unindexable sample", func(t *testing.T) {
		src := &nanSource{BasicSource: newTestSource(t, plane), bad: 7}
		sink := NewMemorySink()
		res, err := newTestSegmenter(t, DefaultConfig()).SegmentChunk(context.Background(), src, pc.AllIndices(src), "scan", sink)
		test.That(t, res, test.ShouldBeNil)
		var indexErr *SpatialIndexError
		test.That(t, errors.As(err, &indexErr), test.ShouldBeTrue)
		test.That(t, IsFatal(err), test.ShouldBeTrue)
		test.That(t, sink.Len(), test.ShouldEqual, 0)
	})

	t.Run("sink rejects a group", func(t *testing.T) {
		src := twoPlanes(t)
		cfg := DefaultConfig()
		cfg.InitializeHierarchically = false
		sink := &limitedSink{MemorySink: NewMemorySink(), limit: 1}
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "room", sink)
		test.That(t, res, test.ShouldBeNil)
		var sinkErr *SinkError
		test.That(t, errors.As(err, &sinkErr), test.ShouldBeTrue)
		test.That(t, sinkErr.Name, test.ShouldEqual, "room/cluster-2")
		test.That(t, IsFatal(err), test.ShouldBeTrue)
		// the group created before the failure is withdrawn
		test.That(t, sink.Len(), test.ShouldEqual, 0)
	})

	t.Run("sink without deletion keeps earlier groups", func(t *testing.T) {
		src := twoPlanes(t)
		cfg := DefaultConfig()
		cfg.InitializeHierarchically = false
		sink := appendOnlySink{sink: &limitedSink{MemorySink: NewMemorySink(), limit: 1}}
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "room", sink)
		test.That(t, res, test.ShouldBeNil)
		var sinkErr *SinkError
		test.That(t, errors.As(err, &sinkErr), test.ShouldBeTrue)
		test.That(t, sink.sink.Len(), test.ShouldEqual, 1)
	})

	t.Run("withdrawal fails", func(t *testing.T) {
		src := twoPlanes(t)
		cfg := DefaultConfig()
		cfg.InitializeHierarchically = false
		sink := stuckSink{&limitedSink{MemorySink: NewMemorySink(), limit: 1}}
		res, err := newTestSegmenter(t, cfg).SegmentChunk(context.Background(), src, pc.AllIndices(src), "room", sink)
		test.That(t, res, test.ShouldBeNil)
		var sinkErr *SinkError
		test.That(t, errors.As(err, &sinkErr), test.ShouldBeTrue)
		test.That(t, sinkErr.Name, test.ShouldEqual, "room/cluster-2")
		test.That(t, err.Error(), test.ShouldContainSubstring, `cannot withdraw object "room/cluster-1"`)
		test.That(t, sink.Len(), test.ShouldEqual, 1)
	})

	t.Run("canceled", func(t *testing.T) {
		src := newTestSource(t, plane)
		sink := NewMemorySink()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := newTestSegmenter(t, DefaultConfig()).SegmentChunk(ctx, src, pc.AllIndices(src), "scan", sink)
		test.That(t, res, test.ShouldBeNil)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
		test.That(t, sink.Len(), test.ShouldEqual, 0)
	})
}

func TestSegmentChunks(t *testing.T) {
	left := flatPlane(47, 2, 1000, 0.005)
	right := shifted(flatPlane(48, 2, 1000, 0.005), 10)
	src := &nanSource{BasicSource: newTestSource(t, left, right), bad: 1500}
	chunks := [][]int{make([]int, 1000), make([]int, 1000)}
	for i := 0; i < 1000; i++ {
		chunks[0][i] = i
		chunks[1][i] = 1000 + i
	}

	mock := clock.NewMock()
	sink := NewMemorySink()
	s := newTestSegmenter(t, DefaultConfig(), WithClock(mock), WithParallelism(2))
	results, err := s.Segment(context.Background(), src, chunks, sink)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "segmenting chunk-1")
	test.That(t, IsFatal(err), test.ShouldBeTrue)
	test.That(t, results, test.ShouldHaveLength, 2)
	test.That(t, results[1], test.ShouldBeNil)

	res := results[0]
	test.That(t, res, test.ShouldNotBeNil)
	test.That(t, res.Name, test.ShouldEqual, "chunk-0")
	test.That(t, res.Clusters(), test.ShouldHaveLength, 1)
	checkPartition(t, chunks[0], res.Groups)
	for _, obj := range sink.Objects() {
		test.That(t, strings.HasPrefix(obj.Name, "chunk-0/"), test.ShouldBeTrue)
	}

	// the mock clock never advances
	test.That(t, res.Stats.Elapsed, test.ShouldEqual, time.Duration(0))
	for _, stage := range []string{"seed", "refine", "reseed", "merge", "prune"} {
		d, ok := res.Stats.Durations[stage]
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldEqual, time.Duration(0))
	}
	test.That(t, res.Stats.Rounds, test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestSegmentSource(t *testing.T) {
	src := newTestSource(t, flatPlane(49, 6, 6000, 0.005))
	sink := NewMemorySink()
	results, err := newTestSegmenter(t, DefaultConfig()).SegmentSource(context.Background(), src, 1500, sink)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(results), test.ShouldBeGreaterThan, 1)

	var groups []Group
	committed := 0
	for _, res := range results {
		test.That(t, res, test.ShouldNotBeNil)
		groups = append(groups, res.Groups...)
		committed += len(res.Groups)
	}
	checkPartition(t, pc.AllIndices(src), groups)
	test.That(t, sink.Len(), test.ShouldEqual, committed)

	_, err = newTestSegmenter(t, DefaultConfig()).SegmentSource(context.Background(), src, 0, sink)
	test.That(t, err, test.ShouldNotBeNil)
}

// Package segmentation partitions surfel point clouds into planar or linear surface patches. Each leaf
// chunk is seeded with candidate clusters, which are then refined, merged agglomeratively and pruned
// for a bounded number of rounds before the survivors are handed to an ObjectSink.
package segmentation

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bitset"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/surfelscan/surfelseg/logging"
	"github.com/surfelscan/surfelseg/octree"
	pc "github.com/surfelscan/surfelseg/pointcloud"
	"github.com/surfelscan/surfelseg/utils"
)

// UnclusteredName is the suffix of the group holding the points left without a cluster.
const UnclusteredName = "unclustered"

// Segmenter runs the clustering pipeline over chunks of a point source.
type Segmenter struct {
	cfg         Config
	logger      logging.Logger
	clock       clock.Clock
	parallelism int
}

// Option customizes a Segmenter.
type Option func(*Segmenter)

// WithClock sets the clock used to time stages.
func WithClock(clk clock.Clock) Option {
	return func(s *Segmenter) {
		s.clock = clk
	}
}

// WithParallelism bounds the number of chunks segmented at once; 0 means utils.ParallelFactor.
func WithParallelism(n int) Option {
	return func(s *Segmenter) {
		s.parallelism = n
	}
}

// NewSegmenter validates cfg and returns a Segmenter using it.
func NewSegmenter(cfg Config, logger logging.Logger, opts ...Option) (*Segmenter, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid segmentation config")
	}
	s := &Segmenter{cfg: cfg, logger: logger, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration of the segmenter.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Group is one output group of a chunk.
type Group struct {
	Name    string
	Indices []int
	Handle  ObjectHandle

	// Kind is ShapePoint for the unclustered group.
	Kind ShapeKind
	// Direction is the plane normal or line direction of a cluster.
	Direction     r3.Vector
	TotalAffinity float64
	Coverage      float64
}

// ChunkResult is the committed output of one chunk: the clusters ranked by total affinity followed by
// the unclustered group.
type ChunkResult struct {
	Name   string
	Groups []Group
	Stats  Stats
}

// Clusters returns the cluster groups.
func (r *ChunkResult) Clusters() []Group {
	return r.Groups[:len(r.Groups)-1]
}

// Unclustered returns the group of points left without a cluster.
func (r *ChunkResult) Unclustered() Group {
	return r.Groups[len(r.Groups)-1]
}

// chunkSeed derives the RNG seed of chunk n from random_seed; chunk 0 uses random_seed itself.
func (s *Segmenter) chunkSeed(n int) int64 {
	return int64(uint64(s.cfg.RandomSeed) ^ (uint64(n) * 0x9E3779B97F4A7C15))
}

// SegmentChunk segments the samples of src listed in indices and commits the groups to sink, named
// "<name>/cluster-<rank>" and "<name>/unclustered". Nothing is committed when it fails.
func (s *Segmenter) SegmentChunk(ctx context.Context, src pc.Source, indices []int, name string, sink ObjectSink) (*ChunkResult, error) {
	return s.segmentChunk(ctx, src, indices, name, s.chunkSeed(0), sink)
}

// Segment segments every chunk, at most WithParallelism at a time. A failing chunk does not stop the
// others; its result is nil and its error is part of the combined error returned.
func (s *Segmenter) Segment(ctx context.Context, src pc.Source, chunks [][]int, sink ObjectSink) ([]*ChunkResult, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::Segment")
	defer span.End()

	results := make([]*ChunkResult, len(chunks))
	err := utils.ForEachParallel(ctx, len(chunks), s.parallelism, func(ctx context.Context, i int) error {
		name := fmt.Sprintf("chunk-%d", i)
		res, err := s.segmentChunk(ctx, src, chunks[i], name, s.chunkSeed(i), sink)
		if err != nil {
			return errors.Wrapf(err, "segmenting %s", name)
		}
		results[i] = res
		return nil
	})
	return results, err
}

// SegmentSource splits src into octree leaves of at most maxLeafPoints samples and segments each leaf.
func (s *Segmenter) SegmentSource(ctx context.Context, src pc.Source, maxLeafPoints int, sink ObjectSink) ([]*ChunkResult, error) {
	tree, err := octree.NewFromSource(src, maxLeafPoints, s.logger.Sublogger("octree"))
	if err != nil {
		return nil, err
	}
	return s.Segment(ctx, src, tree.Leaves(), sink)
}

func (s *Segmenter) segmentChunk(
	ctx context.Context,
	src pc.Source,
	indices []int,
	name string,
	seed int64,
	sink ObjectSink,
) (*ChunkResult, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::SegmentChunk")
	defer span.End()
	span.AddAttributes(trace.StringAttribute("chunk", name), trace.Int64Attribute("points", int64(len(indices))))

	start := s.clock.Now()
	logger := s.logger.Sublogger(name)
	stats := &Stats{}
	candidates := s.candidates(src, indices)

	var (
		ch       *Chunk
		clusters []*Cluster
	)
	if len(candidates) < s.cfg.MinClusterPoints {
		logger.CDebugw(ctx, "nothing to cluster", "reason", &EmptyInputError{Points: len(candidates), MinPoints: s.cfg.MinClusterPoints})
		stats.Candidates = len(candidates)
	} else {
		var err error
		ch, err = newChunk(name, src, candidates, &s.cfg, rand.New(rand.NewSource(seed)), logger, s.clock, stats)
		if err != nil {
			return nil, err
		}
		if clusters, err = s.run(ctx, ch); err != nil {
			return nil, err
		}
	}

	groups, err := s.materialize(src, indices, name, ch, clusters)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		handle, err := sink.CreateObject(groups[i].Indices, groups[i].Name)
		if err != nil {
			return nil, withdraw(sink, groups[:i], &SinkError{Name: groups[i].Name, Err: err})
		}
		groups[i].Handle = handle
	}

	stats.Elapsed = s.clock.Since(start)
	result := &ChunkResult{Name: name, Groups: groups, Stats: *stats}
	logger.Infow("segmented chunk",
		"points", len(indices),
		"candidates", len(candidates),
		"clusters", len(groups)-1,
		"unclustered", len(result.Unclustered().Indices),
		"merges", stats.Merges,
		"elapsed", stats.Elapsed,
	)
	return result, nil
}

// withdraw deletes the committed groups from sinks that support it, newest first, and returns cause
// together with any deletion failure.
func withdraw(sink ObjectSink, committed []Group, cause error) error {
	deleter, ok := sink.(ObjectDeleter)
	if !ok {
		return cause
	}
	for i := len(committed) - 1; i >= 0; i-- {
		if err := deleter.DeleteObject(committed[i].Handle); err != nil {
			cause = multierr.Append(cause, errors.Wrapf(err, "cannot withdraw object %q", committed[i].Name))
		}
	}
	return cause
}

// candidates returns the samples considered for clustering: all of them, or only the silhouette
// samples not on a shadow edge when silhouette_points_only is set.
func (s *Segmenter) candidates(src pc.Source, indices []int) []int {
	if !s.cfg.SilhouettePointsOnly {
		return indices
	}
	return lo.Filter(indices, func(i, _ int) bool {
		return src.IsOnSilhouetteBoundary(i) && !src.IsOnShadowBoundary(i)
	})
}

// run drives seeding and the refine, reseed, merge and prune rounds.
func (s *Segmenter) run(ctx context.Context, ch *Chunk) ([]*Cluster, error) {
	var seeder, reseeder Seeder = RansacSeeding{MaxIterations: s.cfg.MaxRansacIterations}, nil
	if s.cfg.InitializeHierarchically {
		seeder, reseeder = SingletonSeeding{}, seeder
	}

	var live []*Cluster
	if err := s.stage(ctx, ch, "seed", func(ctx context.Context) (err error) {
		live, err = seeder.Seed(ctx, ch, nil)
		return err
	}); err != nil {
		return nil, err
	}

	merger := NewAgglomerativeMerger()
	for round := 0; round < s.cfg.MaxRefinementIterations; round++ {
		ch.stats.Rounds++
		var (
			changed, reseeded bool
			pruned            int
			mergesBefore      = ch.stats.Merges
		)
		if err := s.stage(ctx, ch, "refine", func(ctx context.Context) (err error) {
			live, changed, err = Refine(ctx, ch, live)
			return err
		}); err != nil {
			return nil, err
		}
		if reseeder != nil {
			before := len(live)
			if err := s.stage(ctx, ch, "reseed", func(ctx context.Context) (err error) {
				live, err = reseeder.Seed(ctx, ch, live)
				return err
			}); err != nil {
				return nil, err
			}
			reseeded = len(live) > before
		}
		if err := s.stage(ctx, ch, "merge", func(ctx context.Context) (err error) {
			live, err = merger.Merge(ctx, ch, live)
			return err
		}); err != nil {
			return nil, err
		}
		if err := s.stage(ctx, ch, "prune", func(ctx context.Context) error {
			live, pruned = Prune(ch, live)
			return nil
		}); err != nil {
			return nil, err
		}
		ch.logger.CDebugw(ctx, "finished round", "round", round, "clusters", len(live), "pruned", pruned)
		if !changed && !reseeded && pruned == 0 && ch.stats.Merges == mergesBefore {
			break
		}
	}

	if err := s.stage(ctx, ch, "prune", func(ctx context.Context) error {
		live, _ = Prune(ch, live)
		return nil
	}); err != nil {
		return nil, err
	}
	sortByAffinity(live)
	return live, nil
}

// stage runs f in its own span after checking for cancellation and adds its duration to the stats.
func (s *Segmenter) stage(ctx context.Context, ch *Chunk, name string, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := trace.StartSpan(ctx, "segmentation::"+name)
	defer span.End()
	start := s.clock.Now()
	err := f(ctx)
	ch.stats.addDuration(name, s.clock.Since(start))
	return err
}

// materialize turns the surviving clusters into groups and puts every other sample of the chunk in the
// unclustered group.
func (s *Segmenter) materialize(src pc.Source, indices []int, name string, ch *Chunk, clusters []*Cluster) ([]Group, error) {
	seen := bitset.New(uint(src.NPoints()))
	groups := make([]Group, 0, len(clusters)+1)
	for rank, c := range clusters {
		members := lo.Map(c.members, func(p, _ int) int {
			return ch.points[p].Source
		})
		sort.Ints(members)
		for _, idx := range members {
			if seen.Test(uint(idx)) {
				return nil, errors.Errorf("sample %d assigned to more than one cluster", idx)
			}
			seen.Set(uint(idx))
		}
		groups = append(groups, Group{
			Name:          fmt.Sprintf("%s/cluster-%d", name, rank+1),
			Indices:       members,
			Kind:          c.shape.Kind(),
			Direction:     c.shape.Direction(),
			TotalAffinity: c.totalAffinity,
			Coverage:      c.Coverage(ch),
		})
	}

	unclustered := lo.Filter(indices, func(idx, _ int) bool {
		return !seen.Test(uint(idx))
	})
	sort.Ints(unclustered)
	groups = append(groups, Group{
		Name:     fmt.Sprintf("%s/%s", name, UnclusteredName),
		Indices:  unclustered,
		Kind:     ShapePoint,
		Coverage: 1,
	})
	return groups, nil
}

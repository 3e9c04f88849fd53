package segmentation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/surfelscan/surfelseg/utils"
)

// claimedAffinity is the membership affinity at which a point counts as strongly claimed and is not
// used as a RANSAC seed.
const claimedAffinity = 0.5

// ransacAttemptsPerCluster caps the seed attempts at this multiple of the cluster budget.
const ransacAttemptsPerCluster = 4

// A Seeder creates candidate clusters and returns them appended to live.
type Seeder interface {
	Seed(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, error)
}

// SingletonSeeding creates one cluster per unclaimed point, its shape fit to that point alone.
type SingletonSeeding struct{}

// Seed implements Seeder.
func (SingletonSeeding) Seed(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, error) {
	for p := range ch.points {
		if ch.points[p].Claimed() {
			continue
		}
		c, err := ch.NewSeedCluster(p)
		if err != nil {
			return live, err
		}
		live = append(live, c)
	}
	ch.logger.Debugf("created %d singleton clusters", len(live))
	return live, nil
}

// RansacSeeding grows clusters from seeds spread over the chunk at a fixed stride, skipping strongly
// claimed points. Each seed is grown with UpdatePoints and refit up to MaxIterations times; seeds whose
// fit or membership fails are discarded.
type RansacSeeding struct {
	MaxIterations int
}

// ransacStride spreads at most ransacAttemptsPerCluster attempts per expected cluster over n points.
func ransacStride(n int, pp *params) int {
	budget := pp.maxClusters
	if budget <= 0 {
		budget = utils.MaxInt(pp.minClusters, n/pp.minClusterPoints)
	}
	budget = utils.MaxInt(budget, 1)
	return utils.MaxInt(1, utils.CeilDiv(n, ransacAttemptsPerCluster*budget))
}

// Seed implements Seeder.
func (r RansacSeeding) Seed(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, error) {
	n := len(ch.points)
	if n == 0 {
		return live, nil
	}
	stride := ransacStride(n, &ch.params)
	start := utils.SampleRandomIntRange(0, stride-1, ch.rng)
	created := 0
	for p := start; p < n; p += stride {
		if err := ctx.Err(); err != nil {
			return live, err
		}
		pt := &ch.points[p]
		if pt.Claimed() && pt.Affinity >= claimedAffinity {
			continue
		}
		ch.stats.SeedAttempts++
		c, err := ch.NewSeedCluster(p)
		if err != nil {
			return live, err
		}
		if err := r.grow(ch, c); err != nil {
			if !IsRecoverable(err) {
				return live, err
			}
			ch.logger.Debugw("discarding seed", "seed", p, "error", err)
			ch.releaseCluster(c)
			ch.stats.SeedsDiscarded++
			continue
		}
		ch.stats.SeedsClaimed++
		live = append(live, c)
		created++
	}
	ch.logger.Debugf("ransac seeding with stride %d kept %d clusters", stride, created)
	return live, nil
}

func (r RansacSeeding) grow(ch *Chunk, c *Cluster) error {
	if err := c.UpdatePoints(ch); err != nil {
		return err
	}
	for i := 0; i < r.MaxIterations; i++ {
		before := c.Len()
		if err := c.UpdateShape(ch); err != nil {
			return errors.Wrapf(err, "refitting seed %d", c.seed)
		}
		if err := c.UpdatePoints(ch); err != nil {
			return err
		}
		if c.Len() == before {
			break
		}
	}
	return nil
}

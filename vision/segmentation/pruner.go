package segmentation

import (
	"github.com/samber/lo"
)

// Prune frees clusters with fewer than min_cluster_points members or a coverage below
// min_cluster_coverage, then keeps only the max_clusters strongest of the rest when that limit is set.
// It returns the survivors ranked by total affinity and the number of clusters freed.
func Prune(ch *Chunk, live []*Cluster) ([]*Cluster, int) {
	pp := &ch.params
	viable, rejected := lo.FilterReject(live, func(c *Cluster, _ int) bool {
		return c.Len() >= pp.minClusterPoints && c.Coverage(ch) >= pp.minClusterCoverage
	})
	sortByAffinity(viable)
	if pp.maxClusters > 0 && len(viable) > pp.maxClusters {
		rejected = append(rejected, viable[pp.maxClusters:]...)
		viable = viable[:pp.maxClusters]
	}
	for _, c := range rejected {
		ch.releaseCluster(c)
	}
	ch.stats.Pruned += len(rejected)
	return viable, len(rejected)
}

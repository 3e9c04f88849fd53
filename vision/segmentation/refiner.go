package segmentation

import (
	"context"
	"sort"
)

// sortByAffinity orders clusters by descending total affinity, ties by arena slot.
func sortByAffinity(clusters []*Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].totalAffinity != clusters[j].totalAffinity {
			return clusters[i].totalAffinity > clusters[j].totalAffinity
		}
		return clusters[i].id.index < clusters[j].id.index
	})
}

// Refine refits every cluster, strongest first, and then updates its membership. Clusters whose fit or
// membership fails are freed. It reports whether any cluster changed size or was dropped.
func Refine(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, bool, error) {
	sortByAffinity(live)
	changed := false
	kept := live[:0]
	for _, c := range live {
		if err := ctx.Err(); err != nil {
			return append(kept, c), changed, err
		}
		before := c.Len()
		err := c.UpdateShape(ch)
		if err == nil {
			err = c.UpdatePoints(ch)
		}
		if err != nil {
			if !IsRecoverable(err) {
				return append(kept, c), changed, err
			}
			ch.logger.Warnw("dropping cluster", "cluster", c.id.String(), "members", before, "error", err)
			ch.releaseCluster(c)
			ch.stats.RefineDropped++
			changed = true
			continue
		}
		if c.Len() != before {
			changed = true
		}
		kept = append(kept, c)
	}
	return kept, changed, nil
}

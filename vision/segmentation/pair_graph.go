package segmentation

// BuildPairGraph queues a pair between every active cluster and each other active cluster holding a
// neighbor of its seed point, unless the two are already paired or their affinity is below
// min_pair_affinity. It returns the number of pairs created.
func BuildPairGraph(ch *Chunk, live []*Cluster, queue *PairQueue, pairs *PairSet) int {
	created := 0
	for _, c := range live {
		if !c.IsActive() {
			continue
		}
		for _, nb := range ch.neighbors.Neighbors(c.seed) {
			otherID := ch.points[nb].Cluster
			if otherID.IsNil() || otherID == c.id || pairs.Contains(c.id, otherID) {
				continue
			}
			other := ch.clusters.get(otherID)
			if other == nil || !other.IsActive() {
				continue
			}
			affinity := c.Affinity(ch, other)
			if affinity < ch.params.minPairAffinity || affinity <= 0 {
				continue
			}
			p := NewPair(c.id, otherID, affinity)
			pairs.Add(p)
			queue.Push(p)
			created++
		}
	}
	ch.stats.PairsCreated += created
	return created
}

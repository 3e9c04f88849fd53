package segmentation

import (
	"context"
	"math"
)

// AgglomerativeMerger folds the most compatible pairs of active clusters into new parent clusters. A
// pass keeps folding while the best queued pair reaches min_pair_affinity and min_pair_affinity_ratio
// times the best affinity folded so far.
type AgglomerativeMerger struct {
	queue *PairQueue
	pairs *PairSet
}

// NewAgglomerativeMerger returns a merger with an empty queue.
func NewAgglomerativeMerger() *AgglomerativeMerger {
	return &AgglomerativeMerger{queue: NewPairQueue(), pairs: NewPairSet()}
}

// Merge runs one merge pass over live and returns the active clusters afterwards. Clusters merged
// during the pass are freed before it returns.
func (m *AgglomerativeMerger) Merge(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, error) {
	defer m.reset()
	BuildPairGraph(ch, live, m.queue, m.pairs)
	live, err := m.fold(ctx, ch, live)
	reclaimMerged(ch)
	roots := live[:0]
	for _, c := range live {
		if c.IsActive() && ch.clusters.get(c.id) == c {
			roots = append(roots, c)
		}
	}
	return roots, err
}

func (m *AgglomerativeMerger) reset() {
	m.queue.Clear()
	m.pairs.Clear()
}

// fold drains the queue. Popped pairs with a merged endpoint are re-queued between the endpoints'
// roots when those are distinct, unpaired and still compatible.
func (m *AgglomerativeMerger) fold(ctx context.Context, ch *Chunk, live []*Cluster) ([]*Cluster, error) {
	pp := &ch.params
	best := 0.
	for !m.queue.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return live, err
		}
		top := m.queue.Peek()
		best = math.Max(best, top.affinity)
		if top.affinity < math.Max(pp.minPairAffinity, pp.minPairAffinityRatio*best) {
			break
		}
		pair := m.queue.Pop()
		m.pairs.Remove(pair)

		a, b := ch.clusters.get(pair.a), ch.clusters.get(pair.b)
		if a == nil || b == nil {
			continue
		}
		if a.IsActive() && b.IsActive() {
			ch.stats.recordFold(pair.affinity)
			merged, err := ch.MergeClusters(a, b)
			if err != nil {
				return live, err
			}
			live = append(live, merged)
			continue
		}

		ra, rb := ch.clusters.root(pair.a), ch.clusters.root(pair.b)
		if ra == rb || m.pairs.Contains(ra, rb) {
			continue
		}
		rootA, rootB := ch.clusters.get(ra), ch.clusters.get(rb)
		affinity := rootA.Affinity(ch, rootB)
		if affinity < pp.minPairAffinity || affinity <= 0 {
			continue
		}
		fresh := NewPair(ra, rb, affinity)
		m.pairs.Add(fresh)
		m.queue.Push(fresh)
		ch.stats.PairsRepushed++
	}
	return live, nil
}

// reclaimMerged frees every cluster that has a parent. Their members already moved to the parent.
func reclaimMerged(ch *Chunk) {
	ch.clusters.each(func(c *Cluster) {
		if !c.IsActive() {
			ch.clusters.release(c.id)
		}
	})
}

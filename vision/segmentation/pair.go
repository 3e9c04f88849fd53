package segmentation

import (
	"container/heap"
)

// Pair is an undirected candidate merge between two clusters. It does not own either cluster; once an
// endpoint is merged the pair is stale and only its endpoints' roots matter.
type Pair struct {
	a, b     ClusterID
	affinity float64
	seq      uint64
	// handle is the position of the pair in its queue, -1 once popped.
	handle int
}

// NewPair returns an unqueued pair.
func NewPair(a, b ClusterID, affinity float64) *Pair {
	return &Pair{a: a, b: b, affinity: affinity, handle: -1}
}

// Clusters returns the endpoints of the pair.
func (p *Pair) Clusters() (ClusterID, ClusterID) {
	return p.a, p.b
}

// Affinity returns the affinity of the endpoints when the pair was made.
func (p *Pair) Affinity() float64 {
	return p.affinity
}

// Queued reports whether the pair is still in a queue.
func (p *Pair) Queued() bool {
	return p.handle >= 0
}

type pairKey struct {
	lo, hi ClusterID
}

func idLess(a, b ClusterID) bool {
	if a.index != b.index {
		return a.index < b.index
	}
	return a.gen < b.gen
}

func makePairKey(a, b ClusterID) pairKey {
	if idLess(b, a) {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// PairSet indexes pairs by their unordered endpoints.
type PairSet struct {
	pairs map[pairKey]*Pair
}

// NewPairSet returns an empty set.
func NewPairSet() *PairSet {
	return &PairSet{pairs: map[pairKey]*Pair{}}
}

// Add registers p unless a pair already connects its endpoints, and reports whether it did.
func (s *PairSet) Add(p *Pair) bool {
	key := makePairKey(p.a, p.b)
	if _, ok := s.pairs[key]; ok {
		return false
	}
	s.pairs[key] = p
	return true
}

// Find returns the pair connecting a and b, if any.
func (s *PairSet) Find(a, b ClusterID) *Pair {
	return s.pairs[makePairKey(a, b)]
}

// Contains reports whether a pair connects a and b.
func (s *PairSet) Contains(a, b ClusterID) bool {
	return s.Find(a, b) != nil
}

// Remove unregisters p if it is the pair registered for its endpoints.
func (s *PairSet) Remove(p *Pair) {
	key := makePairKey(p.a, p.b)
	if s.pairs[key] == p {
		delete(s.pairs, key)
	}
}

// Len returns the number of registered pairs.
func (s *PairSet) Len() int {
	return len(s.pairs)
}

// Clear unregisters every pair.
func (s *PairSet) Clear() {
	s.pairs = map[pairKey]*Pair{}
}

// PairQueue is a max-heap of pairs by affinity. Equal affinities pop in insertion order.
type PairQueue struct {
	heap pairHeap
	seq  uint64
}

// NewPairQueue returns an empty queue.
func NewPairQueue() *PairQueue {
	return &PairQueue{}
}

// Push queues p.
func (q *PairQueue) Push(p *Pair) {
	q.seq++
	p.seq = q.seq
	heap.Push(&q.heap, p)
}

// Pop removes and returns the pair with the highest affinity, or nil if the queue is empty.
func (q *PairQueue) Pop() *Pair {
	if len(q.heap) == 0 {
		return nil
	}
	p, _ := heap.Pop(&q.heap).(*Pair)
	return p
}

// Peek returns the pair Pop would return without removing it.
func (q *PairQueue) Peek() *Pair {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Len returns the number of queued pairs.
func (q *PairQueue) Len() int {
	return len(q.heap)
}

// IsEmpty reports whether no pair is queued.
func (q *PairQueue) IsEmpty() bool {
	return len(q.heap) == 0
}

// Clear drops every queued pair.
func (q *PairQueue) Clear() {
	for _, p := range q.heap {
		p.handle = -1
	}
	q.heap = q.heap[:0]
}

type pairHeap []*Pair

func (h pairHeap) Len() int {
	return len(h)
}

func (h pairHeap) Less(i, j int) bool {
	if h[i].affinity != h[j].affinity {
		return h[i].affinity > h[j].affinity
	}
	return h[i].seq < h[j].seq
}

func (h pairHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].handle = i
	h[j].handle = j
}

func (h *pairHeap) Push(x interface{}) {
	p, _ := x.(*Pair)
	p.handle = len(*h)
	*h = append(*h, p)
}

func (h *pairHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.handle = -1
	*h = old[:n-1]
	return p
}

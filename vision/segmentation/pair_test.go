package segmentation

import (
	"testing"

	"go.viam.com/test"
)

func testIDs(n int) []ClusterID {
	ids := make([]ClusterID, n)
	for i := range ids {
		ids[i] = ClusterID{index: int32(i), gen: 1}
	}
	return ids
}

func TestPairQueue(t *testing.T) {
	ids := testIDs(6)
	q := NewPairQueue()
	test.That(t, q.IsEmpty(), test.ShouldBeTrue)
	test.That(t, q.Pop(), test.ShouldBeNil)
	test.That(t, q.Peek(), test.ShouldBeNil)

	low := NewPair(ids[0], ids[1], 0.6)
	tieFirst := NewPair(ids[1], ids[2], 0.8)
	high := NewPair(ids[2], ids[3], 0.9)
	tieSecond := NewPair(ids[3], ids[4], 0.8)
	tieThird := NewPair(ids[4], ids[5], 0.8)
	for _, p := range []*Pair{low, tieFirst, high, tieSecond, tieThird} {
		test.That(t, p.Queued(), test.ShouldBeFalse)
		q.Push(p)
		test.That(t, p.Queued(), test.ShouldBeTrue)
	}
	test.That(t, q.Len(), test.ShouldEqual, 5)
	test.That(t, q.Peek(), test.ShouldEqual, high)

	var order []*Pair
	for !q.IsEmpty() {
		p := q.Pop()
		test.That(t, p.Queued(), test.ShouldBeFalse)
		order = append(order, p)
	}
	test.That(t, order, test.ShouldResemble, []*Pair{high, tieFirst, tieSecond, tieThird, low})
}

func TestPairQueueHandles(t *testing.T) {
	ids := testIDs(20)
	q := NewPairQueue()
	pairs := make([]*Pair, 0, 19)
	for i := 0; i < 19; i++ {
		p := NewPair(ids[i], ids[i+1], float64((i*7)%19)/19)
		pairs = append(pairs, p)
		q.Push(p)
	}
	for i, p := range q.heap {
		test.That(t, p.handle, test.ShouldEqual, i)
	}

	last := 2.
	for i := 0; i < 10; i++ {
		p := q.Pop()
		test.That(t, p.Affinity(), test.ShouldBeLessThanOrEqualTo, last)
		last = p.Affinity()
	}
	for i, p := range q.heap {
		test.That(t, p.handle, test.ShouldEqual, i)
	}

	q.Clear()
	test.That(t, q.Len(), test.ShouldEqual, 0)
	for _, p := range pairs {
		test.That(t, p.Queued(), test.ShouldBeFalse)
	}
}

func TestPairSet(t *testing.T) {
	ids := testIDs(3)
	s := NewPairSet()

	ab := NewPair(ids[0], ids[1], 0.7)
	test.That(t, s.Add(ab), test.ShouldBeTrue)
	test.That(t, s.Add(NewPair(ids[1], ids[0], 0.9)), test.ShouldBeFalse)
	test.That(t, s.Len(), test.ShouldEqual, 1)
	test.That(t, s.Find(ids[1], ids[0]), test.ShouldEqual, ab)
	test.That(t, s.Contains(ids[0], ids[1]), test.ShouldBeTrue)
	test.That(t, s.Contains(ids[0], ids[2]), test.ShouldBeFalse)

	// same slot, newer generation
	stale := ClusterID{index: 1, gen: 2}
	test.That(t, s.Contains(ids[0], stale), test.ShouldBeFalse)

	// only the registered pair is removed
	s.Remove(NewPair(ids[0], ids[1], 0.7))
	test.That(t, s.Len(), test.ShouldEqual, 1)
	s.Remove(ab)
	test.That(t, s.Len(), test.ShouldEqual, 0)

	test.That(t, s.Add(NewPair(ids[0], ids[2], 0.5)), test.ShouldBeTrue)
	test.That(t, s.Add(NewPair(ids[1], ids[2], 0.5)), test.ShouldBeTrue)
	s.Clear()
	test.That(t, s.Len(), test.ShouldEqual, 0)
	test.That(t, s.Add(ab), test.ShouldBeTrue)
}

package octree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
)

func checkPartition(t *testing.T, leaves [][]int, n int) {
	t.Helper()
	var all []int
	for _, leaf := range leaves {
		test.That(t, leaf, test.ShouldNotBeEmpty)
		all = append(all, leaf...)
	}
	sort.Ints(all)
	test.That(t, all, test.ShouldHaveLength, n)
	for i, idx := range all {
		test.That(t, idx, test.ShouldEqual, i)
	}
}

func TestNewBasicOctree(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := New(r3.Vector{}, 0, 4, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid side length")

	_, err = New(r3.Vector{}, 1, 0, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid leaf capacity")

	octree, err := New(r3.Vector{}, 1, 4, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.Size(), test.ShouldEqual, 0)
	test.That(t, octree.Leaves(), test.ShouldBeEmpty)
}

func TestSet(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("outside bounds", func(t *testing.T) {
		octree, err := New(r3.Vector{}, 1, 4, logger)
		test.That(t, err, test.ShouldBeNil)
		err = octree.Set(0, r3.Vector{X: 0.6})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, octree.Size(), test.ShouldEqual, 0)
	})

	t.Run("bucket fills before splitting", func(t *testing.T) {
		octree, err := New(r3.Vector{}, 1, 2, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, octree.Set(0, r3.Vector{X: -0.25, Y: -0.25, Z: -0.25}), test.ShouldBeNil)
		test.That(t, octree.Set(1, r3.Vector{X: 0.25, Y: 0.25, Z: 0.25}), test.ShouldBeNil)
		test.That(t, octree.Leaves(), test.ShouldResemble, [][]int{{0, 1}})

		basic := octree.(*basicOctree)
		test.That(t, basic.node.nodeType, test.ShouldEqual, LeafNodeFilled)

		test.That(t, octree.Set(2, r3.Vector{X: 0.3, Y: -0.3, Z: -0.3}), test.ShouldBeNil)
		test.That(t, basic.node.nodeType, test.ShouldEqual, InternalNode)
		test.That(t, basic.node.children, test.ShouldHaveLength, 8)
		test.That(t, octree.Size(), test.ShouldEqual, 3)
		// octants 0 (-,-,-), 1 (+,-,-) and 7 (+,+,+)
		test.That(t, octree.Leaves(), test.ShouldResemble, [][]int{{0}, {2}, {1}})
	})

	t.Run("samples on the splitting planes", func(t *testing.T) {
		octree, err := New(r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}, 0.7, 1, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, octree.Set(0, r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}), test.ShouldBeNil)
		test.That(t, octree.Set(1, r3.Vector{X: 0.45, Y: 0.55, Z: 0.65}), test.ShouldBeNil)
		test.That(t, octree.Set(2, r3.Vector{X: -0.25, Y: -0.15, Z: -0.05}), test.ShouldBeNil)
		checkPartition(t, octree.Leaves(), 3)
		// just past a face is still outside
		test.That(t, octree.Set(3, r3.Vector{X: 0.4501, Y: 0.2, Z: 0.3}), test.ShouldNotBeNil)
		test.That(t, octree.Set(3, r3.Vector{X: 0.1, Y: -0.1501, Z: 0.3}), test.ShouldNotBeNil)
		test.That(t, octree.Size(), test.ShouldEqual, 3)
	})

	t.Run("coincident samples stop at the depth limit", func(t *testing.T) {
		octree, err := New(r3.Vector{}, 1, 1, logger)
		test.That(t, err, test.ShouldBeNil)
		for i := 0; i < 5; i++ {
			test.That(t, octree.Set(i, r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}), test.ShouldBeNil)
		}
		test.That(t, octree.Leaves(), test.ShouldResemble, [][]int{{0, 1, 2, 3, 4}})
	})
}

func TestNewFromSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := rand.New(rand.NewSource(7))
	src, err := pc.NewBasicSourceFromSurfels(
		pc.SamplePlane(r, r3.Vector{}, r3.Vector{X: 4}, r3.Vector{Y: 4}, 2000, 0.01),
		pc.SampleScatter(r, r3.Vector{X: 5, Y: 5, Z: 5}, r3.Vector{X: 6, Y: 6, Z: 6}, 100),
	)
	test.That(t, err, test.ShouldBeNil)

	octree, err := NewFromSource(src, 250, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.Size(), test.ShouldEqual, src.NPoints())

	leaves := octree.Leaves()
	test.That(t, len(leaves), test.ShouldBeGreaterThan, 1)
	for _, leaf := range leaves {
		test.That(t, len(leaf), test.ShouldBeLessThanOrEqualTo, 250)
	}
	checkPartition(t, leaves, src.NPoints())

	again, err := NewFromSource(src, 250, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Leaves(), test.ShouldResemble, leaves)

	empty, err := NewFromSource(pc.NewBasicSource(0), 10, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Leaves(), test.ShouldBeEmpty)
}

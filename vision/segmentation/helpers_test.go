package segmentation

import (
	"math/rand"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
)

func newTestChunk(t *testing.T, src pc.Source, cfg Config) *Chunk {
	t.Helper()
	ch, err := newChunk("test", src, pc.AllIndices(src), &cfg, rand.New(rand.NewSource(cfg.RandomSeed)),
		logging.NewTestLogger(t), clock.NewMock(), &Stats{})
	test.That(t, err, test.ShouldBeNil)
	return ch
}

func newTestSource(t *testing.T, groups ...[]pc.Surfel) *pc.BasicSource {
	t.Helper()
	src, err := pc.NewBasicSourceFromSurfels(groups...)
	test.That(t, err, test.ShouldBeNil)
	return src
}

// flatPlane samples n surfels on the z = 0 square [0, side]^2.
func flatPlane(seed int64, side float64, n int, noise float64) []pc.Surfel {
	r := rand.New(rand.NewSource(seed))
	return pc.SamplePlane(r, r3.Vector{}, r3.Vector{X: side}, r3.Vector{Y: side}, n, noise)
}

// wallPlane samples n surfels on the x = x0 square spanning y in [0, side] and z in [z0, z0+side].
func wallPlane(seed int64, x0, z0, side float64, n int, noise float64) []pc.Surfel {
	r := rand.New(rand.NewSource(seed))
	return pc.SamplePlane(r, r3.Vector{X: x0, Z: z0}, r3.Vector{Y: side}, r3.Vector{Z: side}, n, noise)
}

// checkBacklinks verifies that every claimed point sits in an active cluster at its recorded slot.
func checkBacklinks(t *testing.T, ch *Chunk) {
	t.Helper()
	for p := range ch.points {
		pt := &ch.points[p]
		if !pt.Claimed() {
			continue
		}
		c := ch.Cluster(pt.Cluster)
		test.That(t, c, test.ShouldNotBeNil)
		test.That(t, c.IsActive(), test.ShouldBeTrue)
		test.That(t, c.Members()[pt.Slot], test.ShouldEqual, p)
	}
}

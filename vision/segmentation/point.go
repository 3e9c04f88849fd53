package segmentation

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// ClusterID addresses a cluster record in a chunk's arena. The generation makes an ID go stale once
// its record is reclaimed. The zero value refers to no cluster.
type ClusterID struct {
	index int32
	gen   uint32
}

// IsNil reports whether id refers to no cluster.
func (id ClusterID) IsNil() bool {
	return id.gen == 0
}

// Index returns the arena slot of id.
func (id ClusterID) Index() int {
	return int(id.index)
}

func (id ClusterID) String() string {
	if id.IsNil() {
		return "none"
	}
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

// Point is one candidate sample of a chunk together with its clustering bookkeeping. The chunk owns
// every Point; clusters refer to them by position in the chunk.
type Point struct {
	// Source is the index of the sample in the point source.
	Source   int
	Position r3.Vector
	Normal   r3.Vector

	// Cluster is the active cluster holding the point, Affinity its membership affinity there and
	// Slot its position in that cluster's member list.
	Cluster  ClusterID
	Affinity float64
	Slot     int

	mark uint32
}

// Claimed reports whether the point belongs to a cluster.
func (p *Point) Claimed() bool {
	return !p.Cluster.IsNil()
}

func (p *Point) release() {
	p.Cluster = ClusterID{}
	p.Affinity = 0
	p.Slot = -1
}

package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/surfelscan/surfelseg/utils"
)

// BasicSource is an in-memory Source backed by a slice of surfels.
type BasicSource struct {
	surfels []Surfel
	bounds  Bounds
}

// NewBasicSource returns an empty, preallocated BasicSource.
func NewBasicSource(prealloc int) *BasicSource {
	return &BasicSource{
		surfels: make([]Surfel, 0, prealloc),
		bounds:  NewBounds(),
	}
}

// NewBasicSourceFromSurfels appends every group of surfels to a new BasicSource.
func NewBasicSourceFromSurfels(groups ...[]Surfel) (*BasicSource, error) {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	src := NewBasicSource(total)
	for _, g := range groups {
		for _, s := range g {
			if err := src.Append(s); err != nil {
				return nil, err
			}
		}
	}
	return src, nil
}

// Append validates that the surfel has finite coordinates, normalizes its normal and
// stores it.
func (src *BasicSource) Append(s Surfel) error {
	p, n := s.Position, s.Normal
	if !utils.IsFinite(p.X, p.Y, p.Z) {
		return errors.Errorf("surfel %d has a non-finite position (%v, %v, %v)", len(src.surfels), p.X, p.Y, p.Z)
	}
	if !utils.IsFinite(n.X, n.Y, n.Z) {
		return errors.Errorf("surfel %d has a non-finite normal (%v, %v, %v)", len(src.surfels), n.X, n.Y, n.Z)
	}
	if n.Norm2() > 0 {
		s.Normal = n.Normalize()
	}
	src.surfels = append(src.surfels, s)
	src.bounds.Merge(p)
	return nil
}

// NPoints returns the number of surfels.
func (src *BasicSource) NPoints() int {
	return len(src.surfels)
}

// Position returns the position of surfel i.
func (src *BasicSource) Position(i int) r3.Vector {
	return src.surfels[i].Position
}

// Normal returns the unit normal of surfel i.
func (src *BasicSource) Normal(i int) r3.Vector {
	return src.surfels[i].Normal
}

// IsOnSilhouetteBoundary reports whether surfel i is on a silhouette edge.
func (src *BasicSource) IsOnSilhouetteBoundary(i int) bool {
	return src.surfels[i].Silhouette
}

// IsOnShadowBoundary reports whether surfel i is on a shadow edge.
func (src *BasicSource) IsOnShadowBoundary(i int) bool {
	return src.surfels[i].Shadow
}

// Surfel returns a copy of surfel i.
func (src *BasicSource) Surfel(i int) Surfel {
	return src.surfels[i]
}

// Bounds returns the bounding box of every stored position.
func (src *BasicSource) Bounds() Bounds {
	return src.bounds
}

package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Bounds is an axis aligned bounding box. The zero value is the degenerate box at the
// origin; use NewBounds for an empty box that grows with Merge.
type Bounds struct {
	Min, Max r3.Vector
}

// NewBounds returns an empty box.
func NewBounds() Bounds {
	return Bounds{
		Min: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// Empty reports whether no point was ever merged into the box.
func (b Bounds) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Merge grows the box to contain p.
func (b *Bounds) Merge(p r3.Vector) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	out := b
	out.Merge(o.Min)
	out.Merge(o.Max)
	return out
}

// Contains reports whether p lies inside the box, borders included.
func (b Bounds) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Extent returns the side lengths of the box.
func (b Bounds) Extent() r3.Vector {
	if b.Empty() {
		return r3.Vector{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the center of the box.
func (b Bounds) Center() r3.Vector {
	if b.Empty() {
		return r3.Vector{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Gap returns the euclidean distance between the closest points of two boxes, 0 if they
// touch or overlap and +Inf if either is empty.
func (b Bounds) Gap(o Bounds) float64 {
	if b.Empty() || o.Empty() {
		return math.Inf(1)
	}
	axis := func(lo1, hi1, lo2, hi2 float64) float64 {
		switch {
		case hi1 < lo2:
			return lo2 - hi1
		case hi2 < lo1:
			return lo1 - hi2
		}
		return 0
	}
	d := r3.Vector{
		X: axis(b.Min.X, b.Max.X, o.Min.X, o.Max.X),
		Y: axis(b.Min.Y, b.Max.Y, o.Min.Y, o.Max.Y),
		Z: axis(b.Min.Z, b.Max.Z, o.Min.Z, o.Max.Z),
	}
	return d.Norm()
}

package pointcloud

import (
	"math/rand"

	"github.com/golang/geo/r3"
)

// SamplePlane draws n surfels uniformly over the parallelogram origin + s*u + t*v,
// s, t in [0, 1). Each sample is offset along the plane normal by a uniform amount in
// [-noise, noise].
func SamplePlane(r *rand.Rand, origin, u, v r3.Vector, n int, noise float64) []Surfel {
	normal := u.Cross(v).Normalize()
	out := make([]Surfel, n)
	for i := range out {
		p := origin.Add(u.Mul(r.Float64())).Add(v.Mul(r.Float64()))
		if noise > 0 {
			p = p.Add(normal.Mul(noise * (2*r.Float64() - 1)))
		}
		out[i] = Surfel{Position: p, Normal: normal}
	}
	return out
}

// SampleLine draws n surfels uniformly along the segment [from, to], displaced
// perpendicular to it by up to noise. Samples carry the given normal and are marked as
// silhouette samples.
func SampleLine(r *rand.Rand, from, to, normal r3.Vector, n int, noise float64) []Surfel {
	dir := to.Sub(from)
	side := dir.Cross(normal)
	if side.Norm2() == 0 {
		side = dir.Ortho()
	}
	side = side.Normalize()
	out := make([]Surfel, n)
	for i := range out {
		p := from.Add(dir.Mul(r.Float64()))
		if noise > 0 {
			p = p.Add(side.Mul(noise * (2*r.Float64() - 1)))
		}
		out[i] = Surfel{Position: p, Normal: normal, Silhouette: true}
	}
	return out
}

// SampleScatter draws n surfels uniformly inside the box [min, max] with random normals.
func SampleScatter(r *rand.Rand, min, max r3.Vector, n int) []Surfel {
	ext := max.Sub(min)
	out := make([]Surfel, n)
	for i := range out {
		p := r3.Vector{
			X: min.X + ext.X*r.Float64(),
			Y: min.Y + ext.Y*r.Float64(),
			Z: min.Z + ext.Z*r.Float64(),
		}
		normal := r3.Vector{X: r.NormFloat64(), Y: r.NormFloat64(), Z: r.NormFloat64()}
		if normal.Norm2() > 0 {
			normal = normal.Normalize()
		}
		out[i] = Surfel{Position: p, Normal: normal}
	}
	return out
}

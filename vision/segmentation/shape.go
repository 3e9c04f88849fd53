package segmentation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	pc "github.com/surfelscan/surfelseg/pointcloud"
	"github.com/surfelscan/surfelseg/utils"
)

// ShapeKind is the variant of a Shape.
type ShapeKind uint8

// The shape variants. A line or plane that cannot be determined from its samples behaves as a point.
const (
	ShapePoint ShapeKind = iota
	ShapeLine
	ShapePlane
)

func (k ShapeKind) String() string {
	switch k {
	case ShapePoint:
		return "point"
	case ShapeLine:
		return "line"
	case ShapePlane:
		return "plane"
	}
	return "unknown"
}

const (
	// below this many samples a plane takes its normal from the samples' normals rather than from
	// the covariance, which is too noisy to orient a handful of points.
	minPCAPlaneWeight = 10
	// averaged sample normals shorter than this disagree too much to orient a plane.
	minNormalAgreement = 0.5
	// relative size of the second principal variance below which samples are taken as collinear.
	collinearRatio = 1e-9
)

// Shape is a point, line or plane fit to a weighted set of samples. It keeps the sufficient
// statistics of its samples (weight, mean, covariance and mean sample normal) so that two shapes
// combine exactly as if fit from the union of their samples.
type Shape struct {
	kind   ShapeKind
	bounds pc.Bounds
	weight float64
	mean   r3.Vector
	cov    [3][3]float64
	normal r3.Vector

	axes      [3]r3.Vector
	variances [3]float64
	direction r3.Vector
}

// NewShape returns an unfit shape of the given kind with an empty bounding box.
func NewShape(kind ShapeKind) Shape {
	return Shape{kind: kind, bounds: pc.NewBounds()}
}

// RequestedKind returns the kind the shape was created with.
func (s *Shape) RequestedKind() ShapeKind {
	return s.kind
}

// Kind returns the variant the shape currently behaves as.
func (s *Shape) Kind() ShapeKind {
	if s.kind == ShapePoint || s.direction == (r3.Vector{}) {
		return ShapePoint
	}
	return s.kind
}

// Centroid returns the weighted mean of the fitted samples.
func (s *Shape) Centroid() r3.Vector {
	return s.mean
}

// Direction returns the unit plane normal or line direction, or the zero vector for points.
func (s *Shape) Direction() r3.Vector {
	return s.direction
}

// Bounds returns the bounding box of the fitted samples.
func (s *Shape) Bounds() pc.Bounds {
	return s.bounds
}

// Weight returns the number of fitted samples, or the combined weight.
func (s *Shape) Weight() float64 {
	return s.weight
}

// FitFromPoint makes s a degenerate fit around one sample. A plane takes the sample's normal.
func (s *Shape) FitFromPoint(position, normal r3.Vector) {
	*s = NewShape(s.kind)
	s.weight = 1
	s.mean = position
	s.bounds.Merge(position)
	if normal.Norm2() > 0 {
		s.normal = normal.Normalize()
	}
	s.derive()
}

// FitFrom fits s to the given samples. normals may be nil. A single sample gives the same result as
// FitFromPoint.
func (s *Shape) FitFrom(positions, normals []r3.Vector) error {
	n := len(positions)
	normalAt := func(i int) r3.Vector {
		if normals == nil {
			return r3.Vector{}
		}
		return normals[i]
	}
	switch n {
	case 0:
		return &FitError{Points: 0, Reason: "no points"}
	case 1:
		s.FitFromPoint(positions[0], normalAt(0))
		return nil
	}

	out := NewShape(s.kind)
	out.weight = float64(n)
	for i, p := range positions {
		out.bounds.Merge(p)
		out.mean = out.mean.Add(p)
		nrm := normalAt(i)
		if nrm.Norm2() == 0 {
			continue
		}
		nrm = nrm.Normalize()
		if out.normal.Dot(nrm) < 0 {
			nrm = nrm.Mul(-1)
		}
		out.normal = out.normal.Add(nrm)
	}
	if out.bounds.Extent() == (r3.Vector{}) {
		return &FitError{Points: n, Reason: "all points coincide"}
	}
	out.mean = out.mean.Mul(1 / out.weight)
	out.normal = out.normal.Mul(1 / out.weight)
	for _, p := range positions {
		d := p.Sub(out.mean)
		out.cov[0][0] += d.X * d.X
		out.cov[0][1] += d.X * d.Y
		out.cov[0][2] += d.X * d.Z
		out.cov[1][1] += d.Y * d.Y
		out.cov[1][2] += d.Y * d.Z
		out.cov[2][2] += d.Z * d.Z
	}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			out.cov[i][j] /= out.weight
			out.cov[j][i] = out.cov[i][j]
		}
	}
	out.derive()
	*s = out
	return nil
}

// Combine returns the shape fit to the union of the samples of a and b, weighted by wa and wb.
func Combine(a Shape, wa float64, b Shape, wb float64) Shape {
	if wb <= 0 {
		return a
	}
	if wa <= 0 {
		return b
	}
	w := wa + wb
	out := NewShape(a.kind)
	out.weight = w
	out.bounds = a.bounds.Union(b.bounds)
	out.mean = a.mean.Mul(wa / w).Add(b.mean.Mul(wb / w))

	d := a.mean.Sub(b.mean)
	dv := [3]float64{d.X, d.Y, d.Z}
	spread := wa * wb / (w * w)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.cov[i][j] = (wa*a.cov[i][j]+wb*b.cov[i][j])/w + spread*dv[i]*dv[j]
		}
	}

	nb := b.normal
	if a.normal.Dot(nb) < 0 {
		nb = nb.Mul(-1)
	}
	out.normal = a.normal.Mul(wa / w).Add(nb.Mul(wb / w))
	out.derive()
	return out
}

// derive recomputes the principal axes and the line direction or plane normal.
func (s *Shape) derive() {
	s.axes = [3]r3.Vector{}
	s.variances = [3]float64{}
	s.direction = r3.Vector{}

	sym := mat.NewSymDense(3, []float64{
		s.cov[0][0], s.cov[0][1], s.cov[0][2],
		s.cov[0][1], s.cov[1][1], s.cov[1][2],
		s.cov[0][2], s.cov[1][2], s.cov[2][2],
	})
	var es mat.EigenSym
	decomposed := es.Factorize(sym, true)
	if decomposed {
		// ascending eigenvalues; store largest first.
		values := es.Values(nil)
		var vectors mat.Dense
		es.VectorsTo(&vectors)
		for i := 0; i < 3; i++ {
			col := 2 - i
			s.variances[i] = math.Max(values[col], 0)
			s.axes[i] = r3.Vector{X: vectors.At(0, col), Y: vectors.At(1, col), Z: vectors.At(2, col)}
		}
	}

	switch s.kind {
	case ShapeLine:
		if s.variances[0] > 0 {
			s.direction = s.axes[0]
		}
	case ShapePlane:
		planar := s.variances[0] > 0 && s.variances[1] > collinearRatio*s.variances[0]
		agreement := s.normal.Norm()
		switch {
		case agreement >= minNormalAgreement && (s.weight < minPCAPlaneWeight || !planar):
			s.direction = s.normal.Normalize()
		case planar:
			n := s.axes[2]
			if n.Dot(s.normal) < 0 {
				n = n.Mul(-1)
			}
			s.direction = n
		case agreement > 0:
			s.direction = s.normal.Normalize()
		}
	case ShapePoint:
	}
}

// Distance returns the orthogonal distance from x to the shape.
func (s *Shape) Distance(x r3.Vector) float64 {
	d := x.Sub(s.mean)
	switch s.Kind() {
	case ShapePlane:
		return math.Abs(s.direction.Dot(d))
	case ShapeLine:
		return d.Cross(s.direction).Norm()
	case ShapePoint:
	}
	return d.Norm()
}

// Spread returns the standard deviation of the fitted samples off the shape: along the normal of a
// plane, across a line. Points have no spread.
func (s *Shape) Spread() float64 {
	kind := s.Kind()
	if kind == ShapePoint {
		return 0
	}
	d := [3]float64{s.direction.X, s.direction.Y, s.direction.Z}
	along, trace := 0., 0.
	for i := 0; i < 3; i++ {
		trace += s.cov[i][i]
		for j := 0; j < 3; j++ {
			along += d[i] * s.cov[i][j] * d[j]
		}
	}
	if kind == ShapeLine {
		return math.Sqrt(math.Max(trace-along, 0))
	}
	return math.Sqrt(math.Max(along, 0))
}

// NormalAngle returns the angle in radians between a sample normal and the normal the shape expects
// at that sample: the plane normal, or any direction perpendicular to a line. Points and unknown
// normals give 0.
func (s *Shape) NormalAngle(normal r3.Vector) float64 {
	kind := s.Kind()
	if kind == ShapePoint || normal.Norm2() == 0 {
		return 0
	}
	c := utils.Clamp(math.Abs(normal.Normalize().Dot(s.direction)), 0, 1)
	if kind == ShapeLine {
		return math.Asin(c)
	}
	return math.Acos(c)
}

// AngleTo returns the unsigned angle in radians between the directions of two shapes, 0 if either is a
// point.
func (s *Shape) AngleTo(o *Shape) float64 {
	if s.Kind() == ShapePoint || o.Kind() == ShapePoint {
		return 0
	}
	return math.Acos(utils.Clamp(math.Abs(s.direction.Dot(o.direction)), 0, 1))
}

package geom

import "math"

// Point2D is a floating-point position in pixel coordinates.
type Point2D struct {
	X, Y float64
}

// Box2I is an integer pixel box with inclusive bounds.
type Box2I struct {
	MinX, MinY, MaxX, MaxY int
}

// NewBox2I creates a box from its origin and dimensions.
func NewBox2I(x0, y0, width, height int) Box2I {
	return Box2I{MinX: x0, MinY: y0, MaxX: x0 + width - 1, MaxY: y0 + height - 1}
}

func (b Box2I) IsEmpty() bool {
	return b.MaxX < b.MinX || b.MaxY < b.MinY
}

func (b Box2I) Width() int {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxX - b.MinX + 1
}

func (b Box2I) Height() int {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxY - b.MinY + 1
}

func (b Box2I) Area() int {
	return b.Width() * b.Height()
}

func (b Box2I) Contains(x, y int) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Intersect returns the overlap of two boxes, which may be empty.
func (b Box2I) Intersect(o Box2I) Box2I {
	return Box2I{
		MinX: max(b.MinX, o.MinX),
		MinY: max(b.MinY, o.MinY),
		MaxX: min(b.MaxX, o.MaxX),
		MaxY: min(b.MaxY, o.MaxY),
	}
}

// Quadrupole is an ellipse expressed as its second moments.
type Quadrupole struct {
	Ixx float64 `yaml:"ixx"`
	Iyy float64 `yaml:"iyy"`
	Ixy float64 `yaml:"ixy"`
}

// NewCircle returns the quadrupole of a circle with the given radius.
func NewCircle(radius float64) Quadrupole {
	return Quadrupole{Ixx: radius * radius, Iyy: radius * radius}
}

func (q Quadrupole) Determinant() float64 {
	return q.Ixx*q.Iyy - q.Ixy*q.Ixy
}

// DeterminantRadius is det(Q)^(1/4).
func (q Quadrupole) DeterminantRadius() float64 {
	return math.Pow(q.Determinant(), 0.25)
}

// TraceRadius is sqrt((Ixx+Iyy)/2).
func (q Quadrupole) TraceRadius() float64 {
	return math.Sqrt(0.5 * (q.Ixx + q.Iyy))
}

// Scale multiplies the ellipse radii by factor.
func (q Quadrupole) Scale(factor float64) Quadrupole {
	f2 := factor * factor
	return Quadrupole{Ixx: q.Ixx * f2, Iyy: q.Iyy * f2, Ixy: q.Ixy * f2}
}

// Convolve returns the moments of the convolution of two Gaussians.
func (q Quadrupole) Convolve(o Quadrupole) Quadrupole {
	return Quadrupole{Ixx: q.Ixx + o.Ixx, Iyy: q.Iyy + o.Iyy, Ixy: q.Ixy + o.Ixy}
}

func (q Quadrupole) IsFinite() bool {
	return !math.IsNaN(q.Ixx) && !math.IsNaN(q.Iyy) && !math.IsNaN(q.Ixy) &&
		!math.IsInf(q.Ixx, 0) && !math.IsInf(q.Iyy, 0) && !math.IsInf(q.Ixy, 0)
}

// IsValid reports whether q is a finite, positive-definite ellipse.
func (q Quadrupole) IsValid() bool {
	return q.IsFinite() && q.Ixx > 0 && q.Iyy > 0 && q.Determinant() > 0
}

// Ellipse is a quadrupole placed at a center.
type Ellipse struct {
	Core   Quadrupole
	Center Point2D
}

// Contains reports whether (x, y) lies within the ellipse boundary.
func (e Ellipse) Contains(x, y float64) bool {
	det := e.Core.Determinant()
	if det <= 0 {
		return false
	}
	dx := x - e.Center.X
	dy := y - e.Center.Y
	return (e.Core.Iyy*dx*dx-2*e.Core.Ixy*dx*dy+e.Core.Ixx*dy*dy)/det <= 1
}

// BBox returns the smallest integer box enclosing the ellipse.
func (e Ellipse) BBox() Box2I {
	hx := math.Sqrt(math.Max(e.Core.Ixx, 0))
	hy := math.Sqrt(math.Max(e.Core.Iyy, 0))
	return Box2I{
		MinX: int(math.Floor(e.Center.X - hx)),
		MinY: int(math.Floor(e.Center.Y - hy)),
		MaxX: int(math.Ceil(e.Center.X + hx)),
		MaxY: int(math.Ceil(e.Center.Y + hy)),
	}
}

package geom

import (
	"math"
	"sort"
)

// Span is a run of pixels [X0, X1] on row Y.
type Span struct {
	Y, X0, X1 int
}

// Region is an immutable set of pixels stored as sorted, non-overlapping spans.
// The zero value is the empty region.
type Region struct {
	spans []Span
}

// NewRegion builds a region from arbitrary, possibly overlapping spans.
func NewRegion(spans ...Span) Region {
	return Region{spans: normalize(spans)}
}

func NewRegionFromBox(b Box2I) Region {
	if b.IsEmpty() {
		return Region{}
	}
	spans := make([]Span, 0, b.Height())
	for y := b.MinY; y <= b.MaxY; y++ {
		spans = append(spans, Span{Y: y, X0: b.MinX, X1: b.MaxX})
	}
	return Region{spans: spans}
}

// NewRegionFromEllipse returns the pixels whose centers lie inside e.
func NewRegionFromEllipse(e Ellipse) Region {
	if !e.Core.IsValid() {
		return Region{}
	}
	return scanEllipse(e, e.BBox())
}

// NewRegionFromEllipseIn returns the pixels of e that lie inside bbox. Only
// the overlap of the two boxes is scanned, so the cost is bounded by bbox
// however large e is.
func NewRegionFromEllipseIn(e Ellipse, bbox Box2I) Region {
	if !e.Core.IsValid() || bbox.IsEmpty() || !isFinite(e.Center.X) || !isFinite(e.Center.Y) {
		return Region{}
	}
	hx := math.Sqrt(e.Core.Ixx)
	hy := math.Sqrt(e.Core.Iyy)
	scan := Box2I{
		MinX: clampBound(math.Floor(e.Center.X-hx), bbox.MinX, bbox.MaxX+1),
		MinY: clampBound(math.Floor(e.Center.Y-hy), bbox.MinY, bbox.MaxY+1),
		MaxX: clampBound(math.Ceil(e.Center.X+hx), bbox.MinX-1, bbox.MaxX),
		MaxY: clampBound(math.Ceil(e.Center.Y+hy), bbox.MinY-1, bbox.MaxY),
	}
	return scanEllipse(e, scan)
}

func scanEllipse(e Ellipse, bbox Box2I) Region {
	var spans []Span
	for y := bbox.MinY; y <= bbox.MaxY; y++ {
		x0, x1, inside := bbox.MaxX+1, bbox.MinX-1, false
		for x := bbox.MinX; x <= bbox.MaxX; x++ {
			if e.Contains(float64(x), float64(y)) {
				x0 = min(x0, x)
				x1 = max(x1, x)
				inside = true
			}
		}
		if inside {
			spans = append(spans, Span{Y: y, X0: x0, X1: x1})
		}
	}
	return Region{spans: spans}
}

// clampBound converts v to an int within [lo, hi] without overflowing.
func clampBound(v float64, lo, hi int) int {
	switch {
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int(v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func normalize(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.X1 >= s.X0 {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X0 < sorted[j].X0
	})
	out := make([]Span, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].Y == s.Y && s.X0 <= out[n-1].X1+1 {
			out[n-1].X1 = max(out[n-1].X1, s.X1)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Spans returns a copy of the region's spans.
func (r Region) Spans() []Span {
	out := make([]Span, len(r.spans))
	copy(out, r.spans)
	return out
}

func (r Region) IsEmpty() bool {
	return len(r.spans) == 0
}

func (r Region) Area() int {
	area := 0
	for _, s := range r.spans {
		area += s.X1 - s.X0 + 1
	}
	return area
}

// BBox returns the bounding box; it is empty for an empty region.
func (r Region) BBox() Box2I {
	if len(r.spans) == 0 {
		return Box2I{MinX: 0, MinY: 0, MaxX: -1, MaxY: -1}
	}
	b := Box2I{MinX: math.MaxInt, MinY: r.spans[0].Y, MaxX: math.MinInt, MaxY: r.spans[len(r.spans)-1].Y}
	for _, s := range r.spans {
		b.MinX = min(b.MinX, s.X0)
		b.MaxX = max(b.MaxX, s.X1)
	}
	return b
}

func (r Region) Contains(x, y int) bool {
	i := sort.Search(len(r.spans), func(i int) bool {
		s := r.spans[i]
		return s.Y > y || (s.Y == y && s.X1 >= x)
	})
	return i < len(r.spans) && r.spans[i].Y == y && r.spans[i].X0 <= x
}

// Each calls fn for every pixel in row-major order.
func (r Region) Each(fn func(x, y int)) {
	for _, s := range r.spans {
		for x := s.X0; x <= s.X1; x++ {
			fn(x, s.Y)
		}
	}
}

func (r Region) Union(o Region) Region {
	all := make([]Span, 0, len(r.spans)+len(o.spans))
	all = append(all, r.spans...)
	all = append(all, o.spans...)
	return Region{spans: normalize(all)}
}

// ClipTo removes every pixel outside b.
func (r Region) ClipTo(b Box2I) Region {
	out := make([]Span, 0, len(r.spans))
	for _, s := range r.spans {
		if s.Y < b.MinY || s.Y > b.MaxY {
			continue
		}
		x0, x1 := max(s.X0, b.MinX), min(s.X1, b.MaxX)
		if x0 <= x1 {
			out = append(out, Span{Y: s.Y, X0: x0, X1: x1})
		}
	}
	return Region{spans: out}
}

// Dilate grows the region isotropically by radius pixels.
func (r Region) Dilate(radius int) Region {
	if radius <= 0 || len(r.spans) == 0 {
		return r
	}
	grown := make([]Span, 0, len(r.spans)*(2*radius+1))
	for _, s := range r.spans {
		for dy := -radius; dy <= radius; dy++ {
			w := int(math.Floor(math.Sqrt(float64(radius*radius - dy*dy))))
			grown = append(grown, Span{Y: s.Y + dy, X0: s.X0 - w, X1: s.X1 + w})
		}
	}
	return Region{spans: normalize(grown)}
}

// Filter keeps the pixels for which keep returns true.
func (r Region) Filter(keep func(x, y int) bool) Region {
	var out []Span
	for _, s := range r.spans {
		start := -1
		for x := s.X0; x <= s.X1; x++ {
			if keep(x, s.Y) {
				if start < 0 {
					start = x
				}
				continue
			}
			if start >= 0 {
				out = append(out, Span{Y: s.Y, X0: start, X1: x - 1})
				start = -1
			}
		}
		if start >= 0 {
			out = append(out, Span{Y: s.Y, X0: start, X1: s.X1})
		}
	}
	return Region{spans: out}
}

// Equal reports whether both regions contain exactly the same pixels.
func (r Region) Equal(o Region) bool {
	if len(r.spans) != len(o.spans) {
		return false
	}
	for i := range r.spans {
		if r.spans[i] != o.spans[i] {
			return false
		}
	}
	return true
}

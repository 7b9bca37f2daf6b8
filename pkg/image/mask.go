package image

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/pkg/geom"
)

// MaskPixel holds the plane bits of a single pixel.
type MaskPixel uint32

var ErrUnknownMaskPlane = errors.New("unknown mask plane")

// DefaultMaskPlanes lists the planes every new Mask starts with, in bit order.
var DefaultMaskPlanes = []string{
	"BAD", "SAT", "INTRP", "CR", "EDGE", "DETECTED", "DETECTED_NEGATIVE", "SUSPECT", "NO_DATA",
}

// Mask is a per-pixel bit mask with named planes.
type Mask struct {
	bbox   geom.Box2I
	bits   []MaskPixel
	planes map[string]uint
}

func NewMask(bbox geom.Box2I) *Mask {
	m := &Mask{
		bbox:   bbox,
		bits:   make([]MaskPixel, bbox.Area()),
		planes: make(map[string]uint, len(DefaultMaskPlanes)),
	}
	for i, name := range DefaultMaskPlanes {
		m.planes[name] = uint(i)
	}
	return m
}

func (m *Mask) BBox() geom.Box2I {
	return m.bbox
}

// AddPlane registers a new plane and returns its bit; existing planes are returned unchanged.
func (m *Mask) AddPlane(name string) MaskPixel {
	if bit, ok := m.planes[name]; ok {
		return 1 << bit
	}
	bit := uint(len(m.planes))
	m.planes[name] = bit
	return 1 << bit
}

// Planes returns the plane names sorted by bit.
func (m *Mask) Planes() []string {
	names := make([]string, 0, len(m.planes))
	for name := range m.planes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return m.planes[names[i]] < m.planes[names[j]] })
	return names
}

// PlaneBitMask ORs the bits of the named planes.
func (m *Mask) PlaneBitMask(names ...string) (MaskPixel, error) {
	var bits MaskPixel
	for _, name := range names {
		bit, ok := m.planes[name]
		if !ok {
			return 0, errors.Wrapf(ErrUnknownMaskPlane, "plane %q", name)
		}
		bits |= 1 << bit
	}
	return bits, nil
}

func (m *Mask) index(x, y int) int {
	return (y-m.bbox.MinY)*m.bbox.Width() + (x - m.bbox.MinX)
}

// At returns the mask bits at (x, y); pixels outside the bbox read as zero.
func (m *Mask) At(x, y int) MaskPixel {
	if !m.bbox.Contains(x, y) {
		return 0
	}
	return m.bits[m.index(x, y)]
}

// Or sets bits at (x, y); pixels outside the bbox are ignored.
func (m *Mask) Or(x, y int, bits MaskPixel) {
	if !m.bbox.Contains(x, y) {
		return
	}
	m.bits[m.index(x, y)] |= bits
}

// OrRegion sets bits on every pixel of r.
func (m *Mask) OrRegion(r geom.Region, bits MaskPixel) {
	r.ClipTo(m.bbox).Each(func(x, y int) {
		m.bits[m.index(x, y)] |= bits
	})
}

package image

import (
	"math"

	"github.com/askiada/go-cmodel/pkg/geom"
)

// MaskedImage holds image, variance and mask planes over the same bbox.
type MaskedImage struct {
	bbox     geom.Box2I
	image    []float64
	variance []float64
	mask     *Mask
}

func NewMaskedImage(bbox geom.Box2I) *MaskedImage {
	return &MaskedImage{
		bbox:     bbox,
		image:    make([]float64, bbox.Area()),
		variance: make([]float64, bbox.Area()),
		mask:     NewMask(bbox),
	}
}

func (mi *MaskedImage) BBox() geom.Box2I {
	return mi.bbox
}

func (mi *MaskedImage) Mask() *Mask {
	return mi.mask
}

func (mi *MaskedImage) index(x, y int) int {
	return (y-mi.bbox.MinY)*mi.bbox.Width() + (x - mi.bbox.MinX)
}

// Image returns the pixel value at (x, y), or NaN outside the bbox.
func (mi *MaskedImage) Image(x, y int) float64 {
	if !mi.bbox.Contains(x, y) {
		return math.NaN()
	}
	return mi.image[mi.index(x, y)]
}

// Variance returns the variance at (x, y), or NaN outside the bbox.
func (mi *MaskedImage) Variance(x, y int) float64 {
	if !mi.bbox.Contains(x, y) {
		return math.NaN()
	}
	return mi.variance[mi.index(x, y)]
}

func (mi *MaskedImage) Set(x, y int, value, variance float64) {
	if !mi.bbox.Contains(x, y) {
		return
	}
	i := mi.index(x, y)
	mi.image[i] = value
	mi.variance[i] = variance
}

func (mi *MaskedImage) AddImage(x, y int, value float64) {
	if !mi.bbox.Contains(x, y) {
		return
	}
	mi.image[mi.index(x, y)] += value
}

// Sum adds the image values over r, ignoring pixels outside the bbox.
func (mi *MaskedImage) Sum(r geom.Region) float64 {
	var sum float64
	r.ClipTo(mi.bbox).Each(func(x, y int) {
		sum += mi.image[mi.index(x, y)]
	})
	return sum
}

// Exposure is a masked image together with the size of its PSF model realization.
type Exposure struct {
	*MaskedImage
	// PsfKernelRadius is the half-size of the PSF model image, in pixels.
	PsfKernelRadius int
}

func NewExposure(bbox geom.Box2I, psfKernelRadius int) *Exposure {
	return &Exposure{MaskedImage: NewMaskedImage(bbox), PsfKernelRadius: psfKernelRadius}
}

// PsfBBox is the bounding box of the PSF model realized at center.
func (e *Exposure) PsfBBox(center geom.Point2D) geom.Box2I {
	cx := int(math.Round(center.X))
	cy := int(math.Round(center.Y))
	r := e.PsfKernelRadius
	return geom.Box2I{MinX: cx - r, MinY: cy - r, MaxX: cx + r, MaxY: cy + r}
}

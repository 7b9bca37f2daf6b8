// Package synthetic renders YAML-described scenes of galaxies into exposures
// and detected sources, for exercising the measurement end to end.
package synthetic

import (
	"math"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-cmodel/pkg/fit/model"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/shapelet"
	"github.com/askiada/go-cmodel/pkg/table"
)

var ErrInvalidScene = errors.New("invalid scene")

// Psf is a double-Gaussian PSF.
type Psf struct {
	Sigma1       float64 `yaml:"sigma1"`
	Sigma2       float64 `yaml:"sigma2"`
	Ratio        float64 `yaml:"ratio"`
	KernelRadius int     `yaml:"kernel_radius"`
}

// Galaxy is a single source drawn from one radial profile.
type Galaxy struct {
	ID          int64   `yaml:"id"`
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
	Flux        float64 `yaml:"flux"`
	Profile     string  `yaml:"profile"`
	NComponents int     `yaml:"n_components"`
	// Ellipse is the half-light ellipse before PSF convolution.
	Ellipse         geom.Quadrupole `yaml:"ellipse"`
	FootprintRadius int             `yaml:"footprint_radius"`
	// NoShape marks the source as having a failed moments measurement.
	NoShape bool `yaml:"no_shape"`
}

// MaskBox sets a mask plane over a box of pixels.
type MaskBox struct {
	Plane  string `yaml:"plane"`
	X0     int    `yaml:"x0"`
	Y0     int    `yaml:"y0"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Scene describes an image: its size, noise, PSF, masks and galaxies.
type Scene struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	Variance float64 `yaml:"variance"`
	// NoiseSeed adds Gaussian noise of the given variance when non-zero.
	NoiseSeed uint64    `yaml:"noise_seed"`
	Psf       Psf       `yaml:"psf"`
	Masks     []MaskBox `yaml:"masks"`
	Galaxies  []Galaxy  `yaml:"galaxies"`
}

// Load reads a scene from a YAML file.
func Load(path string) (Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scene{}, errors.Wrapf(err, "unable to read scene %s", path)
	}
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scene{}, errors.Wrapf(err, "unable to parse scene %s", path)
	}
	if err := s.Validate(); err != nil {
		return Scene{}, err
	}
	return s, nil
}

func (s Scene) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0:
		return errors.Wrap(ErrInvalidScene, "width and height must be positive")
	case !(s.Variance > 0):
		return errors.Wrap(ErrInvalidScene, "variance must be positive")
	case !(s.Psf.Sigma1 > 0) || !(s.Psf.Sigma2 > 0) || s.Psf.Ratio < 0:
		return errors.Wrap(ErrInvalidScene, "psf sigmas must be positive")
	}
	ids := make(map[int64]struct{}, len(s.Galaxies))
	for _, g := range s.Galaxies {
		if _, ok := ids[g.ID]; ok {
			return errors.Wrapf(ErrInvalidScene, "duplicate galaxy id %d", g.ID)
		}
		ids[g.ID] = struct{}{}
		if _, err := shapelet.GetProfile(g.Profile); err != nil {
			return errors.Wrapf(err, "galaxy %d", g.ID)
		}
		if !g.Ellipse.IsValid() {
			return errors.Wrapf(ErrInvalidScene, "galaxy %d: ellipse is not positive-definite", g.ID)
		}
	}
	return nil
}

// PsfApprox returns the PSF as a MultiGaussian normalized to unit flux.
func (s Scene) PsfApprox() shapelet.MultiGaussian {
	return shapelet.NewDoubleGaussian(s.Psf.Sigma1, s.Psf.Sigma2, s.Psf.Ratio).Normalize()
}

// Render draws every galaxy into a new exposure.
func (s Scene) Render() (*image.Exposure, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	bbox := geom.NewBox2I(0, 0, s.Width, s.Height)
	exposure := image.NewExposure(bbox, s.Psf.KernelRadius)
	psf := s.PsfApprox()

	var noise *rand.Rand
	if s.NoiseSeed != 0 {
		noise = rand.New(rand.NewPCG(s.NoiseSeed, s.NoiseSeed))
	}
	sigma := math.Sqrt(s.Variance)
	for y := bbox.MinY; y <= bbox.MaxY; y++ {
		for x := bbox.MinX; x <= bbox.MaxX; x++ {
			var v float64
			if noise != nil {
				v = sigma * noise.NormFloat64()
			}
			exposure.Set(x, y, v, s.Variance)
		}
	}

	dx := make([]float64, bbox.Area())
	dy := make([]float64, bbox.Area())
	out := make([]float64, bbox.Area())
	for _, g := range s.Galaxies {
		basis, err := galaxyBasis(g)
		if err != nil {
			return nil, err
		}
		k := 0
		for y := bbox.MinY; y <= bbox.MaxY; y++ {
			for x := bbox.MinX; x <= bbox.MaxX; x++ {
				dx[k] = float64(x) - g.X
				dy[k] = float64(y) - g.Y
				k++
			}
		}
		model.Render(basis, psf, g.Ellipse, dx, dy, out)
		k = 0
		for y := bbox.MinY; y <= bbox.MaxY; y++ {
			for x := bbox.MinX; x <= bbox.MaxX; x++ {
				exposure.AddImage(x, y, g.Flux*out[k])
				k++
			}
		}
	}

	mask := exposure.Mask()
	for _, m := range s.Masks {
		bits, err := mask.PlaneBitMask(m.Plane)
		if err != nil {
			return nil, errors.Wrap(err, "unable to apply scene mask")
		}
		mask.OrRegion(geom.NewRegionFromBox(geom.NewBox2I(m.X0, m.Y0, m.Width, m.Height)), bits)
	}
	return exposure, nil
}

func galaxyBasis(g Galaxy) (shapelet.MultiGaussian, error) {
	profile, err := shapelet.GetProfile(g.Profile)
	if err != nil {
		return shapelet.MultiGaussian{}, errors.Wrapf(err, "galaxy %d", g.ID)
	}
	return profile.Basis(g.NComponents, 0), nil
}

// Sources returns one detected source per galaxy, with the moments the
// detection step would have measured. Records are created from schema when
// it is not nil.
func (s Scene) Sources(schema *table.Schema) ([]*table.SourceRecord, error) {
	psf := s.PsfApprox()
	bbox := geom.NewBox2I(0, 0, s.Width, s.Height)
	sources := make([]*table.SourceRecord, 0, len(s.Galaxies))
	for _, g := range s.Galaxies {
		basis, err := galaxyBasis(g)
		if err != nil {
			return nil, err
		}
		// basis components are circular, so Ixx carries the whole spread
		var spread float64
		for _, c := range basis.Components {
			spread += c.Amplitude * c.Ellipse.Ixx
		}
		shape := g.Ellipse.Scale(math.Sqrt(spread)).Convolve(psf.Moments())

		radius := g.FootprintRadius
		if radius <= 0 {
			radius = int(math.Ceil(2 * shape.TraceRadius()))
		}
		center := geom.Point2D{X: g.X, Y: g.Y}
		footprint := geom.NewRegionFromEllipse(geom.Ellipse{
			Core:   geom.NewCircle(float64(radius)),
			Center: geom.Point2D{X: math.Round(g.X), Y: math.Round(g.Y)},
		}).ClipTo(bbox)

		src := &table.SourceRecord{
			ID:        g.ID,
			Footprint: footprint,
			Centroid:  center,
			Shape:     shape,
			ShapeFlag: g.NoShape,
			PsfFlux:   g.Flux,
			PsfApprox: psf,
		}
		if schema != nil {
			src.Record = schema.NewRecord()
		}
		sources = append(sources, src)
	}
	return sources, nil
}

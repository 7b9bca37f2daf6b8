package shapelet

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/askiada/go-cmodel/pkg/geom"
)

var (
	ErrNoComponents     = errors.New("multi-gaussian has no components")
	ErrInvalidComponent = errors.New("invalid multi-gaussian component")
)

// Component is one elliptical Gaussian; Amplitude is its integrated flux.
type Component struct {
	Amplitude float64         `yaml:"amplitude"`
	Ellipse   geom.Quadrupole `yaml:"ellipse"`
}

// MultiGaussian is a sum of concentric elliptical Gaussians centered on the origin.
// It is the form in which PSF approximations are handed to the fitter.
type MultiGaussian struct {
	Components []Component `yaml:"components"`
}

// NewDoubleGaussian builds the usual two-component circular PSF approximation.
func NewDoubleGaussian(sigma1, sigma2, ratio float64) MultiGaussian {
	return MultiGaussian{Components: []Component{
		{Amplitude: 1, Ellipse: geom.NewCircle(sigma1)},
		{Amplitude: ratio, Ellipse: geom.NewCircle(sigma2)},
	}}
}

// Validate checks that every component is finite and positive-definite.
func (mg MultiGaussian) Validate() error {
	if len(mg.Components) == 0 {
		return ErrNoComponents
	}
	amplitudes := make([]float64, len(mg.Components))
	for i, c := range mg.Components {
		if math.IsNaN(c.Amplitude) || math.IsInf(c.Amplitude, 0) || !c.Ellipse.IsValid() {
			return errors.Wrapf(ErrInvalidComponent, "component %d", i)
		}
		amplitudes[i] = c.Amplitude
	}
	if floats.Sum(amplitudes) <= 0 {
		return errors.Wrap(ErrInvalidComponent, "total amplitude must be positive")
	}
	return nil
}

// Normalize returns a copy whose amplitudes sum to one.
func (mg MultiGaussian) Normalize() MultiGaussian {
	var total float64
	for _, c := range mg.Components {
		total += c.Amplitude
	}
	out := MultiGaussian{Components: make([]Component, len(mg.Components))}
	for i, c := range mg.Components {
		out.Components[i] = Component{Amplitude: c.Amplitude / total, Ellipse: c.Ellipse}
	}
	return out
}

// Moments returns the amplitude-weighted second moments.
func (mg MultiGaussian) Moments() geom.Quadrupole {
	var q geom.Quadrupole
	var total float64
	for _, c := range mg.Components {
		q.Ixx += c.Amplitude * c.Ellipse.Ixx
		q.Iyy += c.Amplitude * c.Ellipse.Iyy
		q.Ixy += c.Amplitude * c.Ellipse.Ixy
		total += c.Amplitude
	}
	if total == 0 {
		return geom.Quadrupole{}
	}
	return geom.Quadrupole{Ixx: q.Ixx / total, Iyy: q.Iyy / total, Ixy: q.Ixy / total}
}

// Evaluate returns the surface brightness at offset (dx, dy) from the center.
func (mg MultiGaussian) Evaluate(dx, dy float64) float64 {
	var v float64
	for _, c := range mg.Components {
		v += c.Amplitude * Gaussian(c.Ellipse, dx, dy)
	}
	return v
}

// Gaussian evaluates a unit-flux elliptical Gaussian with moments q at (dx, dy).
// A degenerate q yields zero everywhere.
func Gaussian(q geom.Quadrupole, dx, dy float64) float64 {
	det := q.Determinant()
	if det <= 0 {
		return 0
	}
	arg := (q.Iyy*dx*dx - 2*q.Ixy*dx*dy + q.Ixx*dy*dy) / det
	return math.Exp(-0.5*arg) / (2 * math.Pi * math.Sqrt(det))
}

package model

import (
	"math"

	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

var ErrInvalidEllipse = errors.New("ellipse is not positive-definite")

// Model maps nonlinear parameters to a unit-flux, PSF-convolved surface
// brightness profile centered on the origin.
type Model interface {
	// ProfileName is the radial profile the model was built from.
	ProfileName() string
	// NonlinearDim is the number of nonlinear parameters the optimizer varies.
	NonlinearDim() int
	// Ellipse returns the half-light ellipse, in pixels, for the given parameters.
	Ellipse(nonlinear []float64) geom.Quadrupole
	// Evaluate writes the model at each (dx[k], dy[k]) offset into out.
	Evaluate(psf shapelet.MultiGaussian, nonlinear []float64, dx, dy, out []float64)
}

// EllipseModel fits a free ellipse (conformal shear and log radius) with the
// center held fixed.
type EllipseModel struct {
	profile string
	basis   shapelet.MultiGaussian
}

// NewEllipseModel builds a model from the named profile's Gaussian approximation.
func NewEllipseModel(profileName string, nComponents int, maxRadius float64) (*EllipseModel, error) {
	profile, err := shapelet.GetProfile(profileName)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build ellipse model")
	}
	return &EllipseModel{profile: profileName, basis: profile.Basis(nComponents, maxRadius)}, nil
}

func (m *EllipseModel) ProfileName() string { return m.profile }

func (m *EllipseModel) NonlinearDim() int { return 3 }

// Basis returns the unconvolved Gaussian mixture of the profile.
func (m *EllipseModel) Basis() shapelet.MultiGaussian { return m.basis }

func (m *EllipseModel) Ellipse(nonlinear []float64) geom.Quadrupole {
	return EllipseFromParameters(nonlinear)
}

func (m *EllipseModel) Evaluate(psf shapelet.MultiGaussian, nonlinear []float64, dx, dy, out []float64) {
	Render(m.basis, psf, m.Ellipse(nonlinear), dx, dy, out)
}

// FixedEllipseModel has no nonlinear parameters; only its amplitude is fit.
type FixedEllipseModel struct {
	profile string
	basis   shapelet.MultiGaussian
	ellipse geom.Quadrupole
}

// NewFixedEllipseModel reuses the basis of an existing model with a frozen ellipse.
func NewFixedEllipseModel(base *EllipseModel, ellipse geom.Quadrupole) *FixedEllipseModel {
	return &FixedEllipseModel{profile: base.profile, basis: base.basis, ellipse: ellipse}
}

func (m *FixedEllipseModel) ProfileName() string { return m.profile }

func (m *FixedEllipseModel) NonlinearDim() int { return 0 }

func (m *FixedEllipseModel) Ellipse([]float64) geom.Quadrupole { return m.ellipse }

func (m *FixedEllipseModel) Evaluate(psf shapelet.MultiGaussian, _ []float64, dx, dy, out []float64) {
	Render(m.basis, psf, m.ellipse, dx, dy, out)
}

// Render evaluates basis, stretched to ellipse and convolved with psf, at each offset.
func Render(basis, psf shapelet.MultiGaussian, ellipse geom.Quadrupole, dx, dy, out []float64) {
	for k := range out {
		out[k] = 0
	}
	for _, b := range basis.Components {
		v := b.Ellipse.Ixx
		core := geom.Quadrupole{Ixx: v * ellipse.Ixx, Iyy: v * ellipse.Iyy, Ixy: v * ellipse.Ixy}
		for _, p := range psf.Components {
			c := core.Convolve(p.Ellipse)
			det := c.Determinant()
			if det <= 0 {
				continue
			}
			norm := b.Amplitude * p.Amplitude / (2 * math.Pi * math.Sqrt(det))
			axx, ayy, axy := c.Iyy/det, c.Ixx/det, -c.Ixy/det
			for k := range out {
				x, y := dx[k], dy[k]
				out[k] += norm * math.Exp(-0.5*(axx*x*x+2*axy*x*y+ayy*y*y))
			}
		}
	}
}

// sinhc is sinh(x)/x, continuous at zero.
func sinhc(x float64) float64 {
	if math.Abs(x) < 1e-8 {
		return 1
	}
	return math.Sinh(x) / x
}

// EllipseFromParameters maps (eta1, eta2, ln r) to a quadrupole with
// determinant radius r and conformal shear (eta1, eta2).
func EllipseFromParameters(p []float64) geom.Quadrupole {
	eta := math.Hypot(p[0], p[1])
	r2 := math.Exp(2 * p[2])
	ch, s := math.Cosh(eta), sinhc(eta)
	return geom.Quadrupole{
		Ixx: r2 * (ch + s*p[0]),
		Iyy: r2 * (ch - s*p[0]),
		Ixy: r2 * s * p[1],
	}
}

// ParametersFromEllipse is the inverse of EllipseFromParameters.
func ParametersFromEllipse(q geom.Quadrupole) ([]float64, error) {
	if !q.IsValid() {
		return nil, ErrInvalidEllipse
	}
	r2 := math.Sqrt(q.Determinant())
	eta := math.Acosh(math.Max(1, 0.5*(q.Ixx+q.Iyy)/r2))
	s := sinhc(eta)
	return []float64{
		0.5 * (q.Ixx - q.Iyy) / (r2 * s),
		q.Ixy / (r2 * s),
		0.5 * math.Log(r2),
	}, nil
}

package likelihood

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
)

// maxConditionNumber bounds the normalized normal equations of a linear fit.
const maxConditionNumber = 1e10

var (
	ErrNoPixels         = errors.New("no usable pixels in fit region")
	ErrDegenerateModel  = errors.New("model has no support on the fit region")
	ErrSingularSystem   = errors.New("normal equations are singular")
	ErrInvalidFluxScale = errors.New("flux scale must be positive and finite")
)

// Control configures how residuals are weighted.
type Control struct {
	// UsePixelWeights weights each pixel by its inverse standard deviation;
	// otherwise every pixel gets the inverse of the mean standard deviation.
	UsePixelWeights   bool    `yaml:"use_pixel_weights"`
	WeightsMultiplier float64 `yaml:"weights_multiplier"`
}

func DefaultControl() Control {
	return Control{UsePixelWeights: false, WeightsMultiplier: 1}
}

func (c Control) Validate() error {
	if c.WeightsMultiplier <= 0 || math.IsInf(c.WeightsMultiplier, 0) || math.IsNaN(c.WeightsMultiplier) {
		return errors.New("weights_multiplier must be positive and finite")
	}
	return nil
}

// UnitSystem is the local frame the fit parameters live in: offsets relative
// to Center and amplitudes in units of FluxScale.
type UnitSystem struct {
	Center    geom.Point2D
	FluxScale float64
}

func NewUnitSystem(center geom.Point2D, fluxScale float64) (UnitSystem, error) {
	if !(fluxScale > 0) || math.IsInf(fluxScale, 0) {
		return UnitSystem{}, ErrInvalidFluxScale
	}
	return UnitSystem{Center: center, FluxScale: fluxScale}, nil
}

// Pixels is the data of one fit region, flattened.
type Pixels struct {
	DX, DY   []float64
	Data     []float64
	Variance []float64
	Weights  []float64
}

// NewPixels gathers the region's pixels relative to units.Center, with values
// divided by units.FluxScale. Pixels with non-finite values or non-positive
// variance are skipped.
func NewPixels(img *image.MaskedImage, region geom.Region, units UnitSystem, ctrl Control) (*Pixels, error) {
	n := region.Area()
	p := &Pixels{
		DX:       make([]float64, 0, n),
		DY:       make([]float64, 0, n),
		Data:     make([]float64, 0, n),
		Variance: make([]float64, 0, n),
	}
	scale := units.FluxScale
	if scale == 0 {
		scale = 1
	}
	region.Each(func(x, y int) {
		v, variance := img.Image(x, y), img.Variance(x, y)
		if math.IsNaN(v) || math.IsInf(v, 0) || !(variance > 0) || math.IsInf(variance, 0) {
			return
		}
		p.DX = append(p.DX, float64(x)-units.Center.X)
		p.DY = append(p.DY, float64(y)-units.Center.Y)
		p.Data = append(p.Data, v/scale)
		p.Variance = append(p.Variance, variance/(scale*scale))
	})
	if len(p.Data) == 0 {
		return nil, ErrNoPixels
	}

	p.Weights = make([]float64, len(p.Data))
	if ctrl.UsePixelWeights {
		for k, v := range p.Variance {
			p.Weights[k] = ctrl.WeightsMultiplier / math.Sqrt(v)
		}
	} else {
		w := ctrl.WeightsMultiplier / math.Sqrt(floats.Sum(p.Variance)/float64(len(p.Variance)))
		for k := range p.Weights {
			p.Weights[k] = w
		}
	}
	return p, nil
}

func (p *Pixels) Len() int {
	return len(p.Data)
}

// AmplitudeFit is the weighted least-squares amplitude of a single model.
type AmplitudeFit struct {
	Amplitude float64
	Sigma     float64
}

// FitAmplitude solves for the amplitude of the unit-flux model m.
func (p *Pixels) FitAmplitude(m []float64) (AmplitudeFit, error) {
	var mm, md, vv float64
	for k, w := range p.Weights {
		w2 := w * w
		mm += w2 * m[k] * m[k]
		md += w2 * m[k] * p.Data[k]
		vv += w2 * w2 * m[k] * m[k] * p.Variance[k]
	}
	if !(mm > 0) || math.IsInf(mm, 0) {
		return AmplitudeFit{Amplitude: math.NaN(), Sigma: math.NaN()}, ErrDegenerateModel
	}
	return AmplitudeFit{Amplitude: md / mm, Sigma: math.Sqrt(vv) / mm}, nil
}

// Residuals writes w * (data - amplitude*m) into out.
func (p *Pixels) Residuals(m []float64, amplitude float64, out []float64) {
	for k, w := range p.Weights {
		out[k] = w * (p.Data[k] - amplitude*m[k])
	}
}

// Objective is half the weighted chi-square of amplitude*m.
func (p *Pixels) Objective(m []float64, amplitude float64) float64 {
	var sum float64
	for k, w := range p.Weights {
		r := p.Data[k] - amplitude*m[k]
		sum += 0.5 * w * w * r * r
	}
	return sum
}

// LinearFit is the weighted least-squares solution for several fixed models.
type LinearFit struct {
	Amplitudes []float64
	Covariance *mat.SymDense
	// Objective is half the weighted chi-square at the solution.
	Objective float64
}

// FitAmplitudes solves for the amplitudes of the unit-flux models jointly.
// ErrSingularSystem is returned when the normal equations are ill-conditioned.
func (p *Pixels) FitAmplitudes(models ...[]float64) (LinearFit, error) {
	n := len(models)
	normal := mat.NewSymDense(n, nil)
	noise := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var nij, vij float64
			for k, w := range p.Weights {
				w2 := w * w
				nij += w2 * models[i][k] * models[j][k]
				vij += w2 * w2 * p.Variance[k] * models[i][k] * models[j][k]
			}
			normal.SetSym(i, j, nij)
			noise.SetSym(i, j, vij)
		}
		var bi float64
		for k, w := range p.Weights {
			bi += w * w * models[i][k] * p.Data[k]
		}
		rhs.SetVec(i, bi)
	}

	// normalize to unit diagonal before judging the conditioning
	scale := make([]float64, n)
	for i := 0; i < n; i++ {
		d := normal.At(i, i)
		if !(d > 0) || math.IsInf(d, 0) {
			return LinearFit{}, errors.Wrapf(ErrSingularSystem, "model %d has no support", i)
		}
		scale[i] = 1 / math.Sqrt(d)
	}
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, normal.At(i, j)*scale[i]*scale[j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(corr); !ok || chol.Cond() > maxConditionNumber {
		return LinearFit{}, ErrSingularSystem
	}
	var corrInv mat.SymDense
	if err := chol.InverseTo(&corrInv); err != nil {
		return LinearFit{}, errors.Wrap(ErrSingularSystem, err.Error())
	}
	inverse := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			inverse.SetSym(i, j, corrInv.At(i, j)*scale[i]*scale[j])
		}
	}

	var amps mat.VecDense
	amps.MulVec(inverse, rhs)

	var tmp, cov mat.Dense
	tmp.Mul(inverse, noise)
	cov.Mul(&tmp, inverse)
	covariance := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			covariance.SetSym(i, j, 0.5*(cov.At(i, j)+cov.At(j, i)))
		}
	}

	fit := LinearFit{Amplitudes: make([]float64, n), Covariance: covariance}
	for i := range fit.Amplitudes {
		fit.Amplitudes[i] = amps.AtVec(i)
	}
	for k, w := range p.Weights {
		r := p.Data[k]
		for i := range models {
			r -= fit.Amplitudes[i] * models[i][k]
		}
		fit.Objective += 0.5 * w * w * r * r
	}
	return fit, nil
}

package cmodel

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/pkg/fit/likelihood"
	"github.com/askiada/go-cmodel/pkg/geom"
)

var errStageNotRun = errors.New("stage has no model")

type linearFit struct {
	flux             float64
	fluxSigma        float64
	fracDev          float64
	fracDevUnclipped float64
	objective        float64
}

// combine holds both stage models fixed and fits their amplitudes jointly.
// When the two models cannot be told apart, as for an unresolved source whose
// exp and dev fits both shrink to the PSF, the flux comes from the exp model
// alone and fracDev is 0.
func (a *Algorithm) combine(in fitInput, region geom.Region, exp, dev StageResult) (linearFit, error) {
	if exp.Model == nil || dev.Model == nil {
		return linearFit{}, errStageNotRun
	}
	pixels, err := likelihood.NewPixels(in.image, region, in.units, a.ctrl.Likelihood)
	if err != nil {
		return linearFit{}, errors.Wrap(err, "unable to build linear fit pixels")
	}

	mExp := make([]float64, pixels.Len())
	mDev := make([]float64, pixels.Len())
	exp.Model.Evaluate(in.psf, exp.Nonlinear, pixels.DX, pixels.DY, mExp)
	dev.Model.Evaluate(in.psf, dev.Nonlinear, pixels.DX, pixels.DY, mDev)

	fit, err := pixels.FitAmplitudes(mExp, mDev)
	if errors.Is(err, likelihood.ErrSingularSystem) {
		a.logger.Debug("exp and dev models are degenerate, fitting exp alone", zap.Error(err))
		single, err := pixels.FitAmplitude(mExp)
		if err != nil {
			return linearFit{}, errors.Wrap(err, "unable to fit exp amplitude")
		}
		return newSingleFit(single, pixels.Objective(mExp, single.Amplitude), in.units.FluxScale)
	}
	if err != nil {
		return linearFit{}, errors.Wrap(err, "unable to combine exp and dev")
	}

	out, err := newLinearFit(fit, in.units.FluxScale)
	if err != nil {
		return linearFit{}, err
	}
	if out.fracDev != out.fracDevUnclipped {
		a.logger.Debug("fracDev outside [0, 1]",
			zap.Float64("fracDev", out.fracDevUnclipped),
			zap.Float64("expAmplitude", fit.Amplitudes[0]),
			zap.Float64("devAmplitude", fit.Amplitudes[1]),
		)
	}
	return out, nil
}

// newLinearFit converts the joint exp and dev amplitudes to a flux. fracDev
// is clipped to [0, 1]; the unclipped ratio is kept alongside.
func newLinearFit(fit likelihood.LinearFit, fluxScale float64) (linearFit, error) {
	aExp, aDev := fit.Amplitudes[0], fit.Amplitudes[1]
	total := aExp + aDev
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return linearFit{}, errors.Errorf("exp and dev amplitudes sum to %g", total)
	}
	variance := fit.Covariance.At(0, 0) + fit.Covariance.At(1, 1) + 2*fit.Covariance.At(0, 1)
	out := linearFit{
		flux:             total * fluxScale,
		fluxSigma:        math.Sqrt(math.Max(variance, 0)) * fluxScale,
		fracDevUnclipped: aDev / total,
		objective:        fit.Objective,
	}
	out.fracDev = math.Min(math.Max(out.fracDevUnclipped, 0), 1)
	return out, nil
}

// newSingleFit is the flux of the exp model alone.
func newSingleFit(fit likelihood.AmplitudeFit, objective, fluxScale float64) (linearFit, error) {
	if math.IsNaN(fit.Amplitude) || math.IsInf(fit.Amplitude, 0) {
		return linearFit{}, errors.Errorf("exp amplitude is %g", fit.Amplitude)
	}
	return linearFit{
		flux:      fit.Amplitude * fluxScale,
		fluxSigma: fit.Sigma * fluxScale,
		objective: objective,
	}, nil
}

package cmodel

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/pkg/fit/likelihood"
	"github.com/askiada/go-cmodel/pkg/fit/model"
	"github.com/askiada/go-cmodel/pkg/fit/optimizer"
	"github.com/askiada/go-cmodel/pkg/fit/prior"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

// Objective is the residual vector minimized by a stage: the weighted pixel
// residuals of the best-amplitude model followed by the prior residuals.
type Objective struct {
	pixels  *likelihood.Pixels
	model   model.Model
	psf     shapelet.MultiGaussian
	prior   prior.Prior
	scratch []float64
}

func newObjective(pixels *likelihood.Pixels, m model.Model, psf shapelet.MultiGaussian, p prior.Prior) *Objective {
	if m.NonlinearDim() == 0 {
		p = nil
	}
	return &Objective{
		pixels:  pixels,
		model:   m,
		psf:     psf,
		prior:   p,
		scratch: make([]float64, pixels.Len()),
	}
}

func (o *Objective) ParameterDim() int {
	return o.model.NonlinearDim()
}

func (o *Objective) ResidualDim() int {
	if o.prior == nil {
		return o.pixels.Len()
	}
	return o.pixels.Len() + o.prior.Dimension()
}

func (o *Objective) ComputeResiduals(params, out []float64) {
	n := o.pixels.Len()
	fit, err := o.Amplitude(params)
	if err != nil {
		for k := range out {
			out[k] = math.NaN()
		}
		return
	}
	o.pixels.Residuals(o.scratch, fit.Amplitude, out[:n])
	if o.prior != nil {
		copy(out[n:], o.prior.Residuals(params))
	}
}

// Amplitude renders the model at params and solves for its amplitude.
func (o *Objective) Amplitude(params []float64) (likelihood.AmplitudeFit, error) {
	o.model.Evaluate(o.psf, params, o.pixels.DX, o.pixels.DY, o.scratch)
	return o.pixels.FitAmplitude(o.scratch)
}

// stageFitter holds the read-only model and prior of one stage.
type stageFitter struct {
	name   string
	ctrl   StageControl
	model  *model.EllipseModel
	prior  prior.Prior
	logger *zap.Logger
}

func newStageFitter(name string, ctrl StageControl, priorDir string, logger *zap.Logger) (*stageFitter, error) {
	m, err := model.NewEllipseModel(ctrl.Profile, ctrl.NComponents, ctrl.MaxRadius)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s model", name)
	}
	p, err := prior.New(ctrl.PriorSource, ctrl.PriorName, ctrl.Prior, priorDir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s prior", name)
	}
	return &stageFitter{name: name, ctrl: ctrl, model: m, prior: p, logger: logger.With(zap.String("stage", name))}, nil
}

// fitInput is the image data shared by every stage of one measurement.
type fitInput struct {
	image *image.MaskedImage
	psf   shapelet.MultiGaussian
	units likelihood.UnitSystem
}

// run fits the stage's free ellipse starting from initial.
func (s *stageFitter) run(in fitInput, region geom.Region, initial []float64) StageResult {
	return s.fit(in, region, s.model, initial, nil)
}

// runFixed fits only the amplitude of the stage's profile with the ellipse held at q.
func (s *stageFitter) runFixed(in fitInput, region geom.Region, q geom.Quadrupole) StageResult {
	return s.fit(in, region, model.NewFixedEllipseModel(s.model, q), nil, []float64{q.Ixx, q.Iyy, q.Ixy})
}

func (s *stageFitter) fit(in fitInput, region geom.Region, m model.Model, initial, fixed []float64) (res StageResult) {
	res = NewStageResult()
	res.Model = m
	res.Prior = s.prior
	res.Fixed = fixed
	res.State = StageRunning

	start := time.Now()
	defer func() {
		if s.ctrl.DoRecordTime {
			res.Time = time.Since(start)
		}
	}()

	pixels, err := likelihood.NewPixels(in.image, region, in.units, s.ctrl.Likelihood)
	if err != nil {
		s.logger.Debug("no pixels to fit", zap.Error(err))
		s.terminate(&res, optimizer.NumericError)
		return res
	}
	obj := newObjective(pixels, m, in.psf, s.prior)
	res.Objective = obj

	opt := optimizer.Minimize(obj, initial, s.ctrl.Optimizer, s.ctrl.DoRecordHistory)
	res.Nonlinear = opt.Parameters
	res.ObjectiveValue = opt.Objective
	res.Iterations = opt.Iterations
	res.History = opt.History
	s.terminate(&res, opt.Termination)

	res.Ellipse = m.Ellipse(opt.Parameters)
	amp, err := obj.Amplitude(opt.Parameters)
	if err != nil || math.IsNaN(amp.Amplitude) || math.IsInf(amp.Amplitude, 0) {
		s.terminate(&res, optimizer.NumericError)
		return res
	}
	res.Amplitudes = []float64{amp.Amplitude}
	res.Flux = amp.Amplitude * in.units.FluxScale
	res.FluxSigma = amp.Sigma * in.units.FluxScale
	return res
}

// terminate moves the stage to its terminal state.
func (s *stageFitter) terminate(res *StageResult, t optimizer.Termination) {
	switch t {
	case optimizer.Converged:
		res.State = StageConverged
	case optimizer.TrustRegionSmall:
		res.State = StageStateTRSmall
		res.Flags.Set(StageTRSmall)
	case optimizer.MaxIterations:
		res.State = StageStateMaxIterations
		res.Flags.Set(StageMaxIterations)
	case optimizer.NumericError:
		res.State = StageStateNumericError
		res.Flags.Set(StageNumericError)
	}
	if t != optimizer.Converged {
		s.logger.Debug("stage did not converge",
			zap.Stringer("termination", t),
			zap.Int("iterations", res.Iterations),
		)
	}
}

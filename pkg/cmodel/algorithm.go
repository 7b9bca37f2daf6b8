package cmodel

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-cmodel/pkg/fit/likelihood"
	"github.com/askiada/go-cmodel/pkg/fit/model"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/shapelet"
	"github.com/askiada/go-cmodel/pkg/table"
)

// minSeedRadius keeps the initial ellipse positive-definite when
// MinInitialRadius is zero.
const minSeedRadius = 1e-3

// Algorithm measures CModel fluxes. It is safe for concurrent use: every
// measurement only reads the control, models and priors.
type Algorithm struct {
	ctrl     Control
	logger   *zap.Logger
	parallel bool
	priorDir string
	prefix   string
	schema   *table.Schema
	keys     *resultKeys

	initial *stageFitter
	exp     *stageFitter
	dev     *stageFitter
}

type Option func(*Algorithm)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Algorithm) {
		a.logger = logger
	}
}

// WithParallelStages runs the exp and dev fits of a source concurrently.
func WithParallelStages(enabled bool) Option {
	return func(a *Algorithm) {
		a.parallel = enabled
	}
}

// WithPriorDataDir sets the directory FILE priors are loaded from.
func WithPriorDataDir(dir string) Option {
	return func(a *Algorithm) {
		a.priorDir = dir
	}
}

// WithSchema registers the output fields on schema, under prefix, so that
// Measure and MeasureForced can write records.
func WithSchema(schema *table.Schema, prefix string) Option {
	return func(a *Algorithm) {
		a.schema = schema
		a.prefix = prefix
	}
}

// New validates ctrl and builds the stage models and priors.
func New(ctrl Control, opts ...Option) (*Algorithm, error) {
	if err := ctrl.Validate(); err != nil {
		return nil, errors.Wrap(err, "unable to create cmodel algorithm")
	}
	a := &Algorithm{
		ctrl:   ctrl,
		logger: zap.NewNop(),
		prefix: "cmodel",
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.initial, err = newStageFitter(StageInitial, ctrl.Initial, a.priorDir, a.logger); err != nil {
		return nil, err
	}
	if a.exp, err = newStageFitter(StageExp, ctrl.Exp, a.priorDir, a.logger); err != nil {
		return nil, err
	}
	if a.dev, err = newStageFitter(StageDev, ctrl.Dev, a.priorDir, a.logger); err != nil {
		return nil, err
	}
	if a.schema != nil {
		if a.keys, err = newResultKeys(a.schema, a.prefix); err != nil {
			return nil, errors.Wrap(err, "unable to register cmodel fields")
		}
	}
	return a, nil
}

// Control returns the control the algorithm was built with.
func (a *Algorithm) Control() Control {
	return a.ctrl
}

// Apply runs the unforced measurement. The returned Result is always usable;
// when the measurement aborts, err is a *MeasurementError whose flag is set
// on the Result, and every stage completed so far is kept. A panic is
// reported the same way.
func (a *Algorithm) Apply(
	exposure *image.Exposure,
	footprint geom.Region,
	psf shapelet.MultiGaussian,
	center geom.Point2D,
	moments geom.Quadrupole,
	approxFlux float64,
) (res Result, err error) {
	res = NewResult()
	defer a.recoverApply(&res, &err)

	if !moments.IsValid() {
		return a.abort(&res, newMeasurementError(NoShape, "source has no valid shape"))
	}
	if err := psf.Validate(); err != nil {
		return a.abort(&res, newMeasurementError(NoShapeletPsf, "no valid shapelet psf approximation: "+err.Error()))
	}
	in, err := a.newFitInput(exposure, footprint, psf, center, approxFlux)
	if err != nil {
		return a.abort(&res, err)
	}
	psfBBox := exposure.PsfBBox(center)

	region, err := a.DetermineInitialFitRegion(exposure.Mask(), footprint, psfBBox)
	if err != nil {
		return a.abort(&res, err)
	}
	res.InitialFitRegion = region

	start, err := model.ParametersFromEllipse(a.seedEllipse(moments, psf))
	if err != nil {
		return a.abort(&res, errors.Wrap(err, "unable to seed initial fit"))
	}
	res.Initial = a.initial.run(in, region, start)
	if res.Initial.Failed() {
		return a.abort(&res, newMeasurementError(Failed, "initial stage failed: "+res.Initial.State.String()))
	}

	final, err := a.DetermineFinalFitRegion(exposure.Mask(), footprint, psfBBox, geom.Ellipse{Core: res.Initial.Ellipse, Center: center})
	if err != nil {
		return a.abort(&res, err)
	}
	res.FinalFitRegion = final

	if f := res.Initial.Flux; f > 0 && !math.IsInf(f, 0) {
		in.units.FluxScale = f
	}
	res.Exp, res.Dev, err = a.fitShapes(func(s *stageFitter) StageResult {
		return s.run(in, final, res.Initial.Nonlinear)
	})
	if err != nil {
		return a.abort(&res, err)
	}
	return a.finish(&res, in, final)
}

// ApplyForced measures amplitudes with the stage ellipses of reference held
// fixed. The ellipses are reused as-is, so reference must have been measured
// on the same pixel grid.
func (a *Algorithm) ApplyForced(
	exposure *image.Exposure,
	footprint geom.Region,
	psf shapelet.MultiGaussian,
	center geom.Point2D,
	reference Result,
	approxFlux float64,
) (res Result, err error) {
	res = NewResult()
	defer a.recoverApply(&res, &err)

	if err := psf.Validate(); err != nil {
		return a.abort(&res, newMeasurementError(NoShapeletPsf, "no valid shapelet psf approximation: "+err.Error()))
	}
	if !reference.Initial.Ellipse.IsValid() {
		return a.abort(&res, newMeasurementError(NoShape, "reference has no initial ellipse"))
	}
	if !reference.Exp.Ellipse.IsValid() || !reference.Dev.Ellipse.IsValid() {
		return a.abort(&res, newMeasurementError(Failed, "reference has no exp or dev ellipse"))
	}
	in, err := a.newFitInput(exposure, footprint, psf, center, approxFlux)
	if err != nil {
		return a.abort(&res, err)
	}
	psfBBox := exposure.PsfBBox(center)

	region, err := a.DetermineInitialFitRegion(exposure.Mask(), footprint, psfBBox)
	if err != nil {
		return a.abort(&res, err)
	}
	res.InitialFitRegion = region

	res.Initial = a.initial.runFixed(in, region, reference.Initial.Ellipse)
	if res.Initial.Failed() {
		return a.abort(&res, newMeasurementError(Failed, "initial stage failed: "+res.Initial.State.String()))
	}

	final, err := a.DetermineFinalFitRegion(exposure.Mask(), footprint, psfBBox, geom.Ellipse{Core: reference.Initial.Ellipse, Center: center})
	if err != nil {
		return a.abort(&res, err)
	}
	res.FinalFitRegion = final

	res.Exp, res.Dev, err = a.fitShapes(func(s *stageFitter) StageResult {
		if s == a.exp {
			return s.runFixed(in, final, reference.Exp.Ellipse)
		}
		return s.runFixed(in, final, reference.Dev.Ellipse)
	})
	if err != nil {
		return a.abort(&res, err)
	}
	return a.finish(&res, in, final)
}

// newFitInput sets up the unit system. approxFlux only scales the fit; when
// it is not positive the footprint sum is used instead.
func (a *Algorithm) newFitInput(exposure *image.Exposure, footprint geom.Region, psf shapelet.MultiGaussian, center geom.Point2D, approxFlux float64) (fitInput, error) {
	if !(approxFlux > 0) || math.IsInf(approxFlux, 0) {
		approxFlux = exposure.Sum(footprint)
		if !(approxFlux > 0) || math.IsInf(approxFlux, 0) {
			approxFlux = 1
		}
	}
	units, err := likelihood.NewUnitSystem(center, approxFlux)
	if err != nil {
		return fitInput{}, errors.Wrap(err, "unable to create unit system")
	}
	return fitInput{image: exposure.MaskedImage, psf: psf, units: units}, nil
}

// seedEllipse deconvolves the source moments by the PSF moments, flooring
// each axis at MinInitialRadius.
func (a *Algorithm) seedEllipse(moments geom.Quadrupole, psf shapelet.MultiGaussian) geom.Quadrupole {
	p := psf.Moments()
	r := math.Max(a.ctrl.MinInitialRadius, minSeedRadius)
	q := geom.Quadrupole{
		Ixx: math.Max(moments.Ixx-p.Ixx, r*r),
		Iyy: math.Max(moments.Iyy-p.Iyy, r*r),
		Ixy: moments.Ixy - p.Ixy,
	}
	limit := 0.9 * math.Sqrt(q.Ixx*q.Iyy)
	q.Ixy = math.Max(-limit, math.Min(q.Ixy, limit))
	return q
}

// fitShapes runs the exp and dev stages, concurrently when enabled. Both
// must finish before the linear fit.
func (a *Algorithm) fitShapes(fit func(*stageFitter) StageResult) (StageResult, StageResult, error) {
	if !a.parallel {
		return fit(a.exp), fit(a.dev), nil
	}
	var (
		exp, dev StageResult
		grp      errgroup.Group
	)
	grp.Go(func() (err error) {
		defer recoverStage(StageExp, &err)
		exp = fit(a.exp)
		return nil
	})
	grp.Go(func() (err error) {
		defer recoverStage(StageDev, &err)
		dev = fit(a.dev)
		return nil
	})
	if err := grp.Wait(); err != nil {
		return exp, dev, err
	}
	return exp, dev, nil
}

// recoverApply turns a panic into a Failed abort, keeping the stages of res
// completed so far.
func (a *Algorithm) recoverApply(res *Result, err *error) {
	r := recover()
	if r == nil {
		return
	}
	a.logger.Error("measurement panicked", zap.Any("panic", r))
	*res, *err = a.abort(res, newMeasurementError(Failed, fmt.Sprintf("measurement panicked: %v", r)))
}

func recoverStage(name string, err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("%s stage panicked: %v", name, r)
	}
}

// finish runs the linear fit once exp and dev are done. A numeric error in
// either stage skips it; other stage failures still get a flux but stay FAILED.
func (a *Algorithm) finish(res *Result, in fitInput, region geom.Region) (Result, error) {
	if res.Exp.Flags.Has(StageNumericError) || res.Dev.Flags.Has(StageNumericError) {
		return a.abort(res, newMeasurementError(Failed,
			fmt.Sprintf("numeric error in shape fits (exp: %s, dev: %s)", res.Exp.State, res.Dev.State)))
	}

	fit, err := a.combine(in, region, res.Exp, res.Dev)
	if err != nil {
		return a.abort(res, newMeasurementError(Failed, err.Error()))
	}
	res.Flux = fit.flux
	res.FluxSigma = fit.fluxSigma
	res.FracDev = fit.fracDev
	res.FracDevUnclipped = fit.fracDevUnclipped
	res.Objective = fit.objective

	if res.Exp.Failed() || res.Dev.Failed() {
		return a.abort(res, newMeasurementError(Failed,
			fmt.Sprintf("shape fits failed (exp: %s, dev: %s)", res.Exp.State, res.Dev.State)))
	}
	return *res, nil
}

// abort sets the flag carried by err on res and returns it as a *MeasurementError.
func (a *Algorithm) abort(res *Result, err error) (Result, error) {
	var merr *MeasurementError
	if !errors.As(err, &merr) {
		merr = newMeasurementError(Failed, err.Error())
	}
	res.Flags.Set(merr.Flag)
	a.logger.Debug("measurement aborted", zap.Stringer("flags", res.Flags), zap.Error(err))
	return *res, merr
}

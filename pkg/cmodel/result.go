package cmodel

import (
	"math"
	"strings"
	"time"

	"github.com/askiada/go-cmodel/pkg/fit/model"
	"github.com/askiada/go-cmodel/pkg/fit/optimizer"
	"github.com/askiada/go-cmodel/pkg/fit/prior"
	"github.com/askiada/go-cmodel/pkg/geom"
)

// StageFlag is the flag set of a single stage.
type StageFlag uint8

const (
	StageFailed StageFlag = 1 << iota
	// StageTRSmall means the fit stopped because the trust region collapsed;
	// it does not imply failure.
	StageTRSmall
	StageMaxIterations
	StageNumericError
)

var stageFlagNames = []struct {
	flag StageFlag
	name string
}{
	{StageFailed, "flag"},
	{StageTRSmall, "flag_trSmall"},
	{StageMaxIterations, "flag_maxIter"},
	{StageNumericError, "flag_numericError"},
}

// Has reports whether every bit of flag is set.
func (f StageFlag) Has(flag StageFlag) bool {
	return f&flag == flag
}

// Set sets flag. MaxIterations and NumericError also set Failed.
func (f *StageFlag) Set(flag StageFlag) {
	if flag&(StageMaxIterations|StageNumericError) != 0 {
		flag |= StageFailed
	}
	*f |= flag
}

func (f StageFlag) String() string {
	var names []string
	for _, fn := range stageFlagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// StageState tracks a stage through its fit.
type StageState int

const (
	StageNotStarted StageState = iota
	StageRunning
	StageConverged
	StageStateTRSmall
	StageStateMaxIterations
	StageStateNumericError
)

func (s StageState) String() string {
	switch s {
	case StageNotStarted:
		return "not_started"
	case StageRunning:
		return "running"
	case StageConverged:
		return "converged"
	case StageStateTRSmall:
		return "tr_small"
	case StageStateMaxIterations:
		return "max_iterations"
	case StageStateNumericError:
		return "numeric_error"
	}
	return "unknown"
}

// StageResult is the outcome of one stage. Flux and FluxSigma are in image
// units; Nonlinear and Amplitudes are in the stage's internal unit system.
type StageResult struct {
	Model          model.Model
	Prior          prior.Prior
	Objective      *Objective
	Flux           float64
	FluxSigma      float64
	ObjectiveValue float64
	Time           time.Duration
	// Ellipse is the half-light ellipse in pixel coordinates.
	Ellipse    geom.Quadrupole
	Nonlinear  []float64
	Amplitudes []float64
	// Fixed holds parameters held constant during the fit (forced ellipses).
	Fixed      []float64
	History    []optimizer.Step
	Iterations int
	State      StageState
	Flags      StageFlag
}

// NewStageResult returns the result of a stage that has not run.
func NewStageResult() StageResult {
	return StageResult{
		Flux:           math.NaN(),
		FluxSigma:      math.NaN(),
		ObjectiveValue: math.NaN(),
		Ellipse:        geom.Quadrupole{Ixx: math.NaN(), Iyy: math.NaN(), Ixy: math.NaN()},
		State:          StageNotStarted,
	}
}

// Failed is shorthand for Flags.Has(StageFailed).
func (r StageResult) Failed() bool {
	return r.Flags.Has(StageFailed)
}

// ResultFlag is the flag set of the aggregate result.
type ResultFlag uint8

const (
	Failed ResultFlag = 1 << iota
	MaxArea
	MaxBadPixelFraction
	NoShape
	NoShapeletPsf
)

var resultFlagNames = []struct {
	flag ResultFlag
	name string
}{
	{Failed, "flag"},
	{MaxArea, "flag_region_maxArea"},
	{MaxBadPixelFraction, "flag_region_maxBadPixelFraction"},
	{NoShape, "flag_noShape"},
	{NoShapeletPsf, "flag_noShapeletPsf"},
}

func (f ResultFlag) Has(flag ResultFlag) bool {
	return f&flag == flag
}

// Set sets flag; every flag other than Failed also sets Failed.
func (f *ResultFlag) Set(flag ResultFlag) {
	if flag != 0 {
		flag |= Failed
	}
	*f |= flag
}

// Names returns the record field names of the flags set in f.
func (f ResultFlag) Names() []string {
	var names []string
	for _, fn := range resultFlagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f ResultFlag) String() string {
	return strings.Join(f.Names(), "|")
}

// Result is the aggregate outcome of a measurement. It is filled in stage by
// stage, so a result returned after an abort still carries every completed stage.
type Result struct {
	Flux      float64
	FluxSigma float64
	// FracDev is the dev share of the total flux, clipped to [0, 1].
	FracDev float64
	// FracDevUnclipped is the same ratio before clipping.
	FracDevUnclipped float64
	Objective        float64

	Initial StageResult
	Exp     StageResult
	Dev     StageResult

	InitialFitRegion geom.Region
	FinalFitRegion   geom.Region

	Flags ResultFlag
}

// NewResult returns a result with every field unset.
func NewResult() Result {
	return Result{
		Flux:             math.NaN(),
		FluxSigma:        math.NaN(),
		FracDev:          math.NaN(),
		FracDevUnclipped: math.NaN(),
		Objective:        math.NaN(),
		Initial:          NewStageResult(),
		Exp:              NewStageResult(),
		Dev:              NewStageResult(),
	}
}

// MeasurementError is returned when a measurement aborts. Flag is the bit
// already set on the returned Result.
type MeasurementError struct {
	Flag ResultFlag
	Msg  string
}

func (e *MeasurementError) Error() string {
	return e.Msg
}

func newMeasurementError(flag ResultFlag, msg string) *MeasurementError {
	return &MeasurementError{Flag: flag, Msg: msg}
}

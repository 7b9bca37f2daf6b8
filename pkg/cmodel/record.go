package cmodel

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/table"
)

var (
	ErrNoSchema    = errors.New("algorithm was created without a schema")
	ErrNoReference = errors.New("no reference record")
	// ErrSchemaMismatch is returned for records not created from the algorithm schema.
	ErrSchemaMismatch = errors.New("record does not use the algorithm schema")
)

type stageKeys struct {
	flux       table.Key
	fluxSigma  table.Key
	objective  table.Key
	time       table.Key
	iterations table.Key
	ixx        table.Key
	iyy        table.Key
	ixy        table.Key
	flags      map[StageFlag]table.Key
}

type resultKeys struct {
	flux        table.Key
	fluxSigma   table.Key
	fracDev     table.Key
	objective   table.Key
	initialArea table.Key
	finalArea   table.Key
	flags       map[ResultFlag]table.Key
	stages      map[string]*stageKeys
}

type fieldAdder struct {
	schema *table.Schema
	prefix string
	err    error
}

func (fa *fieldAdder) add(name, doc string, typ table.FieldType) table.Key {
	if fa.err != nil {
		return table.Key{}
	}
	k, err := fa.schema.AddField(fa.prefix+"_"+name, doc, typ)
	fa.err = err
	return k
}

func newResultKeys(schema *table.Schema, prefix string) (*resultKeys, error) {
	fa := &fieldAdder{schema: schema, prefix: prefix}
	keys := &resultKeys{
		flux:        fa.add("instFlux", "flux from the final linear fit", table.Float),
		fluxSigma:   fa.add("instFluxErr", "flux uncertainty from the final linear fit", table.Float),
		fracDev:     fa.add("fracDev", "fraction of flux in the dev component, clipped to [0, 1]", table.Float),
		objective:   fa.add("objective", "-ln(likelihood) of the final linear fit", table.Float),
		initialArea: fa.add("region_initial_area", "pixels in the initial fit region", table.Int),
		finalArea:   fa.add("region_final_area", "pixels in the final fit region", table.Int),
		flags:       make(map[ResultFlag]table.Key),
		stages:      make(map[string]*stageKeys),
	}
	for _, fn := range resultFlagNames {
		keys.flags[fn.flag] = fa.add(fn.name, "result flag "+fn.name, table.Flag)
	}
	for _, stage := range []string{StageInitial, StageExp, StageDev} {
		sk := &stageKeys{
			flux:       fa.add(stage+"_instFlux", stage+" stage flux", table.Float),
			fluxSigma:  fa.add(stage+"_instFluxErr", stage+" stage flux uncertainty", table.Float),
			objective:  fa.add(stage+"_objective", stage+" stage objective at the optimum", table.Float),
			time:       fa.add(stage+"_time", stage+" stage wall time in seconds", table.Float),
			iterations: fa.add(stage+"_nIter", stage+" stage optimizer iterations", table.Int),
			ixx:        fa.add(stage+"_ellipse_xx", stage+" half-light ellipse Ixx", table.Float),
			iyy:        fa.add(stage+"_ellipse_yy", stage+" half-light ellipse Iyy", table.Float),
			ixy:        fa.add(stage+"_ellipse_xy", stage+" half-light ellipse Ixy", table.Float),
			flags:      make(map[StageFlag]table.Key),
		}
		for _, fn := range stageFlagNames {
			sk.flags[fn.flag] = fa.add(stage+"_"+fn.name, stage+" stage flag "+fn.name, table.Flag)
		}
		keys.stages[stage] = sk
	}
	if fa.err != nil {
		return nil, fa.err
	}
	return keys, nil
}

func (r *Result) stage(name string) *StageResult {
	switch name {
	case StageInitial:
		return &r.Initial
	case StageExp:
		return &r.Exp
	}
	return &r.Dev
}

// WriteResultToRecord copies res into rec.
func (a *Algorithm) WriteResultToRecord(res Result, rec *table.Record) error {
	if a.keys == nil {
		return ErrNoSchema
	}
	k := a.keys
	rec.Set(k.flux, res.Flux)
	rec.Set(k.fluxSigma, res.FluxSigma)
	rec.Set(k.fracDev, res.FracDev)
	rec.Set(k.objective, res.Objective)
	rec.SetInt(k.initialArea, int64(res.InitialFitRegion.Area()))
	rec.SetInt(k.finalArea, int64(res.FinalFitRegion.Area()))
	for flag, key := range k.flags {
		rec.SetFlag(key, res.Flags.Has(flag))
	}
	for name, sk := range k.stages {
		s := res.stage(name)
		rec.Set(sk.flux, s.Flux)
		rec.Set(sk.fluxSigma, s.FluxSigma)
		rec.Set(sk.objective, s.ObjectiveValue)
		rec.Set(sk.time, s.Time.Seconds())
		rec.SetInt(sk.iterations, int64(s.Iterations))
		rec.Set(sk.ixx, s.Ellipse.Ixx)
		rec.Set(sk.iyy, s.Ellipse.Iyy)
		rec.Set(sk.ixy, s.Ellipse.Ixy)
		for flag, key := range sk.flags {
			rec.SetFlag(key, s.Flags.Has(flag))
		}
	}
	return nil
}

// ReadResultFromRecord rebuilds the scalar fields of a Result from rec. Models,
// parameter vectors and regions are not persisted and stay unset.
func (a *Algorithm) ReadResultFromRecord(rec *table.Record) (Result, error) {
	if a.keys == nil {
		return NewResult(), ErrNoSchema
	}
	if rec.Schema() != a.schema {
		return NewResult(), errors.Wrap(ErrSchemaMismatch, "reference record")
	}
	k := a.keys
	res := NewResult()
	res.Flux = rec.Get(k.flux)
	res.FluxSigma = rec.Get(k.fluxSigma)
	res.FracDev = rec.Get(k.fracDev)
	res.FracDevUnclipped = res.FracDev
	res.Objective = rec.Get(k.objective)
	for flag, key := range k.flags {
		if rec.GetFlag(key) {
			res.Flags |= flag
		}
	}
	for name, sk := range k.stages {
		s := res.stage(name)
		s.Flux = rec.Get(sk.flux)
		s.FluxSigma = rec.Get(sk.fluxSigma)
		s.ObjectiveValue = rec.Get(sk.objective)
		if t := rec.Get(sk.time); !math.IsNaN(t) {
			s.Time = time.Duration(t * float64(time.Second))
		}
		s.Iterations = int(rec.GetInt(sk.iterations))
		s.Ellipse = geom.Quadrupole{Ixx: rec.Get(sk.ixx), Iyy: rec.Get(sk.iyy), Ixy: rec.Get(sk.ixy)}
		for flag, key := range sk.flags {
			if rec.GetFlag(key) {
				s.Flags |= flag
			}
		}
	}
	return res, nil
}

// Fail sets the general failure flag on rec, plus the specific bit carried
// by err when it is a *MeasurementError.
func (a *Algorithm) Fail(rec *table.Record, err error) {
	if a.keys == nil || rec == nil {
		return
	}
	flags := Failed
	var merr *MeasurementError
	if errors.As(err, &merr) {
		flags.Set(merr.Flag)
	}
	for flag, key := range a.keys.flags {
		if flags.Has(flag) {
			rec.SetFlag(key, true)
		}
	}
}

// Measure runs Apply on a detected source and writes the outcome into its
// record. It never panics; failures are reported through the flags.
func (a *Algorithm) Measure(source *table.SourceRecord, exposure *image.Exposure) (res Result) {
	res = NewResult()
	defer a.recoverMeasurement(source, &res)

	shape := source.Shape
	if source.ShapeFlag {
		shape = geom.Quadrupole{Ixx: math.NaN(), Iyy: math.NaN(), Ixy: math.NaN()}
	}
	res, err := a.Apply(exposure, source.Footprint, source.PsfApprox, source.Centroid, shape, source.PsfFlux)
	a.record(source, res, err)
	return res
}

// MeasureForced runs ApplyForced with the reference result read from reference.
func (a *Algorithm) MeasureForced(source *table.SourceRecord, exposure *image.Exposure, reference *table.Record) (res Result) {
	res = NewResult()
	defer a.recoverMeasurement(source, &res)

	if reference == nil {
		res.Flags.Set(Failed)
		a.record(source, res, errors.Wrapf(ErrNoReference, "source %d", source.ID))
		return res
	}
	ref, err := a.ReadResultFromRecord(reference)
	if err != nil {
		res.Flags.Set(Failed)
		a.record(source, res, err)
		return res
	}
	res, err = a.ApplyForced(exposure, source.Footprint, source.PsfApprox, source.Centroid, ref, source.PsfFlux)
	a.record(source, res, err)
	return res
}

func (a *Algorithm) record(source *table.SourceRecord, res Result, err error) {
	if err != nil {
		a.logger.Debug("measurement failed", zap.Int64("id", source.ID), zap.Error(err))
	}
	a.writeDiagnostics(source.ID, res)
	if source.Record == nil || a.keys == nil {
		return
	}
	if werr := a.WriteResultToRecord(res, source.Record); werr != nil {
		a.logger.Warn("unable to write result", zap.Int64("id", source.ID), zap.Error(werr))
		return
	}
	if err != nil {
		a.Fail(source.Record, err)
	}
}

func (a *Algorithm) recoverMeasurement(source *table.SourceRecord, res *Result) {
	r := recover()
	if r == nil {
		return
	}
	a.logger.Error("measurement panicked", zap.Int64("id", source.ID), zap.Any("panic", r))
	res.Flags.Set(Failed)
	if source.Record != nil && a.keys != nil {
		_ = a.WriteResultToRecord(*res, source.Record)
	}
}

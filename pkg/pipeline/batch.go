package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/pipeline/model"
	"github.com/askiada/go-cmodel/pkg/table"
)

// Step names of a batch run.
const (
	SourcesStepName = "sources"
	MeasureStepName = "measure"
	WriteStepName   = "write"
)

// Measurer measures one source. *cmodel.Algorithm implements it.
type Measurer interface {
	Measure(source *table.SourceRecord, exposure *image.Exposure) cmodel.Result
	MeasureForced(source *table.SourceRecord, exposure *image.Exposure, reference *table.Record) cmodel.Result
}

// Sink stores measured sources. *table.SQLiteWriter implements it.
type Sink interface {
	Write(ctx context.Context, src *table.SourceRecord) error
}

// Batch measures every source of an exposure.
type Batch struct {
	alg         Measurer
	sink        Sink
	logger      *zap.Logger
	concurrency int
	opts        []model.PipelineOption
	runID       string
}

type BatchOption func(*Batch)

func WithLogger(logger *zap.Logger) BatchOption {
	return func(b *Batch) {
		b.logger = logger
	}
}

// WithConcurrency sets how many sources are measured at the same time.
func WithConcurrency(concurrency int) BatchOption {
	return func(b *Batch) {
		b.concurrency = concurrency
	}
}

// WithPipelineOptions attaches options, such as measures or drawers, to every run.
func WithPipelineOptions(opts ...model.PipelineOption) BatchOption {
	return func(b *Batch) {
		b.opts = append(b.opts, opts...)
	}
}

func WithRunID(runID string) BatchOption {
	return func(b *Batch) {
		b.runID = runID
	}
}

// NewBatch creates a batch. The run id defaults to a random UUID.
func NewBatch(alg Measurer, sink Sink, opts ...BatchOption) (*Batch, error) {
	if alg == nil {
		return nil, ErrAlgorithmMustBeSet
	}
	if sink == nil {
		return nil, ErrSinkMustBeSet
	}
	b := &Batch{
		alg:         alg,
		sink:        sink,
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency <= 0 {
		return nil, errors.Wrapf(ErrInvalidConcurrency, "got %d", b.concurrency)
	}
	if b.runID == "" {
		b.runID = uuid.NewString()
	}
	return b, nil
}

func (b *Batch) RunID() string {
	return b.runID
}

// Summary counts the outcomes of a run.
type Summary struct {
	RunID  string
	Total  int
	Failed int
	// Flags counts the sources carrying each result flag, by field name.
	Flags    map[string]int
	Duration time.Duration
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID: runID,
		Flags: make(map[string]int),
	}
}

func (s *Summary) add(outcome *model.Outcome) {
	s.Total++
	if outcome.Failed() {
		s.Failed++
	}
	for _, name := range outcome.Result.Flags.Names() {
		s.Flags[name]++
	}
}

// Run measures sources on exposure and writes each of them to the sink.
// Measurement failures are recorded as flags; only sink and option errors
// stop the run.
func (b *Batch) Run(ctx context.Context, exposure *image.Exposure, sources []*table.SourceRecord) (*Summary, error) {
	return b.run(ctx, exposure, sources, false, nil)
}

// RunForced measures sources with the results of references, keyed by
// source id. A source without a reference is flagged as failed.
func (b *Batch) RunForced(ctx context.Context, exposure *image.Exposure, sources []*table.SourceRecord, references map[int64]*table.Record) (*Summary, error) {
	return b.run(ctx, exposure, sources, true, references)
}

func (b *Batch) run(ctx context.Context, exposure *image.Exposure, sources []*table.SourceRecord, forced bool, references map[int64]*table.Record) (*Summary, error) {
	if exposure == nil {
		return nil, ErrInputMustBeSet
	}
	start := time.Now()
	logger := b.logger.With(zap.String("run_id", b.runID), zap.Bool("forced", forced))
	logger.Info("starting batch", zap.Int("sources", len(sources)), zap.Int("concurrency", b.concurrency))

	pipe, err := New(ctx, b.opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create pipeline")
	}

	root, err := AddRootStep(pipe, SourcesStepName, func(ctx context.Context, rootChan chan<- *table.SourceRecord) error {
		for _, src := range sources {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- src:
			}
		}
		return nil
	})
	if err != nil {
		pipe.cancel()
		return nil, errors.Wrap(err, "unable to add sources step")
	}

	measured, err := AddStepOneToOne(pipe, MeasureStepName, root, func(_ context.Context, src *table.SourceRecord) (*model.Outcome, error) {
		startFn := time.Now()
		var res cmodel.Result
		if forced {
			res = b.alg.MeasureForced(src, exposure, references[src.ID])
		} else {
			res = b.alg.Measure(src, exposure)
		}
		return &model.Outcome{
			ID:       src.ID,
			Forced:   forced,
			Source:   src,
			Result:   res,
			Duration: time.Since(startFn),
		}, nil
	}, StepConcurrency[*model.Outcome](b.concurrency))
	if err != nil {
		pipe.cancel()
		return nil, errors.Wrap(err, "unable to add measure step")
	}

	summary := newSummary(b.runID)
	err = AddSink(pipe, WriteStepName, measured, func(ctx context.Context, outcome *model.Outcome) error {
		summary.add(outcome)
		err := b.sink.Write(ctx, outcome.Source)
		if err != nil {
			return errors.Wrapf(err, "unable to write source %d", outcome.ID)
		}
		for _, opt := range pipe.opts {
			err := opt.OnSource(outcome)
			if err != nil {
				return errors.Wrapf(err, "unable to report source %d", outcome.ID)
			}
		}
		return nil
	})
	if err != nil {
		pipe.cancel()
		return nil, errors.Wrap(err, "unable to add write step")
	}

	err = pipe.Run()
	summary.Duration = time.Since(start)
	if err != nil {
		logger.Error("batch stopped", zap.Int("measured", summary.Total), zap.Error(err))
		return summary, err
	}
	logger.Info("batch finished",
		zap.Int("total", summary.Total),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

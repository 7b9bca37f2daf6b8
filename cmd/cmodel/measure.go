package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/internal/metrics"
	"github.com/askiada/go-cmodel/internal/synthetic"
	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/pipeline"
	"github.com/askiada/go-cmodel/pkg/pipeline/drawer"
	"github.com/askiada/go-cmodel/pkg/pipeline/measure"
	"github.com/askiada/go-cmodel/pkg/table"
)

// measurement is a rendered scene ready to be measured.
type measurement struct {
	exposure *image.Exposure
	schema   *table.Schema
	alg      *cmodel.Algorithm
	sources  []*table.SourceRecord
	db       *sql.DB
}

func (a *app) prepare(ctx context.Context, scenePath string) (*measurement, error) {
	scene, err := synthetic.Load(scenePath)
	if err != nil {
		return nil, err
	}
	exposure, err := scene.Render()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to render %s", scenePath)
	}

	schema := table.NewSchema()
	alg, err := cmodel.New(a.cfg.CModel,
		cmodel.WithLogger(a.logger),
		cmodel.WithParallelStages(a.cfg.Pipeline.ParallelStages),
		cmodel.WithPriorDataDir(a.cfg.Pipeline.PriorDataDir),
		cmodel.WithSchema(schema, a.cfg.Output.Prefix),
	)
	if err != nil {
		return nil, err
	}
	sources, err := scene.Sources(schema)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to detect sources of %s", scenePath)
	}

	db, err := table.OpenSQLite(ctx, a.cfg.Output.SQLite)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("scene loaded",
		zap.String("scene", scenePath),
		zap.Int("width", scene.Width),
		zap.Int("height", scene.Height),
		zap.Int("sources", len(sources)),
	)

	return &measurement{
		exposure: exposure,
		schema:   schema,
		alg:      alg,
		sources:  sources,
		db:       db,
	}, nil
}

func (m *measurement) Close() error {
	return m.db.Close()
}

// batchOptions builds the pipeline options selected by the config. finish
// must be called once the batch is done.
func (a *app) batchOptions(runID string) ([]pipeline.BatchOption, func() error, error) {
	opts := []pipeline.BatchOption{
		pipeline.WithLogger(a.logger),
		pipeline.WithConcurrency(a.cfg.Pipeline.Concurrency),
		pipeline.WithRunID(runID),
	}
	finish := func() error { return nil }

	if path := a.cfg.Output.Graph; path != "" {
		d, err := drawer.NewDOTDrawer(path)
		if err != nil {
			return nil, nil, err
		}
		msr := measure.NewDefaultMeasure()
		opts = append(opts, pipeline.WithPipelineOptions(measure.PipelineMeasure(msr), drawer.PipelineDrawer(d, msr)))
	}

	if path := a.cfg.Metrics.Textfile; path != "" {
		reg := prom.NewRegistry()
		opts = append(opts, pipeline.WithPipelineOptions(metrics.PipelineRecorder(metrics.NewPrometheusRecorder(reg))))
		finish = func() error {
			return metrics.WriteTextfile(path, reg)
		}
	}

	return opts, finish, nil
}

func (a *app) runBatch(ctx context.Context, m *measurement, runID string, run func(*pipeline.Batch) (*pipeline.Summary, error)) (*pipeline.Summary, error) {
	writer, err := table.NewSQLiteWriter(ctx, m.db, m.schema, runID)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	opts, finish, err := a.batchOptions(runID)
	if err != nil {
		return nil, err
	}
	batch, err := pipeline.NewBatch(m.alg, writer, opts...)
	if err != nil {
		return nil, err
	}
	summary, err := run(batch)
	if err != nil {
		return summary, err
	}
	if err := finish(); err != nil {
		return summary, err
	}
	return summary, nil
}

func printSummary(w io.Writer, summary *pipeline.Summary) error {
	_, err := fmt.Fprintf(w, "run %s: %d sources, %d failed in %s\n", summary.RunID, summary.Total, summary.Failed, summary.Duration)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(summary.Flags))
	for name := range summary.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", name, summary.Flags[name]); err != nil {
			return err
		}
	}
	return nil
}

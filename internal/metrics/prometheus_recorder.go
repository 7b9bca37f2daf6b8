package metrics

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "cmodel"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stepDuration   *prom.HistogramVec
	stageDuration  *prom.HistogramVec
	stageResults   *prom.CounterVec
	sourceDuration prom.Histogram
	resultFlags    *prom.CounterVec
	sources        *prom.CounterVec
	runDuration    prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics on reg, or on a
// new registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Computation time of each pipeline step per source",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of the initial, exp and dev fits",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage terminations by state",
		}, []string{"stage", "state", "failed"}),
		sourceDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "Wall time of one source measurement",
			Buckets:   prom.DefBuckets,
		}),
		resultFlags: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "result_flags_total",
			Help:      "Sources carrying each result flag",
		}, []string{"flag"}),
		sources: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sources_total",
			Help:      "Measured sources by outcome",
		}, []string{"failed"}),
		runDuration: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last measurement run",
		}),
	}
	reg.MustRegister(pr.stepDuration, pr.stageDuration, pr.stageResults, pr.sourceDuration, pr.resultFlags, pr.sources, pr.runDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage, state string, failed bool) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, state, strconv.FormatBool(failed)).Inc()
}

func (p *PrometheusRecorder) ObserveSourceDuration(d time.Duration) {
	if p == nil || p.sourceDuration == nil {
		return
	}
	p.sourceDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncResultFlag(flag string) {
	if p == nil || p.resultFlags == nil {
		return
	}
	p.resultFlags.WithLabelValues(flag).Inc()
}

func (p *PrometheusRecorder) IncSources(failed bool) {
	if p == nil || p.sources == nil {
		return
	}
	p.sources.WithLabelValues(strconv.FormatBool(failed)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Set(d.Seconds())
}

// WriteTextfile writes every metric of g to path in the text exposition
// format, replacing the file atomically.
func WriteTextfile(path string, g prom.Gatherer) error {
	err := prom.WriteToTextfile(path, g)
	if err != nil {
		return errors.Wrapf(err, "unable to write metrics to %s", path)
	}
	return nil
}

var _ Recorder = (*PrometheusRecorder)(nil)

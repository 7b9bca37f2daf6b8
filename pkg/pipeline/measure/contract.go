package measure

import "time"

type Measure interface {
	AddMetric(name string, concurrent int) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
}

type Metric interface {
	AddDuration(elapsed time.Duration)
	AddTransportDuration(inputStepName string, elapsed time.Duration)
	AVGDuration() time.Duration
	AVGTransportDuration() map[string]*TransportInfo
	SetTotalDuration(endDuration time.Duration)
	GetTotalDuration() time.Duration
	AllTransports() map[string]*TransportInfo
	// AddOutcome counts one source that went through the step.
	AddOutcome(failed bool)
	// Outcomes returns how many sources were counted and how many failed.
	Outcomes() (total, failed int64)
	// FailureRate is the failed share of the counted sources, 0 when none were.
	FailureRate() float64
}

package metrics

import "time"

// Recorder defines the observability hooks of a measurement run.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	// IncStageResult counts a stage termination; state is the stage state name.
	IncStageResult(stage, state string, failed bool)
	ObserveSourceDuration(d time.Duration)
	// IncResultFlag counts a source carrying the named result flag.
	IncResultFlag(flag string)
	IncSources(failed bool)
	ObserveRunDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, string, bool)        {}
func (NoopRecorder) ObserveSourceDuration(time.Duration)        {}
func (NoopRecorder) IncResultFlag(string)                       {}
func (NoopRecorder) IncSources(bool)                            {}
func (NoopRecorder) ObserveRunDuration(time.Duration)           {}

var _ Recorder = NoopRecorder{}

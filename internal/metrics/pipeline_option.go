package metrics

import (
	"time"

	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

type pipelineRecorder struct {
	rec Recorder
}

// PipelineRecorder reports step timings and every measured source to rec.
func PipelineRecorder(rec Recorder) model.PipelineOption {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &pipelineRecorder{rec: rec}
}

func (pr *pipelineRecorder) New() error { return nil }

func (pr *pipelineRecorder) PrepareStep(_, _ *model.StepInfo) error { return nil }

func (pr *pipelineRecorder) OnStepOutput(_, step *model.StepInfo, _, computationDuration time.Duration) error {
	pr.rec.ObserveStepDuration(step.Name, computationDuration)
	return nil
}

func (pr *pipelineRecorder) PrepareSink(_, _ *model.StepInfo) error { return nil }

func (pr *pipelineRecorder) OnSinkOutput(_, step *model.StepInfo, _, computationDuration time.Duration) error {
	pr.rec.ObserveStepDuration(step.Name, computationDuration)
	return nil
}

func (pr *pipelineRecorder) AfterSink(_ *model.StepInfo, totalDuration time.Duration) error {
	pr.rec.ObserveRunDuration(totalDuration)
	return nil
}

func (pr *pipelineRecorder) OnSource(outcome *model.Outcome) error {
	res := outcome.Result
	for name, stage := range map[string]cmodel.StageResult{
		cmodel.StageInitial: res.Initial,
		cmodel.StageExp:     res.Exp,
		cmodel.StageDev:     res.Dev,
	} {
		if stage.State == cmodel.StageNotStarted {
			continue
		}
		pr.rec.ObserveStageDuration(name, stage.Time)
		pr.rec.IncStageResult(name, stage.State.String(), stage.Failed())
	}
	for _, flag := range res.Flags.Names() {
		pr.rec.IncResultFlag(flag)
	}
	pr.rec.ObserveSourceDuration(outcome.Duration)
	pr.rec.IncSources(outcome.Failed())
	return nil
}

func (pr *pipelineRecorder) Finish() error { return nil }

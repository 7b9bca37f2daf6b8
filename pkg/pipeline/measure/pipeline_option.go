package measure

import (
	"math"
	"time"

	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

type pipelineMeasure struct {
	Measure
}

func (pm *pipelineMeasure) New() error {
	pm.AddMetric(model.StartStep.Details.Name, 1)
	pm.AddMetric(model.EndStep.Details.Name, 1)
	for _, stage := range []string{cmodel.StageInitial, cmodel.StageExp, cmodel.StageDev, cmodel.StageLinear} {
		pm.AddMetric(stage, 1)
	}
	return nil
}

func (pm *pipelineMeasure) PrepareStep(_, step *model.StepInfo) error {
	pm.AddMetric(step.Name, step.Concurrent)
	return nil
}

func (pm *pipelineMeasure) PrepareSink(_, step *model.StepInfo) error {
	pm.AddMetric(step.Name, step.Concurrent)
	return nil
}

func (pm *pipelineMeasure) Finish() error {
	return nil
}

func (pm *pipelineMeasure) OnStepOutput(parentStep, step *model.StepInfo, iterationDuration, computationDuration time.Duration) error {
	pm.GetMetric(step.Name).AddDuration(computationDuration)
	pm.GetMetric(step.Name).AddTransportDuration(parentStep.Name, iterationDuration)

	return nil
}

func (pm *pipelineMeasure) OnSinkOutput(parentStep, step *model.StepInfo, iterationDuration, computationDuration time.Duration) error {
	pm.GetMetric(step.Name).AddDuration(computationDuration)
	pm.GetMetric(step.Name).AddTransportDuration(parentStep.Name, iterationDuration)

	return nil
}

func (pm *pipelineMeasure) AfterSink(step *model.StepInfo, totalDuration time.Duration) error {
	pm.GetMetric(step.Name).SetTotalDuration(totalDuration)
	pm.GetMetric(model.EndStep.Details.Name).SetTotalDuration(totalDuration)
	return nil
}

// OnSource records the timing and outcome of every stage that ran.
func (pm *pipelineMeasure) OnSource(outcome *model.Outcome) error {
	res := outcome.Result
	stages := []struct {
		name   string
		result cmodel.StageResult
	}{
		{cmodel.StageInitial, res.Initial},
		{cmodel.StageExp, res.Exp},
		{cmodel.StageDev, res.Dev},
	}
	for _, s := range stages {
		if s.result.State == cmodel.StageNotStarted {
			continue
		}
		mt := pm.GetMetric(s.name)
		mt.AddDuration(s.result.Time)
		mt.AddOutcome(s.result.Failed())
	}
	if res.Exp.State != cmodel.StageNotStarted && res.Dev.State != cmodel.StageNotStarted {
		pm.GetMetric(cmodel.StageLinear).AddOutcome(math.IsNaN(res.Flux))
	}

	end := pm.GetMetric(model.EndStep.Details.Name)
	end.AddDuration(outcome.Duration)
	end.AddOutcome(outcome.Failed())

	return nil
}

// PipelineMeasure collects step timings, stage timings and stage failure
// counts into measure.
func PipelineMeasure(measure Measure) model.PipelineOption {
	return &pipelineMeasure{measure}
}

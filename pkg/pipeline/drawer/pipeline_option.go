package drawer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/pkg/pipeline/measure"
	"github.com/askiada/go-cmodel/pkg/pipeline/model"
)

type pipelineDrawer struct {
	Drawer
	m         measure.Measure
	startTime time.Time
}

func (pd *pipelineDrawer) New() error {
	pd.startTime = time.Now()
	return nil
}

func (pd *pipelineDrawer) PrepareStep(_, _ *model.StepInfo) error {
	return nil
}

func (pd *pipelineDrawer) PrepareSink(_, _ *model.StepInfo) error {
	return nil
}

func (pd *pipelineDrawer) Finish() error {
	if pd.m != nil {
		err := pd.AddMeasure(pd.m)
		if err != nil {
			return errors.Wrap(err, "unable to add measure")
		}
		err = pd.SetTotalTime(model.EndStep.Details.Name, time.Since(pd.startTime))
		if err != nil {
			return errors.Wrap(err, "unable to set total time")
		}
	}

	err := pd.Draw()
	if err != nil {
		return errors.Wrap(err, "unable to draw stage graph")
	}

	return nil
}

func (pd *pipelineDrawer) OnStepOutput(_, _ *model.StepInfo, _, _ time.Duration) error {
	return nil
}

func (pd *pipelineDrawer) OnSinkOutput(_, _ *model.StepInfo, _, _ time.Duration) error {
	return nil
}

func (pd *pipelineDrawer) AfterSink(_ *model.StepInfo, _ time.Duration) error {
	return nil
}

func (pd *pipelineDrawer) OnSource(_ *model.Outcome) error {
	return nil
}

// PipelineDrawer draws the stage graph when the pipeline finishes. When
// measure is set, the graph is annotated with its stage metrics.
func PipelineDrawer(drawer Drawer, measure measure.Measure) model.PipelineOption {
	return &pipelineDrawer{Drawer: drawer, m: measure}
}

package model

type stepType string

const (
	RootStepType   stepType = "root"
	NormalStepType stepType = "step"
	SinkStepType   stepType = "sink"
)

type StepInfo struct {
	Type       stepType
	Name       string
	Concurrent int
}

var (
	StartStep = &Step[any]{Details: &StepInfo{Type: RootStepType, Name: "start"}}
	EndStep   = &Step[any]{Details: &StepInfo{Type: SinkStepType, Name: "end"}}
)

type Step[O any] struct {
	Output  chan O
	Details *StepInfo
}

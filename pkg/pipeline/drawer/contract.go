package drawer

import (
	"time"

	"github.com/askiada/go-cmodel/pkg/pipeline/measure"
)

// Drawer is an interface that defines the methods for drawing the stage graph.
type Drawer interface {
	// Draw creates a file with the stage graph.
	Draw() error
	// SetTotalTime appends the total run time to the label of the stage.
	SetTotalTime(stageName string, totalTime time.Duration) error
	// AddMeasure annotates the stages with the timings and outcomes of measure.
	AddMeasure(measure measure.Measure) error
}

package model

import (
	"time"

	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/table"
)

// Outcome is what the pipeline reports for every measured source.
type Outcome struct {
	ID     int64
	Forced bool
	Source *table.SourceRecord
	Result cmodel.Result
	// Duration is the wall time of the whole measurement.
	Duration time.Duration
}

func (o *Outcome) Failed() bool {
	return o.Result.Flags.Has(cmodel.Failed)
}

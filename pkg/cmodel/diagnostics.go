package cmodel

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-cmodel/pkg/fit/optimizer"
	"github.com/askiada/go-cmodel/pkg/geom"
)

type stageTrace struct {
	Name       string           `yaml:"name"`
	State      string           `yaml:"state"`
	Flags      string           `yaml:"flags"`
	Flux       float64          `yaml:"flux"`
	Objective  float64          `yaml:"objective"`
	Iterations int              `yaml:"iterations"`
	Ellipse    geom.Quadrupole  `yaml:"ellipse"`
	Nonlinear  []float64        `yaml:"nonlinear,omitempty"`
	Fixed      []float64        `yaml:"fixed,omitempty"`
	History    []optimizer.Step `yaml:"history,omitempty"`
}

type trace struct {
	ID      int64        `yaml:"id"`
	Flags   string       `yaml:"flags"`
	Flux    float64      `yaml:"flux"`
	FracDev float64      `yaml:"frac_dev"`
	Stages  []stageTrace `yaml:"stages"`
}

// writeDiagnostics dumps the optimizer traces of a selected source. Errors
// are logged and never affect the measurement.
func (a *Algorithm) writeDiagnostics(id int64, res Result) {
	d := a.ctrl.Diagnostics
	if !d.Enabled || !slices.Contains(d.IDs, id) {
		return
	}
	if err := writeTrace(d.Root, id, res); err != nil {
		a.logger.Warn("unable to write diagnostics", zap.Int64("id", id), zap.Error(err))
	}
}

func writeTrace(root string, id int64, res Result) error {
	t := trace{ID: id, Flags: res.Flags.String(), Flux: res.Flux, FracDev: res.FracDev}
	for _, name := range []string{StageInitial, StageExp, StageDev} {
		s := res.stage(name)
		t.Stages = append(t.Stages, stageTrace{
			Name:       name,
			State:      s.State.String(),
			Flags:      s.Flags.String(),
			Flux:       s.Flux,
			Objective:  s.ObjectiveValue,
			Iterations: s.Iterations,
			Ellipse:    s.Ellipse,
			Nonlinear:  s.Nonlinear,
			Fixed:      s.Fixed,
			History:    s.History,
		})
	}

	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "unable to encode trace")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create %s", root)
	}
	path := filepath.Join(root, fmt.Sprintf("%d.yaml", id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}
	return nil
}

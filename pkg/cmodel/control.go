package cmodel

import (
	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/pkg/fit/likelihood"
	"github.com/askiada/go-cmodel/pkg/fit/optimizer"
	"github.com/askiada/go-cmodel/pkg/fit/prior"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

var ErrInvalidControl = errors.New("invalid cmodel control")

// StageControl configures one nonlinear stage.
type StageControl struct {
	Profile     string       `yaml:"profile"`
	PriorSource prior.Source `yaml:"prior_source"`
	PriorName   string       `yaml:"prior_name"`
	Prior       prior.Config `yaml:"prior"`
	// NComponents is the number of Gaussians approximating the profile.
	NComponents int `yaml:"n_components"`
	// MaxRadius truncates the approximation; zero uses the profile default.
	MaxRadius       float64            `yaml:"max_radius"`
	Optimizer       optimizer.Control  `yaml:"optimizer"`
	Likelihood      likelihood.Control `yaml:"likelihood"`
	DoRecordHistory bool               `yaml:"do_record_history"`
	DoRecordTime    bool               `yaml:"do_record_time"`
}

func DefaultStageControl(profile string) StageControl {
	return StageControl{
		Profile:         profile,
		PriorSource:     prior.SourceConfig,
		Prior:           prior.DefaultConfig(),
		NComponents:     8,
		Optimizer:       optimizer.DefaultControl(),
		Likelihood:      likelihood.DefaultControl(),
		DoRecordHistory: true,
		DoRecordTime:    true,
	}
}

func (c StageControl) validate(name string) error {
	if _, err := shapelet.GetProfile(c.Profile); err != nil {
		return errors.Wrapf(err, "%s stage", name)
	}
	if c.NComponents <= 0 {
		return errors.Wrapf(ErrInvalidControl, "%s stage: n_components must be positive", name)
	}
	if c.MaxRadius < 0 {
		return errors.Wrapf(ErrInvalidControl, "%s stage: max_radius must be >= 0", name)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return errors.Wrapf(err, "%s stage", name)
	}
	if err := c.Likelihood.Validate(); err != nil {
		return errors.Wrapf(err, "%s stage", name)
	}
	if c.PriorSource == prior.SourceConfig {
		if err := c.Prior.Validate(); err != nil {
			return errors.Wrapf(err, "%s stage", name)
		}
	}
	return nil
}

// RegionControl configures how fit regions are chosen.
type RegionControl struct {
	IncludePsfBBox bool `yaml:"include_psf_bbox"`
	// NGrowFootprint is the number of pixels the footprint is grown by.
	NGrowFootprint int `yaml:"n_grow_footprint"`
	// NInitialRadii scales the initial-fit ellipse added to the final region.
	NInitialRadii       float64  `yaml:"n_initial_radii"`
	MaxArea             int      `yaml:"max_area"`
	BadMaskPlanes       []string `yaml:"bad_mask_planes"`
	MaxBadPixelFraction float64  `yaml:"max_bad_pixel_fraction"`
}

func DefaultRegionControl() RegionControl {
	return RegionControl{
		IncludePsfBBox:      false,
		NGrowFootprint:      5,
		NInitialRadii:       3,
		MaxArea:             10000,
		BadMaskPlanes:       []string{"EDGE", "SAT"},
		MaxBadPixelFraction: 0.1,
	}
}

func (c RegionControl) validate() error {
	switch {
	case c.NGrowFootprint < 0:
		return errors.Wrap(ErrInvalidControl, "region: n_grow_footprint must be >= 0")
	case c.NInitialRadii <= 0:
		return errors.Wrap(ErrInvalidControl, "region: n_initial_radii must be positive")
	case c.MaxArea <= 0:
		return errors.Wrap(ErrInvalidControl, "region: max_area must be positive")
	case c.MaxBadPixelFraction < 0 || c.MaxBadPixelFraction > 1:
		return errors.Wrap(ErrInvalidControl, "region: max_bad_pixel_fraction must be in [0, 1]")
	}
	return nil
}

// DiagnosticsControl selects sources whose optimizer traces are written to Root.
type DiagnosticsControl struct {
	Enabled bool    `yaml:"enabled"`
	Root    string  `yaml:"root"`
	IDs     []int64 `yaml:"ids"`
}

func (c DiagnosticsControl) validate() error {
	if c.Enabled && c.Root == "" {
		return errors.Wrap(ErrInvalidControl, "diagnostics: root is required when enabled")
	}
	return nil
}

// Control configures the whole algorithm.
type Control struct {
	PsfName     string             `yaml:"psf_name"`
	Region      RegionControl      `yaml:"region"`
	Diagnostics DiagnosticsControl `yaml:"diagnostics"`
	Initial     StageControl       `yaml:"initial"`
	Exp         StageControl       `yaml:"exp"`
	Dev         StageControl       `yaml:"dev"`
	// Likelihood weights the final linear fit.
	Likelihood likelihood.Control `yaml:"likelihood"`
	// MinInitialRadius floors the PSF-deconvolved moments used to start the initial fit.
	MinInitialRadius float64 `yaml:"min_initial_radius"`
}

func DefaultControl() Control {
	initial := DefaultStageControl("lux")
	initial.NComponents = 3
	initial.Optimizer.GradientThreshold = 1e-2
	initial.Optimizer.MinTrustRadiusThreshold = 1e-2

	return Control{
		PsfName:          "DoubleGaussian",
		Region:           DefaultRegionControl(),
		Initial:          initial,
		Exp:              DefaultStageControl("lux"),
		Dev:              DefaultStageControl("luv"),
		Likelihood:       likelihood.DefaultControl(),
		MinInitialRadius: 0.1,
	}
}

// Validate checks each nested control and the relations between stages.
func (c Control) Validate() error {
	if err := c.Region.validate(); err != nil {
		return err
	}
	if err := c.Diagnostics.validate(); err != nil {
		return err
	}
	stages := []struct {
		name string
		ctrl StageControl
	}{{"initial", c.Initial}, {"exp", c.Exp}, {"dev", c.Dev}}
	for _, s := range stages {
		if err := s.ctrl.validate(s.name); err != nil {
			return err
		}
	}
	if err := c.Likelihood.Validate(); err != nil {
		return errors.Wrap(err, "linear stage")
	}
	if c.Exp.Profile == c.Dev.Profile {
		return errors.Wrapf(ErrInvalidControl, "dev profile must differ from exp profile %q", c.Exp.Profile)
	}
	if c.Initial.NComponents > c.Exp.NComponents || c.Initial.NComponents > c.Dev.NComponents {
		return errors.Wrap(ErrInvalidControl, "initial stage must not use more components than exp or dev")
	}
	if c.Initial.Optimizer.GradientThreshold < c.Exp.Optimizer.GradientThreshold ||
		c.Initial.Optimizer.GradientThreshold < c.Dev.Optimizer.GradientThreshold {
		return errors.Wrap(ErrInvalidControl, "initial stage must not converge more tightly than exp or dev")
	}
	if c.MinInitialRadius < 0 {
		return errors.Wrap(ErrInvalidControl, "min_initial_radius must be >= 0")
	}
	return nil
}

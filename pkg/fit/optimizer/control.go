package optimizer

import "github.com/pkg/errors"

var ErrInvalidControl = errors.New("invalid optimizer control")

// Control configures the trust-region minimizer.
type Control struct {
	// GradientThreshold is the largest gradient component, relative to
	// 1+objective, at which the fit is considered converged.
	GradientThreshold float64 `yaml:"gradient_threshold"`
	// MinTrustRadiusThreshold stops the fit when the trust region shrinks below it.
	MinTrustRadiusThreshold float64 `yaml:"min_trust_radius_threshold"`
	MaxOuterIterations      int     `yaml:"max_outer_iterations"`
	// MaxInnerIterations bounds the step attempts made per Jacobian evaluation.
	MaxInnerIterations     int     `yaml:"max_inner_iterations"`
	TrustRegionInitialSize float64 `yaml:"trust_region_initial_size"`
	// StepAcceptanceThreshold is the minimum ratio of actual to predicted
	// reduction for a step to be accepted.
	StepAcceptanceThreshold         float64 `yaml:"step_acceptance_threshold"`
	TrustRegionGrowReductionRatio   float64 `yaml:"trust_region_grow_reduction_ratio"`
	TrustRegionGrowStepFraction     float64 `yaml:"trust_region_grow_step_fraction"`
	TrustRegionGrowFactor           float64 `yaml:"trust_region_grow_factor"`
	TrustRegionShrinkReductionRatio float64 `yaml:"trust_region_shrink_reduction_ratio"`
	TrustRegionShrinkFactor         float64 `yaml:"trust_region_shrink_factor"`
}

func DefaultControl() Control {
	return Control{
		GradientThreshold:               1e-5,
		MinTrustRadiusThreshold:         1e-5,
		MaxOuterIterations:              500,
		MaxInnerIterations:              20,
		TrustRegionInitialSize:          1,
		StepAcceptanceThreshold:         0,
		TrustRegionGrowReductionRatio:   0.75,
		TrustRegionGrowStepFraction:     0.8,
		TrustRegionGrowFactor:           2,
		TrustRegionShrinkReductionRatio: 0.25,
		TrustRegionShrinkFactor:         1.0 / 3.0,
	}
}

func (c Control) Validate() error {
	switch {
	case c.GradientThreshold <= 0:
		return errors.Wrap(ErrInvalidControl, "gradient_threshold must be positive")
	case c.MinTrustRadiusThreshold <= 0:
		return errors.Wrap(ErrInvalidControl, "min_trust_radius_threshold must be positive")
	case c.MaxOuterIterations <= 0 || c.MaxInnerIterations <= 0:
		return errors.Wrap(ErrInvalidControl, "iteration limits must be positive")
	case c.TrustRegionInitialSize <= 0:
		return errors.Wrap(ErrInvalidControl, "trust_region_initial_size must be positive")
	case c.TrustRegionGrowFactor <= 1:
		return errors.Wrap(ErrInvalidControl, "trust_region_grow_factor must be greater than 1")
	case c.TrustRegionShrinkFactor <= 0 || c.TrustRegionShrinkFactor >= 1:
		return errors.Wrap(ErrInvalidControl, "trust_region_shrink_factor must be in (0, 1)")
	case c.TrustRegionShrinkReductionRatio > c.TrustRegionGrowReductionRatio:
		return errors.Wrap(ErrInvalidControl, "shrink reduction ratio exceeds grow reduction ratio")
	}
	return nil
}

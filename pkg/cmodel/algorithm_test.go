package cmodel_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/internal/synthetic"
	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

func assertNotStarted(t *testing.T, stages ...cmodel.StageResult) {
	t.Helper()
	for _, s := range stages {
		assert.Equal(t, cmodel.StageNotStarted, s.State)
		assert.True(t, math.IsNaN(s.Flux))
	}
}

func TestApplyExponential(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("lux", 8), nil)
	alg := newAlgorithm(t, cmodel.DefaultControl())

	res, err := apply(alg, exposure, src)
	require.NoError(t, err)
	assert.Zero(t, res.Flags)

	assert.InEpsilon(t, 5000, res.Flux, 2e-3)
	assert.Greater(t, res.FluxSigma, 0.0)
	assert.InDelta(t, 0, res.FracDev, 0.02)
	assert.GreaterOrEqual(t, res.FracDev, 0.0)

	for _, s := range []cmodel.StageResult{res.Initial, res.Exp, res.Dev} {
		assert.False(t, s.Failed())
		assert.Contains(t, []cmodel.StageState{cmodel.StageConverged, cmodel.StageStateTRSmall}, s.State)
		assert.Len(t, s.Nonlinear, 3)
		assert.NotEmpty(t, s.History)
		assert.Positive(t, s.Time)
	}
	assert.InEpsilon(t, 4, res.Exp.Ellipse.Ixx, 1e-2)
	assert.InEpsilon(t, 3, res.Exp.Ellipse.Iyy, 1e-2)
	assert.InDelta(t, 0.5, res.Exp.Ellipse.Ixy, 1e-2)
	assert.InEpsilon(t, 5000, res.Exp.Flux, 2e-3)

	assert.False(t, res.InitialFitRegion.IsEmpty())
	assert.True(t, res.InitialFitRegion.Union(res.FinalFitRegion).Equal(res.FinalFitRegion))
}

func TestApplyDeVaucouleurs(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("luv", 8), nil)
	alg := newAlgorithm(t, cmodel.DefaultControl())

	res, err := apply(alg, exposure, src)
	require.NoError(t, err)
	assert.InEpsilon(t, 5000, res.Flux, 5e-3)
	assert.Greater(t, res.FracDev, 0.95)
	assert.LessOrEqual(t, res.FracDev, 1.0)
	assert.InEpsilon(t, 5000, res.Dev.Flux, 5e-3)
}

func TestApplyParallelStages(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("lux", 8), nil)
	sequential := newAlgorithm(t, cmodel.DefaultControl())
	parallel := newAlgorithm(t, cmodel.DefaultControl(), cmodel.WithParallelStages(true))

	want, err := apply(sequential, exposure, src)
	require.NoError(t, err)
	got, err := apply(parallel, exposure, src)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got, resultCmp...))

	again, err := apply(sequential, exposure, src)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, again, resultCmp...))
}

func TestApplyAborts(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	tcs := map[string]struct {
		scene    func(*synthetic.Scene)
		moments  geom.Quadrupole
		psf      func(shapelet.MultiGaussian) shapelet.MultiGaussian
		mutate   func(*cmodel.Control)
		wantFlag cmodel.ResultFlag
	}{
		"no shape": {
			moments:  geom.Quadrupole{Ixx: nan, Iyy: nan, Ixy: nan},
			wantFlag: cmodel.NoShape,
		},
		"negative moments": {
			moments:  geom.Quadrupole{Ixx: -1, Iyy: 2},
			wantFlag: cmodel.NoShape,
		},
		"no psf": {
			psf:      func(shapelet.MultiGaussian) shapelet.MultiGaussian { return shapelet.MultiGaussian{} },
			wantFlag: cmodel.NoShapeletPsf,
		},
		"fully masked footprint": {
			scene: func(s *synthetic.Scene) {
				s.Masks = []synthetic.MaskBox{{Plane: "SAT", Width: s.Width, Height: s.Height}}
			},
			wantFlag: cmodel.MaxBadPixelFraction,
		},
		"max area": {
			mutate:   func(c *cmodel.Control) { c.Region.MaxArea = 20 },
			wantFlag: cmodel.MaxArea,
		},
		"initial max iterations": {
			mutate: func(c *cmodel.Control) {
				c.Initial.Optimizer.MaxOuterIterations = 1
				c.Initial.Optimizer.GradientThreshold = 1e-12
				c.Exp.Optimizer.GradientThreshold = 1e-12
				c.Dev.Optimizer.GradientThreshold = 1e-12
			},
			wantFlag: cmodel.Failed,
		},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			scene := newScene("lux", 8)
			if tc.scene != nil {
				tc.scene(&scene)
			}
			exposure, src := render(t, scene, nil)
			ctrl := cmodel.DefaultControl()
			if tc.mutate != nil {
				tc.mutate(&ctrl)
			}
			moments := src.Shape
			if tc.moments != (geom.Quadrupole{}) {
				moments = tc.moments
			}
			psf := src.PsfApprox
			if tc.psf != nil {
				psf = tc.psf(psf)
			}

			res, err := newAlgorithm(t, ctrl).Apply(exposure, src.Footprint, psf, src.Centroid, moments, src.PsfFlux)
			merr := measurementError(t, err)
			assert.Equal(t, tc.wantFlag, merr.Flag)
			assert.True(t, res.Flags.Has(tc.wantFlag))
			assert.True(t, res.Flags.Has(cmodel.Failed))
			assert.True(t, math.IsNaN(res.Flux))
			assertNotStarted(t, res.Exp, res.Dev)
			if tc.wantFlag != cmodel.Failed {
				assertNotStarted(t, res.Initial)
			}
		})
	}
}

func TestApplyPointSource(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		profile string
		r2      float64
	}{
		"lux r2=1e-6": {profile: "lux", r2: 1e-6},
		"lux r2=1e-3": {profile: "lux", r2: 1e-3},
		"lux r2=1e-2": {profile: "lux", r2: 1e-2},
		"luv r2=1e-6": {profile: "luv", r2: 1e-6},
		"luv r2=1e-3": {profile: "luv", r2: 1e-3},
		"luv r2=1e-2": {profile: "luv", r2: 1e-2},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			scene := newScene(tc.profile, 8)
			scene.Galaxies[0].Ellipse = geom.Quadrupole{Ixx: tc.r2, Iyy: tc.r2}
			exposure, src := render(t, scene, nil)
			alg := newAlgorithm(t, cmodel.DefaultControl())

			res, err := apply(alg, exposure, src)
			require.NoError(t, err)
			assert.Zero(t, res.Flags)
			assert.InEpsilon(t, 5000, res.Flux, 1e-3)
			assert.Greater(t, res.FluxSigma, 0.0)
			assert.GreaterOrEqual(t, res.FracDev, 0.0)
			assert.LessOrEqual(t, res.FracDev, 1.0)

			forced, err := alg.ApplyForced(exposure, src.Footprint, src.PsfApprox, src.Centroid, res, src.PsfFlux)
			require.NoError(t, err)
			assert.Zero(t, forced.Flags)
			assert.InEpsilon(t, res.Flux, forced.Flux, 1e-6)
		})
	}
}

func TestApplyFracDevClipped(t *testing.T) {
	t.Parallel()

	scene := newScene("luv", 8)
	scene.NoiseSeed = 7
	exposure, src := render(t, scene, nil)

	res, err := apply(newAlgorithm(t, cmodel.DefaultControl()), exposure, src)
	require.NoError(t, err)
	assert.Zero(t, res.Flags)
	assert.Greater(t, res.FracDevUnclipped, 1.0)
	assert.InDelta(t, 1.0, res.FracDev, 0)
	assert.False(t, math.IsNaN(res.Flux))
}

func TestApplyRecoversPanic(t *testing.T) {
	t.Parallel()

	_, src := render(t, newScene("lux", 8), nil)
	alg := newAlgorithm(t, cmodel.DefaultControl())

	res, err := apply(alg, nil, src)
	merr := measurementError(t, err)
	assert.Equal(t, cmodel.Failed, merr.Flag)
	assert.Contains(t, merr.Error(), "panicked")
	assert.Equal(t, cmodel.Failed, res.Flags)
	assertNotStarted(t, res.Initial, res.Exp, res.Dev)

	reference := cmodel.NewResult()
	reference.Initial.Ellipse = geom.NewCircle(2)
	reference.Exp.Ellipse = geom.NewCircle(2)
	reference.Dev.Ellipse = geom.NewCircle(2)
	res, err = alg.ApplyForced(nil, src.Footprint, src.PsfApprox, src.Centroid, reference, src.PsfFlux)
	assert.Equal(t, cmodel.Failed, measurementError(t, err).Flag)
	assert.Equal(t, cmodel.Failed, res.Flags)
}

func TestApplyKeepsFailedInitialStage(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("lux", 8), nil)
	ctrl := cmodel.DefaultControl()
	ctrl.Initial.Optimizer.MaxOuterIterations = 1
	ctrl.Initial.Optimizer.GradientThreshold = 1e-12
	ctrl.Exp.Optimizer.GradientThreshold = 1e-12
	ctrl.Dev.Optimizer.GradientThreshold = 1e-12

	res, err := apply(newAlgorithm(t, ctrl), exposure, src)
	require.Error(t, err)
	assert.Equal(t, cmodel.StageStateMaxIterations, res.Initial.State)
	assert.True(t, res.Initial.Flags.Has(cmodel.StageMaxIterations|cmodel.StageFailed))
	assert.Equal(t, 1, res.Initial.Iterations)
	assert.False(t, res.InitialFitRegion.IsEmpty())
	assert.True(t, res.FinalFitRegion.IsEmpty())
}

func TestApplyForced(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("lux", 8), nil)
	alg := newAlgorithm(t, cmodel.DefaultControl())
	reference, err := apply(alg, exposure, src)
	require.NoError(t, err)

	res, err := alg.ApplyForced(exposure, src.Footprint, src.PsfApprox, src.Centroid, reference, src.PsfFlux)
	require.NoError(t, err)
	assert.Zero(t, res.Flags)
	assert.InEpsilon(t, reference.Flux, res.Flux, 1e-6)
	assert.InDelta(t, reference.FracDev, res.FracDev, 1e-6)

	for _, pair := range [][2]cmodel.StageResult{
		{reference.Initial, res.Initial},
		{reference.Exp, res.Exp},
		{reference.Dev, res.Dev},
	} {
		ref, forced := pair[0], pair[1]
		assert.Equal(t, cmodel.StageConverged, forced.State)
		assert.Equal(t, ref.Ellipse, forced.Ellipse)
		assert.Equal(t, []float64{ref.Ellipse.Ixx, ref.Ellipse.Iyy, ref.Ellipse.Ixy}, forced.Fixed)
		assert.Empty(t, forced.Nonlinear)
	}
	assert.True(t, reference.FinalFitRegion.Equal(res.FinalFitRegion))
}

func TestApplyForcedAborts(t *testing.T) {
	t.Parallel()

	exposure, src := render(t, newScene("lux", 8), nil)
	alg := newAlgorithm(t, cmodel.DefaultControl())

	t.Run("no reference shape", func(t *testing.T) {
		t.Parallel()
		res, err := alg.ApplyForced(exposure, src.Footprint, src.PsfApprox, src.Centroid, cmodel.NewResult(), src.PsfFlux)
		assert.Equal(t, cmodel.NoShape, measurementError(t, err).Flag)
		assert.True(t, res.Flags.Has(cmodel.NoShape|cmodel.Failed))
		assertNotStarted(t, res.Initial, res.Exp, res.Dev)
	})

	t.Run("degenerate ellipses", func(t *testing.T) {
		t.Parallel()
		reference := cmodel.NewResult()
		reference.Initial.Ellipse = geom.NewCircle(2)
		reference.Exp.Ellipse = geom.Quadrupole{}
		reference.Dev.Ellipse = geom.NewCircle(2)

		res, err := alg.ApplyForced(exposure, src.Footprint, src.PsfApprox, src.Centroid, reference, src.PsfFlux)
		assert.Equal(t, cmodel.Failed, measurementError(t, err).Flag)
		assert.Equal(t, cmodel.Failed, res.Flags)
		assert.True(t, math.IsNaN(res.Flux))
		assert.True(t, math.IsNaN(res.FracDev))
		assertNotStarted(t, res.Initial, res.Exp, res.Dev)
	})

	t.Run("no psf", func(t *testing.T) {
		t.Parallel()
		res, err := alg.ApplyForced(exposure, src.Footprint, shapelet.MultiGaussian{}, src.Centroid, cmodel.NewResult(), src.PsfFlux)
		assert.Equal(t, cmodel.NoShapeletPsf, measurementError(t, err).Flag)
		assert.True(t, res.Flags.Has(cmodel.NoShapeletPsf))
	})
}

package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/pkg/fit/model"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/shapelet"
)

func grid(half int) (dx, dy []float64) {
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			dx = append(dx, float64(x))
			dy = append(dy, float64(y))
		}
	}
	return dx, dy
}

func TestParametersRoundTrip(t *testing.T) {
	t.Parallel()

	tcs := map[string]geom.Quadrupole{
		"circle":      geom.NewCircle(2.5),
		"elongated":   {Ixx: 9, Iyy: 1, Ixy: 0},
		"rotated":     {Ixx: 4, Iyy: 3, Ixy: 1.5},
		"small":       {Ixx: 0.01, Iyy: 0.02, Ixy: -0.005},
		"negative xy": {Ixx: 2, Iyy: 5, Ixy: -2},
	}
	for name, q := range tcs {
		q := q
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			params, err := model.ParametersFromEllipse(q)
			require.NoError(t, err)
			got := model.EllipseFromParameters(params)
			assert.InDelta(t, q.Ixx, got.Ixx, 1e-9)
			assert.InDelta(t, q.Iyy, got.Iyy, 1e-9)
			assert.InDelta(t, q.Ixy, got.Ixy, 1e-9)
		})
	}

	_, err := model.ParametersFromEllipse(geom.Quadrupole{})
	assert.ErrorIs(t, err, model.ErrInvalidEllipse)
}

func TestEllipseFromParametersCircle(t *testing.T) {
	t.Parallel()

	q := model.EllipseFromParameters([]float64{0, 0, math.Log(3)})
	assert.InDelta(t, 9.0, q.Ixx, 1e-12)
	assert.InDelta(t, 9.0, q.Iyy, 1e-12)
	assert.InDelta(t, 0.0, q.Ixy, 1e-12)
}

func TestEllipseModelUnitFlux(t *testing.T) {
	t.Parallel()

	m, err := model.NewEllipseModel("exp", 8, 0)
	require.NoError(t, err)
	assert.Equal(t, "exp", m.ProfileName())
	assert.Equal(t, 3, m.NonlinearDim())

	psf := shapelet.NewDoubleGaussian(1.5, 3, 0.1).Normalize()
	params, err := model.ParametersFromEllipse(geom.Quadrupole{Ixx: 4, Iyy: 2.5, Ixy: 0.5})
	require.NoError(t, err)

	dx, dy := grid(60)
	out := make([]float64, len(dx))
	m.Evaluate(psf, params, dx, dy, out)
	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestFixedEllipseModel(t *testing.T) {
	t.Parallel()

	base, err := model.NewEllipseModel("dev", 8, 0)
	require.NoError(t, err)
	fixed := model.NewFixedEllipseModel(base, geom.Quadrupole{})
	assert.Equal(t, 0, fixed.NonlinearDim())
	assert.Equal(t, geom.Quadrupole{}, fixed.Ellipse(nil))

	psf := shapelet.NewDoubleGaussian(2, 4, 0.2).Normalize()
	dx, dy := grid(10)
	got := make([]float64, len(dx))
	fixed.Evaluate(psf, nil, dx, dy, got)
	// a zero-size galaxy renders as the PSF itself
	for k := range got {
		assert.InDelta(t, psf.Evaluate(dx[k], dy[k]), got[k], 1e-12)
	}

	_, err = model.NewEllipseModel("nope", 3, 0)
	assert.ErrorIs(t, err, shapelet.ErrUnknownProfile)
}

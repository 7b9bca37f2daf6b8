package cmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-cmodel/pkg/fit/likelihood"
)

func TestNewLinearFit(t *testing.T) {
	t.Parallel()

	cov := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 4})
	tcs := map[string]struct {
		amplitudes    []float64
		wantErr       bool
		wantFlux      float64
		wantFracDev   float64
		wantUnclipped float64
	}{
		"mixed": {
			amplitudes:    []float64{1, 3},
			wantFlux:      40,
			wantFracDev:   0.75,
			wantUnclipped: 0.75,
		},
		"clipped above one": {
			amplitudes:    []float64{-0.5, 1.5},
			wantFlux:      10,
			wantFracDev:   1,
			wantUnclipped: 1.5,
		},
		"clipped below zero": {
			amplitudes:    []float64{2, -1},
			wantFlux:      10,
			wantFracDev:   0,
			wantUnclipped: -1,
		},
		"zero total": {
			amplitudes: []float64{1, -1},
			wantErr:    true,
		},
		"nan amplitude": {
			amplitudes: []float64{math.NaN(), 1},
			wantErr:    true,
		},
		"infinite amplitude": {
			amplitudes: []float64{math.Inf(1), 1},
			wantErr:    true,
		},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := newLinearFit(likelihood.LinearFit{Amplitudes: tc.amplitudes, Covariance: cov, Objective: 2}, 10)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.wantFlux, got.flux, 1e-12)
			assert.InDelta(t, math.Sqrt(6)*10, got.fluxSigma, 1e-12)
			assert.InDelta(t, tc.wantFracDev, got.fracDev, 1e-12)
			assert.InDelta(t, tc.wantUnclipped, got.fracDevUnclipped, 1e-12)
			assert.InDelta(t, 2.0, got.objective, 0)
		})
	}
}

func TestNewSingleFit(t *testing.T) {
	t.Parallel()

	got, err := newSingleFit(likelihood.AmplitudeFit{Amplitude: 2, Sigma: 0.1}, 3, 10)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.flux, 1e-12)
	assert.InDelta(t, 1.0, got.fluxSigma, 1e-12)
	assert.Zero(t, got.fracDev)
	assert.Zero(t, got.fracDevUnclipped)
	assert.InDelta(t, 3.0, got.objective, 0)

	_, err = newSingleFit(likelihood.AmplitudeFit{Amplitude: math.NaN(), Sigma: math.NaN()}, 0, 10)
	assert.Error(t, err)
}

func TestRecoverApplyKeepsStages(t *testing.T) {
	t.Parallel()

	a := &Algorithm{logger: zap.NewNop()}
	run := func() (res Result, err error) {
		res = NewResult()
		defer a.recoverApply(&res, &err)
		res.Initial.State = StageConverged
		res.Initial.Flux = 12
		var exp *StageResult
		res.Exp = *exp
		return res, nil
	}

	res, err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, Failed, res.Flags)
	assert.Equal(t, StageConverged, res.Initial.State)
	assert.InDelta(t, 12.0, res.Initial.Flux, 0)
	assert.Equal(t, StageNotStarted, res.Exp.State)
}

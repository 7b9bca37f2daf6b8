package optimizer_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/pkg/fit/optimizer"
)

type rosenbrock struct{}

func (rosenbrock) ParameterDim() int { return 2 }
func (rosenbrock) ResidualDim() int  { return 2 }
func (rosenbrock) ComputeResiduals(p, out []float64) {
	out[0] = 10 * (p[1] - p[0]*p[0])
	out[1] = 1 - p[0]
}

// line fits y = a*x + b through points off the line.
type line struct {
	x, y []float64
}

func (l line) ParameterDim() int { return 2 }
func (l line) ResidualDim() int  { return len(l.x) }
func (l line) ComputeResiduals(p, out []float64) {
	for i := range l.x {
		out[i] = l.y[i] - (p[0]*l.x[i] + p[1])
	}
}

type nanObjective struct{}

func (nanObjective) ParameterDim() int { return 1 }
func (nanObjective) ResidualDim() int  { return 1 }
func (nanObjective) ComputeResiduals(_, out []float64) {
	out[0] = math.NaN()
}

type constant struct{}

func (constant) ParameterDim() int { return 0 }
func (constant) ResidualDim() int  { return 1 }
func (constant) ComputeResiduals(_, out []float64) {
	out[0] = 2
}

func TestMinimize(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		obj       optimizer.Objective
		initial   []float64
		want      []float64
		wantValue float64
	}{
		"rosenbrock": {
			obj:       rosenbrock{},
			initial:   []float64{-1.2, 1},
			want:      []float64{1, 1},
			wantValue: 0,
		},
		"linear least squares": {
			obj:       line{x: []float64{0, 1, 2, 3}, y: []float64{1, 2, 5, 6}},
			initial:   []float64{0, 0},
			want:      []float64{1.8, 0.8},
			wantValue: 0.4,
		},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := optimizer.Minimize(tc.obj, tc.initial, optimizer.DefaultControl(), false)
			assert.Equal(t, optimizer.Converged, res.Termination)
			require.Len(t, res.Parameters, len(tc.want))
			for i := range tc.want {
				assert.InDelta(t, tc.want[i], res.Parameters[i], 1e-4)
			}
			assert.InDelta(t, tc.wantValue, res.Objective, 1e-6)
			assert.Positive(t, res.Iterations)
			assert.Nil(t, res.History)
		})
	}
}

func TestMinimizeTerminations(t *testing.T) {
	t.Parallel()

	ctrl := optimizer.DefaultControl()
	ctrl.MaxOuterIterations = 1
	res := optimizer.Minimize(rosenbrock{}, []float64{-1.2, 1}, ctrl, false)
	assert.Equal(t, optimizer.MaxIterations, res.Termination)
	assert.Equal(t, 1, res.Iterations)

	res = optimizer.Minimize(nanObjective{}, []float64{0}, optimizer.DefaultControl(), false)
	assert.Equal(t, optimizer.NumericError, res.Termination)

	res = optimizer.Minimize(rosenbrock{}, []float64{math.Inf(1), 0}, optimizer.DefaultControl(), false)
	assert.Equal(t, optimizer.NumericError, res.Termination)

	res = optimizer.Minimize(constant{}, nil, optimizer.DefaultControl(), false)
	assert.Equal(t, optimizer.Converged, res.Termination)
	assert.InDelta(t, 2.0, res.Objective, 1e-12)
	assert.Zero(t, res.Iterations)

	ctrl = optimizer.DefaultControl()
	ctrl.TrustRegionInitialSize = 1e-6
	ctrl.MinTrustRadiusThreshold = 1e-3
	res = optimizer.Minimize(rosenbrock{}, []float64{-1.2, 1}, ctrl, false)
	assert.Equal(t, optimizer.TrustRegionSmall, res.Termination)
}

func TestMinimizeHistory(t *testing.T) {
	t.Parallel()

	initial := []float64{-1.2, 1}
	res := optimizer.Minimize(rosenbrock{}, initial, optimizer.DefaultControl(), true)
	require.NotEmpty(t, res.History)
	assert.Equal(t, initial, res.History[0].Parameters)
	assert.True(t, res.History[0].Accepted)
	last := res.History[len(res.History)-1]
	assert.Equal(t, res.Iterations, last.Iteration)
	assert.Equal(t, []float64{-1.2, 1}, initial, "initial parameters must not be modified")
}

func TestTerminationString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "converged", optimizer.Converged.String())
	assert.Equal(t, "trust_region_small", optimizer.TrustRegionSmall.String())
	assert.Equal(t, "max_iterations", optimizer.MaxIterations.String())
	assert.Equal(t, "numeric_error", optimizer.NumericError.String())
	assert.Equal(t, "unknown", optimizer.Termination(42).String())
}

func TestControlValidate(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		mutate  func(*optimizer.Control)
		wantErr bool
	}{
		"defaults":          {mutate: func(*optimizer.Control) {}},
		"zero gradient":     {mutate: func(c *optimizer.Control) { c.GradientThreshold = 0 }, wantErr: true},
		"zero trust radius": {mutate: func(c *optimizer.Control) { c.MinTrustRadiusThreshold = 0 }, wantErr: true},
		"no iterations":     {mutate: func(c *optimizer.Control) { c.MaxOuterIterations = 0 }, wantErr: true},
		"shrink too large":  {mutate: func(c *optimizer.Control) { c.TrustRegionShrinkFactor = 1 }, wantErr: true},
		"grow too small":    {mutate: func(c *optimizer.Control) { c.TrustRegionGrowFactor = 1 }, wantErr: true},
	}
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctrl := optimizer.DefaultControl()
			tc.mutate(&ctrl)
			err := ctrl.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, optimizer.ErrInvalidControl)
				return
			}
			assert.NoError(t, err)
		})
	}
}

package optimizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	bisectionIterations = 60
	jacobianStep        = 1e-5
)

// Objective is a vector of residuals whose half sum of squares is minimized.
type Objective interface {
	ParameterDim() int
	ResidualDim() int
	// ComputeResiduals writes the residuals at params into out.
	ComputeResiduals(params, out []float64)
}

// Termination says why the minimizer stopped.
type Termination int

const (
	Converged Termination = iota
	TrustRegionSmall
	MaxIterations
	NumericError
)

func (t Termination) String() string {
	switch t {
	case Converged:
		return "converged"
	case TrustRegionSmall:
		return "trust_region_small"
	case MaxIterations:
		return "max_iterations"
	case NumericError:
		return "numeric_error"
	}
	return "unknown"
}

// Step is one attempted step of the minimizer.
type Step struct {
	Iteration   int       `yaml:"iteration"`
	Parameters  []float64 `yaml:"parameters"`
	Objective   float64   `yaml:"objective"`
	TrustRadius float64   `yaml:"trust_radius"`
	Accepted    bool      `yaml:"accepted"`
}

type Result struct {
	Parameters  []float64
	Objective   float64
	Termination Termination
	Iterations  int
	History     []Step
}

type minimizer struct {
	obj    Objective
	ctrl   Control
	n, m   int
	record bool
	result Result
}

// Minimize runs the trust-region minimizer from initial. It never fails: the
// outcome is reported through Result.Termination.
func Minimize(obj Objective, initial []float64, ctrl Control, recordHistory bool) Result {
	mn := &minimizer{
		obj:    obj,
		ctrl:   ctrl,
		n:      obj.ParameterDim(),
		m:      obj.ResidualDim(),
		record: recordHistory,
	}
	return mn.run(initial)
}

func (mn *minimizer) evaluate(x, r []float64) float64 {
	mn.obj.ComputeResiduals(x, r)
	f := 0.5 * floats.Dot(r, r)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

func (mn *minimizer) push(x []float64, f, radius float64, accepted bool) {
	if !mn.record {
		return
	}
	mn.result.History = append(mn.result.History, Step{
		Iteration:   mn.result.Iterations,
		Parameters:  append([]float64(nil), x...),
		Objective:   f,
		TrustRadius: radius,
		Accepted:    accepted,
	})
}

func (mn *minimizer) finish(x []float64, f float64, t Termination) Result {
	mn.result.Parameters = x
	mn.result.Objective = f
	mn.result.Termination = t
	return mn.result
}

func (mn *minimizer) run(initial []float64) Result {
	x := append([]float64(nil), initial...)
	r := make([]float64, mn.m)
	f := mn.evaluate(x, r)
	radius := mn.ctrl.TrustRegionInitialSize
	mn.push(x, f, radius, true)
	if math.IsNaN(f) || !allFinite(x) {
		return mn.finish(x, f, NumericError)
	}
	if mn.n == 0 {
		return mn.finish(x, f, Converged)
	}

	xt := make([]float64, mn.n)
	rt := make([]float64, mn.m)
	for mn.result.Iterations < mn.ctrl.MaxOuterIterations {
		jac, ok := mn.jacobian(x)
		if !ok {
			return mn.finish(x, f, NumericError)
		}
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(mn.m, r))
		var hess mat.SymDense
		hess.SymOuterK(1, jac.T())

		if mat.Norm(&grad, math.Inf(1)) <= mn.ctrl.GradientThreshold*(1+f) {
			return mn.finish(x, f, Converged)
		}
		mn.result.Iterations++

		accepted := false
		for inner := 0; inner < mn.ctrl.MaxInnerIterations && !accepted; inner++ {
			step, ok := solveTrustRegion(&hess, &grad, radius)
			if !ok {
				return mn.finish(x, f, NumericError)
			}
			var hs mat.VecDense
			hs.MulVec(&hess, step)
			predicted := -(mat.Dot(&grad, step) + 0.5*mat.Dot(step, &hs))

			for i := range xt {
				xt[i] = x[i] + step.AtVec(i)
			}
			ft := mn.evaluate(xt, rt)

			rho := math.Inf(-1)
			if !math.IsNaN(ft) && predicted > 0 {
				rho = (f - ft) / predicted
			}
			stepLength := mat.Norm(step, 2)
			switch {
			case rho > mn.ctrl.TrustRegionGrowReductionRatio &&
				stepLength >= mn.ctrl.TrustRegionGrowStepFraction*radius:
				radius *= mn.ctrl.TrustRegionGrowFactor
			case rho < mn.ctrl.TrustRegionShrinkReductionRatio:
				radius = math.Min(radius, stepLength) * mn.ctrl.TrustRegionShrinkFactor
			}

			if rho > mn.ctrl.StepAcceptanceThreshold {
				accepted = true
				copy(x, xt)
				copy(r, rt)
				f = ft
			}
			mn.push(xt, ft, radius, accepted)
			if radius < mn.ctrl.MinTrustRadiusThreshold {
				return mn.finish(x, f, TrustRegionSmall)
			}
		}
	}
	return mn.finish(x, f, MaxIterations)
}

// jacobian uses central differences; ok is false if any entry is not finite.
func (mn *minimizer) jacobian(x []float64) (*mat.Dense, bool) {
	jac := mat.NewDense(mn.m, mn.n, nil)
	xp := append([]float64(nil), x...)
	rp := make([]float64, mn.m)
	rm := make([]float64, mn.m)
	for j := 0; j < mn.n; j++ {
		h := jacobianStep * (1 + math.Abs(x[j]))
		xp[j] = x[j] + h
		mn.obj.ComputeResiduals(xp, rp)
		xp[j] = x[j] - h
		mn.obj.ComputeResiduals(xp, rm)
		xp[j] = x[j]
		for i := 0; i < mn.m; i++ {
			d := (rp[i] - rm[i]) / (2 * h)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, false
			}
			jac.Set(i, j, d)
		}
	}
	return jac, true
}

// solveTrustRegion returns the minimizer of the quadratic model within radius.
// The Gauss-Newton step is used when it fits, otherwise the damping is found
// by bisection so that the step lies on the boundary.
func solveTrustRegion(hess *mat.SymDense, grad *mat.VecDense, radius float64) (*mat.VecDense, bool) {
	n := grad.Len()
	damped := func(lambda float64) (*mat.VecDense, bool) {
		a := mat.NewSymDense(n, nil)
		a.CopySym(hess)
		for i := 0; i < n; i++ {
			a.SetSym(i, i, a.At(i, i)+lambda)
		}
		var chol mat.Cholesky
		if !chol.Factorize(a) {
			return nil, false
		}
		var step mat.VecDense
		if err := chol.SolveVecTo(&step, grad); err != nil {
			return nil, false
		}
		step.ScaleVec(-1, &step)
		return &step, allFinite(step.RawVector().Data)
	}

	if step, ok := damped(0); ok && mat.Norm(step, 2) <= radius {
		return step, true
	}

	// ||s(lambda)|| <= ||g|| / lambda for a positive semi-definite hessian.
	lo, hi := 0.0, mat.Norm(grad, 2)/radius
	best, ok := damped(hi)
	if !ok {
		return nil, false
	}
	for i := 0; i < bisectionIterations; i++ {
		mid := 0.5 * (lo + hi)
		step, ok := damped(mid)
		if !ok || mat.Norm(step, 2) > radius {
			lo = mid
			continue
		}
		hi, best = mid, step
	}
	return best, true
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

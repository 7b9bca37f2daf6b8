package shapelet

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/askiada/go-cmodel/pkg/geom"
)

var ErrUnknownProfile = errors.New("unknown radial profile")

// RadialProfile approximates a circular surface-brightness profile with a
// Gaussian mixture normalized to unit flux and unit half-light radius.
type RadialProfile struct {
	name string
	// default truncation radius in half-light radii, 0 for none
	maxRadius  float64
	amplitudes []float64
	variances  []float64
}

// mixture tables at arbitrary scale; they are rescaled to r_e = 1 on registration
var profiles = map[string]*RadialProfile{
	"gaussian": newRadialProfile("gaussian", 0, []float64{1}, []float64{1}),
	"exp": newRadialProfile("exp", 0,
		[]float64{2.34853813e-03, 3.07995260e-02, 2.23364214e-01, 1.17949102e+00, 4.33873750e+00, 5.99820770e+00},
		[]float64{1.20078965e-03, 8.84526493e-03, 3.91463084e-02, 1.39976817e-01, 4.60962500e-01, 1.50159566e+00},
	),
	"dev": newRadialProfile("dev", 0,
		[]float64{4.26347652e-02, 2.40127183e-01, 6.85907632e-01, 1.51937350e+00, 2.83627243e+00, 4.46467501e+00, 5.72440830e+00, 5.60989349e+00},
		[]float64{2.23759216e-04, 1.00220099e-03, 4.18731126e-03, 1.69432589e-02, 6.84850479e-02, 2.87207080e-01, 1.33320254e+00, 8.40215071e+00},
	),
}

func init() {
	// truncated variants of exp and dev
	profiles["lux"] = profiles["exp"].truncated("lux", 3)
	profiles["luv"] = profiles["dev"].truncated("luv", 4)
}

func newRadialProfile(name string, maxRadius float64, amplitudes, variances []float64) *RadialProfile {
	amps := make([]float64, len(amplitudes))
	copy(amps, amplitudes)
	floats.Scale(1/floats.Sum(amps), amps)
	vars := make([]float64, len(variances))
	copy(vars, variances)
	rh := halfLightRadius(amps, vars)
	floats.Scale(1/(rh*rh), vars)
	return &RadialProfile{name: name, maxRadius: maxRadius, amplitudes: amps, variances: vars}
}

func (p *RadialProfile) truncated(name string, maxRadius float64) *RadialProfile {
	return &RadialProfile{name: name, maxRadius: maxRadius, amplitudes: p.amplitudes, variances: p.variances}
}

// halfLightRadius solves sum_i a_i (1 - exp(-R^2 / 2v_i)) = 1/2 by bisection.
func halfLightRadius(amps, vars []float64) float64 {
	enclosed := func(r float64) float64 {
		var f float64
		for i := range amps {
			f += amps[i] * (1 - math.Exp(-r*r/(2*vars[i])))
		}
		return f
	}
	lo, hi := 0.0, 1.0
	for enclosed(hi) < 0.5 {
		hi *= 2
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		if enclosed(mid) < 0.5 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// GetProfile looks up a registered profile by name.
func GetProfile(name string) (*RadialProfile, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProfile, "profile %q", name)
	}
	return p, nil
}

// ProfileNames returns the registered profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *RadialProfile) Name() string {
	return p.name
}

// Basis returns the profile as at most nComponents circular Gaussians with
// unit total flux and unit half-light radius. Components wider than half the
// truncation radius are dropped; maxRadius <= 0 selects the profile default.
// nComponents <= 0 keeps every component.
func (p *RadialProfile) Basis(nComponents int, maxRadius float64) MultiGaussian {
	if maxRadius <= 0 {
		maxRadius = p.maxRadius
	}
	amps := make([]float64, 0, len(p.amplitudes))
	vars := make([]float64, 0, len(p.variances))
	for i := range p.amplitudes {
		if maxRadius > 0 && len(amps) > 0 && math.Sqrt(p.variances[i]) > 0.5*maxRadius {
			continue
		}
		amps = append(amps, p.amplitudes[i])
		vars = append(vars, p.variances[i])
	}

	for nComponents > 0 && len(amps) > nComponents {
		// merge the adjacent pair closest in width, preserving flux and second moment
		best, bestRatio := 0, math.Inf(1)
		for i := 0; i+1 < len(vars); i++ {
			if ratio := vars[i+1] / vars[i]; ratio < bestRatio {
				best, bestRatio = i, ratio
			}
		}
		a := amps[best] + amps[best+1]
		v := (amps[best]*vars[best] + amps[best+1]*vars[best+1]) / a
		amps = append(amps[:best+1], amps[best+2:]...)
		vars = append(vars[:best+1], vars[best+2:]...)
		amps[best], vars[best] = a, v
	}

	total := floats.Sum(amps)
	basis := MultiGaussian{Components: make([]Component, len(amps))}
	for i := range amps {
		basis.Components[i] = Component{Amplitude: amps[i] / total, Ellipse: geom.NewCircle(math.Sqrt(vars[i]))}
	}
	return basis
}

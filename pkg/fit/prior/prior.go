package prior

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source selects where a stage's prior comes from.
type Source string

const (
	SourceFile   Source = "FILE"
	SourceConfig Source = "CONFIG"
	SourceNone   Source = "NONE"
)

var (
	ErrUnknownSource = errors.New("unknown prior source")
	ErrInvalidConfig = errors.New("invalid prior config")
)

// Prior regularizes the nonlinear parameters (eta1, eta2, ln r). Its negative
// log density, up to a constant, is half the sum of squares of Residuals, so it
// can be appended to the likelihood residual vector.
type Prior interface {
	Name() string
	// Dimension is the number of residuals returned by Residuals.
	Dimension() int
	Residuals(nonlinear []float64) []float64
}

// Config parametrizes the softened-linear prior used when the source is CONFIG.
//
// The ellipticity term is flat up to EllipticityCore and grows linearly beyond
// it; the radius term is a Gaussian in ln r, softened into a linear penalty
// more than LogRadiusSoftening sigmas from the mean.
type Config struct {
	EllipticityCore    float64 `yaml:"ellipticity_core"`
	EllipticitySigma   float64 `yaml:"ellipticity_sigma"`
	LogRadiusMean      float64 `yaml:"log_radius_mean"`
	LogRadiusSigma     float64 `yaml:"log_radius_sigma"`
	LogRadiusSoftening float64 `yaml:"log_radius_softening"`
}

func DefaultConfig() Config {
	return Config{
		EllipticityCore:    1.5,
		EllipticitySigma:   0.5,
		LogRadiusMean:      0,
		LogRadiusSigma:     3,
		LogRadiusSoftening: 3,
	}
}

func (c Config) Validate() error {
	if c.EllipticityCore < 0 {
		return errors.Wrap(ErrInvalidConfig, "ellipticity_core must be >= 0")
	}
	if c.EllipticitySigma <= 0 || c.LogRadiusSigma <= 0 {
		return errors.Wrap(ErrInvalidConfig, "sigmas must be > 0")
	}
	if c.LogRadiusSoftening <= 0 {
		return errors.Wrap(ErrInvalidConfig, "log_radius_softening must be > 0")
	}
	return nil
}

// SoftenedLinear is the prior built from a Config.
type SoftenedLinear struct {
	name string
	cfg  Config
}

func NewSoftenedLinear(name string, cfg Config) (*SoftenedLinear, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SoftenedLinear{name: name, cfg: cfg}, nil
}

func (p *SoftenedLinear) Name() string { return p.name }

func (p *SoftenedLinear) Dimension() int { return 2 }

func (p *SoftenedLinear) Residuals(nonlinear []float64) []float64 {
	eta := math.Hypot(nonlinear[0], nonlinear[1])
	excess := math.Max(0, eta-p.cfg.EllipticityCore) / p.cfg.EllipticitySigma

	z := (nonlinear[2] - p.cfg.LogRadiusMean) / p.cfg.LogRadiusSigma
	if k := p.cfg.LogRadiusSoftening; math.Abs(z) > k {
		// continue with the slope of the quadratic at |z| = k, in residual form
		z = math.Copysign(math.Sqrt(2*k*math.Abs(z)-k*k), z)
	}
	return []float64{excess, z}
}

// New returns the prior for a stage. It returns a nil Prior for SourceNone.
// FILE priors are read from dataDir/<name>.yaml.
func New(source Source, name string, cfg Config, dataDir string) (Prior, error) {
	switch source {
	case SourceNone, "":
		return nil, nil
	case SourceConfig:
		p, err := NewSoftenedLinear("config", cfg)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create prior from config")
		}
		return p, nil
	case SourceFile:
		if name == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "prior name is required for FILE priors")
		}
		p, err := Load(filepath.Join(dataDir, name+".yaml"))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load prior %q", name)
		}
		return p, nil
	default:
		return nil, errors.Wrapf(ErrUnknownSource, "source %q", source)
	}
}

// Load reads a softened-linear prior from a YAML file.
func Load(path string) (*SoftenedLinear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "unable to parse %s", path)
	}
	return NewSoftenedLinear(filepath.Base(path), cfg)
}

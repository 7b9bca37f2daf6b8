// Package config loads the command line configuration file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-cmodel/internal/logging"
	"github.com/askiada/go-cmodel/pkg/cmodel"
)

var ErrInvalidConfig = errors.New("invalid config")

// PipelineConfig configures the batch measurement.
type PipelineConfig struct {
	// Concurrency is the number of sources measured at the same time.
	Concurrency int `yaml:"concurrency"`
	// ParallelStages fits the exp and dev stages of a source concurrently.
	ParallelStages bool   `yaml:"parallel_stages"`
	PriorDataDir   string `yaml:"prior_data_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Textfile is where the Prometheus metrics are written; empty disables them.
	Textfile string `yaml:"textfile"`
}

type OutputConfig struct {
	// SQLite is the catalog database path.
	SQLite string `yaml:"sqlite"`
	// Graph is the DOT file of the annotated stage graph; empty disables it.
	Graph string `yaml:"graph"`
	// Prefix is prepended to every output field name.
	Prefix string `yaml:"prefix"`
}

type Config struct {
	CModel   cmodel.Control `yaml:"cmodel"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Output   OutputConfig   `yaml:"output"`
}

func Default() Config {
	return Config{
		CModel: cmodel.DefaultControl(),
		Pipeline: PipelineConfig{
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			SQLite: "cmodel.db",
			Prefix: "modelfit_CModel",
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "unable to read config %s", path)
	}
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "unable to parse config %s", path)
	}
	err = cfg.Validate()
	if err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.CModel.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Concurrency <= 0 {
		return errors.Wrap(ErrInvalidConfig, "pipeline.concurrency must be positive")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}
	if c.Output.SQLite == "" {
		return errors.Wrap(ErrInvalidConfig, "output.sqlite is required")
	}
	if c.Output.Prefix == "" {
		return errors.Wrap(ErrInvalidConfig, "output.prefix is required")
	}
	return nil
}

// Marshal returns c as YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal config")
	}
	return data, nil
}

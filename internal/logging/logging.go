// Package logging builds the zap logger used by the command line.
package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel accepts the zap level names. An empty level means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return lvl, errors.Wrapf(ErrInvalidLevel, "%q", level)
	}
	return lvl, nil
}

// New returns a production logger at level, or at debug when verbose is set.
func New(level string, verbose bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize logger")
	}
	return logger, nil
}

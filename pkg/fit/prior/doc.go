// Package prior provides the Bayesian priors applied to the nonlinear stage
// fits, selected by source: CONFIG (built from nested parameters), FILE (read
// from a YAML resource) or NONE (no regularization).
package prior

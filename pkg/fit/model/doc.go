// Package model defines the galaxy models fit by each stage. A model turns a
// small vector of nonlinear parameters into a unit-flux image convolved with a
// MultiGaussian PSF; the amplitude is solved separately as a linear parameter.
package model

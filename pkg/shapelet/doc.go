// Package shapelet provides the Gaussian-mixture machinery the fitter convolves
// with: MultiGaussian PSF approximations and a registry of radial profiles
// ("gaussian", "exp", "dev" and their truncated variants "lux" and "luv").
//
// PSF approximations are computed elsewhere; this package only evaluates and
// validates them.
package shapelet

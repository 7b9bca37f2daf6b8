// Package likelihood turns a fit region of a masked image into weighted data
// vectors and solves the linear (amplitude) part of every fit.
package likelihood

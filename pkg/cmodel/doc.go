// Package cmodel measures galaxy fluxes by fitting exponential and de
// Vaucouleurs profiles to a source and combining them linearly.
//
// A measurement runs three nonlinear stages. The initial stage is a coarse fit
// started from the source moments. Its ellipse then sets the final fit region
// for the exp and dev stages, which are independent of each other. A linear
// fit of both fixed models gives the total flux and the dev fraction.
//
// Every call returns a Result, even when it aborts: the flags say why, and
// the stages that completed before the abort are kept. Forced measurements
// reuse the ellipses of a reference Result and fit amplitudes only.
package cmodel

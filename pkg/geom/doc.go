// Package geom provides the pixel geometry used by the fitter: integer boxes,
// quadrupole ellipses and span-based pixel regions.
//
// A Region plays the role of a detection footprint. It is immutable: every
// operation (Union, ClipTo, Dilate, Filter) returns a new Region.
package geom

// Package image holds the pixel containers consumed by the fitter: a Mask with
// named bit planes, a MaskedImage (image, variance and mask over one bbox) and
// an Exposure that also knows the extent of its PSF model.
package image

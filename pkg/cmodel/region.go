package cmodel

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
)

// DetermineInitialFitRegion grows the footprint, optionally adds the PSF
// bbox, and removes bad pixels. The area and bad-pixel budgets are checked
// before any fit runs.
func (a *Algorithm) DetermineInitialFitRegion(mask *image.Mask, footprint geom.Region, psfBBox geom.Box2I) (geom.Region, error) {
	return a.selectRegion(mask, footprint, psfBBox, nil)
}

// DetermineFinalFitRegion is DetermineInitialFitRegion with the initial-fit
// ellipse, scaled by NInitialRadii, added to the region.
func (a *Algorithm) DetermineFinalFitRegion(mask *image.Mask, footprint geom.Region, psfBBox geom.Box2I, ellipse geom.Ellipse) (geom.Region, error) {
	return a.selectRegion(mask, footprint, psfBBox, &ellipse)
}

func (a *Algorithm) selectRegion(mask *image.Mask, footprint geom.Region, psfBBox geom.Box2I, ellipse *geom.Ellipse) (geom.Region, error) {
	ctrl := a.ctrl.Region

	bbox := mask.BBox()
	region := footprint.Dilate(ctrl.NGrowFootprint)
	if ctrl.IncludePsfBBox {
		region = region.Union(geom.NewRegionFromBox(psfBBox))
	}
	region = region.ClipTo(bbox)
	if ellipse != nil {
		scaled := geom.Ellipse{Core: ellipse.Core.Scale(ctrl.NInitialRadii), Center: ellipse.Center}
		region = region.Union(geom.NewRegionFromEllipseIn(scaled, bbox))
	}

	area := region.Area()
	if area > ctrl.MaxArea {
		return geom.Region{}, newMeasurementError(MaxArea,
			fmt.Sprintf("fit region area %d exceeds max_area %d", area, ctrl.MaxArea))
	}

	badBits, err := mask.PlaneBitMask(ctrl.BadMaskPlanes...)
	if err != nil {
		return geom.Region{}, errors.Wrap(err, "unable to resolve bad mask planes")
	}
	good := region.Filter(func(x, y int) bool {
		return mask.At(x, y)&badBits == 0
	})
	if area == 0 {
		return geom.Region{}, newMeasurementError(MaxBadPixelFraction, "fit region is empty")
	}
	if bad := float64(area-good.Area()) / float64(area); bad > ctrl.MaxBadPixelFraction {
		return geom.Region{}, newMeasurementError(MaxBadPixelFraction,
			fmt.Sprintf("bad pixel fraction %.3f exceeds max_bad_pixel_fraction %.3f", bad, ctrl.MaxBadPixelFraction))
	}
	return good, nil
}

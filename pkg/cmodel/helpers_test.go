package cmodel_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/internal/synthetic"
	"github.com/askiada/go-cmodel/pkg/cmodel"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/image"
	"github.com/askiada/go-cmodel/pkg/table"
)

// resultCmp compares results up to timing and the live model objects.
var resultCmp = []cmp.Option{
	cmpopts.EquateNaNs(),
	cmpopts.IgnoreFields(cmodel.StageResult{}, "Model", "Prior", "Objective", "Time"),
	cmp.Comparer(func(a, b geom.Region) bool { return a.Equal(b) }),
}

func newScene(profile string, nComponents int) synthetic.Scene {
	return synthetic.Scene{
		Width:    61,
		Height:   61,
		Variance: 1,
		Psf:      synthetic.Psf{Sigma1: 1.5, Sigma2: 3, Ratio: 0.1, KernelRadius: 10},
		Galaxies: []synthetic.Galaxy{{
			ID:          1,
			X:           30,
			Y:           30,
			Flux:        5000,
			Profile:     profile,
			NComponents: nComponents,
			Ellipse:     geom.Quadrupole{Ixx: 4, Iyy: 3, Ixy: 0.5},
		}},
	}
}

// render returns the exposure and the single source of scene.
func render(t *testing.T, scene synthetic.Scene, schema *table.Schema) (*image.Exposure, *table.SourceRecord) {
	t.Helper()
	exposure, err := scene.Render()
	require.NoError(t, err)
	sources, err := scene.Sources(schema)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	return exposure, sources[0]
}

func newAlgorithm(t *testing.T, ctrl cmodel.Control, opts ...cmodel.Option) *cmodel.Algorithm {
	t.Helper()
	alg, err := cmodel.New(ctrl, opts...)
	require.NoError(t, err)
	return alg
}

func apply(alg *cmodel.Algorithm, exposure *image.Exposure, src *table.SourceRecord) (cmodel.Result, error) {
	return alg.Apply(exposure, src.Footprint, src.PsfApprox, src.Centroid, src.Shape, src.PsfFlux)
}

func measurementError(t *testing.T, err error) *cmodel.MeasurementError {
	t.Helper()
	var merr *cmodel.MeasurementError
	require.ErrorAs(t, err, &merr)
	return merr
}

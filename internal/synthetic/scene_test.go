package synthetic_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-cmodel/internal/synthetic"
	"github.com/askiada/go-cmodel/pkg/geom"
	"github.com/askiada/go-cmodel/pkg/table"
)

const sceneYAML = `
width: 41
height: 41
variance: 1
psf:
  sigma1: 1.5
  sigma2: 3
  ratio: 0.1
  kernel_radius: 7
masks:
  - plane: SAT
    x0: 0
    y0: 0
    width: 2
    height: 2
galaxies:
  - id: 1
    x: 20
    y: 20
    flux: 1000
    profile: lux
    n_components: 8
    ellipse: {ixx: 4, iyy: 3, ixy: 0.5}
`

func writeScene(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	s, err := synthetic.Load(writeScene(t, sceneYAML))
	require.NoError(t, err)
	assert.Equal(t, 41, s.Width)
	require.Len(t, s.Galaxies, 1)
	assert.Equal(t, geom.Quadrupole{Ixx: 4, Iyy: 3, Ixy: 0.5}, s.Galaxies[0].Ellipse)
	assert.Equal(t, "SAT", s.Masks[0].Plane)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() synthetic.Scene {
		return synthetic.Scene{
			Width:    10,
			Height:   10,
			Variance: 1,
			Psf:      synthetic.Psf{Sigma1: 1, Sigma2: 2, Ratio: 0.1},
			Galaxies: []synthetic.Galaxy{
				{ID: 1, Profile: "exp", Ellipse: geom.NewCircle(1)},
			},
		}
	}
	tcs := map[string]struct {
		mutate func(*synthetic.Scene)
	}{
		"empty image":     {mutate: func(s *synthetic.Scene) { s.Width = 0 }},
		"no variance":     {mutate: func(s *synthetic.Scene) { s.Variance = 0 }},
		"bad psf":         {mutate: func(s *synthetic.Scene) { s.Psf.Sigma1 = -1 }},
		"bad ellipse":     {mutate: func(s *synthetic.Scene) { s.Galaxies[0].Ellipse = geom.Quadrupole{} }},
		"duplicate id":    {mutate: func(s *synthetic.Scene) { s.Galaxies = append(s.Galaxies, s.Galaxies[0]) }},
		"unknown profile": {mutate: func(s *synthetic.Scene) { s.Galaxies[0].Profile = "sersic" }},
	}
	require.NoError(t, valid().Validate())
	for name, tc := range tcs {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	s, err := synthetic.Load(writeScene(t, sceneYAML))
	require.NoError(t, err)
	exposure, err := s.Render()
	require.NoError(t, err)

	bbox := exposure.BBox()
	total := exposure.Sum(geom.NewRegionFromBox(bbox))
	assert.InDelta(t, 1000, total, 5)
	assert.Equal(t, 1.0, exposure.Variance(3, 3))
	assert.Greater(t, exposure.Image(20, 20), exposure.Image(25, 20))

	sat, err := exposure.Mask().PlaneBitMask("SAT")
	require.NoError(t, err)
	assert.Equal(t, sat, exposure.Mask().At(1, 1))
	assert.Zero(t, exposure.Mask().At(2, 2))
}

func TestRenderNoiseIsSeeded(t *testing.T) {
	t.Parallel()

	s, err := synthetic.Load(writeScene(t, sceneYAML))
	require.NoError(t, err)
	s.NoiseSeed = 7

	a, err := s.Render()
	require.NoError(t, err)
	b, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, a.Image(3, 4), b.Image(3, 4))
	assert.NotZero(t, a.Image(3, 4))
}

func TestSources(t *testing.T) {
	t.Parallel()

	s, err := synthetic.Load(writeScene(t, sceneYAML))
	require.NoError(t, err)
	schema := table.NewSchema()
	sources, err := s.Sources(schema)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	src := sources[0]
	assert.Equal(t, int64(1), src.ID)
	assert.Equal(t, geom.Point2D{X: 20, Y: 20}, src.Centroid)
	assert.True(t, src.Shape.IsValid())
	// moments include the psf, so they are wider than the psf alone
	assert.Greater(t, src.Shape.Ixx, src.PsfApprox.Moments().Ixx)
	assert.True(t, src.Footprint.Contains(20, 20))
	assert.Same(t, schema, src.Record.Schema())
	assert.NoError(t, src.PsfApprox.Validate())
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/catalog"
	"astromorph/internal/config"
	"astromorph/internal/directory"
	"astromorph/internal/fsutil"
	"astromorph/internal/geometry"
	"astromorph/internal/imaging"
	"astromorph/internal/metrics"
	"astromorph/internal/morph"
	"astromorph/internal/sky"
	"astromorph/internal/storage"
	"astromorph/internal/survey"
	"astromorph/internal/target"
	"astromorph/internal/testutil"
)

// bandScale sets the relative brightness of the synthetic scene per band.
var bandScale = map[string]float64{"g": 0.6, "r": 1, "z": 1.4}

type stubSurvey struct {
	fwhm    float64
	scene   func(band string, side int) *imaging.Image
	cutouts int
}

func (s *stubSurvey) Name() string        { return "stub" }
func (s *stubSurvey) PixelScale() float64 { return 1 }
func (s *stubSurvey) Bands() []string     { return []string{"g", "r", "z"} }

func (s *stubSurvey) Cutout(_ context.Context, _ survey.Position, band string, side int) (*imaging.Image, error) {
	s.cutouts++
	return s.scene(band, side), nil
}

func (s *stubSurvey) Preview(context.Context, survey.Position, int) ([]byte, string, error) {
	return nil, "", errors.New("no preview")
}

func (s *stubSurvey) Calibration(_ context.Context, _ survey.Position, _ string, fwhm float64) (survey.Calibration, error) {
	if fwhm <= 0 {
		fwhm = s.fwhm
	}
	return survey.Calibration{FWHM: fwhm, ZeroPoint: 22.5, PixelScale: 1}, nil
}

type stubObjects map[string]directory.Object

func (o stubObjects) Resolve(_ context.Context, t directory.Target) (directory.Object, error) {
	obj, ok := o[t.Name]
	if !ok {
		return directory.Object{}, fmt.Errorf("%w: %s", directory.ErrNotFound, t.Name)
	}
	return obj, nil
}

// oracle is a deterministic engine: flux-weighted centroids and radii
// derived from the segment area, with a fixed Sérsic shape.
type oracle struct {
	n, ellip float64
	fail     bool
	calls    int
}

func (e *oracle) Name() string    { return "oracle" }
func (e *oracle) Available() bool { return true }

func (e *oracle) Analyze(_ context.Context, req morph.Request) ([]morph.Result, error) {
	e.calls++
	if e.fail {
		return nil, fmt.Errorf("%w: oracle refused", morph.ErrMorphologyFailed)
	}
	out := make([]morph.Result, 0, len(req.Labels))
	for _, label := range req.Labels {
		var sx, sy, sw float64
		area := 0
		for y := 0; y < req.Image.Height; y++ {
			for x := 0; x < req.Image.Width; x++ {
				if int(req.SegMap.At(x, y)) != label {
					continue
				}
				area++
				if v := req.Image.At(x, y); v > 0 {
					sx += v * float64(x)
					sy += v * float64(y)
					sw += v
				}
			}
		}
		rad := math.Sqrt(float64(area) / math.Pi)
		r := morph.NaNResult(label)
		r.XCentroid, r.YCentroid = sx/sw, sy/sw
		r.SersicXc, r.SersicYc = r.XCentroid, r.YCentroid
		r.SersicN, r.SersicEllip, r.SersicTheta = e.n, e.ellip, 0
		r.SersicRhalf = 0.5 * rad
		r.R20, r.R50, r.R80 = 0.3*rad, 0.5*rad, 0.8*rad
		r.RHalfEllip, r.RPetroEllip = 0.5*rad, rad
		out = append(out, r)
	}
	return out, nil
}

type galaxy struct {
	amp, reff, n, ellip float64
	dx, dy              float64 // offset from the image center
}

func scene(gals ...galaxy) func(band string, side int) *imaging.Image {
	return func(band string, side int) *imaging.Image {
		img := testutil.Noise(side, side, 100, 1, 7)
		c := float64(side-1) / 2
		for _, g := range gals {
			testutil.AddSersic(img, c+g.dx, c+g.dy, g.amp*bandScale[band], g.reff, g.n, g.ellip, 0)
		}
		return img
	}
}

var disk = galaxy{amp: 100, reff: 15, n: 1, ellip: 0.2}

const galName = "NGC4030"

var target4030 = directory.Target{Name: galName}

func testParams() config.Params {
	p := config.DefaultParams()
	// 20% of the 288 pixel cutout at 50 kpc and 5000 km/s
	p.Sky.BoxX, p.Sky.BoxY = 48, 48
	return p
}

type fixture struct {
	pipe   *Pipeline
	survey *stubSurvey
	engine *oracle
	rec    *catalog.Recorder
	store  *storage.Store
	layout fsutil.Layout
}

func newFixture(t *testing.T, params config.Params, scn func(string, int) *imaging.Image, diagnostics bool) *fixture {
	t.Helper()
	return newFixtureWithEngine(t, params, scn, diagnostics, "oracle")
}

// newFixtureWithEngine measures with the named engine; "oracle" is the stub,
// anything else must be registered by morph.NewManager.
func newFixtureWithEngine(t *testing.T, params config.Params, scn func(string, int) *imaging.Image, diagnostics bool, engine string) *fixture {
	t.Helper()
	dir := t.TempDir()
	layout := fsutil.NewLayout(dir, "fits_images", "images")
	store, err := storage.New(filepath.Join(dir, "astromorph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec, err := catalog.NewRecorder(filepath.Join(dir, "properties.dat"), store, nil)
	require.NoError(t, err)

	f := &fixture{
		survey: &stubSurvey{fwhm: 1.2, scene: scn},
		engine: &oracle{n: 1, ellip: 0.2},
		rec:    rec,
		store:  store,
		layout: layout,
	}
	engines := morph.NewManager(nil, nil)
	if engine == "oracle" {
		engines.Register(f.engine)
	}
	params.Morph.Engine = engine

	objects := stubObjects{
		galName: {Name: galName, RADeg: 180.0984, DecDeg: -1.1002, RadVel: 5000, Redshift: math.NaN(), Mag: 11.2},
		"NoVel": {Name: "NoVel", RADeg: 10, DecDeg: 10, RadVel: math.NaN(), Redshift: math.NaN(), Mag: 14},
	}
	f.pipe, err = New(params, Options{
		Survey:      f.survey,
		Objects:     objects,
		Layout:      layout,
		Engines:     engines,
		Recorder:    rec,
		Store:       store,
		Metrics:     metrics.New(),
		Diagnostics: diagnostics,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) assertFlags(t *testing.T, key string, want map[string]float64) {
	t.Helper()
	for _, col := range catalog.FatalFlags {
		assert.Equal(t, want[col], f.rec.Float(key, col), "%s %s", key, col)
	}
}

func TestIsolatedDiskIsClean(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), true)
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	require.False(t, out.Failed())

	key := galName + "r"
	assert.Equal(t, []string{key}, out.Keys)
	assert.Equal(t, "oracle", out.Engine)
	f.assertFlags(t, key, nil)
	assert.Greater(t, f.rec.Float(key, "ratio_segmap_psf"), 10.0)
	assert.Greater(t, f.rec.Float(key, "perc_50_SN_gal"), 5.0)
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_area"))
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_SN"))

	row, ok := f.rec.Row(key)
	require.True(t, ok)
	assert.Equal(t, "Face-on", row["View"])
	assert.Equal(t, galName, row["object"])
	assert.Equal(t, "r", row["band"])
	assert.Equal(t, "stub", row["survey"])
	assert.InDelta(t, 22.5, f.rec.Float(key, "zp_ima"), 1e-9)
	assert.InDelta(t, 1.2, f.rec.Float(key, "psf_arcsec"), 1e-9)
	n := f.rec.Float(key, "Ser_n")
	assert.True(t, n >= 0.8 && n <= 4, "Ser_n %g", n)

	// the Sérsic center sits on the reference pixel
	assert.InDelta(t, 180.0984, f.rec.Float(key, "ra"), 1e-3)
	assert.InDelta(t, -1.1002, f.rec.Float(key, "dec"), 1e-3)

	for _, p := range []string{"cutout", "sky", "sky_sub", "segm", "mask", "fig_sky", "fig_segm", "fig_stat", "fig_model"} {
		assert.True(t, fsutil.Readable(f.productPath(p)), p)
	}

	runs, err := f.store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, out.RunID, runs[0].ID)

	hist, err := f.store.History(key)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "Face-on", hist[0].Cells["View"])
}

// productPath locates a product of the NGC4030 r-band run at 50 kpc.
func (f *fixture) productPath(product string) string {
	switch product {
	case "fig_sky":
		return f.layout.Figure(galName, "r", 50, "sky")
	case "fig_segm":
		return f.layout.Figure(galName, "r", 50, "segm")
	case "fig_stat":
		return f.layout.Figure(galName, "r", 50, "stat")
	case "fig_model":
		return f.layout.Figure(galName, "r", 50, "model")
	case "cutout":
		return f.layout.Cutout(galName, "r", 50)
	}
	return f.layout.Product(galName, "r", 50, product)
}

func TestEdgeOnDisk(t *testing.T) {
	f := newFixture(t, testParams(), scene(galaxy{amp: 100, reff: 15, n: 1, ellip: 0.7}), false)
	f.engine.ellip = 0.7
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	require.False(t, out.Failed())

	key := galName + "r"
	row, _ := f.rec.Row(key)
	assert.Equal(t, "Edge-on", row["View"])
	assert.Greater(t, f.rec.Float(key, "Ser_ellip"), 0.5)
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_area"))
}

func TestStarsAreMaskedAroundTheGalaxy(t *testing.T) {
	params := testParams()
	params.Star.Enabled = true
	base := scene(galaxy{amp: 30, reff: 8, n: 1, ellip: 0.1})
	offsets := [][2]float64{{-30, -25}, {30, -25}, {-30, 25}, {28, 30}, {0, -38}}
	peaks := []float64{400, 200, 150, 800, 120}
	scn := func(band string, side int) *imaging.Image {
		img := base(band, side)
		c := float64(side-1) / 2
		for i, o := range offsets {
			testutil.AddGaussian(img, c+o[0], c+o[1], peaks[i], 3/2.3548)
		}
		return img
	}
	f := newFixture(t, params, scn, false)
	ctx := context.Background()

	run, err := f.pipe.Prepare(ctx, target4030, "r", 50)
	require.NoError(t, err)
	require.NotNil(t, run.Stars)
	assert.GreaterOrEqual(t, imaging.Components(run.Stars.Mask, 1).Max(), 5)
	img := run.Sky.Subtracted
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			if run.Stars.Aperture.Contains(float64(x), float64(y)) {
				require.False(t, run.Stars.Mask.At(x, y), "aperture pixel %d,%d masked", x, y)
			}
		}
	}
	assert.True(t, fsutil.Readable(run.Products["mask_stars"]))

	out, err := run.CommitAuto(ctx)
	require.NoError(t, err)
	key := galName + "r"
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_object"))
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_statmorph"))
	cx, cy := img.Width/2, img.Height/2
	assert.Equal(t, int(run.Seg.Labels.At(cx, cy)), out.Results[0].Label)
	row, _ := f.rec.Row(key)
	assert.Equal(t, "on", row["mask_stars"])
}

func TestTinySourceRaisesAreaFlag(t *testing.T) {
	params := testParams()
	params.PSF = 10
	params.Seg.AreaMin = 2
	scn := func(band string, side int) *imaging.Image {
		img := testutil.Noise(side, side, 100, 1, 7)
		c := float64(side-1) / 2
		testutil.AddGaussian(img, c, c, 30, 2.5)
		return img
	}
	f := newFixture(t, params, scn, false)
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	require.False(t, out.Failed())
	assert.Equal(t, StatusFlagged, out.Status)

	key := galName + "r"
	assert.Less(t, f.rec.Float(key, "ratio_segmap_psf"), 3.0)
	assert.Equal(t, 1.0, f.rec.Float(key, "flag_area"))
	f.assertFlags(t, key, nil)
	assert.InDelta(t, 10, f.rec.Float(key, "psf_arcsec"), 1e-9)
	assert.False(t, math.IsNaN(f.rec.Float(key, "Ser_n")))
}

func TestOversizedSkyBoxRaisesBackgroundFlag(t *testing.T) {
	params := testParams()
	params.Sky.BoxX, params.Sky.BoxY = 144, 144
	f := newFixture(t, params, scene(disk), false)
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.Equal(t, "flag_bck", out.Flag)
	assert.ErrorIs(t, out.Err, sky.ErrBackgroundFailed)
	assert.Equal(t, StatusFailed, out.Status)

	key := galName + "r"
	f.assertFlags(t, key, map[string]float64{"flag_bck": 1})
	assert.True(t, math.IsNaN(f.rec.Float(key, "Ser_n")))
	assert.InDelta(t, 180.0984, f.rec.Float(key, "ra"), 1e-9)
	row, _ := f.rec.Row(key)
	assert.Equal(t, catalog.NoValue, row["View"])
	assert.Equal(t, 0, f.engine.calls)

	runs, err := f.store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "background")
}

func TestOffCenterGalaxyCanBeCommittedByLabel(t *testing.T) {
	off := galaxy{amp: 50, reff: 8, n: 1, ellip: 0.1, dx: -80, dy: -80}
	f := newFixture(t, testParams(), scene(off), false)
	ctx := context.Background()

	out, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	assert.Equal(t, "flag_object", out.Flag)
	assert.ErrorIs(t, out.Err, target.ErrNoCentralObject)
	f.assertFlags(t, galName+"r", map[string]float64{"flag_object": 1})

	run, err := f.pipe.Prepare(ctx, target4030, "r", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, f.survey.cutouts, "second prepare reuses the cutout")

	labels, err := imaging.ReadLabelsFITS(run.Products["segm"])
	require.NoError(t, err)
	c := float64(labels.Width-1) / 2
	label := int(labels.At(int(c-80), int(c-80)))
	require.NotZero(t, label)

	_, err = run.Commit(ctx, []int{label + 100}, nil)
	require.ErrorIs(t, err, target.ErrUnknownLabel)
	_, ok := f.rec.Row(galName + "A")
	assert.False(t, ok)

	out, err = run.Commit(ctx, []int{label}, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []string{galName + "A"}, out.Keys)
	f.assertFlags(t, galName+"A", nil)
	assert.False(t, math.IsNaN(f.rec.Float(galName+"A", "Ser_n")))
	assert.InDelta(t, c-80, f.rec.Float(galName+"A", "Ser_xc"), 2)
}

func TestMissingDistanceLeavesNoRow(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	_, err := f.pipe.RunAuto(context.Background(), directory.Target{Name: "NoVel"}, "r", 50)
	require.ErrorIs(t, err, geometry.ErrNoDistance)
	assert.Equal(t, 0, f.rec.Table().Len())
	assert.Equal(t, 0, f.survey.cutouts)

	runs, err := f.store.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusNoDistance, runs[0].Status)
}

func TestUnknownObjectLeavesNoRow(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	_, err := f.pipe.RunAuto(context.Background(), directory.Target{Name: "Nowhere"}, "r", 50)
	require.ErrorIs(t, err, directory.ErrNotFound)
	assert.Equal(t, 0, f.rec.Table().Len())
}

func TestSmallCutoutRaisesImageFlag(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 5)
	require.NoError(t, err)
	assert.Equal(t, "flag_image", out.Flag)
	assert.ErrorIs(t, out.Err, geometry.ErrTooSmall)
	assert.Equal(t, 0, f.survey.cutouts)
	f.assertFlags(t, galName+"r", map[string]float64{"flag_image": 1})
}

func TestEngineFailureRaisesMorphologyFlag(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	f.engine.fail = true
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	assert.Equal(t, "flag_statmorph", out.Flag)
	f.assertFlags(t, galName+"r", map[string]float64{"flag_statmorph": 1})
	assert.True(t, math.IsNaN(f.rec.Float(galName+"r", "Ser_n")))
}

func TestRerunIsReproducible(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	ctx := context.Background()
	_, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	first := f.rec.Float(galName+"r", "Ser_xc")

	_, err = f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, f.survey.cutouts)
	assert.Equal(t, 1, f.rec.Table().Len())
	assert.Equal(t, first, f.rec.Float(galName+"r", "Ser_xc"))
}

func TestRerunClearsEarlierMeasurements(t *testing.T) {
	params := testParams()
	params.PSF = 10
	params.Seg.AreaMin = 2
	scn := func(band string, side int) *imaging.Image {
		img := testutil.Noise(side, side, 100, 1, 7)
		c := float64(side-1) / 2
		testutil.AddGaussian(img, c, c, 30, 2.5)
		return img
	}
	f := newFixture(t, params, scn, false)
	ctx := context.Background()
	key := galName + "r"

	_, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	require.Equal(t, 1.0, f.rec.Float(key, "flag_area"))
	require.NoError(t, f.rec.Update("photometry", key, map[string]any{"mass": 10.4, "g-r": 0.7}))

	// a measured re-run drops photometry of the old fit
	_, err = f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(f.rec.Float(key, "mass")))
	require.NoError(t, f.rec.Update("photometry", key, map[string]any{"mass": 10.4, "g-r": 0.7}))

	f.engine.fail = true
	out, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	require.True(t, out.Failed())

	f.assertFlags(t, key, map[string]float64{"flag_statmorph": 1})
	for _, col := range catalog.AdvisoryFlags {
		assert.Equal(t, 0.0, f.rec.Float(key, col), col)
	}
	for _, col := range []string{"ratio_segmap_psf", "area_segmap_pix", "SN_gal", "ratio_SN_gal",
		"perc_20_SN_gal", "perc_50_SN_gal", "perc_80_SN_gal", "Ser_n", "mass", "g-r", "M*_2Re"} {
		assert.True(t, math.IsNaN(f.rec.Float(key, col)), col)
	}
	assert.InDelta(t, 3, f.rec.Float(key, "flag_area_th"), 1e-9)
	row, _ := f.rec.Row(key)
	assert.Equal(t, catalog.NoValue, row["engine"])
	assert.Equal(t, catalog.NoValue, row["View"])
	assert.Equal(t, galName, row["object"])
	assert.Equal(t, 1, f.rec.Table().Len())
}

func TestNativeEngineMeasuresSersicDisk(t *testing.T) {
	f := newFixtureWithEngine(t, testParams(), scene(disk), false, "native")
	out, err := f.pipe.RunAuto(context.Background(), target4030, "r", 50)
	require.NoError(t, err)
	require.False(t, out.Failed(), "%v", out.Err)
	assert.Equal(t, "native", out.Engine)

	key := galName + "r"
	f.assertFlags(t, key, nil)
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_sersic"))
	n := f.rec.Float(key, "Ser_n")
	assert.True(t, n >= 0.8 && n <= 4, "Ser_n %g", n)
	assert.InDelta(t, 0.2, f.rec.Float(key, "Ser_ellip"), 0.15)
	c := float64(288-1) / 2
	assert.InDelta(t, c, f.rec.Float(key, "Ser_xc"), 2)
	assert.InDelta(t, c, f.rec.Float(key, "Ser_yc"), 2)
	r20, r50, r80 := f.rec.Float(key, "r20"), f.rec.Float(key, "r50"), f.rec.Float(key, "r80")
	assert.Less(t, r20, r50)
	assert.Less(t, r50, r80)
	row, _ := f.rec.Row(key)
	assert.Equal(t, "Face-on", row["View"])
	assert.Equal(t, "native", row["engine"])
}

func TestCancelledRunWritesNothing(t *testing.T) {
	params := testParams()
	params.Sky.BoxX, params.Sky.BoxY = 144, 144
	f := newFixture(t, params, scene(disk), false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.rec.Table().Len())
}

func TestMassAddsColorsAndMass(t *testing.T) {
	f := newFixture(t, testParams(), scene(disk), false)
	ctx := context.Background()
	_, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	key := galName + "r"

	est, err := f.pipe.Mass(ctx, key, nil)
	require.NoError(t, err)
	// g is 0.6 of r inside any aperture
	assert.InDelta(t, -2.5*math.Log10(0.6), est.Color("g", "r"), 0.05)
	assert.InDelta(t, -2.5*math.Log10(0.6), f.rec.Float(key, "g-r"), 0.05)
	assert.InDelta(t, -2.5*math.Log10(1/1.4), f.rec.Float(key, "r-z"), 0.05)
	assert.Greater(t, f.rec.Float(key, "M*_2Re"), 0.0)
	assert.False(t, math.IsNaN(f.rec.Float(key, "mass")))
	assert.Equal(t, 0.0, f.rec.Float(key, "flag_statmorph"))

	_, err = f.pipe.Mass(ctx, "missing", nil)
	assert.Error(t, err)
}

func TestMassRefusesFlaggedRow(t *testing.T) {
	params := testParams()
	params.Sky.BoxX, params.Sky.BoxY = 144, 144
	f := newFixture(t, params, scene(disk), false)
	ctx := context.Background()
	_, err := f.pipe.RunAuto(ctx, target4030, "r", 50)
	require.NoError(t, err)
	_, err = f.pipe.Mass(ctx, galName+"r", nil)
	assert.ErrorContains(t, err, "flag_bck")
}

func TestFailureFlag(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("other"), ""},
		{fmt.Errorf("x: %w", survey.ErrNoImage), "flag_image"},
		{geometry.ErrTooSmall, "flag_image"},
		{fmt.Errorf("x: %w", sky.ErrBackgroundFailed), "flag_bck"},
		{target.ErrNoCentralObject, "flag_object"},
		{fmt.Errorf("x: %w", morph.ErrMorphologyFailed), "flag_statmorph"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FailureFlag(tc.err), "%v", tc.err)
	}
}

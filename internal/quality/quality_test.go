package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
	"astromorph/internal/morph"
)

func square(side, x0, y0, n int, value float64) (*imaging.Image, *imaging.Labels) {
	img := imaging.New(side, side)
	seg := imaging.NewLabels(side, side)
	for y := y0; y < y0+n; y++ {
		for x := x0; x < x0+n; x++ {
			img.Set(x, y, value)
			seg.Set(x, y, 1)
		}
	}
	return img, seg
}

func TestPSFArea(t *testing.T) {
	assert.InDelta(t, math.Pi*4, PSFArea(4), 1e-12)
}

func TestAssessBrightExtended(t *testing.T) {
	img, seg := square(50, 10, 10, 20, 12)
	a := Assess(img, seg, 1, 2, 4, config.DefaultParams().Flag)

	assert.Equal(t, 400.0, a.SegAreaPix)
	assert.InDelta(t, 400/(4*math.Pi), a.AreaRatio, 1e-9)
	assert.Equal(t, 0, a.FlagArea)
	assert.Equal(t, 6.0, a.SNRatio)
	assert.Equal(t, 6.0, a.SN50)
	assert.Equal(t, 0, a.FlagSN)
}

func TestAssessAreaFlag(t *testing.T) {
	// 3x3 segment against a 4 px PSF: ratio 9/12.57 < 3
	img, seg := square(30, 5, 5, 3, 100)
	a := Assess(img, seg, 1, 1, 4, config.DefaultParams().Flag)
	assert.Equal(t, 1, a.FlagArea)
	assert.Equal(t, 0, a.FlagSN)
}

func TestAssessSNFlagUsesPercentile(t *testing.T) {
	img, seg := square(30, 0, 0, 10, 1)
	// top 30% of the segment is bright
	for i := 70; i < 100; i++ {
		img.Pix[(i/10)*30+i%10] = 50
	}
	cfg := config.DefaultParams().Flag
	a := Assess(img, seg, 1, 1, 2, cfg)
	assert.Equal(t, 1, a.FlagSN)

	cfg.SNPercentile = 80
	a = Assess(img, seg, 1, 1, 2, cfg)
	assert.Equal(t, 0, a.FlagSN)
	assert.Equal(t, 80.0, a.SNPercentile)
}

func TestAssessMissingLabel(t *testing.T) {
	img, seg := square(20, 0, 0, 5, 10)
	a := Assess(img, seg, 7, 1, 2, config.DefaultParams().Flag)
	assert.Equal(t, 0.0, a.SegAreaPix)
	assert.Equal(t, 1, a.FlagArea)
	assert.Equal(t, 1, a.FlagSN)
}

func TestView(t *testing.T) {
	assert.Equal(t, FaceOn, View(0))
	assert.Equal(t, FaceOn, View(0.5))
	assert.Equal(t, EdgeOn, View(0.51))
	assert.Equal(t, Unknown, View(math.NaN()))

	r := morph.NaNResult(1)
	r.SersicEllip = 0.8
	f := Combine(Assessment{FlagArea: 1}, r)
	assert.Equal(t, EdgeOn, f.View)
	assert.Equal(t, 1, f.Area)
	assert.Equal(t, "--", Flags{}.Cells()["View"])
}

func TestEmptyCellsCoverAssessment(t *testing.T) {
	empty := EmptyCells(3, 3, 50)
	full := Assessment{}.Cells(3, 3)
	assert.Len(t, empty, len(full))
	for k := range full {
		assert.Contains(t, empty, k)
	}
	assert.Equal(t, 0, empty["flag_area"])
	assert.Equal(t, 0, empty["flag_SN"])
	assert.Equal(t, 50.0, empty["perc_SN_flag"])
	assert.True(t, math.IsNaN(empty["SN_gal"].(float64)))
	assert.True(t, math.IsNaN(empty["ratio_segmap_psf"].(float64)))
}

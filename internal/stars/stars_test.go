package stars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
	"astromorph/internal/testutil"
)

func starConfig() config.StarConfig {
	cfg := config.DefaultParams().Star
	cfg.Enabled = true
	return cfg
}

func contaminatedField() *imaging.Image {
	img := testutil.Noise(160, 160, 0, 1, 11)
	testutil.AddSersic(img, 79.5, 79.5, 30, 8, 1, 0.2, 0)
	sigma := 3.0 / 2.3548
	for _, p := range [][3]float64{{20, 20, 400}, {140, 25, 200}, {30, 130, 150}, {135, 140, 800}, {80, 20, 120}} {
		testutil.AddGaussian(img, p[0], p[1], p[2], sigma)
	}
	return img
}

func TestMaskFindsStarsOutsideAperture(t *testing.T) {
	img := contaminatedField()
	cfg := starConfig()

	res, err := Mask(img, 1, cfg)
	require.NoError(t, err)
	require.Len(t, res.Stars, 5)

	// five disjoint masked regions
	regions := imaging.Components(res.Mask, 1)
	assert.Equal(t, 5, regions.Max())

	for _, p := range [][2]int{{20, 20}, {140, 25}, {30, 130}, {135, 140}, {80, 20}} {
		assert.True(t, res.Mask.At(p[0], p[1]), "star at %v not masked", p)
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			if res.Aperture.Contains(float64(x), float64(y)) {
				require.False(t, res.Mask.At(x, y))
			}
		}
	}
}

func TestNoStarsGivesEmptyMask(t *testing.T) {
	img := testutil.Noise(80, 80, 0, 1, 12)
	res, err := Mask(img, 1, starConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Stars)
	assert.Equal(t, 0, res.Mask.Count())
}

func TestStarInsideApertureIsIgnored(t *testing.T) {
	img := testutil.Noise(80, 80, 0, 1, 13)
	testutil.AddGaussian(img, 42, 40, 500, 3.0/2.3548)
	cfg := starConfig()
	cfg.AperCenter = 10

	res, err := Mask(img, 1, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Stars)
	assert.Equal(t, 0, res.Mask.Count())
}

func TestRadiiScaling(t *testing.T) {
	c := []Candidate{{Peak: 100}, {Peak: 400}, {Peak: 1600}}
	assert.Equal(t, []float64{5, 5, 10}, Radii(c, 5, 0.5))
	assert.Equal(t, []float64{5, 5, 5}, Radii(c, 5, 0))

	// a single star collapses to the base radius
	assert.Equal(t, []float64{5}, Radii([]Candidate{{Peak: 900}}, 5, 0.5))
}

func TestApertureEllipse(t *testing.T) {
	a := Aperture{X: 0, Y: 0, Radius: 10, Ellip: 0.5, PA: 90}
	assert.True(t, a.Contains(0, 9))
	assert.False(t, a.Contains(9, 0))
	assert.True(t, a.Contains(4, 0))
}

func TestMaskRejectsBadInput(t *testing.T) {
	img := testutil.Noise(40, 40, 0, 1, 14)
	_, err := Mask(img, 0, starConfig())
	assert.Error(t, err)
	cfg := starConfig()
	cfg.FWHM = 0
	_, err = Mask(img, 1, cfg)
	assert.Error(t, err)
}

package sky

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/config"
	"astromorph/internal/testutil"
)

func galaxyField() (w, h int, sigma float64) {
	return 200, 200, 2.0
}

func TestMaskSourcesSubtractsSky(t *testing.T) {
	w, h, sigma := galaxyField()
	img := testutil.Noise(w, h, 100, sigma, 1)
	testutil.AddSersic(img, 99.5, 99.5, 40, 12, 1, 0.3, 0.4)

	cfg := config.DefaultParams().Sky
	cfg.BoxX, cfg.BoxY = 40, 40

	m, err := Estimate(img, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.SkyMaskSources, m.Method)
	assert.InDelta(t, sigma, m.RMS, 0.2)
	assert.InDelta(t, 100, m.Median, 0.5)
	assert.Greater(t, m.SourceMask.Count(), 0)
	assert.True(t, m.SourceMask.At(100, 100))

	// zero-mean residual over unmasked pixels
	var sum float64
	var n int
	for i, v := range m.Subtracted.Pix {
		if !m.SourceMask.Bits[i] {
			sum += v
			n++
		}
	}
	assert.Less(t, math.Abs(sum/float64(n)), m.RMS)
	assert.Equal(t, img.Width, m.Background.Width)
	assert.Equal(t, img.Height, m.Background.Height)
}

func TestBox2DUsesMedianTileRMS(t *testing.T) {
	w, h, sigma := galaxyField()
	img := testutil.Noise(w, h, 10, sigma, 2)

	cfg := config.DefaultParams().Sky
	cfg.Method = config.SkyBox2D
	cfg.BoxX, cfg.BoxY = 25, 25

	m, err := Estimate(img, cfg)
	require.NoError(t, err)
	assert.Nil(t, m.SourceMask)
	assert.InDelta(t, sigma, m.RMS, 0.2)
	assert.InDelta(t, 10, m.Median, 0.3)
}

func TestOversizedBoxFails(t *testing.T) {
	img := testutil.Noise(100, 100, 0, 1, 3)
	cfg := config.DefaultParams().Sky
	cfg.BoxX, cfg.BoxY = 50, 50 // half of the side

	_, err := Estimate(img, cfg)
	assert.True(t, errors.Is(err, ErrBackgroundFailed))

	cfg.BoxX, cfg.BoxY = 20, 20 // exactly 0.2 is allowed
	_, err = Estimate(img, cfg)
	assert.NoError(t, err)
}

func TestFlatImageFails(t *testing.T) {
	img := testutil.Noise(100, 100, 5, 0, 4)
	cfg := config.DefaultParams().Sky
	cfg.BoxX, cfg.BoxY = 20, 20
	_, err := Estimate(img, cfg)
	assert.ErrorIs(t, err, ErrBackgroundFailed)
}

func TestNormalizedClips(t *testing.T) {
	img := testutil.Noise(100, 100, 5, 1, 5)
	cfg := config.DefaultParams().Sky
	cfg.BoxX, cfg.BoxY = 20, 20
	m, err := Estimate(img, cfg)
	require.NoError(t, err)
	n := m.Normalized(0.5)
	for _, v := range n.Pix {
		require.LessOrEqual(t, math.Abs(v), 0.5)
	}
}

package photometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/imaging"
)

func flat(w, h int, v float64) *imaging.Image {
	img := imaging.New(w, h)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func inside(ap Aperture, w, h int) int {
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ap.Contains(float64(x), float64(y)) {
				n++
			}
		}
	}
	return n
}

func TestApertureShape(t *testing.T) {
	ap := EffectiveAperture(25, 25, 5, 0.5, 0, 2)
	assert.Equal(t, 10.0, ap.SMA)
	assert.True(t, ap.Contains(34, 25))
	assert.False(t, ap.Contains(25, 31))

	rot := EffectiveAperture(25, 25, 5, 0.5, math.Pi/2, 2)
	assert.True(t, rot.Contains(25, 34))
	assert.False(t, rot.Contains(31, 25))

	assert.False(t, EffectiveAperture(25, 25, math.NaN(), 0.2, 0, 2).Valid())
	assert.False(t, EffectiveAperture(25, 25, 3, 1, 0, 2).Valid())
}

func TestFluxSkipsMaskedAndNaN(t *testing.T) {
	img := flat(50, 50, 2)
	img.Set(25, 25, math.NaN())
	mask := imaging.NewMask(50, 50)
	mask.Set(26, 25, true)
	ap := EffectiveAperture(25, 25, 4, 0, 0, 2)

	n := inside(ap, 50, 50)
	assert.InDelta(t, 2*float64(n-2), Flux(img, mask, ap), 1e-9)
	assert.InDelta(t, 2*float64(n-1), Flux(img, nil, ap), 1e-9)
}

func TestMeasureMassFormula(t *testing.T) {
	ap := EffectiveAperture(30, 30, 6, 0.3, 0.4, 2)
	n := float64(inside(ap, 60, 60))
	images := map[string]*imaging.Image{
		"g": flat(60, 60, 1),
		"r": flat(60, 60, 2),
		"z": flat(60, 60, 3),
	}
	const zp, dist = 22.5, 20.0

	e, err := Measure(images, nil, ap, zp, dist)
	require.NoError(t, err)

	magR := -2.5*math.Log10(2*n) + zp
	magZ := -2.5*math.Log10(3*n) + zp
	absZ := magZ - 5*math.Log10(dist*1e6) + 5
	want := math.Pow(10, (4.50-absZ)/2.5) * math.Pow(10, -0.041+0.463*(magR-magZ))

	assert.InDelta(t, magR, e.Mag["r"], 1e-12)
	assert.InDelta(t, want, e.Mass, want*1e-12)
	assert.InDelta(t, 2.5*math.Log10(2), e.Color("g", "r"), 1e-12)

	cells := e.Cells()
	assert.InDelta(t, math.Log10(want), cells["mass"].(float64), 1e-12)
	assert.InDelta(t, absZ, cells["Mz_2Re"].(float64), 1e-12)
}

func TestMissingBandLeavesNaN(t *testing.T) {
	ap := EffectiveAperture(20, 20, 4, 0, 0, 2)
	e, err := Measure(map[string]*imaging.Image{"g": flat(40, 40, 1), "r": flat(40, 40, 1)}, nil, ap, 22.5, 10)
	require.NoError(t, err)
	cells := e.Cells()
	assert.True(t, math.IsNaN(cells["mag_z_2Re"].(float64)))
	assert.True(t, math.IsNaN(cells["r-z"].(float64)))
	assert.True(t, math.IsNaN(cells["mass"].(float64)))
	assert.False(t, math.IsNaN(cells["g-r"].(float64)))

	_, err = Measure(nil, nil, ap, 22.5, 0)
	assert.Error(t, err)
}

func TestEmptyCellsAreNaN(t *testing.T) {
	cells := EmptyCells()
	assert.Contains(t, cells, "mass")
	assert.Contains(t, cells, "mag_z_2Re")
	for k, v := range cells {
		assert.True(t, math.IsNaN(v.(float64)), k)
	}
}

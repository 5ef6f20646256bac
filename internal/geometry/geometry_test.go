package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesSide(t *testing.T) {
	g, err := New(50, 5000, 0.27, 10, 20)
	require.NoError(t, err)

	assert.InDelta(t, 71.428571, g.Distance, 1e-5)
	assert.InDelta(t, 0.346293, g.KpcPerArcsec, 1e-5)
	assert.Equal(t, int(2*50/g.KpcPerArcsec/0.27), g.SidePix)
	assert.Greater(t, g.SidePix, 1000)
	assert.InDelta(t, 10/(g.KpcPerArcsec*g.KpcPerArcsec)/(0.27*0.27), g.AreaMinPix, 1e-9)
}

func TestSideBoundary(t *testing.T) {
	// choose the velocity so the side lands exactly on 30 and just under
	k := 2 * 10.0 / 30 / 0.27 // kpc/arcsec for side = 30
	v := k / (tanArcsec * 1000) * H0
	g, err := New(10, v*0.999999, 0.27, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, g.SidePix)

	_, err = New(10, v*1.04, 0.27, 0, 0)
	assert.True(t, errors.Is(err, ErrTooSmall))
}

func TestNoDistance(t *testing.T) {
	for _, v := range []float64{0, -10, math.NaN(), math.Inf(1)} {
		_, err := New(50, v, 0.27, 0, 0)
		assert.ErrorIs(t, err, ErrNoDistance)
	}
}

func TestRedshiftFallback(t *testing.T) {
	assert.InDelta(t, 0.01, Redshift(math.NaN(), 3000), 1e-12)
	assert.Equal(t, 0.02, Redshift(0.02, 3000))
}

func TestAbsMag(t *testing.T) {
	g := Geometry{Distance: 10e-6} // 10 pc
	assert.InDelta(t, 12.0, g.AbsMag(12.0), 1e-9)
}

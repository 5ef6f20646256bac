package imaging

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFITSRoundTrip(t *testing.T) {
	img := New(7, 5)
	for i := range img.Pix {
		img.Pix[i] = float64(i) * 0.5
	}
	img.Header.Set("OBJECT", "NGC1", "")
	img.Header.SetTAN(7, 5, 10.5, -3.25, 0.27)

	path := filepath.Join(t.TempDir(), "cut.fits")
	require.NoError(t, WriteFITS(path, img))

	got, err := ReadFITS(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Width)
	assert.Equal(t, 5, got.Height)
	assert.Equal(t, img.Pix, got.Pix)

	obj, ok := got.Header.Get("OBJECT")
	require.True(t, ok)
	assert.Equal(t, "NGC1", obj)
}

func TestLabelsAndMaskFITS(t *testing.T) {
	dir := t.TempDir()
	l := NewLabels(4, 3)
	l.Set(1, 1, 2)
	l.Set(3, 2, 1)
	require.NoError(t, WriteLabelsFITS(filepath.Join(dir, "segm.fits"), l))
	back, err := ReadLabelsFITS(filepath.Join(dir, "segm.fits"))
	require.NoError(t, err)
	assert.Equal(t, l.Pix, back.Pix)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, back.Areas())

	m := NewMask(4, 3)
	m.Set(0, 0, true)
	require.NoError(t, WriteMaskFITS(filepath.Join(dir, "mask.fits"), m))
	mb, err := ReadMaskFITS(filepath.Join(dir, "mask.fits"))
	require.NoError(t, err)
	assert.Equal(t, 1, mb.Count())
	assert.True(t, mb.At(0, 0))
}

func TestWCSCenterMapsToReference(t *testing.T) {
	var h Header
	h.SetTAN(101, 101, 150.0, 2.0, 0.27)
	w, ok := h.WCS()
	require.True(t, ok)

	ra, dec := w.PixToWorld(50, 50)
	assert.InDelta(t, 150.0, ra, 1e-9)
	assert.InDelta(t, 2.0, dec, 1e-9)

	// one pixel east is toward smaller x with a negative CD1_1
	ra2, _ := w.PixToWorld(49, 50)
	assert.InDelta(t, 0.27/3600/math.Cos(2*math.Pi/180), ra2-150.0, 1e-9)
}

func TestUnionAndAllZero(t *testing.T) {
	a := NewMask(2, 2)
	a.Set(0, 0, true)
	b := NewMask(2, 2)
	b.Set(1, 1, true)
	u := Union(2, 2, a, nil, b)
	assert.Equal(t, 2, u.Count())

	img := New(3, 3)
	assert.True(t, img.AllZero())
	img.Pix[4] = math.NaN()
	assert.True(t, img.AllZero())
	img.Pix[0] = 1
	assert.False(t, img.AllZero())
}

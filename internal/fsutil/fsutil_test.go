package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutNames(t *testing.T) {
	l := NewLayout("/work", "fits_images", "images")
	assert.Equal(t, "/work/fits_images/NGC_4030_r_50kpc.fits", l.Cutout("NGC 4030", "r", 50))
	assert.Equal(t, "/work/fits_images/NGC_4030_r_50kpc_segm.fits", l.Product("NGC 4030", "r", 50, "segm"))
	assert.Equal(t, "/work/images/fig_NGC_4030_12.5kpc.jpeg", l.Preview("NGC 4030", 12.5, "jpeg"))
	assert.Equal(t, "/work/images/fig_NGC_4030_r_50kpc_sky.png", l.Figure("NGC 4030", "r", 50, "sky"))
	assert.Equal(t, "/work/images/fig_NGC_4030_50kpc_stat.png", l.Figure("NGC 4030", "", 50, "stat"))

	abs := NewLayout("/work", "/data/fits", "images")
	assert.Equal(t, "/data/fits/x_g_10kpc.fits", abs.Cutout("x", "g", 10))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "table.dat")
	require.NoError(t, WriteFileAtomic(path, []byte("a b\n")))
	require.NoError(t, WriteFileAtomic(path, []byte("c d\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c d\n", string(data))
	assert.True(t, Readable(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListTargetFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.txt", "b.csv", "c.fits", "d.LST"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	files, err := ListTargetFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, "", FirstExisting(filepath.Join(dir, "missing")))
}

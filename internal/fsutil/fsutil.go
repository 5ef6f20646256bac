package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout names every product of a run relative to the work directory.
type Layout struct {
	FitsDir   string
	ImagesDir string
}

// NewLayout roots the product directories.
func NewLayout(workDir, fitsDir, imagesDir string) Layout {
	return Layout{
		FitsDir:   resolve(workDir, fitsDir),
		ImagesDir: resolve(workDir, imagesDir),
	}
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// Ensure creates the product directories.
func (l Layout) Ensure() error {
	for _, d := range []string{l.FitsDir, l.ImagesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// SizeTag formats a physical size the way product names carry it.
func SizeTag(sizeKpc float64) string {
	return strconv.FormatFloat(sizeKpc, 'f', -1, 64) + "kpc"
}

// Stem is {name}_{band}_{size}kpc.
func Stem(name, band string, sizeKpc float64) string {
	return fmt.Sprintf("%s_%s_%s", SafeName(name), band, SizeTag(sizeKpc))
}

// Cutout is the cached science image.
func (l Layout) Cutout(name, band string, sizeKpc float64) string {
	return filepath.Join(l.FitsDir, Stem(name, band, sizeKpc)+".fits")
}

// Product is a derived FITS file such as _sky, _sky_sub, _mask_stars or _segm.
func (l Layout) Product(name, band string, sizeKpc float64, suffix string) string {
	return filepath.Join(l.FitsDir, Stem(name, band, sizeKpc)+"_"+suffix+".fits")
}

// Preview is the cached color image; ext is png or jpeg.
func (l Layout) Preview(name string, sizeKpc float64, ext string) string {
	return filepath.Join(l.ImagesDir, fmt.Sprintf("fig_%s_%s.%s", SafeName(name), SizeTag(sizeKpc), ext))
}

// Figure is a diagnostic plot. Band may be empty for per-object figures.
func (l Layout) Figure(name, band string, sizeKpc float64, suffix string) string {
	stem := "fig_" + SafeName(name)
	if band != "" {
		stem += "_" + band
	}
	return filepath.Join(l.ImagesDir, fmt.Sprintf("%s_%s_%s.png", stem, SizeTag(sizeKpc), suffix))
}

// SafeName replaces characters that cannot appear in file names.
func SafeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}

var listExts = map[string]struct{}{
	".txt": {},
	".lst": {},
	".csv": {},
	".tab": {},
}

// ListTargetFiles returns all target list files under root.
func ListTargetFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsTargetFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// IsTargetFile checks the extension of a batch list.
func IsTargetFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := listExts[ext]
	return ok
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Readable reports whether path exists and is a non-empty regular file.
func Readable(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

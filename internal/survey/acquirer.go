package survey

import (
	"context"
	"fmt"
	"log/slog"

	"astromorph/internal/directory"
	"astromorph/internal/fsutil"
	"astromorph/internal/geometry"
	"astromorph/internal/imaging"
)

// Cutout is an acquired science image and where it lives on disk.
type Cutout struct {
	Image       *imaging.Image
	Path        string
	PreviewPath string // empty when no preview could be obtained
	Cached      bool
}

// Acquirer serves cutouts from the product directories, downloading only
// what is not already there.
type Acquirer struct {
	adapter Adapter
	layout  fsutil.Layout
	log     *slog.Logger
}

func NewAcquirer(a Adapter, layout fsutil.Layout, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{adapter: a, layout: layout, log: logger}
}

// Adapter returns the survey behind the acquirer.
func (a *Acquirer) Adapter() Adapter { return a.adapter }

// Acquire returns the cutout of obj in band covering geom.
func (a *Acquirer) Acquire(ctx context.Context, obj directory.Object, band string, geom geometry.Geometry) (*Cutout, error) {
	if geom.SidePix < geometry.MinSidePix {
		return nil, fmt.Errorf("%w: side %d px below %d", ErrNoImage, geom.SidePix, geometry.MinSidePix)
	}
	if err := a.layout.Ensure(); err != nil {
		return nil, err
	}
	out := &Cutout{Path: a.layout.Cutout(obj.Name, band, geom.SizeKpc)}
	pos := Position{RA: obj.RADeg, Dec: obj.DecDeg}

	if fsutil.Readable(out.Path) {
		img, err := imaging.ReadFITS(out.Path)
		if err == nil {
			if err := usable(img); err != nil {
				return nil, err
			}
			out.Image, out.Cached = img, true
			out.PreviewPath = a.cachedPreview(obj, geom)
			a.log.Debug("cutout from cache", "path", out.Path)
			return out, nil
		}
		a.log.Warn("cached cutout unreadable, downloading again", "path", out.Path, "error", err)
	}

	img, err := a.adapter.Cutout(ctx, pos, band, geom.SidePix)
	if err != nil {
		return nil, fmt.Errorf("acquire %s %s: %w", obj.Name, band, err)
	}
	if err := usable(img); err != nil {
		return nil, err
	}
	if _, ok := img.Header.WCS(); !ok {
		img.Header.SetTAN(img.Width, img.Height, pos.RA, pos.Dec, a.adapter.PixelScale())
	}
	if err := imaging.WriteFITS(out.Path, img); err != nil {
		return nil, fmt.Errorf("cache cutout: %w", err)
	}
	a.log.Info("cutout downloaded", "survey", a.adapter.Name(), "object", obj.Name, "band", band,
		"side", img.Width, "path", out.Path)
	out.Image = img
	out.PreviewPath = a.preview(ctx, obj, pos, geom)
	return out, nil
}

// preview returns the cached or freshly downloaded color image. Failures
// only cost the figure.
func (a *Acquirer) preview(ctx context.Context, obj directory.Object, pos Position, geom geometry.Geometry) string {
	if p := a.cachedPreview(obj, geom); p != "" {
		return p
	}
	data, ext, err := a.adapter.Preview(ctx, pos, geom.SidePix)
	if err != nil {
		a.log.Warn("preview not available", "object", obj.Name, "error", err)
		return ""
	}
	path := a.layout.Preview(obj.Name, geom.SizeKpc, ext)
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		a.log.Warn("preview not saved", "path", path, "error", err)
		return ""
	}
	return path
}

func (a *Acquirer) cachedPreview(obj directory.Object, geom geometry.Geometry) string {
	return fsutil.FirstExisting(
		a.layout.Preview(obj.Name, geom.SizeKpc, "png"),
		a.layout.Preview(obj.Name, geom.SizeKpc, "jpeg"),
	)
}

func usable(img *imaging.Image) error {
	if img == nil || img.AllZero() {
		return fmt.Errorf("%w: empty cutout", ErrNoImage)
	}
	if img.Side() < geometry.MinSidePix {
		return fmt.Errorf("%w: side %d px below %d", ErrNoImage, img.Side(), geometry.MinSidePix)
	}
	return nil
}

// Resolver picks the PSF FWHM: an explicit value first, then the per-band
// override from the configuration, then the survey lookup.
type Resolver struct {
	adapter  Adapter
	userFWHM map[string]float64
	log      *slog.Logger
}

func NewResolver(a Adapter, userFWHM map[string]float64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{adapter: a, userFWHM: userFWHM, log: logger}
}

// Resolve returns the calibration of band at pos. fwhm > 0 overrides.
func (r *Resolver) Resolve(ctx context.Context, pos Position, band string, fwhm float64) (Calibration, error) {
	source := "user"
	if fwhm <= 0 {
		fwhm = r.userFWHM[band]
		source = "config"
	}
	if fwhm <= 0 {
		source = r.adapter.Name()
	}
	c, err := r.adapter.Calibration(ctx, pos, band, fwhm)
	if err != nil {
		return Calibration{}, fmt.Errorf("calibration %s %s: %w", r.adapter.Name(), band, err)
	}
	r.log.Info("calibration", "survey", r.adapter.Name(), "band", band, "fwhm", c.FWHM,
		"zp", c.ZeroPoint, "scale", c.PixelScale, "field", c.Field, "fwhm_source", source)
	return c, nil
}

package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/google/uuid"

	"astromorph/internal/catalog"
	"astromorph/internal/directory"
	"astromorph/internal/fsutil"
	"astromorph/internal/geometry"
	"astromorph/internal/imaging"
	"astromorph/internal/photometry"
	"astromorph/internal/render"
	"astromorph/internal/sky"
)

// apertureFactor scales the Sérsic half-light radius for the mass aperture.
const apertureFactor = 2

// Mass measures key's Sérsic aperture, scaled to 2 R_e, in each band and
// adds magnitudes, colors and the stellar mass to the row. Bands that cannot
// be acquired are skipped and keep NaN columns.
func (p *Pipeline) Mass(ctx context.Context, key string, bands []string) (*photometry.Estimate, error) {
	start := time.Now()
	if len(bands) == 0 {
		bands = photometry.Bands
	}
	row, ok := p.recorder.Row(key)
	if !ok {
		return nil, fmt.Errorf("no row %q in %s", key, p.recorder.Table().Path())
	}
	name := row["object"]
	if name == "" || name == catalog.NoValue {
		return nil, fmt.Errorf("row %q does not name its object", key)
	}
	cell := func(c string) float64 { return p.recorder.Float(key, c) }
	for _, f := range catalog.FatalFlags {
		if cell(f) == 1 {
			return nil, fmt.Errorf("row %q has %s set", key, f)
		}
	}
	ap := photometry.EffectiveAperture(cell("Ser_xc"), cell("Ser_yc"), cell("Ser_R"), cell("Ser_ellip"), cell("Ser_theta"), apertureFactor)
	if !ap.Valid() {
		return nil, fmt.Errorf("row %q has no usable Sérsic fit", key)
	}
	zp := cell("zp_ima")
	if math.IsNaN(zp) {
		return nil, fmt.Errorf("row %q has no zero point", key)
	}
	size := cell("size_image_phy_kpc")

	obj, err := p.objects.Resolve(ctx, directory.Target{Name: name})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	geom, err := geometry.New(size, obj.RadVel, p.survey.PixelScale(), p.params.Seg.AreaMin, p.params.Seg.AreaMinDeblend)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	images := make(map[string]*imaging.Image, len(bands))
	for _, b := range bands {
		cut, err := p.acquirer.Acquire(ctx, obj, b, geom)
		if err != nil {
			p.log.Warn("band skipped", "object", name, "band", b, "error", err)
			continue
		}
		m, err := sky.Estimate(cut.Image, p.params.Sky)
		if err != nil {
			p.log.Warn("band skipped", "object", name, "band", b, "error", err)
			continue
		}
		images[b] = m.Subtracted
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%s: no band could be measured", name)
	}

	var mask *imaging.Mask
	if path := p.layout.Product(name, row["band"], size, "mask"); fsutil.Readable(path) {
		if mask, err = imaging.ReadMaskFITS(path); err != nil {
			p.log.Warn("mask unreadable, measuring unmasked", "path", path, "error", err)
			mask = nil
		}
	}

	est, err := photometry.Measure(images, mask, ap, zp, geom.Distance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if err := p.recorder.Update(uuid.NewString(), key, est.Cells()); err != nil {
		return nil, err
	}
	if err := p.recorder.Flush(); err != nil {
		return nil, err
	}

	if ref := referenceImage(images, row["band"]); ref != nil && p.diagnostics {
		path := p.layout.Figure(key, "", size, "2Re")
		lo, hi := render.Percentiles(ref, 50, 99.5)
		e := render.Ellipse{XC: ap.XC, YC: ap.YC, SMA: ap.SMA, Ellip: ap.Ellip, Theta: ap.Theta, Color: color.RGBA{G: 200, A: 255}}
		if err := render.Heatmap(path, "2 Re aperture", ref, lo, hi, e); err != nil {
			p.log.Warn("figure not written", "figure", "2Re", "error", err)
		}
	}
	p.metrics.ObserveStep("mass", time.Since(start))
	p.log.Info("stellar mass", "key", key, "bands", len(images), "log_mass", math.Log10(est.Mass),
		"g-r", est.Color("g", "r"), "r-z", est.Color("r", "z"))
	return est, nil
}

func referenceImage(images map[string]*imaging.Image, band string) *imaging.Image {
	if img, ok := images[band]; ok {
		return img
	}
	for _, b := range photometry.Bands {
		if img, ok := images[b]; ok {
			return img
		}
	}
	return nil
}

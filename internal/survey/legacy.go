package survey

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
)

const (
	legacyScale   = 0.27
	legacyZP      = 22.5
	legacyRetries = 8
)

// Legacy is the DESI Legacy Imaging Surveys DR10 viewer plus the Data Lab
// tractor catalog for the PSF size.
type Legacy struct {
	cfg     config.LegacyConf
	coneDeg float64
	f       *fetcher
}

func NewLegacy(cfg config.LegacyConf, coneArcsec float64, f *fetcher) *Legacy {
	if coneArcsec <= 0 {
		coneArcsec = 2
	}
	if cfg.Layer == "" {
		cfg.Layer = "ls-dr10"
	}
	return &Legacy{cfg: cfg, coneDeg: coneArcsec / 3600, f: f}
}

func (l *Legacy) Name() string        { return "legacy" }
func (l *Legacy) PixelScale() float64 { return legacyScale }
func (l *Legacy) Bands() []string     { return []string{"g", "r", "i", "z"} }

func (l *Legacy) query(pos Position, side int, bands string) url.Values {
	return url.Values{
		"ra":       {strconv.FormatFloat(pos.RA, 'f', -1, 64)},
		"dec":      {strconv.FormatFloat(pos.Dec, 'f', -1, 64)},
		"layer":    {l.cfg.Layer},
		"pixscale": {strconv.FormatFloat(legacyScale, 'f', -1, 64)},
		"bands":    {bands},
		"size":     {strconv.Itoa(side)},
	}
}

func (l *Legacy) Cutout(ctx context.Context, pos Position, band string, side int) (*imaging.Image, error) {
	if err := checkBand(l, band); err != nil {
		return nil, err
	}
	body, err := l.f.get(ctx, l.cfg.CutoutURL, l.query(pos, side, band))
	if err != nil {
		return nil, fmt.Errorf("legacy cutout: %w", err)
	}
	return decodeCutout(body)
}

func (l *Legacy) Preview(ctx context.Context, pos Position, side int) ([]byte, string, error) {
	body, err := l.f.get(ctx, l.cfg.PreviewURL, l.query(pos, side, "grz"))
	if err != nil {
		return nil, "", fmt.Errorf("legacy preview: %w", err)
	}
	return body, "jpeg", nil
}

func (l *Legacy) Calibration(ctx context.Context, pos Position, band string, fwhm float64) (Calibration, error) {
	if err := checkBand(l, band); err != nil {
		return Calibration{}, err
	}
	c := Calibration{FWHM: fwhm, ZeroPoint: legacyZP, PixelScale: legacyScale}
	if fwhm > 0 {
		return c, nil
	}
	v, err := l.psfSize(ctx, pos, band)
	if err != nil {
		return Calibration{}, err
	}
	c.FWHM = v
	return c, nil
}

// psfSize averages psfsize_{band} of the tractor sources around pos,
// doubling the cone until something is found.
func (l *Legacy) psfSize(ctx context.Context, pos Position, band string) (float64, error) {
	col := "psfsize_" + band
	cone := l.coneDeg
	for try := 0; try < legacyRetries; try++ {
		sql := fmt.Sprintf("SELECT ra, dec, %s FROM ls_dr10.tractor WHERE Q3C_RADIAL_QUERY(ra, dec, %.7f, %.7f, %.7f)",
			col, pos.RA, pos.Dec, cone)
		body, err := l.f.post(ctx, l.cfg.TapURL, url.Values{
			"REQUEST": {"doQuery"},
			"LANG":    {"ADQL"},
			"FORMAT":  {"csv"},
			"QUERY":   {sql},
		})
		if err != nil {
			return 0, fmt.Errorf("legacy psf query: %w", err)
		}
		t, err := parseCSV(body)
		if err != nil {
			return 0, fmt.Errorf("legacy psf query: %w", err)
		}
		if !t.has(col) {
			return 0, fmt.Errorf("legacy psf query: response lacks %s", col)
		}
		var sum float64
		var n int
		for i := range t.rows {
			if v := t.float(i, col); !math.IsNaN(v) && v > 0 {
				sum += v
				n++
			}
		}
		if n > 0 {
			return sum / float64(n), nil
		}
		cone *= 2
	}
	return 0, fmt.Errorf("legacy psf query: no tractor sources within %.4f deg", cone/2)
}

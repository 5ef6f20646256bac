package survey

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
)

const (
	sdssScale = 0.4
	sdssZP    = 22.5
)

// sdssSeeingLine is the line of the DR12 fields page holding each band's FWHM.
var sdssSeeingLine = map[string]int{"u": 219, "g": 220, "r": 221, "i": 222, "z": 223}

// sdssSeeing is the survey median used when the fields page cannot be read.
var sdssSeeing = map[string]float64{"u": 1.53, "g": 1.44, "r": 1.32, "i": 1.26, "z": 1.29}

// SDSS fetches DR9 mosaics through SkyView and color previews through hips2fits.
type SDSS struct {
	cfg           config.SDSSConf
	width, height int
	f             *fetcher
}

func NewSDSS(cfg config.SDSSConf, width, height int, f *fetcher) *SDSS {
	if width <= 0 {
		width = 300
	}
	if height <= 0 {
		height = 300
	}
	return &SDSS{cfg: cfg, width: width, height: height, f: f}
}

func (s *SDSS) Name() string        { return "sdss" }
func (s *SDSS) PixelScale() float64 { return sdssScale }
func (s *SDSS) Bands() []string     { return []string{"u", "g", "r", "i", "z"} }

func (s *SDSS) Cutout(ctx context.Context, pos Position, band string, side int) (*imaging.Image, error) {
	if err := checkBand(s, band); err != nil {
		return nil, err
	}
	sizeDeg := float64(side) * sdssScale / 3600
	body, err := s.f.get(ctx, s.cfg.SkyViewURL, url.Values{
		"Position": {fmt.Sprintf("%.7f,%.7f", pos.RA, pos.Dec)},
		"Survey":   {"SDSS" + band},
		"Pixels":   {strconv.Itoa(side)},
		"Size":     {strconv.FormatFloat(sizeDeg, 'f', 6, 64)},
		"Return":   {"FITS"},
	})
	if err != nil {
		return nil, fmt.Errorf("sdss cutout: %w", err)
	}
	return decodeCutout(body)
}

func (s *SDSS) Preview(ctx context.Context, pos Position, side int) ([]byte, string, error) {
	fov := float64(side) * sdssScale / 3600
	body, err := s.f.get(ctx, s.cfg.HipsURL, url.Values{
		"hips":       {"CDS/P/SDSS9/color"},
		"width":      {strconv.Itoa(s.width)},
		"height":     {strconv.Itoa(s.height)},
		"fov":        {strconv.FormatFloat(fov, 'f', 6, 64)},
		"projection": {"TAN"},
		"coordsys":   {"icrs"},
		"ra":         {strconv.FormatFloat(pos.RA, 'f', -1, 64)},
		"dec":        {strconv.FormatFloat(pos.Dec, 'f', -1, 64)},
		"format":     {"png"},
	})
	if err != nil {
		return nil, "", fmt.Errorf("sdss preview: %w", err)
	}
	return body, "png", nil
}

func (s *SDSS) Calibration(ctx context.Context, pos Position, band string, fwhm float64) (Calibration, error) {
	if err := checkBand(s, band); err != nil {
		return Calibration{}, err
	}
	c := Calibration{FWHM: fwhm, ZeroPoint: sdssZP, PixelScale: sdssScale}
	if fwhm > 0 {
		return c, nil
	}
	c.FWHM = sdssSeeing[band]
	body, err := s.f.get(ctx, s.cfg.FieldsURL, url.Values{
		"ra":  {strconv.FormatFloat(pos.RA, 'f', -1, 64)},
		"dec": {strconv.FormatFloat(pos.Dec, 'f', -1, 64)},
	})
	if err != nil {
		return c, nil
	}
	if v, ok := ParseFieldSeeing(body, band); ok {
		c.FWHM = v
	}
	return c, nil
}

// ParseFieldSeeing reads the FWHM of band from a DR12 fields page. The value
// is the text after the first '>' on the band's line.
func ParseFieldSeeing(page []byte, band string) (float64, bool) {
	idx, ok := sdssSeeingLine[band]
	if !ok {
		return 0, false
	}
	lines := strings.Split(strings.ReplaceAll(string(page), "\r\n", "\n"), "\n")
	if idx >= len(lines) {
		return 0, false
	}
	_, rest, found := strings.Cut(lines[idx], ">")
	if !found {
		return 0, false
	}
	if len(rest) > 4 {
		rest = rest[:4]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

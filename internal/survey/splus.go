package survey

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"astromorph/internal/config"
	"astromorph/internal/directory"
	"astromorph/internal/imaging"
)

const (
	splusScale = 0.55
	// fieldRadius bounds the distance to the nearest pointing center, degrees.
	fieldRadius = 1.0
)

// splusFilters maps band names to the column suffixes of the seeing and
// zero-point tables.
var splusFilters = map[string]string{
	"G": "g", "U": "u", "R": "r", "I": "i", "Z": "z",
	"F378": "JO378", "F395": "JO395", "F410": "JO410", "F430": "J430",
	"F515": "J515", "F575": "JO575", "F660": "JO660", "F861": "JO861",
}

// SPLUS serves S-PLUS stamps from a templated URL and calibrations from
// the per-field seeing and zero-point tables.
type SPLUS struct {
	cfg config.SPLUSConf
	f   *fetcher

	once      sync.Once
	loadErr   error
	seeing    *csvTable
	zp        *csvTable
	footprint *csvTable
}

func NewSPLUS(cfg config.SPLUSConf, f *fetcher) *SPLUS {
	return &SPLUS{cfg: cfg, f: f}
}

func (s *SPLUS) Name() string        { return "splus" }
func (s *SPLUS) PixelScale() float64 { return splusScale }
func (s *SPLUS) Bands() []string     { return sortedBands(splusFilters) }

func (s *SPLUS) expand(tmpl string, pos Position, side int, band, field string) string {
	r := strings.NewReplacer(
		"{ra}", strconv.FormatFloat(pos.RA, 'f', -1, 64),
		"{dec}", strconv.FormatFloat(pos.Dec, 'f', -1, 64),
		"{size}", strconv.Itoa(side),
		"{band}", band,
		"{field}", field,
	)
	return r.Replace(tmpl)
}

func (s *SPLUS) authorize(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+s.cfg.Token)
	}
}

func (s *SPLUS) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)
	return s.f.do(req)
}

func (s *SPLUS) Cutout(ctx context.Context, pos Position, band string, side int) (*imaging.Image, error) {
	if err := checkBand(s, band); err != nil {
		return nil, err
	}
	field, _ := s.FieldOf(pos)
	body, err := s.fetch(ctx, s.expand(s.cfg.StampURL, pos, side, band, field))
	if err != nil {
		return nil, fmt.Errorf("splus stamp: %w", err)
	}
	return decodeCutout(body)
}

func (s *SPLUS) Preview(ctx context.Context, pos Position, side int) ([]byte, string, error) {
	if s.cfg.PreviewURL == "" {
		return nil, "", fmt.Errorf("splus preview: no preview url configured")
	}
	body, err := s.fetch(ctx, s.expand(s.cfg.PreviewURL, pos, side, "", ""))
	if err != nil {
		return nil, "", fmt.Errorf("splus preview: %w", err)
	}
	return body, "png", nil
}

func (s *SPLUS) Calibration(ctx context.Context, pos Position, band string, fwhm float64) (Calibration, error) {
	if err := checkBand(s, band); err != nil {
		return Calibration{}, err
	}
	if err := s.loadTables(); err != nil {
		return Calibration{}, err
	}
	field, ok := s.FieldOf(pos)
	if !ok {
		return Calibration{}, fmt.Errorf("splus: no field within %.0f deg of (%.5f, %+.5f)", fieldRadius, pos.RA, pos.Dec)
	}
	f := splusFilters[band]
	c := Calibration{FWHM: fwhm, PixelScale: splusScale, Field: field}

	zrow, ok := findField(s.zp, field)
	if !ok {
		return Calibration{}, fmt.Errorf("splus: field %s missing from zero-point table", field)
	}
	c.ZeroPoint = s.zp.float(zrow, "ZP_"+f)
	if math.IsNaN(c.ZeroPoint) {
		return Calibration{}, fmt.Errorf("splus: no ZP_%s for field %s", f, field)
	}
	if fwhm > 0 {
		return c, nil
	}
	srow, ok := findField(s.seeing, field)
	if !ok {
		return Calibration{}, fmt.Errorf("splus: field %s missing from seeing table", field)
	}
	c.FWHM = s.seeing.float(srow, f+"_FWHM")
	if math.IsNaN(c.FWHM) || c.FWHM <= 0 {
		return Calibration{}, fmt.Errorf("splus: no %s_FWHM for field %s", f, field)
	}
	return c, nil
}

// FieldOf names the pointing whose center is nearest pos, within one degree.
func (s *SPLUS) FieldOf(pos Position) (string, bool) {
	if s.loadTables() != nil {
		return "", false
	}
	t := s.footprint
	name, ok1 := t.column("NAME", "Field")
	ra, ok2 := t.column("RA", "RA_d")
	dec, ok3 := t.column("DEC", "DEC_d")
	if !(ok1 && ok2 && ok3) {
		return "", false
	}
	best, bestSep := -1, math.Inf(1)
	for i := range t.rows {
		r, d := t.float(i, ra), t.float(i, dec)
		if math.IsNaN(r) || math.IsNaN(d) {
			continue
		}
		sep := directory.Separation(pos.RA, pos.Dec, r, d)
		if sep < bestSep {
			best, bestSep = i, sep
		}
	}
	if best < 0 || bestSep > fieldRadius {
		return "", false
	}
	return t.str(best, name), true
}

func (s *SPLUS) loadTables() error {
	s.once.Do(func() {
		load := func(path, what string) *csvTable {
			if s.loadErr != nil {
				return nil
			}
			if path == "" {
				s.loadErr = fmt.Errorf("splus: %s table not configured", what)
				return nil
			}
			t, err := readCSV(path)
			if err != nil {
				s.loadErr = fmt.Errorf("splus %s table: %w", what, err)
			}
			return t
		}
		s.seeing = load(s.cfg.SeeingTable, "seeing")
		s.zp = load(s.cfg.ZPTable, "zero-point")
		s.footprint = load(s.cfg.FootprintTab, "footprint")
	})
	return s.loadErr
}

// findField matches the Field column, retrying with '-' for '_'.
func findField(t *csvTable, field string) (int, bool) {
	col, ok := t.column("Field")
	if !ok {
		return 0, false
	}
	if i, ok := t.find(col, field); ok {
		return i, true
	}
	return t.find(col, strings.ReplaceAll(field, "_", "-"))
}

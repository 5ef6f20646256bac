package directory

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const simbadColumns = `b.main_id, b.ra, b.dec, b.rvz_radvel, b.rvz_redshift, f.flux`

// Simbad queries the SIMBAD TAP service synchronously with JSON output.
type Simbad struct {
	URL     string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewSimbad builds a client paced at perSecond requests.
func NewSimbad(endpoint string, perSecond float64, timeout time.Duration) *Simbad {
	if perSecond <= 0 {
		perSecond = 2
	}
	return &Simbad{
		URL:     endpoint,
		Client:  &http.Client{Timeout: timeout},
		Limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// ByName matches any SIMBAD identifier of the object.
func (s *Simbad) ByName(ctx context.Context, name string) (Object, error) {
	q := fmt.Sprintf(`SELECT TOP 1 %s FROM basic AS b JOIN ident AS i ON i.oidref = b.oid `+
		`LEFT JOIN flux AS f ON f.oidref = b.oid AND f.filter = 'B' WHERE i.id = '%s'`,
		simbadColumns, escapeADQL(name))
	return s.one(ctx, q)
}

// ByPosition returns the nearest galaxy inside the cone.
func (s *Simbad) ByPosition(ctx context.Context, ra, dec, radiusDeg float64) (Object, error) {
	q := fmt.Sprintf(`SELECT TOP 1 %s FROM basic AS b `+
		`LEFT JOIN flux AS f ON f.oidref = b.oid AND f.filter = 'B' `+
		`WHERE CONTAINS(POINT('ICRS', b.ra, b.dec), CIRCLE('ICRS', %.7f, %.7f, %.7f)) = 1 AND b.otype = 'G..' `+
		`ORDER BY DISTANCE(POINT('ICRS', b.ra, b.dec), POINT('ICRS', %.7f, %.7f)) ASC`,
		simbadColumns, ra, dec, radiusDeg, ra, dec)
	return s.one(ctx, q)
}

func (s *Simbad) one(ctx context.Context, adql string) (Object, error) {
	body, err := s.query(ctx, adql)
	if err != nil {
		return Object{}, err
	}
	objs, err := ParseTAP(body)
	if err != nil {
		return Object{}, err
	}
	if len(objs) == 0 {
		return Object{}, ErrNotFound
	}
	return objs[0], nil
}

func (s *Simbad) query(ctx context.Context, adql string) ([]byte, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	form := url.Values{
		"REQUEST": {"doQuery"},
		"LANG":    {"ADQL"},
		"FORMAT":  {"json"},
		"QUERY":   {adql},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simbad query: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("simbad query: status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// ParseTAP decodes a TAP JSON response ({"metadata": [...], "data": [[...]]})
// into objects. Columns are matched by name; nulls become NaN.
func ParseTAP(body []byte) ([]Object, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("simbad: invalid json response")
	}
	res := gjson.ParseBytes(body)
	cols := map[string]int{}
	for i, name := range res.Get("metadata.#.name").Array() {
		cols[strings.ToLower(name.String())] = i
	}
	for _, need := range []string{"main_id", "ra", "dec"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("simbad: response lacks column %s", need)
		}
	}
	num := func(row []gjson.Result, col string) float64 {
		i, ok := cols[col]
		if !ok || i >= len(row) || row[i].Type != gjson.Number {
			return math.NaN()
		}
		return row[i].Float()
	}

	var out []Object
	for _, r := range res.Get("data").Array() {
		row := r.Array()
		out = append(out, Object{
			Name:     strings.TrimSpace(row[cols["main_id"]].String()),
			RADeg:    num(row, "ra"),
			DecDeg:   num(row, "dec"),
			RadVel:   num(row, "rvz_radvel"),
			Redshift: num(row, "rvz_redshift"),
			Mag:      num(row, "flux"),
		})
	}
	return out, nil
}

func escapeADQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

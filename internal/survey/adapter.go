// Package survey downloads cutouts and previews and looks up the PSF and
// photometric zero point of the imaging surveys the pipeline supports.
package survey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
)

var (
	// ErrNoImage means the survey returned nothing usable for the position.
	ErrNoImage = errors.New("no image")
	// ErrUnknownBand means the survey does not observe in the band.
	ErrUnknownBand = errors.New("unknown band")
	// ErrUnknownSurvey means no adapter is registered under the name.
	ErrUnknownSurvey = errors.New("unknown survey")
)

// Position is an ICRS position in degrees.
type Position struct {
	RA, Dec float64
}

// Calibration holds what the morphology stage needs besides pixels.
type Calibration struct {
	FWHM       float64 // arcsec
	ZeroPoint  float64
	PixelScale float64 // arcsec/pixel
	Field      string
}

// Adapter is one imaging survey.
type Adapter interface {
	Name() string
	PixelScale() float64
	Bands() []string
	// Cutout returns a side×side science image centred on pos.
	Cutout(ctx context.Context, pos Position, band string, side int) (*imaging.Image, error)
	// Preview returns a color image and its file extension.
	Preview(ctx context.Context, pos Position, side int) ([]byte, string, error)
	// Calibration resolves FWHM and zero point. A positive fwhm skips the PSF lookup.
	Calibration(ctx context.Context, pos Position, band string, fwhm float64) (Calibration, error)
}

// Names lists the built-in adapters.
func Names() []string {
	return []string{"legacy", "sdss", "splus"}
}

// New builds the named adapter from the survey configuration.
func New(name string, cfg config.SurveyConfig) (Adapter, error) {
	f := newFetcher(cfg)
	switch strings.ToLower(name) {
	case "legacy", "decals":
		return NewLegacy(cfg.Legacy, cfg.SearchConeArcsec, f), nil
	case "sdss":
		return NewSDSS(cfg.SDSS, cfg.PreviewWidth, cfg.PreviewHeight, f), nil
	case "splus":
		return NewSPLUS(cfg.SPLUS, f), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSurvey, name)
}

func checkBand(a Adapter, band string) error {
	for _, b := range a.Bands() {
		if b == band {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no %q band (have %s)", ErrUnknownBand, a.Name(), band, strings.Join(a.Bands(), ","))
}

// fetcher paces every survey request through one token bucket.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
}

func newFetcher(cfg config.SurveyConfig) *fetcher {
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &fetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		header:  http.Header{"User-Agent": {"astromorph"}},
	}
}

func (f *fetcher) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	u := endpoint
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return f.do(req)
}

func (f *fetcher) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

func (f *fetcher) do(req *http.Request) ([]byte, error) {
	if err := f.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	for k, v := range f.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

func decodeCutout(body []byte) (*imaging.Image, error) {
	img, err := imaging.DecodeFITS(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	return img, nil
}

func sortedBands(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

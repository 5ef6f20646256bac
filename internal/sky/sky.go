// Package sky estimates and subtracts the 2-D background of a cutout.
package sky

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
	"astromorph/internal/stats"
)

// ErrBackgroundFailed covers oversized boxes and diverging estimates.
var ErrBackgroundFailed = errors.New("background estimation failed")

// maxBoxFraction bounds the tile side relative to the image side.
const maxBoxFraction = 0.2

const clipSigma = 3.0

// Model is the estimated background of one cutout.
type Model struct {
	Background *imaging.Image
	Subtracted *imaging.Image
	RMS        float64
	Mean       float64
	Median     float64
	Method     string
	// SourceMask is nil for the 2d-box method.
	SourceMask *imaging.Mask
}

// Estimate builds the background model with the configured strategy.
func Estimate(img *imaging.Image, cfg config.SkyConfig) (*Model, error) {
	if cfg.BoxX <= 0 || cfg.BoxY <= 0 {
		return nil, fmt.Errorf("%w: box %dx%d", ErrBackgroundFailed, cfg.BoxX, cfg.BoxY)
	}
	if float64(cfg.BoxX) > maxBoxFraction*float64(img.Width) || float64(cfg.BoxY) > maxBoxFraction*float64(img.Height) {
		return nil, fmt.Errorf("%w: box %dx%d exceeds %.0f%% of %dx%d image",
			ErrBackgroundFailed, cfg.BoxX, cfg.BoxY, maxBoxFraction*100, img.Width, img.Height)
	}

	var (
		m   *Model
		err error
	)
	switch cfg.Method {
	case config.SkyMaskSources, "":
		m, err = maskSources(img, cfg)
	case config.SkyBox2D:
		m, err = box2D(img, cfg)
	default:
		return nil, fmt.Errorf("unknown sky method %q", cfg.Method)
	}
	if err != nil {
		return nil, err
	}
	if math.IsNaN(m.RMS) || math.IsInf(m.RMS, 0) || m.RMS <= 0 {
		return nil, fmt.Errorf("%w: sky rms %g", ErrBackgroundFailed, m.RMS)
	}
	sub, err := img.Sub(m.Background)
	if err != nil {
		return nil, err
	}
	m.Subtracted = sub
	return m, nil
}

// SourceMask thresholds at median + nsigma·std of the clipped image, keeps
// components of at least npixels and dilates them.
func SourceMask(img *imaging.Image, nsigma float64, npixels, dilate int) *imaging.Mask {
	c := stats.SigmaClip(img.Pix, clipSigma, 10)
	thr := c.Median + nsigma*c.Std
	on := imaging.NewMask(img.Width, img.Height)
	for i, v := range img.Pix {
		on.Bits[i] = v > thr
	}
	labels := imaging.Components(on, npixels)
	det := imaging.NewMask(img.Width, img.Height)
	for i, l := range labels.Pix {
		det.Bits[i] = l != 0
	}
	return imaging.Dilate(det, dilate)
}

func maskSources(img *imaging.Image, cfg config.SkyConfig) (*Model, error) {
	mask := SourceMask(img, cfg.NSigma, cfg.NPixels, cfg.DilateSize)

	free := make([]float64, 0, len(img.Pix))
	for i, v := range img.Pix {
		if !mask.Bits[i] {
			free = append(free, v)
		}
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: every pixel is masked", ErrBackgroundFailed)
	}
	global := stats.SigmaClip(free, clipSigma, 5)

	grid := newTileGrid(img.Width, img.Height, cfg.BoxX, cfg.BoxY)
	exclude := cfg.ExcludePercentile / 100
	for ty := 0; ty < grid.ny; ty++ {
		for tx := 0; tx < grid.nx; tx++ {
			vals, total := grid.values(img, mask, tx, ty)
			if total == 0 || float64(total-len(vals))/float64(total) > exclude || len(vals) == 0 {
				grid.set(tx, ty, global.Median, global.Std)
				continue
			}
			c := stats.SigmaClip(vals, clipSigma, 10)
			grid.set(tx, ty, c.Median, c.Std)
		}
	}
	grid.medianFilter()

	return &Model{
		Background: grid.interpolate(),
		RMS:        global.Std,
		Mean:       global.Mean,
		Median:     global.Median,
		Method:     config.SkyMaskSources,
		SourceMask: mask,
	}, nil
}

func box2D(img *imaging.Image, cfg config.SkyConfig) (*Model, error) {
	grid := newTileGrid(img.Width, img.Height, cfg.BoxX, cfg.BoxY)
	for ty := 0; ty < grid.ny; ty++ {
		for tx := 0; tx < grid.nx; tx++ {
			vals, _ := grid.values(img, nil, tx, ty)
			c := stats.SigmaClip(vals, clipSigma, 10)
			grid.set(tx, ty, c.Median, c.Std)
		}
	}
	grid.medianFilter()

	global := stats.SigmaClip(img.Pix, clipSigma, 10)
	return &Model{
		Background: grid.interpolate(),
		RMS:        stats.Median(grid.rms),
		Mean:       global.Mean,
		Median:     stats.Median(grid.level),
		Method:     config.SkyBox2D,
	}, nil
}

// tileGrid holds per-tile background level and rms.
type tileGrid struct {
	w, h       int
	bx, by     int
	nx, ny     int
	level, rms []float64
}

func newTileGrid(w, h, bx, by int) *tileGrid {
	nx := (w + bx - 1) / bx
	ny := (h + by - 1) / by
	return &tileGrid{w: w, h: h, bx: bx, by: by, nx: nx, ny: ny,
		level: make([]float64, nx*ny), rms: make([]float64, nx*ny)}
}

func (g *tileGrid) set(tx, ty int, level, rms float64) {
	g.level[ty*g.nx+tx] = level
	g.rms[ty*g.nx+tx] = rms
}

// values returns the unmasked finite pixels of a tile and its pixel count.
func (g *tileGrid) values(img *imaging.Image, mask *imaging.Mask, tx, ty int) ([]float64, int) {
	x0, y0 := tx*g.bx, ty*g.by
	x1, y1 := min(x0+g.bx, g.w), min(y0+g.by, g.h)
	out := make([]float64, 0, (x1-x0)*(y1-y0))
	total := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			total++
			i := y*g.w + x
			if mask.MaskedAt(i) {
				continue
			}
			if v := img.Pix[i]; !math.IsNaN(v) {
				out = append(out, v)
			}
		}
	}
	return out, total
}

// medianFilter applies a 3x3 median over the tile grid.
func (g *tileGrid) medianFilter() {
	g.level = filter3(g.level, g.nx, g.ny)
	g.rms = filter3(g.rms, g.nx, g.ny)
}

func filter3(src []float64, nx, ny int) []float64 {
	if nx < 3 && ny < 3 {
		return src
	}
	out := make([]float64, len(src))
	buf := make([]float64, 0, 9)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			buf = buf[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= nx || yy >= ny {
						continue
					}
					buf = append(buf, src[yy*nx+xx])
				}
			}
			sort.Float64s(buf)
			n := len(buf)
			if n%2 == 1 {
				out[y*nx+x] = buf[n/2]
			} else {
				out[y*nx+x] = (buf[n/2-1] + buf[n/2]) / 2
			}
		}
	}
	return out
}

// interpolate expands tile levels to pixels bilinearly between tile centers.
func (g *tileGrid) interpolate() *imaging.Image {
	out := imaging.New(g.w, g.h)
	cx := make([]float64, g.nx)
	cy := make([]float64, g.ny)
	for i := range cx {
		x0 := i * g.bx
		cx[i] = (float64(x0) + float64(min(x0+g.bx, g.w)) - 1) / 2
	}
	for j := range cy {
		y0 := j * g.by
		cy[j] = (float64(y0) + float64(min(y0+g.by, g.h)) - 1) / 2
	}
	for y := 0; y < g.h; y++ {
		j0, j1, fy := bracket(cy, float64(y))
		for x := 0; x < g.w; x++ {
			i0, i1, fx := bracket(cx, float64(x))
			v00 := g.level[j0*g.nx+i0]
			v10 := g.level[j0*g.nx+i1]
			v01 := g.level[j1*g.nx+i0]
			v11 := g.level[j1*g.nx+i1]
			top := v00 + fx*(v10-v00)
			bot := v01 + fx*(v11-v01)
			out.Set(x, y, top+fy*(bot-top))
		}
	}
	return out
}

// bracket finds the two centers around p; outside the grid it clamps.
func bracket(centers []float64, p float64) (int, int, float64) {
	n := len(centers)
	if n == 1 || p <= centers[0] {
		return 0, 0, 0
	}
	if p >= centers[n-1] {
		return n - 1, n - 1, 0
	}
	i := sort.SearchFloat64s(centers, p) - 1
	if i < 0 {
		i = 0
	}
	f := (p - centers[i]) / (centers[i+1] - centers[i])
	return i, i + 1, f
}

// Normalized returns background/rms clipped to [-lim, lim] for diagnostics.
func (m *Model) Normalized(lim float64) *imaging.Image {
	out := imaging.New(m.Background.Width, m.Background.Height)
	for i, v := range m.Background.Pix {
		out.Pix[i] = math.Max(-lim, math.Min(lim, v/m.RMS))
	}
	return out
}

// Package render writes the diagnostic figures of a run as PNG heat maps.
package render

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"astromorph/internal/imaging"
)

const panelSize = 5 * vg.Inch

// grid adapts an image to plotter.GridXYZ with values clipped to [lo, hi].
type grid struct {
	img    *imaging.Image
	lo, hi float64
}

func (g grid) Dims() (int, int) { return g.img.Width, g.img.Height }
func (g grid) X(c int) float64  { return float64(c) }
func (g grid) Y(r int) float64  { return float64(r) }
func (g grid) Z(c, r int) float64 {
	v := g.img.At(c, r)
	if math.IsNaN(v) {
		return g.lo
	}
	return math.Max(g.lo, math.Min(g.hi, v))
}

// Ellipse is an outline in pixel coordinates. Theta is radians from +x.
type Ellipse struct {
	XC, YC, SMA, Ellip, Theta float64
	Color                     color.Color
}

// Outline samples the ellipse at n+1 points, closing the curve.
func (e Ellipse) Outline(n int) plotter.XYs {
	pts := make(plotter.XYs, n+1)
	c, s := math.Cos(e.Theta), math.Sin(e.Theta)
	b := e.SMA * (1 - e.Ellip)
	for i := 0; i <= n; i++ {
		t := 2 * math.Pi * float64(i) / float64(n)
		u, v := e.SMA*math.Cos(t), b*math.Sin(t)
		pts[i] = plotter.XY{X: e.XC + u*c - v*s, Y: e.YC + u*s + v*c}
	}
	return pts
}

// Valid reports whether the ellipse can be drawn.
func (e Ellipse) Valid() bool {
	return e.SMA > 0 && !math.IsNaN(e.XC) && !math.IsNaN(e.YC) && !math.IsNaN(e.Ellip) && !math.IsNaN(e.Theta)
}

// Percentiles returns the lo and hi percentiles of the finite pixels.
func Percentiles(img *imaging.Image, lo, hi float64) (float64, float64) {
	vals := make([]float64, 0, len(img.Pix))
	for _, v := range img.Pix {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 1
	}
	sort.Float64s(vals)
	at := func(p float64) float64 {
		return vals[int(math.Round(p/100*float64(len(vals)-1)))]
	}
	a, b := at(lo), at(hi)
	if b <= a {
		b = a + 1
	}
	return a, b
}

// panel builds one heat map plot.
func panel(title string, img *imaging.Image, lo, hi float64, pal palette.Palette, outlines ...Ellipse) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (pix)"
	p.Y.Label.Text = "y (pix)"
	hm := plotter.NewHeatMap(grid{img: img, lo: lo, hi: hi}, pal)
	hm.Min, hm.Max = lo, hi
	p.Add(hm)
	for _, e := range outlines {
		if !e.Valid() {
			continue
		}
		line, err := plotter.NewLine(e.Outline(180))
		if err != nil {
			return nil, fmt.Errorf("outline: %w", err)
		}
		line.Width = vg.Points(1.2)
		if e.Color != nil {
			line.Color = e.Color
		} else {
			line.Color = color.RGBA{R: 255, A: 255}
		}
		p.Add(line)
	}
	p.X.Min, p.X.Max = 0, float64(img.Width)
	p.Y.Min, p.Y.Max = 0, float64(img.Height)
	return p, nil
}

func imagePalette() palette.Palette { return palette.Heat(255, 1) }

// Heatmap writes a single-panel figure of img clipped to [lo, hi].
func Heatmap(path, title string, img *imaging.Image, lo, hi float64, outlines ...Ellipse) error {
	p, err := panel(title, img, lo, hi, imagePalette(), outlines...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := p.Save(panelSize, panelSize, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Row writes several panels side by side.
func Row(path string, plots ...*plot.Plot) error {
	if len(plots) == 0 {
		return fmt.Errorf("no panels")
	}
	c := vgimg.New(vg.Length(len(plots))*panelSize, panelSize)
	dc := draw.New(c)
	tiles := draw.Tiles{Rows: 1, Cols: len(plots), PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align([][]*plot.Plot{plots}, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[0][i])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

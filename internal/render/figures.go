package render

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot/palette"

	"astromorph/internal/imaging"
	"astromorph/internal/morph"
)

// SkyLimit clips background/rms in the sky figure.
const SkyLimit = 0.5

// Sky shows the normalized background model.
func Sky(path string, normalized *imaging.Image) error {
	return Heatmap(path, "background / rms", normalized, -SkyLimit, SkyLimit)
}

// Segmentation shows the label map beside the image it was detected on.
func Segmentation(path string, img *imaging.Image, labels *imaging.Labels) error {
	lo, hi := Percentiles(img, 50, 99.5)
	left, err := panel("image", img, lo, hi, imagePalette())
	if err != nil {
		return err
	}
	lab := imaging.New(labels.Width, labels.Height)
	for i, v := range labels.Pix {
		lab.Pix[i] = float64(v)
	}
	right, err := panel(fmt.Sprintf("segmentation (%d labels)", labels.Max()), lab, 0, float64(max(labels.Max(), 1)), labelPalette(labels.Max()))
	if err != nil {
		return err
	}
	return Row(path, left, right)
}

// Stat overlays the half-light and Petrosian ellipses of each result.
func Stat(path string, img *imaging.Image, results []morph.Result) error {
	lo, hi := Percentiles(img, 50, 99.5)
	var outlines []Ellipse
	for _, r := range results {
		outlines = append(outlines,
			Ellipse{XC: r.XCentroid, YC: r.YCentroid, SMA: r.RHalfEllip, Ellip: r.SersicEllip, Theta: r.SersicTheta, Color: color.RGBA{G: 200, A: 255}},
			Ellipse{XC: r.XCentroid, YC: r.YCentroid, SMA: r.RPetroEllip, Ellip: r.SersicEllip, Theta: r.SersicTheta, Color: color.RGBA{R: 255, A: 255}},
		)
	}
	return Heatmap(path, "morphology apertures", img, lo, hi, outlines...)
}

// Model shows data, the Sérsic model and the residual on a common scale.
func Model(path string, img *imaging.Image, r morph.Result) error {
	model := morph.SersicModel(r, img.Width, img.Height)
	if model == nil {
		return fmt.Errorf("label %d: no usable Sérsic fit", r.Label)
	}
	resid, err := img.Sub(model)
	if err != nil {
		return err
	}
	lo, hi := Percentiles(img, 50, 99.5)
	pal := imagePalette()
	a, err := panel("data", img, lo, hi, pal)
	if err != nil {
		return err
	}
	b, err := panel(fmt.Sprintf("Sérsic n=%.2f", r.SersicN), model, lo, hi, pal)
	if err != nil {
		return err
	}
	rlo, rhi := Percentiles(resid, 1, 99)
	c, err := panel("residual", resid, rlo, rhi, pal)
	if err != nil {
		return err
	}
	return Row(path, a, b, c)
}

// labelPalette gives each label a distinct hue with 0 black.
func labelPalette(n int) palette.Palette {
	n = max(n, 1)
	cols := make([]color.Color, n+1)
	cols[0] = color.Black
	for i := 1; i <= n; i++ {
		h := float64((i*47)%360) / 360
		cols[i] = hsv(h, 0.8, 0.95)
	}
	return fixed(cols)
}

type fixed []color.Color

func (f fixed) Colors() []color.Color { return f }

func hsv(h, s, v float64) color.Color {
	i := int(h * 6)
	f := h*6 - float64(i)
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}

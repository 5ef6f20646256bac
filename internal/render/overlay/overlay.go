// Package overlay draws measurement apertures on the survey color preview
// with ImageMagick.
package overlay

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gopkg.in/gographics/imagick.v3/imagick"

	"astromorph/internal/render"
)

const strokeWidth = 2

// Apertures draws ellipses given in cutout pixel coordinates (origin at the
// bottom-left pixel) over the preview at previewPath and writes a PNG.
func Apertures(previewPath, outPath string, cutW, cutH int, ellipses []render.Ellipse) error {
	if cutW <= 0 || cutH <= 0 {
		return fmt.Errorf("invalid cutout size %dx%d", cutW, cutH)
	}
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImage(previewPath); err != nil {
		return fmt.Errorf("read preview %s: %w", previewPath, err)
	}
	w, h := float64(mw.GetImageWidth()), float64(mw.GetImageHeight())
	sx, sy := w/float64(cutW), h/float64(cutH)

	dw := imagick.NewDrawingWand()
	defer dw.Destroy()
	none := imagick.NewPixelWand()
	defer none.Destroy()
	none.SetColor("none")
	dw.SetFillColor(none)
	dw.SetStrokeWidth(strokeWidth)
	dw.SetStrokeAntialias(true)

	drawn := 0
	for _, e := range ellipses {
		if !e.Valid() {
			continue
		}
		pw := imagick.NewPixelWand()
		pw.SetColor(hex(e.Color))
		dw.SetStrokeColor(pw)
		pts := e.Outline(180)
		coords := make([]imagick.PointInfo, len(pts))
		for i, p := range pts {
			coords[i] = imagick.PointInfo{X: (p.X + 0.5) * sx, Y: h - (p.Y+0.5)*sy}
		}
		dw.Polyline(coords)
		pw.Destroy()
		drawn++
	}
	if drawn > 0 {
		if err := mw.DrawImage(dw); err != nil {
			return fmt.Errorf("draw apertures: %w", err)
		}
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := mw.WriteImage(outPath); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

func hex(c color.Color) string {
	if c == nil {
		return "#ff0000"
	}
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

package pipeline

import (
	"image/color"

	"astromorph/internal/imaging"
	"astromorph/internal/morph"
	"astromorph/internal/render"
	"astromorph/internal/render/overlay"
	"astromorph/internal/segment"
	"astromorph/internal/sky"
	"astromorph/internal/target"
)

func renderSky(path string, m *sky.Model) error {
	return render.Sky(path, m.Normalized(render.SkyLimit))
}

func renderSegmentation(path string, img *imaging.Image, seg *segment.Map) error {
	return render.Segmentation(path, img, seg.Labels)
}

// diagnose draws the per-commit figures: apertures on the science image, the
// Sérsic model of each target and the apertures on the color preview.
func (r *PendingRun) diagnose(sel *target.Selection, results []morph.Result) {
	if !r.p.diagnostics {
		return
	}
	img := r.Sky.Subtracted
	l := r.p.layout
	r.figureAt("stat", l.Figure(r.Object.Name, r.Band, r.SizeKpc, "stat"), func(path string) error {
		return render.Stat(path, img, results)
	})
	for i, res := range results {
		nick := sel.Targets[i].Nickname
		suffix := "model"
		if nick != r.Band {
			suffix += "_" + nick
		}
		r.figureAt("model_"+nick, l.Figure(r.Object.Name, r.Band, r.SizeKpc, suffix), func(path string) error {
			return render.Model(path, img, res)
		})
	}

	preview := r.Products["preview"]
	if preview == "" {
		return
	}
	var ellipses []render.Ellipse
	for _, res := range results {
		ellipses = append(ellipses,
			render.Ellipse{XC: res.XCentroid, YC: res.YCentroid, SMA: res.RHalfEllip, Ellip: res.SersicEllip, Theta: res.SersicTheta, Color: color.RGBA{G: 200, A: 255}},
			render.Ellipse{XC: res.XCentroid, YC: res.YCentroid, SMA: res.RPetroEllip, Ellip: res.SersicEllip, Theta: res.SersicTheta, Color: color.RGBA{R: 255, A: 255}},
		)
	}
	r.figureAt("apertures", l.Figure(r.Object.Name, "", r.SizeKpc, "apertures"), func(path string) error {
		return overlay.Apertures(preview, path, img.Width, img.Height, ellipses)
	})
}

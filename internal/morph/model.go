package morph

import (
	"math"

	"astromorph/internal/imaging"
)

// SersicModel renders the fitted elliptical Sérsic profile of r on a w×h
// grid. It returns nil when the fit is unusable.
func SersicModel(r Result, w, h int) *imaging.Image {
	for _, v := range []float64{r.SersicAmplitude, r.SersicRhalf, r.SersicN, r.SersicXc, r.SersicYc, r.SersicEllip, r.SersicTheta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	}
	if r.SersicRhalf <= 0 || r.SersicN <= 0 || r.SersicEllip < 0 || r.SersicEllip >= 1 {
		return nil
	}
	out := imaging.New(w, h)
	c, s := math.Cos(r.SersicTheta), math.Sin(r.SersicTheta)
	q := 1 - r.SersicEllip
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-r.SersicXc, float64(y)-r.SersicYc
			u := dx*c + dy*s
			v := (-dx*s + dy*c) / q
			out.Pix[y*w+x] = sersicProfile(math.Hypot(u, v), r.SersicAmplitude, r.SersicRhalf, r.SersicN)
		}
	}
	return out
}

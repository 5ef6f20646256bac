// Package segment builds segmentation maps from sky-subtracted images.
package segment

import (
	"fmt"
	"math"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
	"astromorph/internal/stats"
)

// Map is a segmentation map with cached label areas.
type Map struct {
	Labels    *imaging.Labels
	Areas     map[int]int
	Threshold float64
}

// Detect thresholds img at background + snr·σ, ignoring masked pixels, keeps
// 8-connected regions of at least areaMin pixels and optionally deblends them.
func Detect(img *imaging.Image, mask *imaging.Mask, cfg config.SegConfig, areaMin, areaMinDeblend float64) (*Map, error) {
	if cfg.SNR <= 0 {
		return nil, fmt.Errorf("segment: snr must be positive, got %g", cfg.SNR)
	}
	thr, err := Threshold(img, mask, cfg.SNR)
	if err != nil {
		return nil, err
	}

	on := imaging.NewMask(img.Width, img.Height)
	for i, v := range img.Pix {
		on.Bits[i] = !mask.MaskedAt(i) && !math.IsNaN(v) && v > thr
	}
	labels := imaging.Components(on, int(math.Ceil(areaMin)))

	if cfg.Deblend {
		labels = Deblend(img, labels, DeblendOptions{
			NLevels:  cfg.NLevels,
			Contrast: cfg.Contrast,
			MinArea:  int(math.Ceil(areaMinDeblend)),
		})
	}
	return &Map{Labels: labels, Areas: labels.Areas(), Threshold: thr}, nil
}

// Threshold is the clipped median plus nsigma clipped standard deviations of
// the unmasked pixels.
func Threshold(img *imaging.Image, mask *imaging.Mask, nsigma float64) (float64, error) {
	vals := make([]float64, 0, len(img.Pix))
	for i, v := range img.Pix {
		if !mask.MaskedAt(i) {
			vals = append(vals, v)
		}
	}
	c := stats.SigmaClip(vals, 3, 10)
	if math.IsNaN(c.Std) {
		return 0, fmt.Errorf("segment: no unmasked pixels")
	}
	return c.Median + nsigma*c.Std, nil
}

// Keep returns a copy holding only the listed labels; the rest become 0.
func (m *Map) Keep(labels []int) *Map {
	keep := make(map[int32]bool, len(labels))
	for _, l := range labels {
		keep[int32(l)] = true
	}
	out := m.Labels.Clone()
	for i, v := range out.Pix {
		if v != 0 && !keep[v] {
			out.Pix[i] = 0
		}
	}
	return &Map{Labels: out, Areas: out.Areas(), Threshold: m.Threshold}
}

// Count is the number of labels.
func (m *Map) Count() int { return len(m.Areas) }

// Centroid returns the unweighted pixel centroid of a label.
func (m *Map) Centroid(label int) (float64, float64, bool) {
	var sx, sy, n float64
	w := m.Labels.Width
	for i, v := range m.Labels.Pix {
		if int(v) == label {
			sx += float64(i % w)
			sy += float64(i / w)
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return sx / n, sy / n, true
}

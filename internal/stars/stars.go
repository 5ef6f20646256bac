// Package stars masks point sources around a protected central aperture.
package stars

import (
	"fmt"
	"math"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
)

// Result is the star mask and what produced it.
type Result struct {
	Mask     *imaging.Mask
	Stars    []Candidate
	Radii    []float64
	Aperture Aperture
}

// Mask detects point sources outside the central aperture and masks a disk
// around each one. The aperture itself is never masked.
func Mask(img *imaging.Image, skyRMS float64, cfg config.StarConfig) (*Result, error) {
	if skyRMS <= 0 || math.IsNaN(skyRMS) {
		return nil, fmt.Errorf("star mask: sky rms must be positive, got %g", skyRMS)
	}
	if cfg.FWHM <= 0 {
		return nil, fmt.Errorf("star mask: fwhm must be positive, got %g", cfg.FWHM)
	}

	ap := CentralAperture(img, cfg.AperCenter, cfg.AperEllip, cfg.AperPA)
	central := ap.Mask(img.Width, img.Height)

	f := Finder{
		FWHM:      cfg.FWHM,
		Threshold: cfg.Threshold * skyRMS,
		RoundLo:   cfg.RoundLo,
		RoundHi:   cfg.RoundHi,
		SharpLo:   cfg.SharpLo,
		SharpHi:   cfg.SharpHi,
	}
	cands := f.Find(img, central)

	res := &Result{Mask: imaging.NewMask(img.Width, img.Height), Stars: cands, Aperture: ap}
	if len(cands) == 0 {
		return res, nil
	}

	res.Radii = Radii(cands, cfg.AperBase, cfg.AperFact)
	for i, c := range cands {
		drawDisk(res.Mask, c.X, c.Y, res.Radii[i])
	}
	for i, in := range central.Bits {
		if in {
			res.Mask.Bits[i] = false
		}
	}
	return res, nil
}

// Radii scales the base radius by sqrt(peak/min_peak) when fact > 0. A single
// star, or the faintest one, stays at base.
func Radii(cands []Candidate, base, fact float64) []float64 {
	out := make([]float64, len(cands))
	if fact <= 0 {
		for i := range out {
			out[i] = base
		}
		return out
	}
	minPeak := math.Inf(1)
	for _, c := range cands {
		if c.Peak > 0 && c.Peak < minPeak {
			minPeak = c.Peak
		}
	}
	for i, c := range cands {
		scale := 1.0
		if c.Peak > 0 && !math.IsInf(minPeak, 1) {
			scale = math.Max(1, fact*math.Sqrt(c.Peak/minPeak))
		}
		out[i] = base * scale
	}
	return out
}

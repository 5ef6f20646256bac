// Package quality raises the advisory area and signal-to-noise flags and
// classifies the viewing angle.
package quality

import (
	"math"

	"astromorph/internal/config"
	"astromorph/internal/imaging"
	"astromorph/internal/morph"
	"astromorph/internal/stats"
)

// View classifications.
const (
	FaceOn  = "Face-on"
	EdgeOn  = "Edge-on"
	Unknown = "--"
)

// Flags is the full flag set of one row. Each flag is 0 or 1.
type Flags struct {
	Image     int
	Bck       int
	Object    int
	Statmorph int
	Area      int
	SN        int
	View      string
}

// Assessment holds the area and S/N measurements behind the advisory flags.
type Assessment struct {
	SegAreaPix   float64
	PSFAreaPix   float64
	AreaRatio    float64
	FlagArea     int
	SNGal        float64 // signal percentile, image units
	SNRatio      float64 // SNGal / sky rms
	SNPercentile float64
	SN20         float64
	SN50         float64
	SN80         float64
	FlagSN       int
	Bck          float64
}

// PSFArea is the area in pixels of a disk of diameter fwhm.
func PSFArea(fwhmPix float64) float64 {
	return math.Pi * (fwhmPix / 2) * (fwhmPix / 2)
}

// Assess measures the segment of label against the PSF and sky noise.
func Assess(img *imaging.Image, seg *imaging.Labels, label int, skyRMS, fwhmPix float64, cfg config.FlagConfig) Assessment {
	a := Assessment{
		PSFAreaPix:   PSFArea(fwhmPix),
		SNPercentile: cfg.SNPercentile,
		Bck:          skyRMS,
	}
	var signal []float64
	for i, l := range seg.Pix {
		if int(l) == label {
			signal = append(signal, img.Pix[i])
		}
	}
	a.SegAreaPix = float64(len(signal))
	a.AreaRatio = a.SegAreaPix / a.PSFAreaPix
	if a.AreaRatio < cfg.AreaThreshold {
		a.FlagArea = 1
	}

	a.SNGal = stats.Percentile(signal, cfg.SNPercentile)
	a.SNRatio = a.SNGal / skyRMS
	a.SN20 = stats.Percentile(signal, 20) / skyRMS
	a.SN50 = stats.Percentile(signal, 50) / skyRMS
	a.SN80 = stats.Percentile(signal, 80) / skyRMS
	// NaN compares false: an empty segment never passes the S/N test
	if !(a.SNRatio >= cfg.SNThreshold) {
		a.FlagSN = 1
	}
	return a
}

// View classifies a source by its Sérsic ellipticity.
func View(ellip float64) string {
	if math.IsNaN(ellip) {
		return Unknown
	}
	if 1-ellip < 0.5 {
		return EdgeOn
	}
	return FaceOn
}

// Combine builds the row flags of a completed run.
func Combine(a Assessment, r morph.Result) Flags {
	return Flags{
		Area: a.FlagArea,
		SN:   a.FlagSN,
		View: View(r.SersicEllip),
	}
}

// Cells renders the assessment as table columns.
func (a Assessment) Cells(areaTh, snTh float64) map[string]any {
	return map[string]any{
		"area_segmap_pix":  round(a.SegAreaPix, 1),
		"area_psf_pix":     round(a.PSFAreaPix, 1),
		"ratio_segmap_psf": round(a.AreaRatio, 1),
		"flag_area":        a.FlagArea,
		"flag_area_th":     areaTh,
		"SN_gal":           round(a.SNGal, 5),
		"bck":              round(a.Bck, 5),
		"ratio_SN_gal":     round(a.SNRatio, 1),
		"flag_SN":          a.FlagSN,
		"flag_SN_th":       snTh,
		"perc_SN_flag":     a.SNPercentile,
		"perc_20_SN_gal":   round(a.SN20, 1),
		"perc_50_SN_gal":   round(a.SN50, 1),
		"perc_80_SN_gal":   round(a.SN80, 1),
	}
}

// EmptyCells is the assessment block of a run that never measured its
// target: thresholds are kept, measurements are nan and flags are 0.
func EmptyCells(areaTh, snTh, snPercentile float64) map[string]any {
	nan := math.NaN()
	return map[string]any{
		"area_segmap_pix":  nan,
		"area_psf_pix":     nan,
		"ratio_segmap_psf": nan,
		"flag_area":        0,
		"flag_area_th":     areaTh,
		"SN_gal":           nan,
		"bck":              nan,
		"ratio_SN_gal":     nan,
		"flag_SN":          0,
		"flag_SN_th":       snTh,
		"perc_SN_flag":     snPercentile,
		"perc_20_SN_gal":   nan,
		"perc_50_SN_gal":   nan,
		"perc_80_SN_gal":   nan,
	}
}

// Cells renders the fatal flags and the view.
func (f Flags) Cells() map[string]any {
	view := f.View
	if view == "" {
		view = Unknown
	}
	return map[string]any{
		"flag_image":     f.Image,
		"flag_bck":       f.Bck,
		"flag_object":    f.Object,
		"flag_statmorph": f.Statmorph,
		"View":           view,
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

package pipeline

import (
	"math"

	"astromorph/internal/photometry"
)

// baseCells describes the target and the parameters of the run. Every row
// the run writes starts from these.
func (r *PendingRun) baseCells() map[string]any {
	par := r.p.params
	o := r.Object
	c := map[string]any{
		"object": o.Name,
		"band":   r.Band,
		"survey": r.p.survey.Name(),
		"ra":     o.RADeg,
		"dec":    o.DecDeg,
		"radvel": o.RadVel,
		"z":      o.Z(),
		"mag":    o.Mag,

		"ima_sc_pix2arc":     r.p.survey.PixelScale(),
		"ima_sc_arc2kpc":     positiveOrNaN(r.Geometry.KpcPerArcsec),
		"size_image_phy_kpc": r.SizeKpc,
		"psf_arcsec":         positiveOrNaN(r.Calibration.FWHM),
		"zp_ima":             math.NaN(),
		"field":              r.Calibration.Field,

		"eta":              par.Morph.Eta,
		"petro_extent_cas": par.Morph.PetroExtentCAS,

		"snr":              par.Seg.SNR,
		"area_min":         par.Seg.AreaMin,
		"debleding":        onOff(par.Seg.Deblend),
		"area_min_deblend": par.Seg.AreaMinDeblend,

		"skybox_x":    par.Sky.BoxX,
		"skybox_y":    par.Sky.BoxY,
		"sky_method":  par.Sky.Method,
		"nsigma":      par.Sky.NSigma,
		"npixels":     par.Sky.NPixels,
		"dilate_size": par.Sky.DilateSize,

		"mask_stars":  onOff(par.Star.Enabled),
		"fwhm":        par.Star.FWHM,
		"threshold":   par.Star.Threshold,
		"roundlo":     par.Star.RoundLo,
		"roundhi":     par.Star.RoundHi,
		"sharplo":     par.Star.SharpLo,
		"aper_stars":  par.Star.AperBase,
		"aper_fact":   par.Star.AperFact,
		"aper_center": par.Star.AperCenter,
		"aper_ellip":  par.Star.AperEllip,
		"aper_pa":     par.Star.AperPA,
	}
	if r.Calibration.FWHM > 0 {
		c["zp_ima"] = r.Calibration.ZeroPoint
	}
	// a new run invalidates the photometry of the previous Sérsic fit
	merge(c, photometry.EmptyCells())
	return c
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func positiveOrNaN(v float64) float64 {
	if v > 0 {
		return v
	}
	return math.NaN()
}

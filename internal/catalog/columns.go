package catalog

import (
	"sort"
)

// DefaultColumns is the schema of a new properties table.
var DefaultColumns = []string{
	"GAL",
	"r20", "r50", "r80", "Gini", "M20", "F(G_M20)", "S(G_M20)", "SN_per_pixel",
	"C", "A", "S", "flux_c", "flux_e",
	"rpetro_c", "rpetro_e", "rhalf_c", "rhalf_e",
	"M", "I", "D", "Ao", "As",
	"Ser_A", "Ser_R", "Ser_n", "Ser_xc", "Ser_yc", "Ser_ellip", "Ser_theta",
	"flag_morph", "flag_sersic",
	"ima_sc_pix2arc", "ima_sc_arc2kpc", "psf_arcsec", "size_image_phy_kpc", "zp_ima",
	"eta", "petro_extent_cas",
	"ra", "dec", "radvel", "z", "mag",
	"snr", "area_min", "debleding", "area_min_deblend",
	"skybox_x", "skybox_y", "sky_method", "nsigma", "npixels", "dilate_size",
	"mask_stars", "fwhm", "threshold", "roundlo", "roundhi", "sharplo",
	"aper_stars", "aper_fact", "aper_center", "aper_ellip", "aper_pa", "dr", "View",
	"area_segmap_pix", "area_psf_pix", "ratio_segmap_psf", "flag_area", "flag_area_th",
	"SN_gal", "bck", "ratio_SN_gal", "flag_SN", "flag_SN_th",
	"perc_SN_flag", "perc_20_SN_gal", "perc_50_SN_gal", "perc_80_SN_gal",
	"flag_image", "flag_bck", "flag_object", "flag_statmorph",
}

// stringColumns are backfilled with "--" rather than "nan".
var stringColumns = map[string]bool{
	"GAL":        true,
	"debleding":  true,
	"sky_method": true,
	"mask_stars": true,
	"View":       true,
	"survey":     true,
	"engine":     true,
	"field":      true,
	"MAIN_ID":    true,
	"OTYPE":      true,
}

// FatalFlags are reset to 0 at the start of every recorded run.
var FatalFlags = []string{"flag_image", "flag_bck", "flag_object", "flag_statmorph"}

// AdvisoryFlags mark a measured row as doubtful. They are reset with the
// fatal flags.
var AdvisoryFlags = []string{"flag_area", "flag_SN"}

// MorphColumns maps result keys to table columns.
var MorphColumns = [][2]string{
	{"r20", "r20"}, {"r50", "r50"}, {"r80", "r80"},
	{"gini", "Gini"}, {"m20", "M20"},
	{"gini_m20_bulge", "F(G_M20)"}, {"gini_m20_merger", "S(G_M20)"},
	{"sn_per_pixel", "SN_per_pixel"},
	{"concentration", "C"}, {"asymmetry", "A"}, {"smoothness", "S"},
	{"flux_circ", "flux_c"}, {"flux_ellip", "flux_e"},
	{"rpetro_circ", "rpetro_c"}, {"rpetro_ellip", "rpetro_e"},
	{"rhalf_circ", "rhalf_c"}, {"rhalf_ellip", "rhalf_e"},
	{"multimode", "M"}, {"intensity", "I"}, {"deviation", "D"},
	{"outer_asymmetry", "Ao"}, {"shape_asymmetry", "As"},
	{"sersic_amplitude", "Ser_A"}, {"sersic_rhalf", "Ser_R"}, {"sersic_n", "Ser_n"},
	{"sersic_xc", "Ser_xc"}, {"sersic_yc", "Ser_yc"},
	{"sersic_ellip", "Ser_ellip"}, {"sersic_theta", "Ser_theta"},
	{"flag", "flag_morph"}, {"flag_sersic", "flag_sersic"},
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

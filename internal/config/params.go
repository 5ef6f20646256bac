package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Sky estimation strategies.
const (
	SkyMaskSources = "mask-sources"
	SkyBox2D       = "2d-box"
)

// Params groups the tunables of a morphology run.
type Params struct {
	SizeKpc float64     `yaml:"size_kpc" default:"50"`
	Band    string      `yaml:"band" default:"r"`
	Survey  string      `yaml:"survey"`
	// PSF is the FWHM in arcsec; zero looks it up in the survey.
	PSF     float64     `yaml:"psf_arcsec"`
	Sky     SkyConfig   `yaml:"sky"`
	Star    StarConfig  `yaml:"stars"`
	Seg     SegConfig   `yaml:"segmentation"`
	Flag    FlagConfig  `yaml:"flags"`
	Morph   MorphConfig `yaml:"morphology"`
}

// SkyConfig drives the background estimator.
type SkyConfig struct {
	Method     string  `yaml:"method" default:"mask-sources"`
	BoxX       int     `yaml:"box_x" default:"100"`
	BoxY       int     `yaml:"box_y" default:"100"`
	NSigma     float64 `yaml:"nsigma" default:"2"`
	NPixels    int     `yaml:"npixels" default:"5"`
	DilateSize int     `yaml:"dilate_size" default:"11"`
	// Tiles with a larger masked fraction take the global median.
	ExcludePercentile float64 `yaml:"exclude_percentile" default:"10"`
}

// StarConfig drives the point-source masker.
type StarConfig struct {
	Enabled    bool    `yaml:"enabled" default:"false"`
	FWHM       float64 `yaml:"fwhm" default:"3"`
	Threshold  float64 `yaml:"threshold" default:"10"`
	RoundLo    float64 `yaml:"roundlo" default:"-0.2"`
	RoundHi    float64 `yaml:"roundhi" default:"0.2"`
	SharpLo    float64 `yaml:"sharplo" default:"0.2"`
	SharpHi    float64 `yaml:"sharphi" default:"1"`
	AperBase   float64 `yaml:"aper_stars" default:"5"`
	AperFact   float64 `yaml:"aper_fact" default:"0.5"`
	AperCenter float64 `yaml:"aper_center" default:"10"`
	AperEllip  float64 `yaml:"aper_ellip" default:"0"`
	AperPA     float64 `yaml:"aper_pa" default:"0"`
}

// SegConfig drives the segmenter. Areas are in kpc^2.
type SegConfig struct {
	SNR            float64 `yaml:"snr" default:"2"`
	AreaMin        float64 `yaml:"area_min" default:"10"`
	Deblend        bool    `yaml:"deblend" default:"false"`
	AreaMinDeblend float64 `yaml:"area_min_deblend" default:"20"`
	NLevels        int     `yaml:"nlevels" default:"32"`
	Contrast       float64 `yaml:"contrast" default:"0.001"`
}

// FlagConfig holds the advisory quality thresholds.
type FlagConfig struct {
	AreaThreshold float64 `yaml:"flag_area_th" default:"3"`
	SNThreshold   float64 `yaml:"flag_SN_th" default:"3"`
	SNPercentile  float64 `yaml:"perc_SN_flag" default:"50"`
}

// MorphConfig carries the engine inputs that are not images.
type MorphConfig struct {
	Eta            float64 `yaml:"eta" default:"0.2"`
	PetroExtentCAS float64 `yaml:"petro_extent_cas" default:"1.5"`
	Gain           float64 `yaml:"gain" default:"1"`
	SkyboxSize     int     `yaml:"skybox_size" default:"32"`
	Engine         string  `yaml:"engine"`
}

// DefaultParams returns Params with every default applied.
func DefaultParams() Params {
	var p Params
	if err := defaults.Set(&p); err != nil {
		// struct tags are static; a failure here is a programming error
		panic(err)
	}
	return p
}

// LoadParams reads a YAML parameter file on top of the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse params %s: %w", path, err)
	}
	return p, p.Validate()
}

// Validate rejects parameter combinations the pipeline cannot run.
func (p Params) Validate() error {
	if p.SizeKpc <= 0 {
		return fmt.Errorf("size_kpc must be positive, got %g", p.SizeKpc)
	}
	if p.PSF < 0 {
		return fmt.Errorf("psf_arcsec must not be negative, got %g", p.PSF)
	}
	switch p.Sky.Method {
	case SkyMaskSources, SkyBox2D:
	default:
		return fmt.Errorf("unknown sky method %q", p.Sky.Method)
	}
	if p.Sky.BoxX <= 0 || p.Sky.BoxY <= 0 {
		return fmt.Errorf("sky box must be positive, got %dx%d", p.Sky.BoxX, p.Sky.BoxY)
	}
	if p.Star.AperEllip < 0 || p.Star.AperEllip >= 1 {
		return fmt.Errorf("aper_ellip must be in [0,1), got %g", p.Star.AperEllip)
	}
	if p.Flag.SNPercentile <= 0 || p.Flag.SNPercentile >= 100 {
		return fmt.Errorf("perc_SN_flag must be in (0,100), got %g", p.Flag.SNPercentile)
	}
	return nil
}

// Package morph runs non-parametric and Sérsic morphology on selected segments.
package morph

import (
	"context"
	"errors"
	"fmt"
	"math"

	"astromorph/internal/imaging"
)

// ErrMorphologyFailed wraps any engine failure.
var ErrMorphologyFailed = errors.New("morphology engine failed")

// Request is everything an engine needs for one image.
type Request struct {
	Image          *imaging.Image  // sky subtracted
	SegMap         *imaging.Labels // target labels only
	Mask           *imaging.Mask   // stars plus non-target labels
	Labels         []int
	Gain           float64
	PSF            *Kernel
	Eta            float64
	PetroExtentCAS float64
	SkyboxSize     int
}

// Result holds the measurements of one segment.
type Result struct {
	Label int `json:"label"`

	XCentroid float64 `json:"xc_centroid"`
	YCentroid float64 `json:"yc_centroid"`

	R20           float64 `json:"r20"`
	R50           float64 `json:"r50"`
	R80           float64 `json:"r80"`
	Gini          float64 `json:"gini"`
	M20           float64 `json:"m20"`
	GiniM20Bulge  float64 `json:"gini_m20_bulge"`
	GiniM20Merger float64 `json:"gini_m20_merger"`
	SNPerPixel    float64 `json:"sn_per_pixel"`

	Concentration float64 `json:"concentration"`
	Asymmetry     float64 `json:"asymmetry"`
	Smoothness    float64 `json:"smoothness"`

	FluxCirc    float64 `json:"flux_circ"`
	FluxEllip   float64 `json:"flux_ellip"`
	RPetroCirc  float64 `json:"rpetro_circ"`
	RPetroEllip float64 `json:"rpetro_ellip"`
	RHalfCirc   float64 `json:"rhalf_circ"`
	RHalfEllip  float64 `json:"rhalf_ellip"`

	Multimode      float64 `json:"multimode"`
	Intensity      float64 `json:"intensity"`
	Deviation      float64 `json:"deviation"`
	OuterAsymmetry float64 `json:"outer_asymmetry"`
	ShapeAsymmetry float64 `json:"shape_asymmetry"`

	SersicAmplitude float64 `json:"sersic_amplitude"`
	SersicRhalf     float64 `json:"sersic_rhalf"`
	SersicN         float64 `json:"sersic_n"`
	SersicXc        float64 `json:"sersic_xc"`
	SersicYc        float64 `json:"sersic_yc"`
	SersicEllip     float64 `json:"sersic_ellip"`
	SersicTheta     float64 `json:"sersic_theta"`

	SkyMean  float64 `json:"sky_mean"`
	SkySigma float64 `json:"sky_sigma"`

	FlagMorph  int `json:"flag"`
	FlagSersic int `json:"flag_sersic"`
}

// Engine computes morphology for every requested label.
type Engine interface {
	Name() string
	Available() bool
	Analyze(ctx context.Context, req Request) ([]Result, error)
}

// NaNResult has every measurement unset.
func NaNResult(label int) Result {
	r := Result{Label: label}
	for _, p := range r.floatFields() {
		*p.ptr = math.NaN()
	}
	return r
}

type floatField struct {
	key string
	ptr *float64
}

// floatFields lists the numeric measurements by wire key.
func (r *Result) floatFields() []floatField {
	return []floatField{
		{"xc_centroid", &r.XCentroid}, {"yc_centroid", &r.YCentroid},
		{"r20", &r.R20}, {"r50", &r.R50}, {"r80", &r.R80},
		{"gini", &r.Gini}, {"m20", &r.M20},
		{"gini_m20_bulge", &r.GiniM20Bulge}, {"gini_m20_merger", &r.GiniM20Merger},
		{"sn_per_pixel", &r.SNPerPixel},
		{"concentration", &r.Concentration}, {"asymmetry", &r.Asymmetry}, {"smoothness", &r.Smoothness},
		{"flux_circ", &r.FluxCirc}, {"flux_ellip", &r.FluxEllip},
		{"rpetro_circ", &r.RPetroCirc}, {"rpetro_ellip", &r.RPetroEllip},
		{"rhalf_circ", &r.RHalfCirc}, {"rhalf_ellip", &r.RHalfEllip},
		{"multimode", &r.Multimode}, {"intensity", &r.Intensity}, {"deviation", &r.Deviation},
		{"outer_asymmetry", &r.OuterAsymmetry}, {"shape_asymmetry", &r.ShapeAsymmetry},
		{"sersic_amplitude", &r.SersicAmplitude}, {"sersic_rhalf", &r.SersicRhalf}, {"sersic_n", &r.SersicN},
		{"sersic_xc", &r.SersicXc}, {"sersic_yc", &r.SersicYc},
		{"sersic_ellip", &r.SersicEllip}, {"sersic_theta", &r.SersicTheta},
		{"sky_mean", &r.SkyMean}, {"sky_sigma", &r.SkySigma},
	}
}

// FromMap fills a result from loosely typed engine output. Missing or null
// numeric fields become NaN.
func FromMap(m map[string]any) (Result, error) {
	label, ok := number(m["label"])
	if !ok {
		return Result{}, fmt.Errorf("result without label")
	}
	r := NaNResult(int(label))
	for _, f := range r.floatFields() {
		if v, ok := number(m[f.key]); ok {
			*f.ptr = v
		}
	}
	if v, ok := number(m["flag"]); ok {
		r.FlagMorph = int(v)
	}
	if v, ok := number(m["flag_sersic"]); ok {
		r.FlagSersic = int(v)
	}
	return r, nil
}

// ToMap is the inverse of FromMap; NaN values are omitted.
func (r Result) ToMap() map[string]any {
	out := map[string]any{
		"label":       float64(r.Label),
		"flag":        float64(r.FlagMorph),
		"flag_sersic": float64(r.FlagSersic),
	}
	for _, f := range r.floatFields() {
		if !math.IsNaN(*f.ptr) && !math.IsInf(*f.ptr, 0) {
			out[f.key] = *f.ptr
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

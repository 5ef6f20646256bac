// Package photometry turns aperture fluxes into magnitudes, colors and a
// color-based stellar mass.
package photometry

import (
	"fmt"
	"math"

	"astromorph/internal/imaging"
)

// Aperture is an ellipse in pixel coordinates. Theta is radians from +x.
type Aperture struct {
	XC, YC float64
	SMA    float64
	Ellip  float64
	Theta  float64
}

// EffectiveAperture scales the Sérsic half-light ellipse by factor.
func EffectiveAperture(xc, yc, rEff, ellip, theta, factor float64) Aperture {
	return Aperture{XC: xc, YC: yc, SMA: rEff * factor, Ellip: ellip, Theta: theta}
}

// Valid reports whether every parameter is usable.
func (a Aperture) Valid() bool {
	for _, v := range []float64{a.XC, a.YC, a.SMA, a.Ellip, a.Theta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return a.SMA > 0 && a.Ellip >= 0 && a.Ellip < 1
}

// Contains tests the pixel center (x, y).
func (a Aperture) Contains(x, y float64) bool {
	dx, dy := x-a.XC, y-a.YC
	c, s := math.Cos(a.Theta), math.Sin(a.Theta)
	u := dx*c + dy*s
	v := (-dx*s + dy*c) / (1 - a.Ellip)
	return u*u+v*v <= a.SMA*a.SMA
}

// Flux sums the unmasked finite pixels inside the aperture.
func Flux(img *imaging.Image, mask *imaging.Mask, ap Aperture) float64 {
	var sum float64
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := y*img.Width + x
			if mask.MaskedAt(i) || !ap.Contains(float64(x), float64(y)) {
				continue
			}
			if v := img.Pix[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum += v
			}
		}
	}
	return sum
}

// Magnitude is -2.5 log10(flux) + zp, NaN for non-positive flux.
func Magnitude(flux, zp float64) float64 {
	if !(flux > 0) {
		return math.NaN()
	}
	return -2.5*math.Log10(flux) + zp
}

// AbsoluteMagnitude applies the distance modulus for distMpc.
func AbsoluteMagnitude(m, distMpc float64) float64 {
	return m - 5*math.Log10(distMpc*1e6) + 5
}

// Sun's absolute magnitude in z and the r-z mass-to-light relation.
const (
	sunAbsMagZ = 4.50
	mlZeroZ    = -0.041
	mlSlopeZ   = 0.463
)

// StellarMass is L_z·(M/L)_z with (M/L)_z from the r-z color. NaN inputs give NaN.
func StellarMass(magR, magZ, absMagZ float64) float64 {
	lz := math.Pow(10, (sunAbsMagZ-absMagZ)/2.5)
	ml := math.Pow(10, mlZeroZ+mlSlopeZ*(magR-magZ))
	return lz * ml
}

// Estimate is the photometry of one object inside one aperture.
type Estimate struct {
	Flux   map[string]float64
	Mag    map[string]float64
	AbsMag map[string]float64
	Mass   float64 // solar masses
}

// Measure measures every band image inside ap.
func Measure(images map[string]*imaging.Image, mask *imaging.Mask, ap Aperture, zp, distMpc float64) (*Estimate, error) {
	if !ap.Valid() {
		return nil, fmt.Errorf("invalid aperture %+v", ap)
	}
	if !(distMpc > 0) {
		return nil, fmt.Errorf("distance must be positive, got %g", distMpc)
	}
	e := &Estimate{
		Flux:   make(map[string]float64, len(images)),
		Mag:    make(map[string]float64, len(images)),
		AbsMag: make(map[string]float64, len(images)),
	}
	for band, img := range images {
		if img == nil {
			continue
		}
		if mask != nil && (mask.Width != img.Width || mask.Height != img.Height) {
			return nil, fmt.Errorf("band %s: image %dx%d does not match mask %dx%d",
				band, img.Width, img.Height, mask.Width, mask.Height)
		}
		f := Flux(img, mask, ap)
		e.Flux[band] = f
		e.Mag[band] = Magnitude(f, zp)
		e.AbsMag[band] = AbsoluteMagnitude(e.Mag[band], distMpc)
	}
	e.Mass = StellarMass(e.mag("r"), e.mag("z"), e.absMag("z"))
	return e, nil
}

func (e *Estimate) mag(band string) float64 {
	if v, ok := e.Mag[band]; ok {
		return v
	}
	return math.NaN()
}

func (e *Estimate) absMag(band string) float64 {
	if v, ok := e.AbsMag[band]; ok {
		return v
	}
	return math.NaN()
}

// Color is m_a - m_b.
func (e *Estimate) Color(a, b string) float64 {
	return e.mag(a) - e.mag(b)
}

// Bands measured by the mass estimate.
var Bands = []string{"g", "r", "z"}

// EmptyCells blanks every column Cells writes.
func EmptyCells() map[string]any {
	return (&Estimate{Mass: math.NaN()}).Cells()
}

// Cells renders the table columns. Bands never measured stay NaN.
func (e *Estimate) Cells() map[string]any {
	out := map[string]any{
		"g-r":    e.Color("g", "r"),
		"g-z":    e.Color("g", "z"),
		"r-z":    e.Color("r", "z"),
		"M*_2Re": e.Mass,
		"mass":   math.Log10(e.Mass),
	}
	for _, b := range Bands {
		out["mag_"+b+"_2Re"] = e.mag(b)
		out["M"+b+"_2Re"] = e.absMag(b)
	}
	return out
}

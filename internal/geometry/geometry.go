// Package geometry converts physical sizes to image pixels with a Hubble-flow distance.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

const (
	H0           = 70.0  // km/s/Mpc
	SpeedOfLight = 3.0e5 // km/s
	MinSidePix   = 30
)

var (
	// ErrNoDistance means the radial velocity cannot give a distance.
	ErrNoDistance = errors.New("no distance: radial velocity missing or non-positive")
	// ErrTooSmall means the cutout would be below MinSidePix.
	ErrTooSmall = errors.New("image side below 30 pixels")
)

var tanArcsec = math.Tan(math.Pi / (180 * 3600))

// Geometry describes the cutout implied by a physical size at a distance.
type Geometry struct {
	SizeKpc           float64
	PixelScale        float64 // arcsec/pixel
	Distance          float64 // Mpc
	KpcPerArcsec      float64
	SideExact         float64
	SidePix           int
	AreaMinPix        float64
	AreaMinDeblendPix float64
}

// Distance returns D = v/H0 in Mpc.
func Distance(radVel float64) (float64, error) {
	if math.IsNaN(radVel) || math.IsInf(radVel, 0) || radVel <= 0 {
		return 0, ErrNoDistance
	}
	return radVel / H0, nil
}

// KpcPerArcsec is tan(1")·D·1000.
func KpcPerArcsec(distMpc float64) float64 {
	return tanArcsec * distMpc * 1000
}

// Redshift falls back to v/c when z is unknown.
func Redshift(z, radVel float64) float64 {
	if math.IsNaN(z) {
		return radVel / SpeedOfLight
	}
	return z
}

// New derives the cutout geometry. Areas are kpc^2.
func New(sizeKpc, radVel, pixelScale, areaMinKpc2, areaMinDeblendKpc2 float64) (Geometry, error) {
	if sizeKpc <= 0 {
		return Geometry{}, fmt.Errorf("physical size must be positive, got %g", sizeKpc)
	}
	if pixelScale <= 0 {
		return Geometry{}, fmt.Errorf("pixel scale must be positive, got %g", pixelScale)
	}
	d, err := Distance(radVel)
	if err != nil {
		return Geometry{}, err
	}
	k := KpcPerArcsec(d)
	side := 2 * sizeKpc / k / pixelScale
	g := Geometry{
		SizeKpc:           sizeKpc,
		PixelScale:        pixelScale,
		Distance:          d,
		KpcPerArcsec:      k,
		SideExact:         side,
		SidePix:           int(side),
		AreaMinPix:        areaMinKpc2 / (k * k) / (pixelScale * pixelScale),
		AreaMinDeblendPix: areaMinDeblendKpc2 / (k * k) / (pixelScale * pixelScale),
	}
	if g.SidePix < MinSidePix {
		return g, fmt.Errorf("%w: %d", ErrTooSmall, g.SidePix)
	}
	return g, nil
}

// PixToKpc converts a pixel length.
func (g Geometry) PixToKpc(pix float64) float64 {
	return pix * g.PixelScale * g.KpcPerArcsec
}

// AbsMag converts an apparent magnitude with the distance modulus.
func (g Geometry) AbsMag(m float64) float64 {
	return m - 5*math.Log10(g.Distance*1e6) + 5
}

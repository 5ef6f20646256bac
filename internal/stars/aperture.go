package stars

import (
	"math"

	"astromorph/internal/imaging"
)

// Aperture is the protected central region: a circle when Ellip is 0.
type Aperture struct {
	X, Y   float64
	Radius float64 // semi-major axis in pixels
	Ellip  float64
	PA     float64 // degrees counter-clockwise from +x
}

// CentralAperture centers the aperture on the image.
func CentralAperture(img *imaging.Image, radius, ellip, pa float64) Aperture {
	cx, cy := img.Center()
	return Aperture{X: cx, Y: cy, Radius: radius, Ellip: ellip, PA: pa}
}

// Contains reports whether pixel center (x, y) lies inside.
func (a Aperture) Contains(x, y float64) bool {
	if a.Radius <= 0 {
		return false
	}
	t := a.PA * math.Pi / 180
	dx, dy := x-a.X, y-a.Y
	u := dx*math.Cos(t) + dy*math.Sin(t)
	v := -dx*math.Sin(t) + dy*math.Cos(t)
	b := a.Radius * (1 - a.Ellip)
	return (u*u)/(a.Radius*a.Radius)+(v*v)/(b*b) <= 1
}

// Mask rasterizes the aperture.
func (a Aperture) Mask(w, h int) *imaging.Mask {
	m := imaging.NewMask(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if a.Contains(float64(x), float64(y)) {
				m.Bits[y*w+x] = true
			}
		}
	}
	return m
}

// drawDisk sets every pixel whose center is within r of (cx, cy).
func drawDisk(m *imaging.Mask, cx, cy, r float64) {
	x0, x1 := int(math.Floor(cx-r)), int(math.Ceil(cx+r))
	y0, y1 := int(math.Floor(cy-r)), int(math.Ceil(cy+r))
	for y := max(y0, 0); y <= min(y1, m.Height-1); y++ {
		for x := max(x0, 0); x <= min(x1, m.Width-1); x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r*r {
				m.Bits[y*m.Width+x] = true
			}
		}
	}
}

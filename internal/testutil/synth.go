// Package testutil builds synthetic cutouts for package tests.
package testutil

import (
	"math"
	"math/rand/v2"

	"astromorph/internal/imaging"
)

// Noise returns a flat sky with Gaussian noise from a fixed seed.
func Noise(w, h int, level, sigma float64, seed uint64) *imaging.Image {
	img := imaging.New(w, h)
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range img.Pix {
		img.Pix[i] = level + sigma*r.NormFloat64()
	}
	return img
}

// BN approximates the Sérsic b_n constant.
func BN(n float64) float64 {
	return 2*n - 1.0/3 + 4/(405*n) + 46/(25515*n*n)
}

// AddSersic adds an elliptical Sérsic profile. theta is radians from +x.
func AddSersic(img *imaging.Image, xc, yc, amp, reff, n, ellip, theta float64) {
	b := BN(n)
	c, s := math.Cos(theta), math.Sin(theta)
	q := 1 - ellip
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			dx, dy := float64(x)-xc, float64(y)-yc
			u := dx*c + dy*s
			v := -dx*s + dy*c
			r := math.Hypot(u, v/q)
			img.Pix[y*img.Width+x] += amp * math.Exp(-b*(math.Pow(r/reff, 1/n)-1))
		}
	}
}

// AddGaussian adds a circular Gaussian source.
func AddGaussian(img *imaging.Image, xc, yc, amp, sigma float64) {
	r := int(math.Ceil(5 * sigma))
	for y := int(yc) - r; y <= int(yc)+r; y++ {
		for x := int(xc) - r; x <= int(xc)+r; x++ {
			if !img.In(x, y) {
				continue
			}
			dx, dy := float64(x)-xc, float64(y)-yc
			img.Pix[y*img.Width+x] += amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
}

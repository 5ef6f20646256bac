package morph

import (
	"fmt"
	"math"
)

// minHalfSize keeps the historical 41x41 kernel for narrow PSFs.
const minHalfSize = 20

// Kernel is a square, unit-sum PSF image.
type Kernel struct {
	Size  int
	Sigma float64 // pixels
	Data  []float64
}

// FWHMToSigma converts a full width at half maximum to a Gaussian sigma.
func FWHMToSigma(fwhm float64) float64 {
	return fwhm / (2 * math.Sqrt(2*math.Ln2))
}

// GaussianPSF builds a normalized circular Gaussian from an angular FWHM.
// The side is at least 6 sigma.
func GaussianPSF(fwhmArcsec, pixelScale float64) (*Kernel, error) {
	if fwhmArcsec <= 0 || pixelScale <= 0 {
		return nil, fmt.Errorf("psf: fwhm %g and scale %g must be positive", fwhmArcsec, pixelScale)
	}
	sigma := FWHMToSigma(fwhmArcsec) / pixelScale
	half := max(minHalfSize, int(math.Ceil(3*sigma)))
	size := 2*half + 1

	k := &Kernel{Size: size, Sigma: sigma, Data: make([]float64, size*size)}
	var sum float64
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			v := math.Exp(-float64(x*x+y*y) / (2 * sigma * sigma))
			k.Data[(y+half)*size+x+half] = v
			sum += v
		}
	}
	for i := range k.Data {
		k.Data[i] /= sum
	}
	return k, nil
}

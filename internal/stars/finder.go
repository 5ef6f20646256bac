package stars

import (
	"math"
	"sort"

	"astromorph/internal/imaging"
)

// fwhmToSigma is 1/(2·sqrt(2·ln 2)).
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Candidate is one detected point source.
type Candidate struct {
	X, Y      float64
	Peak      float64 // peak pixel value above sky
	Amplitude float64 // fitted Gaussian amplitude from the lowered kernel
	Sharpness float64
	Roundness float64
}

// Finder is a DAOFIND-style point-source detector on sky-subtracted data.
type Finder struct {
	FWHM      float64 // pixels
	Threshold float64 // absolute amplitude threshold
	RoundLo   float64
	RoundHi   float64
	SharpLo   float64
	SharpHi   float64
}

type kernel struct {
	r       int
	offsets [][2]int
	weights []float64 // lowered, amplitude-normalized
}

func newKernel(fwhm float64) kernel {
	sigma := fwhm * fwhmToSigma
	radius := math.Max(2, 1.5*sigma)
	r := int(radius)

	var k kernel
	k.r = r
	var g []float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if float64(dx*dx+dy*dy) > radius*radius {
				continue
			}
			k.offsets = append(k.offsets, [2]int{dx, dy})
			g = append(g, math.Exp(-float64(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	n := float64(len(g))
	var sum, sum2 float64
	for _, v := range g {
		sum += v
		sum2 += v * v
	}
	mean := sum / n
	denom := sum2 - sum*sum/n
	k.weights = make([]float64, len(g))
	for i, v := range g {
		k.weights[i] = (v - mean) / denom
	}
	return k
}

// Find returns candidates sorted by descending peak. Pixels under exclude are
// never peaks.
func (f Finder) Find(img *imaging.Image, exclude *imaging.Mask) []Candidate {
	k := newKernel(f.FWHM)
	w, h := img.Width, img.Height

	conv := make([]float64, w*h)
	for i := range conv {
		conv[i] = math.Inf(-1)
	}
	for y := k.r; y < h-k.r; y++ {
		for x := k.r; x < w-k.r; x++ {
			var s float64
			for j, o := range k.offsets {
				v := img.Pix[(y+o[1])*w+x+o[0]]
				if math.IsNaN(v) {
					v = 0
				}
				s += k.weights[j] * v
			}
			conv[y*w+x] = s
		}
	}

	var out []Candidate
	for y := k.r; y < h-k.r; y++ {
		for x := k.r; x < w-k.r; x++ {
			i := y*w + x
			c := conv[i]
			if c <= f.Threshold || exclude.MaskedAt(i) {
				continue
			}
			if !isLocalMax(conv, w, x, y, k) {
				continue
			}
			cand, ok := f.measure(img, k, x, y, c)
			if !ok {
				continue
			}
			out = append(out, cand)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Peak > out[b].Peak })
	return out
}

// isLocalMax requires conv(x,y) ≥ every footprint neighbor and strictly greater
// than neighbors earlier in raster order, so plateaus yield one peak.
func isLocalMax(conv []float64, w, x, y int, k kernel) bool {
	c := conv[y*w+x]
	for _, o := range k.offsets {
		if o[0] == 0 && o[1] == 0 {
			continue
		}
		v := conv[(y+o[1])*w+x+o[0]]
		if v > c {
			return false
		}
		if v == c && (o[1] < 0 || (o[1] == 0 && o[0] < 0)) {
			return false
		}
	}
	return true
}

func (f Finder) measure(img *imaging.Image, k kernel, x, y int, amp float64) (Candidate, bool) {
	w := img.Width
	center := img.Pix[y*w+x]
	var ringSum, ringN float64
	var peak = math.Inf(-1)
	var sw, sx, sy float64
	for _, o := range k.offsets {
		v := img.Pix[(y+o[1])*w+x+o[0]]
		if math.IsNaN(v) {
			continue
		}
		if v > peak {
			peak = v
		}
		if o[0] != 0 || o[1] != 0 {
			ringSum += v
			ringN++
		}
		if v > 0 {
			sw += v
			sx += v * float64(o[0])
			sy += v * float64(o[1])
		}
	}
	if ringN == 0 || sw == 0 {
		return Candidate{}, false
	}
	sharp := (center - ringSum/ringN) / amp

	mx, my := sx/sw, sy/sw
	var vx, vy float64
	for _, o := range k.offsets {
		v := img.Pix[(y+o[1])*w+x+o[0]]
		if v > 0 {
			dx, dy := float64(o[0])-mx, float64(o[1])-my
			vx += v * dx * dx
			vy += v * dy * dy
		}
	}
	sigx, sigy := math.Sqrt(vx/sw), math.Sqrt(vy/sw)
	round := 0.0
	if sigx+sigy > 0 {
		round = 2 * (sigy - sigx) / (sigx + sigy)
	}

	if sharp < f.SharpLo || sharp > f.SharpHi || round < f.RoundLo || round > f.RoundHi {
		return Candidate{}, false
	}
	return Candidate{
		X:         float64(x) + mx,
		Y:         float64(y) + my,
		Peak:      peak,
		Amplitude: amp,
		Sharpness: sharp,
		Roundness: round,
	}, true
}

package morph

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"astromorph/internal/imaging"
	"astromorph/internal/segment"
)

// radialProfile is every usable pixel around a source sorted by distance,
// with prefix sums for aperture and annulus queries.
type radialProfile struct {
	d   []float64
	cum []float64 // cum[k] is the flux of the first k pixels
}

// profile collects pixels that are unmasked and belong either to the source
// or to the background.
func (s *source) profile(dist func(x, y float64) float64) radialProfile {
	type pf struct{ d, f float64 }
	list := make([]pf, 0, len(s.img.Pix))
	for i, f := range s.img.Pix {
		l := s.seg.Pix[i]
		if (l != 0 && l != s.label) || s.mask.MaskedAt(i) || math.IsNaN(f) {
			continue
		}
		x, y := s.xy(i)
		list = append(list, pf{dist(x, y), f})
	}
	sort.Slice(list, func(a, b int) bool { return list[a].d < list[b].d })
	p := radialProfile{d: make([]float64, len(list)), cum: make([]float64, len(list)+1)}
	for k, v := range list {
		p.d[k] = v.d
		p.cum[k+1] = p.cum[k] + v.f
	}
	return p
}

// index is the number of pixels closer than r.
func (p radialProfile) index(r float64) int {
	return sort.SearchFloat64s(p.d, r)
}

func (p radialProfile) fluxWithin(r float64) float64 {
	if math.IsNaN(r) || r <= 0 {
		return math.NaN()
	}
	return p.cum[p.index(r)]
}

// petrosian walks outward until the annular surface brightness drops below
// eta times the mean interior brightness. The second value reports whether
// the ratio was reached before the profile ran out.
func (p radialProfile) petrosian(eta float64) (float64, bool) {
	if len(p.d) == 0 {
		return math.NaN(), false
	}
	maxR := p.d[len(p.d)-1] / 1.25
	prev := math.NaN()
	for r := 1.0; r <= maxR; r += 0.5 {
		in := p.index(r)
		lo, hi := p.index(0.8*r), p.index(1.25*r)
		if in == 0 || hi <= lo {
			continue
		}
		inner := p.cum[in] / float64(in)
		annulus := (p.cum[hi] - p.cum[lo]) / float64(hi-lo)
		if inner <= 0 {
			continue
		}
		ratio := annulus / inner
		if ratio < eta {
			if math.IsNaN(prev) {
				return r, true
			}
			// interpolate between the last two steps
			return r - 0.5*(eta-ratio)/(prev-ratio), true
		}
		prev = ratio
	}
	return maxR, false
}

// rotated samples the image rotated 180 degrees about (cx, cy).
func (s *source) rotated(x, y, cx, cy float64) (float64, bool) {
	return bilinear(s.img, s.mask, 2*cx-x, 2*cy-y)
}

func bilinear(img *imaging.Image, mask *imaging.Mask, x, y float64) (float64, bool) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	if x0 < 0 || y0 < 0 || x0+1 >= img.Width || y0+1 >= img.Height {
		return 0, false
	}
	fx, fy := x-float64(x0), y-float64(y0)
	offsets := [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	weights := [4]float64{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	var v float64
	for k, o := range offsets {
		i := (y0+o[1])*img.Width + x0 + o[0]
		if weights[k] > 0 && mask.MaskedAt(i) {
			return 0, false
		}
		v += weights[k] * img.Pix[i]
	}
	return v, true
}

// rawAsymmetry is sum|I - I180| / sum|I| inside radius r about (cx, cy) and
// the number of pixels used.
func (s *source) rawAsymmetry(cx, cy, r float64) (float64, int) {
	var diff, tot float64
	n := 0
	x0, x1 := max(0, int(cx-r)), min(s.img.Width-1, int(cx+r)+1)
	y0, y1 := max(0, int(cy-r)), min(s.img.Height-1, int(cy+r)+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			fx, fy := float64(x), float64(y)
			if math.Hypot(fx-cx, fy-cy) > r {
				continue
			}
			i := y*s.img.Width + x
			if s.mask.MaskedAt(i) {
				continue
			}
			rv, ok := s.rotated(fx, fy, cx, cy)
			if !ok {
				continue
			}
			diff += math.Abs(s.img.Pix[i] - rv)
			tot += math.Abs(s.img.Pix[i])
			n++
		}
	}
	if tot == 0 {
		return math.NaN(), 0
	}
	return diff / tot, n
}

// asymmetry minimizes the rotational asymmetry over a small grid of centers
// and removes the background contribution measured in a clean sky box.
func (s *source) asymmetry(r float64, skybox int) float64 {
	if math.IsNaN(r) || r <= 0 {
		return math.NaN()
	}
	best, bestN := math.Inf(1), 0
	for dy := -1.0; dy <= 1.0; dy += 0.5 {
		for dx := -1.0; dx <= 1.0; dx += 0.5 {
			a, n := s.rawAsymmetry(s.xc+dx, s.yc+dy, r)
			if !math.IsNaN(a) && a < best {
				best, bestN = a, n
			}
		}
	}
	if math.IsInf(best, 1) {
		return math.NaN()
	}
	if bg, ok := s.skyAsymmetry(skybox); ok {
		var tot float64
		for _, i := range s.pix {
			tot += math.Abs(s.img.Pix[i])
		}
		if tot > 0 {
			best -= bg * float64(bestN) / tot
		}
	}
	return best
}

// skyAsymmetry is the mean per-pixel |B - B180| of the first image corner
// that is free of sources and masked pixels.
func (s *source) skyAsymmetry(size int) (float64, bool) {
	w, h := s.img.Width, s.img.Height
	if size <= 1 || size*2 > w || size*2 > h {
		return 0, false
	}
	corners := [][2]int{{0, 0}, {w - size, 0}, {0, h - size}, {w - size, h - size}}
	for _, c := range corners {
		clean := true
		for y := c[1]; y < c[1]+size && clean; y++ {
			for x := c[0]; x < c[0]+size; x++ {
				i := y*w + x
				if s.seg.Pix[i] != 0 || s.mask.MaskedAt(i) {
					clean = false
					break
				}
			}
		}
		if !clean {
			continue
		}
		var diff float64
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				a := s.img.At(c[0]+x, c[1]+y)
				b := s.img.At(c[0]+size-1-x, c[1]+size-1-y)
				diff += math.Abs(a - b)
			}
		}
		return diff / float64(size*size), true
	}
	return 0, false
}

// smoothness compares the image with a boxcar-smoothed copy.
func (s *source) smoothness(rpetro, r float64) float64 {
	if math.IsNaN(rpetro) || math.IsNaN(r) {
		return math.NaN()
	}
	half := max(1, int(0.25*rpetro/2))
	var diff, tot float64
	for y := 0; y < s.img.Height; y++ {
		for x := 0; x < s.img.Width; x++ {
			d := math.Hypot(float64(x)-s.xc, float64(y)-s.yc)
			if d > r || d < 0.25*rpetro {
				continue
			}
			i := y*s.img.Width + x
			if s.mask.MaskedAt(i) {
				continue
			}
			var sum float64
			n := 0
			for by := y - half; by <= y+half; by++ {
				for bx := x - half; bx <= x+half; bx++ {
					if !s.img.In(bx, by) || s.mask.MaskedAt(by*s.img.Width+bx) {
						continue
					}
					sum += s.img.At(bx, by)
					n++
				}
			}
			if n == 0 {
				continue
			}
			diff += math.Max(s.img.Pix[i]-sum/float64(n), 0)
			tot += s.img.Pix[i]
		}
	}
	if tot <= 0 {
		return math.NaN()
	}
	return diff / tot
}

// outerAsymmetry uses only segment pixels outside the half-light ellipse.
func (s *source) outerAsymmetry(rhalf float64) float64 {
	if math.IsNaN(rhalf) {
		return math.NaN()
	}
	var diff, tot float64
	for _, i := range s.pix {
		x, y := s.xy(i)
		if s.ellipRadius(x, y) <= rhalf {
			continue
		}
		rv, ok := s.rotated(x, y, s.xc, s.yc)
		if !ok {
			continue
		}
		diff += math.Abs(s.img.Pix[i] - rv)
		tot += math.Abs(s.img.Pix[i])
	}
	if tot == 0 {
		return math.NaN()
	}
	return diff / tot
}

// shapeAsymmetry is the rotational asymmetry of the binary segment.
func (s *source) shapeAsymmetry() float64 {
	w := s.img.Width
	in := func(x, y int) bool {
		if x < 0 || y < 0 || x >= w || y >= s.img.Height {
			return false
		}
		return s.seg.Pix[y*w+x] == s.label
	}
	cx, cy := int(math.Round(s.xc)), int(math.Round(s.yc))
	var diff, tot int
	for y := 0; y < s.img.Height; y++ {
		for x := 0; x < w; x++ {
			a, b := in(x, y), in(2*cx-x, 2*cy-y)
			if a {
				tot++
			}
			if a != b {
				diff++
			}
		}
	}
	if tot == 0 {
		return math.NaN()
	}
	return float64(diff) / float64(2*tot)
}

// multimode scans flux thresholds for the most prominent second component
// and returns the area ratio of the two largest components there.
func (s *source) multimode() float64 {
	vals := make([]float64, len(s.pix))
	for k, i := range s.pix {
		vals[k] = s.img.Pix[i]
	}
	sort.Float64s(vals)
	bestScore, best := -1.0, 0.0
	for q := 0; q < 100; q++ {
		th := vals[q*(len(vals)-1)/100]
		on := imaging.NewMask(s.img.Width, s.img.Height)
		for _, i := range s.pix {
			if s.img.Pix[i] >= th {
				on.Bits[i] = true
			}
		}
		areas := imaging.Components(on, 1).Areas()
		var a1, a2 int
		for _, a := range areas {
			switch {
			case a > a1:
				a1, a2 = a, a1
			case a > a2:
				a2 = a
			}
		}
		if a1 == 0 {
			continue
		}
		score := float64(a2*a2) / float64(a1)
		if score > bestScore {
			bestScore, best = score, float64(a2)/float64(a1)
		}
	}
	return best
}

// intensity floods the segment from its two brightest peaks and returns the
// flux ratio of the fainter region to the brighter one.
func (s *source) intensity() float64 {
	w, h := s.img.Width, s.img.Height
	type peak struct {
		i int
		v float64
	}
	var peaks []peak
	for _, i := range s.pix {
		v := s.img.Pix[i]
		x, y := i%w, i/w
		isMax := true
		for dy := -1; dy <= 1 && isMax; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if s.seg.Pix[j] == s.label && s.img.Pix[j] > v {
					isMax = false
					break
				}
			}
		}
		if isMax {
			peaks = append(peaks, peak{i, v})
		}
	}
	if len(peaks) < 2 {
		return 0
	}
	sort.Slice(peaks, func(a, b int) bool { return peaks[a].v > peaks[b].v })
	parts := segment.Flood(s.img, w, h, s.pix, [][]int{{peaks[0].i}, {peaks[1].i}})
	var f [2]float64
	for k, p := range parts {
		for _, i := range p {
			f[k] += s.img.Pix[i]
		}
	}
	if f[0] < f[1] {
		f[0], f[1] = f[1], f[0]
	}
	if f[0] <= 0 {
		return math.NaN()
	}
	return f[1] / f[0]
}

type sersicFit struct {
	amplitude, rhalf, n float64
	ok                  bool
}

// sersicBN approximates b_n so that Re encloses half the light.
func sersicBN(n float64) float64 {
	return 2*n - 1.0/3 + 4/(405*n) + 46/(25515*n*n)
}

func sersicProfile(r, ie, re, n float64) float64 {
	return ie * math.Exp(-sersicBN(n)*(math.Pow(r/re, 1/n)-1))
}

// fitSersic fits the binned elliptical profile of the segment with a
// Nelder-Mead search over log parameters.
func (s *source) fitSersic(rhalf float64) sersicFit {
	fail := sersicFit{math.NaN(), math.NaN(), math.NaN(), false}
	if math.IsNaN(rhalf) || rhalf <= 0 {
		return fail
	}
	var sums, counts []float64
	for _, i := range s.pix {
		x, y := s.xy(i)
		b := int(s.ellipRadius(x, y))
		for len(sums) <= b {
			sums = append(sums, 0)
			counts = append(counts, 0)
		}
		sums[b] += s.img.Pix[i]
		counts[b]++
	}
	var rs, is []float64
	for b := range sums {
		if counts[b] > 0 {
			rs = append(rs, float64(b)+0.5)
			is = append(is, sums[b]/counts[b])
		}
	}
	if len(rs) < 4 {
		return fail
	}

	ie0 := is[min(int(rhalf), len(is)-1)]
	if ie0 <= 0 {
		ie0 = math.Max(is[0]/10, 1e-6)
	}
	obj := func(x []float64) float64 {
		ie, re, n := math.Exp(x[0]), math.Exp(x[1]), math.Exp(x[2])
		var chi float64
		for k, r := range rs {
			d := is[k] - sersicProfile(r, ie, re, n)
			chi += d * d * counts[int(r)]
		}
		if n < 0.2 || n > 10 {
			chi *= 1e6
		}
		return chi
	}
	res, err := optimize.Minimize(optimize.Problem{Func: obj},
		[]float64{math.Log(ie0), math.Log(rhalf), 0},
		&optimize.Settings{MajorIterations: 2000}, &optimize.NelderMead{})
	if err != nil || res == nil {
		return fail
	}
	fit := sersicFit{
		amplitude: math.Exp(res.X[0]),
		rhalf:     math.Exp(res.X[1]),
		n:         math.Exp(res.X[2]),
	}
	fit.ok = fit.n >= 0.2 && fit.n <= 10 && !math.IsInf(fit.rhalf, 0) && !math.IsNaN(fit.rhalf)
	return fit
}

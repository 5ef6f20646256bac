package morph

import (
	"context"
	"math"
	"sort"

	"astromorph/internal/imaging"
	"astromorph/internal/stats"
)

// petroExtentFlux is the Petrosian multiple of the total-flux aperture.
const petroExtentFlux = 2.0

// minSegmentPixels is the smallest segment the native engine measures.
const minSegmentPixels = 10

// NativeEngine measures morphology in process. It ignores the PSF: Sérsic
// parameters come from a 1-D fit to the elliptical profile.
type NativeEngine struct{}

// NewNativeEngine returns the in-process engine.
func NewNativeEngine() *NativeEngine { return &NativeEngine{} }

func (e *NativeEngine) Name() string    { return "native" }
func (e *NativeEngine) Available() bool { return true }

// Analyze measures each requested label.
func (e *NativeEngine) Analyze(ctx context.Context, req Request) ([]Result, error) {
	skyMean, skySigma := backgroundStats(req)
	gain := req.Gain
	if gain <= 0 {
		gain = 1
	}
	eta := req.Eta
	if eta <= 0 {
		eta = 0.2
	}
	extent := req.PetroExtentCAS
	if extent <= 0 {
		extent = 1.5
	}

	out := make([]Result, 0, len(req.Labels))
	for _, label := range req.Labels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := newSource(req, label)
		r := NaNResult(label)
		r.SkyMean, r.SkySigma = skyMean, skySigma
		if len(s.pix) < minSegmentPixels || s.flux <= 0 {
			r.FlagMorph = 2
			r.FlagSersic = 1
			out = append(out, r)
			continue
		}
		s.measure(&r, eta, extent, skySigma, gain, req.SkyboxSize)
		out = append(out, r)
	}
	return out, nil
}

// backgroundStats clips every unlabeled, unmasked pixel.
func backgroundStats(req Request) (float64, float64) {
	vals := make([]float64, 0, len(req.Image.Pix))
	for i, v := range req.Image.Pix {
		if req.SegMap.Pix[i] == 0 && !req.Mask.MaskedAt(i) {
			vals = append(vals, v)
		}
	}
	c := stats.SigmaClip(vals, 3, 5)
	return c.Mean, c.Std
}

// source is one segment prepared for measurement.
type source struct {
	img   *imaging.Image
	mask  *imaging.Mask
	seg   *imaging.Labels
	label int32
	pix   []int // segment pixels not masked
	flux  float64

	xc, yc float64
	ellip  float64
	theta  float64
}

func newSource(req Request, label int) *source {
	s := &source{img: req.Image, mask: req.Mask, seg: req.SegMap, label: int32(label)}
	var sw, sx, sy float64
	w := req.Image.Width
	for i, v := range req.SegMap.Pix {
		if v != s.label || req.Mask.MaskedAt(i) || math.IsNaN(req.Image.Pix[i]) {
			continue
		}
		s.pix = append(s.pix, i)
		f := req.Image.Pix[i]
		s.flux += f
		if f > 0 {
			sw += f
			sx += f * float64(i%w)
			sy += f * float64(i/w)
		}
	}
	if sw == 0 {
		return s
	}
	s.xc, s.yc = sx/sw, sy/sw

	var m20, m02, m11 float64
	for _, i := range s.pix {
		f := req.Image.Pix[i]
		if f <= 0 {
			continue
		}
		dx, dy := float64(i%w)-s.xc, float64(i/w)-s.yc
		m20 += f * dx * dx
		m02 += f * dy * dy
		m11 += f * dx * dy
	}
	m20, m02, m11 = m20/sw, m02/sw, m11/sw
	common := math.Sqrt(((m20-m02)/2)*((m20-m02)/2) + m11*m11)
	l1 := (m20+m02)/2 + common
	l2 := (m20+m02)/2 - common
	if l1 > 0 && l2 > 0 {
		s.ellip = 1 - math.Sqrt(l2/l1)
	}
	s.ellip = math.Min(math.Max(s.ellip, 0), 0.999)
	s.theta = 0.5 * math.Atan2(2*m11, m20-m02)
	return s
}

func (s *source) xy(i int) (float64, float64) {
	return float64(i % s.img.Width), float64(i / s.img.Width)
}

// ellipRadius is the semi-major axis of the ellipse through (x, y).
func (s *source) ellipRadius(x, y float64) float64 {
	dx, dy := x-s.xc, y-s.yc
	c, sn := math.Cos(s.theta), math.Sin(s.theta)
	u := dx*c + dy*sn
	v := -dx*sn + dy*c
	return math.Hypot(u, v/(1-s.ellip))
}

func (s *source) measure(r *Result, eta, extent, skySigma, gain float64, skybox int) {
	r.XCentroid, r.YCentroid = s.xc, s.yc

	circ := func(x, y float64) float64 { return math.Hypot(x-s.xc, y-s.yc) }
	r.R20, r.R50, r.R80 = s.growthRadii(circ)
	r.RHalfCirc = r.R50
	_, r.RHalfEllip, _ = s.growthRadii(s.ellipRadius)
	if r.R20 > 0 {
		r.Concentration = 5 * math.Log10(r.R80/r.R20)
	}

	circProf := s.profile(circ)
	ellProf := s.profile(s.ellipRadius)
	var reached bool
	r.RPetroCirc, reached = circProf.petrosian(eta)
	if !reached {
		r.FlagMorph = 1
	}
	r.RPetroEllip, _ = ellProf.petrosian(eta)
	r.FluxCirc = circProf.fluxWithin(petroExtentFlux * r.RPetroCirc)
	r.FluxEllip = ellProf.fluxWithin(petroExtentFlux * r.RPetroEllip)

	r.Gini = s.gini()
	r.M20 = s.m20()
	r.GiniM20Bulge = -0.693*r.M20 + 4.95*r.Gini - 3.96
	r.GiniM20Merger = 0.139*r.M20 + 0.990*r.Gini - 0.327
	r.SNPerPixel = s.snPerPixel(skySigma, gain)

	apRadius := extent * r.RPetroCirc
	r.Asymmetry = s.asymmetry(apRadius, skybox)
	r.Smoothness = s.smoothness(r.RPetroCirc, apRadius)
	r.OuterAsymmetry = s.outerAsymmetry(r.RHalfEllip)
	r.ShapeAsymmetry = s.shapeAsymmetry()

	r.Multimode = s.multimode()
	r.Intensity = s.intensity()
	r.Deviation = s.deviation()

	fit := s.fitSersic(r.RHalfEllip)
	r.SersicAmplitude = fit.amplitude
	r.SersicRhalf = fit.rhalf
	r.SersicN = fit.n
	r.SersicXc, r.SersicYc = s.xc, s.yc
	r.SersicEllip = s.ellip
	r.SersicTheta = s.theta
	if !fit.ok {
		r.FlagSersic = 1
	}
}

// growthRadii returns the radii enclosing 20, 50 and 80% of the positive
// segment flux under the given distance metric.
func (s *source) growthRadii(dist func(x, y float64) float64) (float64, float64, float64) {
	type pf struct{ d, f float64 }
	list := make([]pf, 0, len(s.pix))
	var total float64
	for _, i := range s.pix {
		f := s.img.Pix[i]
		if f <= 0 {
			continue
		}
		x, y := s.xy(i)
		list = append(list, pf{dist(x, y), f})
		total += f
	}
	if total == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	sort.Slice(list, func(a, b int) bool { return list[a].d < list[b].d })

	radius := func(frac float64) float64 {
		target := frac * total
		var cum, prevD, prevCum float64
		for _, p := range list {
			cum += p.f
			if cum >= target {
				if cum == prevCum {
					return p.d
				}
				return prevD + (p.d-prevD)*(target-prevCum)/(cum-prevCum)
			}
			prevD, prevCum = p.d, cum
		}
		return list[len(list)-1].d
	}
	return radius(0.2), radius(0.5), radius(0.8)
}

func (s *source) gini() float64 {
	vals := make([]float64, len(s.pix))
	for k, i := range s.pix {
		vals[k] = math.Abs(s.img.Pix[i])
	}
	sort.Float64s(vals)
	n := float64(len(vals))
	var num, sum float64
	for k, v := range vals {
		num += (2*float64(k+1) - n - 1) * v
		sum += v
	}
	if sum == 0 || n < 2 {
		return math.NaN()
	}
	return num / (sum / n * n * (n - 1))
}

func (s *source) m20() float64 {
	type fm struct{ f, m float64 }
	list := make([]fm, 0, len(s.pix))
	var mtot, ftot float64
	for _, i := range s.pix {
		f := s.img.Pix[i]
		if f <= 0 {
			continue
		}
		x, y := s.xy(i)
		m := f * ((x-s.xc)*(x-s.xc) + (y-s.yc)*(y-s.yc))
		list = append(list, fm{f, m})
		mtot += m
		ftot += f
	}
	if mtot == 0 {
		return math.NaN()
	}
	sort.Slice(list, func(a, b int) bool { return list[a].f > list[b].f })
	var cumF, cumM float64
	for _, p := range list {
		if cumF >= 0.2*ftot {
			break
		}
		cumF += p.f
		cumM += p.m
	}
	if cumM <= 0 {
		return math.NaN()
	}
	return math.Log10(cumM / mtot)
}

func (s *source) snPerPixel(skySigma, gain float64) float64 {
	if !(skySigma > 0) {
		return math.NaN()
	}
	var sum float64
	for _, i := range s.pix {
		f := s.img.Pix[i]
		sum += f / math.Sqrt(skySigma*skySigma+math.Max(f, 0)/gain)
	}
	return sum / float64(len(s.pix))
}

func (s *source) deviation() float64 {
	best, bestV := -1, math.Inf(-1)
	for _, i := range s.pix {
		if v := s.img.Pix[i]; v > bestV {
			best, bestV = i, v
		}
	}
	if best < 0 {
		return math.NaN()
	}
	x, y := s.xy(best)
	return math.Sqrt(math.Pi/float64(len(s.pix))) * math.Hypot(x-s.xc, y-s.yc)
}

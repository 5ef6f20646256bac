package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"astromorph/internal/catalog"
	"astromorph/internal/directory"
	"astromorph/internal/geometry"
	"astromorph/internal/imaging"
	"astromorph/internal/logging"
	"astromorph/internal/morph"
	"astromorph/internal/quality"
	"astromorph/internal/segment"
	"astromorph/internal/sky"
	"astromorph/internal/stars"
	"astromorph/internal/survey"
	"astromorph/internal/target"
)

// Outcome is what a run wrote to the result table.
type Outcome struct {
	RunID   string
	Keys    []string
	Status  string
	Flag    string // fatal flag column, empty unless Status is failed
	Err     error  // cause of the fatal flag
	Engine  string
	Results []morph.Result
}

// Failed reports whether a fatal flag was raised.
func (o *Outcome) Failed() bool { return o != nil && o.Flag != "" }

// PendingRun is a prepared cutout waiting for its targets. The segmentation
// map and diagnostics can be inspected before committing.
type PendingRun struct {
	ID          string
	Object      directory.Object
	Band        string
	SizeKpc     float64
	Geometry    geometry.Geometry
	Cutout      *survey.Cutout
	Calibration survey.Calibration
	Sky         *sky.Model
	Stars       *stars.Result // nil when star masking is off or failed
	Seg         *segment.Map
	// Products maps a product name (cutout, sky, segm, ...) to its path.
	Products map[string]string
	// Outcome is set once the run failed or was committed.
	Outcome *Outcome

	p       *Pipeline
	started time.Time
}

// Prepare resolves spec, acquires its cutout and runs the sky, star and
// segmentation steps. A missing distance is returned as ErrNoDistance and
// leaves no row. Any other fatal failure is recorded and reported in the
// returned run's Outcome.
func (p *Pipeline) Prepare(ctx context.Context, spec directory.Target, band string, sizeKpc float64) (*PendingRun, error) {
	if band == "" {
		band = p.params.Band
	}
	if sizeKpc <= 0 {
		sizeKpc = p.params.SizeKpc
	}
	id := runID(ctx)
	run := &PendingRun{
		ID:       id,
		Band:     band,
		SizeKpc:  sizeKpc,
		Products: make(map[string]string),
		p:        p,
		started:  time.Now(),
	}
	p.begin(id, spec, band, sizeKpc)
	logging.LogRunStart(p.log, id, spec.String(), band, sizeKpc, map[string]any{
		"survey":     p.survey.Name(),
		"sky_method": p.params.Sky.Method,
		"mask_stars": p.params.Star.Enabled,
		"deblend":    p.params.Seg.Deblend,
	})

	err := run.step("resolve", func() error {
		obj, err := p.objects.Resolve(ctx, spec)
		run.Object = obj
		return err
	})
	if err != nil {
		p.end(id, spec.String(), run.started, StatusError, nil, err)
		return nil, fmt.Errorf("resolve %s: %w", spec, err)
	}

	run.Geometry, err = geometry.New(sizeKpc, run.Object.RadVel, p.survey.PixelScale(), p.params.Seg.AreaMin, p.params.Seg.AreaMinDeblend)
	if errors.Is(err, geometry.ErrNoDistance) {
		p.end(id, run.Object.Name, run.started, StatusNoDistance, nil, err)
		return nil, fmt.Errorf("%s: %w", run.Object.Name, err)
	}
	if err != nil {
		return run, run.fail(ctx, []string{run.key(band)}, fmt.Errorf("%w: %v", survey.ErrNoImage, err))
	}

	if err := run.acquire(ctx); err != nil {
		return run, run.fail(ctx, []string{run.key(band)}, err)
	}
	if err := run.subtractSky(); err != nil {
		return run, run.fail(ctx, []string{run.key(band)}, err)
	}
	run.maskStars()
	if err := run.segment(); err != nil {
		return run, run.fail(ctx, []string{run.key(band)}, err)
	}
	return run, nil
}

func (r *PendingRun) key(tag string) string { return r.Object.Name + tag }

func (r *PendingRun) acquire(ctx context.Context) error {
	p := r.p
	err := r.step("acquire", func() error {
		cut, err := p.acquirer.Acquire(ctx, r.Object, r.Band, r.Geometry)
		if err != nil {
			return err
		}
		r.Cutout = cut
		r.Products["cutout"] = cut.Path
		if cut.PreviewPath != "" {
			r.Products["preview"] = cut.PreviewPath
		}
		return nil
	})
	if err != nil {
		return asImageError(err)
	}

	err = r.step("calibration", func() error {
		pos := survey.Position{RA: r.Object.RADeg, Dec: r.Object.DecDeg}
		cal, err := p.resolver.Resolve(ctx, pos, r.Band, p.params.PSF)
		if err != nil {
			return err
		}
		if !(cal.FWHM > 0) || !(cal.PixelScale > 0) {
			return fmt.Errorf("unusable calibration fwhm=%g scale=%g", cal.FWHM, cal.PixelScale)
		}
		r.Calibration = cal
		return nil
	})
	return asImageError(err)
}

// asImageError files acquisition failures without a kind of their own under
// ErrNoImage.
func asImageError(err error) error {
	if err == nil || FailureFlag(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %v", survey.ErrNoImage, err)
}

func (r *PendingRun) subtractSky() error {
	p := r.p
	err := r.step("sky", func() error {
		m, err := sky.Estimate(r.Cutout.Image, p.params.Sky)
		if err != nil {
			return err
		}
		r.Sky = m
		return nil
	})
	if err != nil {
		return err
	}
	hdr := r.Cutout.Image.Header.Clone()
	r.Sky.Background.Header = hdr
	r.Sky.Subtracted.Header = hdr.Clone()
	r.product("sky", func(path string) error { return imaging.WriteFITS(path, r.Sky.Background) })
	r.product("sky_sub", func(path string) error { return imaging.WriteFITS(path, r.Sky.Subtracted) })
	r.figure("sky", r.Band, func(path string) error { return renderSky(path, r.Sky) })
	return nil
}

// maskStars never fails the run; without a star mask segmentation sees
// every source.
func (r *PendingRun) maskStars() {
	p := r.p
	if !p.params.Star.Enabled {
		return
	}
	err := r.step("stars", func() error {
		res, err := stars.Mask(r.Sky.Subtracted, r.Sky.RMS, p.params.Star)
		if err != nil {
			return err
		}
		r.Stars = res
		return nil
	})
	if err != nil {
		p.log.Warn("star mask skipped", "run_id", r.ID, "error", err)
		return
	}
	r.product("mask_stars", func(path string) error { return imaging.WriteMaskFITS(path, r.Stars.Mask) })
}

func (r *PendingRun) starMask() *imaging.Mask {
	if r.Stars == nil {
		return nil
	}
	return r.Stars.Mask
}

func (r *PendingRun) segment() error {
	p := r.p
	err := r.step("segment", func() error {
		m, err := segment.Detect(r.Sky.Subtracted, r.starMask(), p.params.Seg, r.Geometry.AreaMinPix, r.Geometry.AreaMinDeblendPix)
		if err != nil {
			return err
		}
		r.Seg = m
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", target.ErrNoCentralObject, err)
	}
	r.product("segm", func(path string) error { return imaging.WriteLabelsFITS(path, r.Seg.Labels) })
	r.figure("segm", r.Band, func(path string) error { return renderSegmentation(path, r.Sky.Subtracted, r.Seg) })
	return nil
}

// CommitAuto measures the object at the image center under the key
// object+band.
func (r *PendingRun) CommitAuto(ctx context.Context) (*Outcome, error) {
	if r.Outcome.Failed() {
		return r.Outcome, nil
	}
	sel, err := target.Auto(r.Seg, r.Band)
	if err != nil {
		if ferr := r.fail(ctx, []string{r.key(r.Band)}, err); ferr != nil {
			return nil, ferr
		}
		return r.Outcome, nil
	}
	return r.measure(ctx, sel)
}

// Commit measures the given segmentation labels, keyed object+nickname.
// Nicknames default to A, B, C... An unknown label is returned as
// ErrUnknownLabel and nothing is recorded.
func (r *PendingRun) Commit(ctx context.Context, labels []int, nicknames []string) (*Outcome, error) {
	if r.Outcome.Failed() {
		return r.Outcome, nil
	}
	sel, err := target.Explicit(r.Seg, labels, nicknames)
	if err != nil {
		return nil, err
	}
	return r.measure(ctx, sel)
}

func (r *PendingRun) measure(ctx context.Context, sel *target.Selection) (*Outcome, error) {
	p := r.p
	keys := make([]string, len(sel.Targets))
	for i, t := range sel.Targets {
		keys[i] = r.key(t.Nickname)
	}

	img := r.Sky.Subtracted
	mask := imaging.Union(img.Width, img.Height, r.starMask(), sel.Others)
	r.product("mask", func(path string) error { return imaging.WriteMaskFITS(path, mask) })

	var results []morph.Result
	var engine string
	err := r.step("morphology", func() error {
		psf, err := morph.GaussianPSF(r.Calibration.FWHM, r.Calibration.PixelScale)
		if err != nil {
			return fmt.Errorf("%w: %v", morph.ErrMorphologyFailed, err)
		}
		req := morph.Request{
			Image:          img,
			SegMap:         sel.Filtered.Labels,
			Mask:           mask,
			Labels:         sel.Labels(),
			Gain:           p.params.Morph.Gain,
			PSF:            psf,
			Eta:            p.params.Morph.Eta,
			PetroExtentCAS: p.params.Morph.PetroExtentCAS,
			SkyboxSize:     p.params.Morph.SkyboxSize,
		}
		results, engine, err = p.engines.Run(ctx, p.params.Morph.Engine, req)
		p.metrics.EngineUsed(orNone(engine), err)
		return err
	})
	if err != nil {
		if ferr := r.fail(ctx, keys, err); ferr != nil {
			return nil, ferr
		}
		r.Outcome.Engine = engine
		return r.Outcome, nil
	}

	fwhmPix := r.Calibration.FWHM / r.Calibration.PixelScale
	status := StatusCompleted
	for i, t := range sel.Targets {
		res := results[i]
		a := quality.Assess(img, sel.Filtered.Labels, t.Label, r.Sky.RMS, fwhmPix, p.params.Flag)
		flags := quality.Combine(a, res)

		cells := r.baseCells()
		merge(cells, catalog.MorphCells(res))
		merge(cells, a.Cells(p.params.Flag.AreaThreshold, p.params.Flag.SNThreshold))
		merge(cells, flags.Cells())
		cells["engine"] = engine
		if ra, dec, ok := r.refinedPosition(res); ok {
			cells["ra"], cells["dec"] = ra, dec
		}
		if flags.Area == 1 || flags.SN == 1 || res.FlagMorph != 0 || res.FlagSersic != 0 {
			status = StatusFlagged
		}
		if err := p.recorder.Record(r.ID, keys[i], cells); err != nil {
			return nil, err
		}
		p.metrics.FlagsRaised(cells)
	}
	if err := p.recorder.Flush(); err != nil {
		p.end(r.ID, r.Object.Name, r.started, StatusError, nil, err)
		return nil, err
	}
	r.diagnose(sel, results)

	r.Outcome = &Outcome{RunID: r.ID, Keys: keys, Status: status, Engine: engine, Results: results}
	p.end(r.ID, r.Object.Name, r.started, status, map[string]any{"keys": keys, "engine": engine}, nil)
	return r.Outcome, nil
}

// refinedPosition converts the Sérsic center to sky coordinates.
func (r *PendingRun) refinedPosition(res morph.Result) (float64, float64, bool) {
	w, ok := r.Sky.Subtracted.Header.WCS()
	if !ok || math.IsNaN(res.SersicXc) || math.IsNaN(res.SersicYc) {
		return 0, 0, false
	}
	ra, dec := w.PixToWorld(res.SersicXc, res.SersicYc)
	return ra, dec, true
}

// fail records a fatal flag on every key and closes the run. Only a failure
// to write the table or a cancelled ctx is returned.
func (r *PendingRun) fail(ctx context.Context, keys []string, cause error) error {
	p := r.p
	if err := ctx.Err(); err != nil {
		// an interrupted run says nothing about the target
		p.end(r.ID, r.Object.Name, r.started, StatusError, nil, cause)
		return fmt.Errorf("%s: %w", r.Object.Name, err)
	}
	flag := FailureFlag(cause)
	if flag == "" {
		flag = "flag_image"
	}
	for _, k := range keys {
		cells := r.baseCells()
		merge(cells, catalog.EmptyMorphCells())
		merge(cells, quality.EmptyCells(p.params.Flag.AreaThreshold, p.params.Flag.SNThreshold, p.params.Flag.SNPercentile))
		cells[flag] = 1
		cells["View"] = quality.Unknown
		cells["engine"] = catalog.NoValue
		if err := p.recorder.Record(r.ID, k, cells); err != nil {
			return err
		}
		p.metrics.FlagsRaised(cells)
	}
	if err := p.recorder.Flush(); err != nil {
		p.end(r.ID, r.Object.Name, r.started, StatusError, nil, err)
		return err
	}
	r.Outcome = &Outcome{RunID: r.ID, Keys: keys, Status: StatusFailed, Flag: flag, Err: cause}
	p.end(r.ID, r.Object.Name, r.started, StatusFailed, map[string]any{"keys": keys, "flag": flag}, cause)
	return nil
}

// step times fn and logs it.
func (r *PendingRun) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	r.p.metrics.ObserveStep(name, d)
	details := map[string]any{"duration_ms": d.Milliseconds()}
	status := "completed"
	if err != nil {
		status = "failed"
		details["error"] = err.Error()
	}
	logging.LogStep(r.p.log, r.ID, name, status, details)
	return err
}

// product writes a FITS product next to the cutout. Failures are logged.
func (r *PendingRun) product(name string, write func(path string) error) {
	path := r.p.layout.Product(r.Object.Name, r.Band, r.SizeKpc, name)
	if err := write(path); err != nil {
		r.p.log.Warn("product not written", "run_id", r.ID, "product", name, "error", err)
		return
	}
	r.Products[name] = path
}

// figure writes a diagnostic PNG when diagnostics are on. Failures are logged.
func (r *PendingRun) figure(name, band string, draw func(path string) error) {
	if !r.p.diagnostics {
		return
	}
	r.figureAt(name, r.p.layout.Figure(r.Object.Name, band, r.SizeKpc, name), draw)
}

func (r *PendingRun) figureAt(name, path string, draw func(path string) error) {
	if err := draw(path); err != nil {
		r.p.log.Warn("figure not written", "run_id", r.ID, "figure", name, "error", err)
		return
	}
	r.Products["fig_"+name] = path
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"astromorph/internal/catalog"
	"astromorph/internal/config"
	"astromorph/internal/directory"
	"astromorph/internal/fsutil"
	"astromorph/internal/geometry"
	"astromorph/internal/metrics"
	"astromorph/internal/morph"
	"astromorph/internal/pipeline"
	"astromorph/internal/storage"
	"astromorph/internal/survey"
	"astromorph/internal/target"
	"astromorph/internal/watch"
)

// Version is reported by the version command.
const Version = "0.3.0-dev"

type adapterFactory func(name string) (survey.Adapter, error)

// runOptions are bound to the persistent flags of the root command.
type runOptions struct {
	paramsFile  string
	surveyName  string
	band        string
	sizeKpc     float64
	psf         float64
	maskStars   bool
	deblend     bool
	engine      string
	diagnostics bool
}

// Root wires CLI commands to the pipeline.
type Root struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *storage.Store
	metrics *metrics.Metrics
	out     io.Writer

	objects  pipeline.Objects
	engines  *morph.Manager
	adapters adapterFactory
	recorder *catalog.Recorder

	opts runOptions
}

// NewRoot builds the object directory, engines and survey factory from cfg.
// store may be nil; run history is then skipped.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store) (*Root, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.Surveys.TimeoutSeconds) * time.Second
	var remote directory.Source
	if !cfg.Directory.Offline {
		remote = directory.NewSimbad(cfg.Directory.SimbadTapURL, cfg.Surveys.RequestsPerSec, timeout)
	}
	objects, err := directory.New(workPath(cfg, cfg.Paths.ObjectTable), remote, cfg.Surveys.SearchConeArcsec, logger)
	if err != nil {
		return nil, err
	}
	return &Root{
		cfg:     cfg,
		log:     logger,
		store:   store,
		metrics: metrics.New(),
		out:     os.Stdout,
		objects: objects,
		engines: morph.NewManager(&cfg.Engines, logger),
		adapters: func(name string) (survey.Adapter, error) {
			return survey.New(name, cfg.Surveys)
		},
	}, nil
}

// Run executes args as a command line.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := NewRootCmd(r)
	cmd.SetArgs(args)
	cmd.SetOut(r.out)
	cmd.SetErr(r.out)
	return cmd.ExecuteContext(ctx)
}

func workPath(cfg *config.Config, p string) string {
	if p == "" || filepath.IsAbs(p) || cfg.Paths.WorkDir == "" {
		return p
	}
	return filepath.Join(cfg.Paths.WorkDir, p)
}

// params loads the parameter file and applies the flags that were set.
func (r *Root) params(changed func(string) bool) (config.Params, error) {
	p, err := config.LoadParams(r.opts.paramsFile)
	if err != nil {
		return p, err
	}
	if changed("survey") {
		p.Survey = r.opts.surveyName
	}
	if p.Survey == "" {
		p.Survey = r.cfg.Surveys.Default
	}
	if changed("band") {
		p.Band = r.opts.band
	}
	if changed("size") {
		p.SizeKpc = r.opts.sizeKpc
	}
	if changed("psf") {
		p.PSF = r.opts.psf
	}
	if changed("mask-stars") {
		p.Star.Enabled = r.opts.maskStars
	}
	if changed("deblend") {
		p.Seg.Deblend = r.opts.deblend
	}
	if changed("engine") {
		p.Morph.Engine = r.opts.engine
	}
	return p, p.Validate()
}

func (r *Root) results() (*catalog.Recorder, error) {
	if r.recorder != nil {
		return r.recorder, nil
	}
	rec, err := catalog.NewRecorder(workPath(r.cfg, r.cfg.Paths.ResultTable), r.store, r.log)
	if err != nil {
		return nil, err
	}
	r.recorder = rec
	return rec, nil
}

func (r *Root) layout() fsutil.Layout {
	return fsutil.NewLayout(r.cfg.Paths.WorkDir, r.cfg.Paths.FitsDir, r.cfg.Paths.ImagesDir)
}

func (r *Root) newPipeline(p config.Params) (*pipeline.Pipeline, error) {
	adapter, err := r.adapters(p.Survey)
	if err != nil {
		return nil, err
	}
	rec, err := r.results()
	if err != nil {
		return nil, err
	}
	return pipeline.New(p, pipeline.Options{
		Survey:      adapter,
		Objects:     r.objects,
		Layout:      r.layout(),
		Engines:     r.engines,
		Recorder:    rec,
		Store:       r.store,
		Metrics:     r.metrics,
		Logger:      r.log,
		UserFWHM:    r.cfg.Surveys.UserFWHM,
		Diagnostics: r.opts.diagnostics,
	})
}

// parseTarget reads "ra dec" or "ra,dec" in degrees as a position and
// anything else as an object name.
func parseTarget(arg string) (directory.Target, error) {
	f := strings.FieldsFunc(arg, func(c rune) bool { return c == ',' || unicode.IsSpace(c) })
	if len(f) == 2 {
		ra, errRA := strconv.ParseFloat(f[0], 64)
		dec, errDec := strconv.ParseFloat(f[1], 64)
		if errRA == nil && errDec == nil {
			if ra < 0 || ra >= 360 || dec < -90 || dec > 90 {
				return directory.Target{}, fmt.Errorf("position %q out of range", arg)
			}
			return directory.Target{RA: ra, Dec: dec, HasPosition: true}, nil
		}
	}
	name := strings.TrimSpace(arg)
	if name == "" {
		return directory.Target{}, errors.New("empty target")
	}
	return directory.Target{Name: name}, nil
}

// entries collects targets from args and an optional list file.
func entries(args []string, listFile string) ([]watch.Entry, error) {
	var out []watch.Entry
	for _, a := range args {
		t, err := parseTarget(a)
		if err != nil {
			return nil, err
		}
		out = append(out, watch.Entry{Target: t})
	}
	if listFile != "" {
		f, err := os.Open(listFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		list, err := watch.ParseList(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", listFile, err)
		}
		out = append(out, list...)
	}
	if len(out) == 0 {
		return nil, errors.New("no targets given")
	}
	return out, nil
}

func jobFor(e watch.Entry, source string) pipeline.Job {
	return pipeline.Job{Target: e.Target, Band: e.Band, SizeKpc: e.SizeKpc, Source: source}
}

// runTargets queues every entry and waits for all of them. Fatal flags are
// results, not errors; only runs that wrote no row fail the command.
func (r *Root) runTargets(ctx context.Context, p *pipeline.Pipeline, list []watch.Entry, source string) error {
	depth := max(len(list), r.cfg.Processing.QueueDepth)
	q := pipeline.NewQueue(ctx, p, depth, r.log, r.store, r.metrics)
	defer q.Stop()
	results, unsubscribe := q.Subscribe()
	defer unsubscribe()

	pending := make(map[string]bool, len(list))
	for _, e := range list {
		id, err := q.Submit(jobFor(e, source))
		if err != nil {
			return err
		}
		pending[id] = true
	}

	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return errors.New("queue stopped before completion")
			}
			if !pending[res.Job.ID] {
				continue
			}
			delete(pending, res.Job.ID)
			r.report(res)
			if res.Error != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets wrote no row", failed, len(list))
	}
	return nil
}

func (r *Root) report(res pipeline.Result) {
	switch o := res.Outcome; {
	case res.Error != nil:
		fmt.Fprintf(r.out, "%s\terror\t%v\n", res.Job.Target, res.Error)
	case o == nil:
		fmt.Fprintf(r.out, "%s\tunknown\n", res.Job.Target)
	case o.Failed():
		fmt.Fprintf(r.out, "%s\t%s\t%s: %v\n", strings.Join(o.Keys, ","), o.Status, o.Flag, o.Err)
	default:
		fmt.Fprintf(r.out, "%s\t%s\t%s\n", strings.Join(o.Keys, ","), o.Status, o.Engine)
	}
}

func (r *Root) cmdPrepare(ctx context.Context, p *pipeline.Pipeline, spec directory.Target) error {
	run, err := p.Prepare(ctx, spec, "", 0)
	if err != nil {
		return err
	}
	if run.Outcome.Failed() {
		r.report(pipeline.Result{Job: pipeline.Job{Target: spec}, Outcome: run.Outcome})
		return nil
	}
	fmt.Fprintf(r.out, "%s band %s, %g kpc, %dx%d px, fwhm %.2f\"\n", run.Object.Name, run.Band, run.SizeKpc,
		run.Sky.Subtracted.Width, run.Sky.Subtracted.Height, run.Calibration.FWHM)

	central := 0
	if sel, err := target.Auto(run.Seg, run.Band); err == nil {
		central = sel.Targets[0].Label
	}
	cx, cy := run.Sky.Subtracted.Center()
	labels := make([]int, 0, len(run.Seg.Areas))
	for l := range run.Seg.Areas {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "label\tarea\tx\ty\tdist\t")
	for _, l := range labels {
		x, y, _ := run.Seg.Centroid(l)
		mark := ""
		if l == central {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%.1f\t%.1f\t%s\n", l, run.Seg.Areas[l], x, y, math.Hypot(x-cx, y-cy), mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	names := make([]string, 0, len(run.Products))
	for n := range run.Products {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(r.out, "%s: %s\n", n, run.Products[n])
	}
	return nil
}

func (r *Root) cmdCommit(ctx context.Context, p *pipeline.Pipeline, spec directory.Target, labels []int, nicknames []string) error {
	run, err := p.Prepare(ctx, spec, "", 0)
	if err != nil {
		return err
	}
	if run.Outcome.Failed() {
		r.report(pipeline.Result{Job: pipeline.Job{Target: spec}, Outcome: run.Outcome})
		return nil
	}
	out, err := run.Commit(ctx, labels, nicknames)
	if err != nil {
		return err
	}
	r.report(pipeline.Result{Job: pipeline.Job{Target: spec}, Outcome: out})
	return nil
}

func (r *Root) cmdMass(ctx context.Context, p *pipeline.Pipeline, key string, bands []string) error {
	est, err := p.Mass(ctx, key, bands)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(est.Mag))
	for b := range est.Mag {
		names = append(names, b)
	}
	sort.Strings(names)
	for _, b := range names {
		fmt.Fprintf(r.out, "mag_%s_2Re\t%.3f\tM%s_2Re\t%.3f\n", b, est.Mag[b], b, est.AbsMag[b])
	}
	fmt.Fprintf(r.out, "g-r\t%.3f\tr-z\t%.3f\n", est.Color("g", "r"), est.Color("r", "z"))
	fmt.Fprintf(r.out, "mass\t%.3f\n", math.Log10(est.Mass))
	return nil
}

func (r *Root) cmdResolve(ctx context.Context, p config.Params, specs []directory.Target) error {
	adapter, err := r.adapters(p.Survey)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "name\tra\tdec\tradvel\tz\tkpc/\"\tside\t")
	var failed []string
	for _, spec := range specs {
		o, err := r.objects.Resolve(ctx, spec)
		if err != nil {
			failed = append(failed, spec.String())
			r.log.Warn("not resolved", "target", spec.String(), "error", err)
			continue
		}
		side, scale := "--", "--"
		if g, err := geometry.New(p.SizeKpc, o.RadVel, adapter.PixelScale(), p.Seg.AreaMin, p.Seg.AreaMinDeblend); err == nil {
			side = strconv.Itoa(g.SidePix)
			scale = strconv.FormatFloat(g.KpcPerArcsec, 'f', 4, 64)
		} else if errors.Is(err, geometry.ErrTooSmall) {
			side = strconv.Itoa(g.SidePix) + " (too small)"
			scale = strconv.FormatFloat(g.KpcPerArcsec, 'f', 4, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\t%.5f\t%s\t%s\t\n", o.Name, o.RA(), o.Dec(), o.RadVel, o.Z(), scale, side)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("not resolved: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (r *Root) cmdHistory(key string, limit int) error {
	if r.store == nil {
		return errors.New("run history unavailable")
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	if key != "" {
		updates, err := r.store.History(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "seq\trun\twhen\tView\tflags\t")
		for _, u := range updates {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n", u.Seq, u.RunID, u.CreatedAt.Format(time.DateTime), u.Cells["View"], raisedFlags(u.Cells))
		}
		return tw.Flush()
	}
	runs, err := r.store.RecentRuns(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "run\ttarget\tband\tkpc\tsurvey\tstatus\tcreated\terror\t")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\t%s\t%s\t%s\t\n", run.ID, run.Object, run.Band, run.SizeKpc, run.Survey,
			run.Status, run.CreatedAt.Format(time.DateTime), run.Error)
	}
	return tw.Flush()
}

// raisedFlags lists the fatal flag columns set in a logged row.
func raisedFlags(cells map[string]string) string {
	var on []string
	for _, f := range catalog.FatalFlags {
		if cells[f] == "1" {
			on = append(on, f)
		}
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ",")
}

// writeMetrics dumps the prometheus textfile when enabled.
func (r *Root) writeMetrics() {
	if !r.cfg.Metrics.Enabled {
		return
	}
	path := workPath(r.cfg, r.cfg.Metrics.Textfile)
	if err := r.metrics.WriteTextfile(path); err != nil {
		r.log.Warn("metrics not written", "path", path, "error", err)
	}
}

// Package pipeline runs a target through acquisition, sky subtraction,
// segmentation and morphology, and records the outcome as one table row
// per measured object.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"astromorph/internal/catalog"
	"astromorph/internal/config"
	"astromorph/internal/directory"
	"astromorph/internal/fsutil"
	"astromorph/internal/geometry"
	"astromorph/internal/logging"
	"astromorph/internal/metrics"
	"astromorph/internal/morph"
	"astromorph/internal/sky"
	"astromorph/internal/storage"
	"astromorph/internal/survey"
	"astromorph/internal/target"
)

// Run statuses, as stored in the run history and counted in metrics.
const (
	StatusCompleted  = "completed"
	StatusFlagged    = "flagged"
	StatusFailed     = "failed"
	StatusNoDistance = "no_distance"
	StatusError      = "error"
)

// Objects resolves targets to catalog objects.
type Objects interface {
	Resolve(ctx context.Context, t directory.Target) (directory.Object, error)
}

// Options wires the collaborators of a Pipeline. Store and Metrics may be nil.
type Options struct {
	Survey      survey.Adapter
	Objects     Objects
	Layout      fsutil.Layout
	Engines     *morph.Manager
	Recorder    *catalog.Recorder
	Store       *storage.Store
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	UserFWHM    map[string]float64
	Diagnostics bool
}

// Pipeline runs targets with one set of parameters against one survey.
// The result table is shared, so runs must not overlap; Queue serializes them.
type Pipeline struct {
	params      config.Params
	survey      survey.Adapter
	objects     Objects
	layout      fsutil.Layout
	acquirer    *survey.Acquirer
	resolver    *survey.Resolver
	engines     *morph.Manager
	recorder    *catalog.Recorder
	store       *storage.Store
	metrics     *metrics.Metrics
	log         *slog.Logger
	diagnostics bool
}

// New validates params and wires the pipeline.
func New(params config.Params, opts Options) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if opts.Survey == nil || opts.Objects == nil || opts.Recorder == nil {
		return nil, errors.New("pipeline: survey, objects and recorder are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engines := opts.Engines
	if engines == nil {
		engines = morph.NewManager(nil, logger)
	}
	return &Pipeline{
		params:      params,
		survey:      opts.Survey,
		objects:     opts.Objects,
		layout:      opts.Layout,
		acquirer:    survey.NewAcquirer(opts.Survey, opts.Layout, logger),
		resolver:    survey.NewResolver(opts.Survey, opts.UserFWHM, logger),
		engines:     engines,
		recorder:    opts.Recorder,
		store:       opts.Store,
		metrics:     opts.Metrics,
		log:         logger,
		diagnostics: opts.Diagnostics,
	}, nil
}

// Params returns the run parameters.
func (p *Pipeline) Params() config.Params { return p.params }

// Survey returns the survey adapter.
func (p *Pipeline) Survey() survey.Adapter { return p.survey }

// RunAuto prepares spec and measures the central object.
func (p *Pipeline) RunAuto(ctx context.Context, spec directory.Target, band string, sizeKpc float64) (*Outcome, error) {
	run, err := p.Prepare(ctx, spec, band, sizeKpc)
	if err != nil {
		return nil, err
	}
	return run.CommitAuto(ctx)
}

// FailureFlag names the table column raised by a fatal failure, or "" when
// err is not one of the recorded kinds.
func FailureFlag(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, survey.ErrNoImage), errors.Is(err, geometry.ErrTooSmall):
		return "flag_image"
	case errors.Is(err, sky.ErrBackgroundFailed):
		return "flag_bck"
	case errors.Is(err, target.ErrNoCentralObject):
		return "flag_object"
	case errors.Is(err, morph.ErrMorphologyFailed):
		return "flag_statmorph"
	}
	return ""
}

type runIDKey struct{}

// WithRunID makes the next Prepare on ctx use id instead of a fresh one.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// runID returns the id carried by ctx, or a fresh one.
func runID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// begin records the run in the history store. A run the queue already
// recorded keeps its queued entry.
func (p *Pipeline) begin(id string, spec directory.Target, band string, sizeKpc float64) {
	paramsJSON, _ := json.Marshal(p.params)
	if err := p.store.EnsureRun(storage.RunRecord{
		ID:         id,
		Object:     spec.String(),
		Band:       band,
		SizeKpc:    sizeKpc,
		Survey:     p.survey.Name(),
		Status:     "queued",
		ParamsJSON: string(paramsJSON),
	}); err != nil {
		p.log.Warn("run history unavailable", "run_id", id, "error", err)
	}
	if err := p.store.RecordRunStart(id); err != nil {
		p.log.Warn("run history unavailable", "run_id", id, "error", err)
	}
}

// end closes the run in the history store, metrics and the log.
func (p *Pipeline) end(id, object string, started time.Time, status string, meta map[string]any, err error) {
	d := time.Since(started)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if serr := p.store.RecordRunResult(id, status, meta, errMsg); serr != nil {
		p.log.Warn("run history unavailable", "run_id", id, "error", serr)
	}
	p.metrics.RunFinished(status)
	switch status {
	case StatusCompleted, StatusFlagged:
		logging.LogRunComplete(p.log, id, object, d, meta)
	default:
		logging.LogRunError(p.log, id, object, d, orErr(err, status), meta)
	}
}

func orErr(err error, status string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s", status)
}

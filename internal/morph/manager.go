package morph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"astromorph/internal/config"
	"astromorph/internal/logging"
)

// Manager registers engines and picks one by preference and availability.
type Manager struct {
	engines   map[string]Engine
	order     []string
	preferred string
	log       *slog.Logger
}

// NewManager registers engines based on config. The native engine is always
// registered last as the fallback.
func NewManager(cfg *config.EngineConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{engines: make(map[string]Engine), log: logger}
	if cfg == nil {
		m.Register(NewNativeEngine())
		return m
	}
	m.preferred = cfg.Preferred

	if cfg.Statmorph.Enabled {
		m.Register(NewStatmorphEngine(cfg.Statmorph))
	}
	if cfg.Remote.Enabled {
		m.Register(NewRemoteEngine(cfg.Remote))
	}
	m.Register(NewNativeEngine())

	// fallbacks decide the probing order after the preferred engine
	ordered := make([]string, 0, len(m.order))
	for _, name := range cfg.Fallbacks {
		if _, ok := m.engines[name]; ok {
			ordered = append(ordered, name)
		}
	}
	for _, name := range m.order {
		if !contains(ordered, name) {
			ordered = append(ordered, name)
		}
	}
	m.order = ordered
	return m
}

// Register adds or replaces an engine.
func (m *Manager) Register(e Engine) {
	if e == nil {
		return
	}
	if _, exists := m.engines[e.Name()]; !exists {
		m.order = append(m.order, e.Name())
	}
	m.engines[e.Name()] = e
}

// Engines exposes the registry.
func (m *Manager) Engines() map[string]Engine {
	return m.engines
}

// Status reports availability per engine in probing order.
func (m *Manager) Status() []EngineStatus {
	out := make([]EngineStatus, 0, len(m.order))
	for _, name := range m.order {
		ok := m.engines[name].Available()
		logging.LogEngineStatus(m.log, name, ok, "")
		out = append(out, EngineStatus{Name: name, Available: ok, Preferred: name == m.preferred})
	}
	return out
}

// EngineStatus is one row of Status.
type EngineStatus struct {
	Name      string
	Available bool
	Preferred bool
}

// Select returns the named engine, or the preferred one, or the first
// available fallback.
func (m *Manager) Select(name string) (Engine, error) {
	if name != "" {
		e, ok := m.engines[name]
		if !ok {
			return nil, fmt.Errorf("unknown morphology engine %q", name)
		}
		if !e.Available() {
			return nil, fmt.Errorf("morphology engine %q is not available", name)
		}
		return e, nil
	}
	if e, ok := m.engines[m.preferred]; ok && e.Available() {
		return e, nil
	}
	for _, n := range m.order {
		if e := m.engines[n]; e.Available() {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no morphology engine available")
}

// Run selects an engine and analyzes the request.
func (m *Manager) Run(ctx context.Context, engine string, req Request) ([]Result, string, error) {
	e, err := m.Select(engine)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMorphologyFailed, err)
	}
	start := time.Now()
	res, err := Run(ctx, e, req)
	m.log.Debug("morphology finished", "engine", e.Name(), "labels", req.Labels, "duration", time.Since(start), "error", err)
	return res, e.Name(), err
}

// Run validates the request, calls the engine and checks its output covers
// every label. Results come back in request order.
func Run(ctx context.Context, e Engine, req Request) ([]Result, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMorphologyFailed, err)
	}
	res, err := e.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMorphologyFailed, e.Name(), err)
	}
	byLabel := make(map[int]Result, len(res))
	for _, r := range res {
		byLabel[r.Label] = r
	}
	out := make([]Result, 0, len(req.Labels))
	for _, l := range req.Labels {
		r, ok := byLabel[l]
		if !ok {
			return nil, fmt.Errorf("%w: %s returned no result for label %d", ErrMorphologyFailed, e.Name(), l)
		}
		out = append(out, sanitize(r))
	}
	return out, nil
}

// sanitize flags Sérsic fits outside the model's domain.
func sanitize(r Result) Result {
	if !(r.SersicN > 0) || !(r.SersicEllip >= 0 && r.SersicEllip < 1) {
		r.FlagSersic = 1
	}
	return r
}

func (r Request) validate() error {
	if r.Image == nil || r.SegMap == nil {
		return fmt.Errorf("image and segmentation map are required")
	}
	if r.Image.Width != r.SegMap.Width || r.Image.Height != r.SegMap.Height {
		return fmt.Errorf("segmentation map %dx%d does not match image %dx%d",
			r.SegMap.Width, r.SegMap.Height, r.Image.Width, r.Image.Height)
	}
	if r.Mask != nil && (r.Mask.Width != r.Image.Width || r.Mask.Height != r.Image.Height) {
		return fmt.Errorf("mask shape does not match image")
	}
	if len(r.Labels) == 0 {
		return fmt.Errorf("no labels requested")
	}
	if r.PSF == nil {
		return fmt.Errorf("psf kernel is required")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

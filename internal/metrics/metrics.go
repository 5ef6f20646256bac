// Package metrics counts runs, flags and step durations and exports them
// in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one process. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	runs         *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	flags        *prometheus.CounterVec
	engineRuns   *prometheus.CounterVec
	queueDepth   prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astromorph_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"status"}), // status: completed, flagged, no_distance, error
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "astromorph_step_duration_seconds",
			Help:    "Duration of each pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"step"}),
		flags: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astromorph_flags_total",
			Help: "Rows written with a flag raised",
		}, []string{"flag"}),
		engineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astromorph_engine_runs_total",
			Help: "Morphology engine invocations",
		}, []string{"engine", "result"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "astromorph_queue_depth",
			Help: "Jobs waiting in the batch queue",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveStep records how long a step took.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RunFinished counts a run outcome.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// FlagsRaised counts every flag column set to 1 in cells.
func (m *Metrics) FlagsRaised(cells map[string]any) {
	if m == nil {
		return
	}
	for _, name := range []string{"flag_image", "flag_bck", "flag_object", "flag_statmorph", "flag_area", "flag_SN", "flag_morph", "flag_sersic"} {
		switch v := cells[name].(type) {
		case int:
			if v == 1 {
				m.flags.WithLabelValues(name).Inc()
			}
		case float64:
			if v == 1 {
				m.flags.WithLabelValues(name).Inc()
			}
		}
	}
}

// EngineUsed counts a morphology engine call.
func (m *Metrics) EngineUsed(engine string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.engineRuns.WithLabelValues(engine, result).Inc()
}

// SetQueueDepth reports the batch backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// WriteTextfile atomically writes every metric to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

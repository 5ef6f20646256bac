package catalog

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"astromorph/internal/morph"
)

// Journal receives every row update before it reaches the table file.
type Journal interface {
	AppendRecord(runID, key string, cells map[string]string) error
}

// Recorder upserts run rows. It is safe for concurrent use, but callers
// should still serialize runs that share a key.
type Recorder struct {
	mu      sync.Mutex
	table   *Table
	journal Journal
	log     *slog.Logger
}

// NewRecorder loads or creates the table at path. journal may be nil.
func NewRecorder(path string, journal Journal, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{table: t, journal: journal, log: logger}, nil
}

// Record resets the fatal and advisory flags of key and merges cells into
// its row.
func (r *Recorder) Record(runID, key string, cells map[string]any) error {
	merged := make(map[string]any, len(cells)+len(FatalFlags)+len(AdvisoryFlags))
	for _, f := range FatalFlags {
		merged[f] = 0
	}
	for _, f := range AdvisoryFlags {
		merged[f] = 0
	}
	for k, v := range cells {
		merged[k] = v
	}
	return r.Update(runID, key, merged)
}

// Update merges cells into the row of key and leaves every other cell alone.
func (r *Recorder) Update(runID, key string, cells map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table.Upsert(key, cells)

	if r.journal != nil {
		row, _ := r.table.Get(key)
		if err := r.journal.AppendRecord(runID, key, row); err != nil {
			// the table file stays authoritative
			r.log.Warn("journal append failed", "run_id", runID, "key", key, "error", err)
		}
	}
	return nil
}

// Flush writes the table file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.table.Save(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

// Row returns a copy of the row for key.
func (r *Recorder) Row(key string) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Get(key)
}

// Float reads a numeric cell.
func (r *Recorder) Float(key, column string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Float(key, column)
}

// Table exposes the underlying table.
func (r *Recorder) Table() *Table { return r.table }

// MorphCells maps a morphology result to its table columns. Unset
// measurements become nan.
func MorphCells(res morph.Result) map[string]any {
	m := res.ToMap()
	out := make(map[string]any, len(MorphColumns))
	for _, kc := range MorphColumns {
		if v, ok := m[kc[0]]; ok {
			out[kc[1]] = v
		} else {
			out[kc[1]] = math.NaN()
		}
	}
	out["flag_morph"] = res.FlagMorph
	out["flag_sersic"] = res.FlagSersic
	return out
}

// EmptyMorphCells is the morphology block of a failed run.
func EmptyMorphCells() map[string]any {
	out := MorphCells(morph.NaNResult(0))
	out["flag_morph"] = math.NaN()
	out["flag_sersic"] = math.NaN()
	return out
}

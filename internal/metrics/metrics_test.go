package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndTextfile(t *testing.T) {
	m := New()
	m.RunFinished("completed")
	m.RunFinished("completed")
	m.RunFinished("no_distance")
	m.FlagsRaised(map[string]any{"flag_area": 1, "flag_SN": 0, "flag_bck": 1.0, "View": "Edge-on"})
	m.EngineUsed("native", nil)
	m.EngineUsed("statmorph", errors.New("boom"))
	m.ObserveStep("sky", 250*time.Millisecond)
	m.SetQueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flags.WithLabelValues("flag_area")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flags.WithLabelValues("flag_bck")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.flags.WithLabelValues("flag_SN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.engineRuns.WithLabelValues("statmorph", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))

	path := filepath.Join(t.TempDir(), "astromorph.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `astromorph_runs_total{status="completed"} 2`)
	assert.Contains(t, string(data), "astromorph_step_duration_seconds_count")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished("completed")
	m.ObserveStep("sky", time.Second)
	m.FlagsRaised(map[string]any{"flag_area": 1})
	m.EngineUsed("native", nil)
	m.SetQueueDepth(1)
	assert.NoError(t, m.WriteTextfile("ignored.prom"))
	assert.Nil(t, m.Registry())
}

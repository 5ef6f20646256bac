package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/config"
	"astromorph/internal/directory"
	"astromorph/internal/imaging"
	"astromorph/internal/metrics"
	"astromorph/internal/morph"
	"astromorph/internal/storage"
	"astromorph/internal/survey"
	"astromorph/internal/testutil"
)

func TestRunCommandWritesRows(t *testing.T) {
	root, out := newTestRoot(t)
	err := root.Run(context.Background(), runArgs("run", "NGC4030"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "NGC4030r")
	assert.Contains(t, out.String(), "fixed")

	rec, err := root.results()
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Float("NGC4030r", "flag_image"))
	assert.InDelta(t, 1.5, rec.Float("NGC4030r", "Ser_n"), 1e-9)
	assert.True(t, fileExists(workPath(root.cfg, root.cfg.Paths.ResultTable)))
}

func TestRunCommandReadsList(t *testing.T) {
	root, out := newTestRoot(t)
	list := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(list, []byte("# morning batch\nNGC4030 g\nNGC4030 z 20\n"), 0o644))

	require.NoError(t, root.Run(context.Background(), runArgs("run", "--list", list)))
	assert.Contains(t, out.String(), "NGC4030g")
	assert.Contains(t, out.String(), "NGC4030z")
}

func TestRunCommandFailsWithoutDistance(t *testing.T) {
	root, out := newTestRoot(t)
	err := root.Run(context.Background(), runArgs("run", "NoVel", "NGC4030"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out.String(), "NoVel\terror")
	assert.Contains(t, out.String(), "NGC4030r")
}

func TestRunCommandValidatesArguments(t *testing.T) {
	root, _ := newTestRoot(t)
	assert.Error(t, root.Run(context.Background(), []string{"run"}))
	assert.Error(t, root.Run(context.Background(), []string{"prepare"}))
	assert.Error(t, root.Run(context.Background(), []string{"commit", "NGC4030"}))
	assert.Error(t, root.Run(context.Background(), []string{"run", "NGC4030", "--size=-3", "--params", paramsFile}))
	assert.Error(t, root.Run(context.Background(), []string{"run", "400 12"}))
}

func TestPrepareThenCommit(t *testing.T) {
	root, out := newTestRoot(t)
	ctx := context.Background()
	require.NoError(t, root.Run(ctx, runArgs("prepare", "NGC4030")))
	text := out.String()
	assert.Contains(t, text, "label")
	assert.Contains(t, text, "*")
	assert.Contains(t, text, "segm:")

	out.Reset()
	require.NoError(t, root.Run(ctx, runArgs("commit", "NGC4030", "--labels", "1", "--nicknames", "A")))
	assert.Contains(t, out.String(), "NGC4030A")
	_, ok := root.recorder.Row("NGC4030r")
	assert.False(t, ok, "explicit commits are keyed by nickname")

	err := root.Run(ctx, runArgs("commit", "NGC4030", "--labels", "42"))
	assert.Error(t, err)
}

func TestMassCommand(t *testing.T) {
	root, out := newTestRoot(t)
	ctx := context.Background()
	require.NoError(t, root.Run(ctx, runArgs("run", "NGC4030")))
	out.Reset()
	require.NoError(t, root.Run(ctx, runArgs("mass", "NGC4030r")))
	assert.Contains(t, out.String(), "mag_g_2Re")
	assert.Contains(t, out.String(), "mass")
	assert.False(t, math.IsNaN(root.recorder.Float("NGC4030r", "g-r")))
}

func TestResolveCommand(t *testing.T) {
	root, out := newTestRoot(t)
	require.NoError(t, root.Run(context.Background(), runArgs("resolve", "NGC4030")))
	assert.Contains(t, out.String(), "NGC4030")
	// 2·20 kpc at 0.3463 kpc/" and 1"/px
	assert.Contains(t, out.String(), "115")

	err := root.Run(context.Background(), []string{"resolve", "Nowhere"})
	assert.ErrorContains(t, err, "Nowhere")
}

func TestHistoryCommand(t *testing.T) {
	root, out := newTestRoot(t)
	ctx := context.Background()
	require.NoError(t, root.Run(ctx, runArgs("run", "NGC4030")))
	out.Reset()

	require.NoError(t, root.Run(ctx, []string{"history"}))
	assert.Contains(t, out.String(), "NGC4030")
	assert.Contains(t, out.String(), "stub")

	out.Reset()
	require.NoError(t, root.Run(ctx, []string{"history", "NGC4030r"}))
	assert.Contains(t, out.String(), "Face-on")

	root.store = nil
	assert.Error(t, root.Run(ctx, []string{"history"}))
}

func TestConfigCommands(t *testing.T) {
	root, out := newTestRoot(t)
	ctx := context.Background()

	require.NoError(t, root.Run(ctx, []string{"config", "show"}))
	assert.Contains(t, out.String(), "Current configuration")

	out.Reset()
	require.NoError(t, root.Run(ctx, []string{"config", "params", "--band", "g", "--mask-stars"}))
	assert.Contains(t, out.String(), "band: g")
	assert.Contains(t, out.String(), "enabled: true")

	out.Reset()
	params := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(params, []byte("sky:\n  method: spline\n"), 0o644))
	assert.Error(t, root.Run(ctx, []string{"config", "validate", "--params", params}))
}

func TestEnginesAndVersion(t *testing.T) {
	root, out := newTestRoot(t)
	require.NoError(t, root.Run(context.Background(), []string{"engines"}))
	assert.Contains(t, out.String(), "fixed: available")
	assert.Contains(t, out.String(), "native: available")

	out.Reset()
	require.NoError(t, root.Run(context.Background(), []string{"version"}))
	assert.Contains(t, out.String(), "astromorph v"+Version)
}

func TestMetricsTextfileWritten(t *testing.T) {
	root, _ := newTestRoot(t)
	root.cfg.Metrics.Enabled = true
	require.NoError(t, root.Run(context.Background(), runArgs("run", "NGC4030")))
	data, err := os.ReadFile(workPath(root.cfg, root.cfg.Metrics.Textfile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "astromorph_")
}

func TestWatchQueuesNewLines(t *testing.T) {
	root, out := newTestRoot(t)
	dir := t.TempDir()
	list := filepath.Join(dir, "tonight.lst")
	require.NoError(t, os.WriteFile(list, []byte("NGC4030\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- root.Run(ctx, runArgs("watch", dir, "--settle", "50ms"))
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "NGC4030r") },
		30*time.Second, 20*time.Millisecond)

	f, err := os.OpenFile(list, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("NGC4030 g\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "NGC4030g") },
		30*time.Second, 20*time.Millisecond)
	// the first line is not queued again
	assert.Equal(t, 1, strings.Count(out.String(), "NGC4030r"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestParseTarget(t *testing.T) {
	got, err := parseTarget("180.0983, -1.1003")
	require.NoError(t, err)
	assert.Equal(t, directory.Target{RA: 180.0983, Dec: -1.1003, HasPosition: true}, got)

	got, err = parseTarget(" NGC 4030 ")
	require.NoError(t, err)
	assert.Equal(t, directory.Target{Name: "NGC 4030"}, got)

	_, err = parseTarget("10 95")
	assert.Error(t, err)
	_, err = parseTarget("  ")
	assert.Error(t, err)
}

// Test helpers

// runArgs appends the flags every test run needs: a 20 kpc cutout, a sky
// box that fits it and the stub engine.
func runArgs(args ...string) []string {
	return append(args, "--size", "20", "--engine", "fixed", "--params", paramsFile)
}

var paramsFile string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "astromorph-cli")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	paramsFile = filepath.Join(dir, "params.yaml")
	if err := os.WriteFile(paramsFile, []byte("sky:\n  box_x: 20\n  box_y: 20\n"), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

func newTestRoot(t *testing.T) (*Root, *syncBuffer) {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = tmp
	cfg.Paths.DatabasePath = filepath.Join(tmp, "astromorph.db")
	cfg.Processing.Diagnostic = false
	cfg.Surveys.Default = "stub"

	store, err := storage.New(cfg.Paths.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engines := morph.NewManager(nil, nil)
	engines.Register(fixedEngine{})

	out := &syncBuffer{}
	root := &Root{
		cfg:     cfg,
		log:     slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
		store:   store,
		metrics: metrics.New(),
		out:     out,
		objects: stubObjects{
			"NGC4030": {Name: "NGC4030", RADeg: 180.0984, DecDeg: -1.1002, RadVel: 5000, Redshift: math.NaN(), Mag: 11.2},
			"NoVel":   {Name: "NoVel", RADeg: 10, DecDeg: 10, RadVel: math.NaN(), Redshift: math.NaN(), Mag: 14},
		},
		engines: engines,
		adapters: func(name string) (survey.Adapter, error) {
			if name != "stub" {
				return nil, fmt.Errorf("unknown survey %q", name)
			}
			return stubSurvey{}, nil
		},
	}
	return root, out
}

type stubObjects map[string]directory.Object

func (o stubObjects) Resolve(_ context.Context, t directory.Target) (directory.Object, error) {
	obj, ok := o[t.Name]
	if !ok {
		return directory.Object{}, fmt.Errorf("%w: %s", directory.ErrNotFound, t)
	}
	return obj, nil
}

// stubSurvey serves an exponential disk on flat noise, brighter in redder bands.
type stubSurvey struct{}

func (stubSurvey) Name() string        { return "stub" }
func (stubSurvey) PixelScale() float64 { return 1 }
func (stubSurvey) Bands() []string     { return []string{"g", "r", "z"} }

func (stubSurvey) Cutout(_ context.Context, _ survey.Position, band string, side int) (*imaging.Image, error) {
	amp := map[string]float64{"g": 60, "r": 100, "z": 140}[band]
	if amp == 0 {
		return nil, fmt.Errorf("%w: band %s", survey.ErrNoImage, band)
	}
	img := testutil.Noise(side, side, 50, 1, 3)
	c := float64(side-1) / 2
	testutil.AddSersic(img, c, c, amp, 8, 1, 0.2, 0)
	return img, nil
}

func (stubSurvey) Preview(context.Context, survey.Position, int) ([]byte, string, error) {
	return nil, "", errors.New("no preview")
}

func (stubSurvey) Calibration(_ context.Context, _ survey.Position, _ string, fwhm float64) (survey.Calibration, error) {
	if fwhm <= 0 {
		fwhm = 1.3
	}
	return survey.Calibration{FWHM: fwhm, ZeroPoint: 22.5, PixelScale: 1}, nil
}

// fixedEngine reports the segment centroid and a fixed Sérsic shape.
type fixedEngine struct{}

func (fixedEngine) Name() string    { return "fixed" }
func (fixedEngine) Available() bool { return true }

func (fixedEngine) Analyze(_ context.Context, req morph.Request) ([]morph.Result, error) {
	out := make([]morph.Result, 0, len(req.Labels))
	for _, label := range req.Labels {
		var sx, sy, n float64
		for i, v := range req.SegMap.Pix {
			if int(v) == label {
				sx += float64(i % req.SegMap.Width)
				sy += float64(i / req.SegMap.Width)
				n++
			}
		}
		r := morph.NaNResult(label)
		r.XCentroid, r.YCentroid = sx/n, sy/n
		r.SersicXc, r.SersicYc = r.XCentroid, r.YCentroid
		r.SersicN, r.SersicEllip, r.SersicTheta, r.SersicRhalf = 1.5, 0.2, 0, 8
		r.R20, r.R50, r.R80 = 4, 8, 14
		out = append(out, r)
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

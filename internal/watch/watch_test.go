package watch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromorph/internal/directory"
)

func TestParseList(t *testing.T) {
	in := `# targets
"NGC 4030" r 50

180.0983, -1.1003, g
UGC09629 30
`
	got, err := ParseList(strings.NewReader(in))
	require.NoError(t, err)
	want := []Entry{
		{Target: directory.Target{Name: "NGC 4030"}, Band: "r", SizeKpc: 50, Line: 2},
		{Target: directory.Target{RA: 180.0983, Dec: -1.1003, HasPosition: true}, Band: "g", Line: 4},
		{Target: directory.Target{Name: "UGC09629"}, SizeKpc: 30, Line: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseListErrors(t *testing.T) {
	for _, in := range []string{
		`"NGC 4030 r`,
		`NGC4030 r g`,
		`NGC4030 -5`,
		`400 10`,
		`NGC4030 10 20`,
	} {
		_, err := ParseList(strings.NewReader(in))
		assert.Error(t, err, in)
	}
}

func TestTrackerYieldsOnlyNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("NGC4030\nNGC4047 g\n"), 0o644))

	tr := NewTracker()
	got, err := tr.Fresh(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, os.WriteFile(path, []byte("NGC4030\nNGC4047 g\nIC1101 z 80\n"), 0o644))
	got, err = tr.Fresh(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "IC1101 z 80", got[0].String())

	tr.Forget(path)
	got, err = tr.Fresh(path)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestWatcherReportsListChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))
	path := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("NGC4030\n"), 0o644))

	select {
	case ev := <-w.Events:
		assert.Equal(t, path, ev.Path)
		assert.Contains(t, []string{"created", "modified"}, ev.Operation)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for target list")
	}

	// writes settle into one event
	select {
	case ev := <-w.Events:
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New([]string{t.TempDir()}, time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	_, open := <-w.Events
	assert.False(t, open)
}

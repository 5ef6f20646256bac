package watch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"astromorph/internal/catalog"
	"astromorph/internal/directory"
)

// Entry is one line of a target list: a name or a position, optionally
// followed by a band and a physical size in kpc. Zero values mean "use the
// configured default".
type Entry struct {
	Target  directory.Target
	Band    string
	SizeKpc float64
	Line    int
}

func (e Entry) String() string {
	s := e.Target.Name
	if e.Target.HasPosition && s == "" {
		s = fmt.Sprintf("%.6f %.6f", e.Target.RA, e.Target.Dec)
	}
	if e.Band != "" {
		s += " " + e.Band
	}
	if e.SizeKpc > 0 {
		s += " " + strconv.FormatFloat(e.SizeKpc, 'g', -1, 64)
	}
	return s
}

// ParseList reads a target list. Blank lines and lines starting with '#'
// are skipped. Fields are separated by blanks or commas; names containing
// spaces must be double-quoted.
//
//	"NGC 4030" r 50
//	180.0983 -1.1003 g
//	UGC09629
func ParseList(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		e.Line = n
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseLine(line string) (Entry, error) {
	fields, err := catalog.SplitFields(strings.ReplaceAll(line, ",", " "))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	rest := fields
	if len(fields) >= 2 {
		ra, errRA := strconv.ParseFloat(fields[0], 64)
		dec, errDec := strconv.ParseFloat(fields[1], 64)
		if errRA == nil && errDec == nil {
			if ra < 0 || ra >= 360 || dec < -90 || dec > 90 {
				return Entry{}, fmt.Errorf("position out of range: %s %s", fields[0], fields[1])
			}
			e.Target = directory.Target{RA: ra, Dec: dec, HasPosition: true}
			rest = fields[2:]
		}
	}
	if !e.Target.HasPosition {
		if fields[0] == "" {
			return Entry{}, fmt.Errorf("empty target name")
		}
		e.Target = directory.Target{Name: fields[0]}
		rest = fields[1:]
	}
	for _, f := range rest {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			if v <= 0 {
				return Entry{}, fmt.Errorf("size must be positive: %s", f)
			}
			if e.SizeKpc > 0 {
				return Entry{}, fmt.Errorf("size given twice")
			}
			e.SizeKpc = v
			continue
		}
		if e.Band != "" {
			return Entry{}, fmt.Errorf("unexpected field %q", f)
		}
		e.Band = f
	}
	return e, nil
}

// Tracker remembers which entries of each list have already been handed
// out, so an edited list only yields its new lines.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]map[string]bool
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]map[string]bool)}
}

// Fresh parses path and returns the entries not returned before.
func (t *Tracker) Fresh(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.seen[path]
	if seen == nil {
		seen = make(map[string]bool)
		t.seen[path] = seen
	}
	var out []Entry
	for _, e := range entries {
		key := e.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out, nil
}

// Forget drops what is known about path.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	delete(t.seen, path)
	t.mu.Unlock()
}

// Package catalog keeps the wide per-object result table.
package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"astromorph/internal/fsutil"
)

// Missing-value markers.
const (
	NaN     = "nan"
	NoValue = "--"
)

// KeyColumn identifies a row.
const KeyColumn = "GAL"

// Table is a whitespace-delimited table with a header line. Cells are kept
// as text; rows keep their insertion order.
type Table struct {
	path    string
	columns []string
	strCols map[string]bool
	rows    []map[string]string
	index   map[string]int
}

// New returns an empty table with the given schema.
func New(path string, columns []string) *Table {
	t := &Table{path: path, strCols: make(map[string]bool), index: make(map[string]int)}
	for _, c := range columns {
		t.addColumn(c, stringColumns[c])
	}
	if _, ok := t.colIndex(KeyColumn); !ok {
		t.columns = append([]string{KeyColumn}, t.columns...)
		t.strCols[KeyColumn] = true
	}
	return t
}

// Load reads path. A missing file yields an empty table with the default
// schema.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(path, DefaultColumns), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes table text. The first non-comment line is the header.
func Parse(path string, data []byte) (*Table, error) {
	t := &Table{path: path, strCols: make(map[string]bool), index: make(map[string]int)}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	header := true
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields, err := SplitFields(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if header {
			for _, c := range fields {
				t.addColumn(c, stringColumns[c])
			}
			header = false
			continue
		}
		if len(fields) != len(t.columns) {
			return nil, fmt.Errorf("%s:%d: %d fields, header has %d", path, line, len(fields), len(t.columns))
		}
		row := make(map[string]string, len(fields))
		for k, c := range t.columns {
			row[c] = fields[k]
			if !t.strCols[c] && !isNumeric(fields[k]) {
				t.strCols[c] = true
			}
		}
		t.appendRow(row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if header {
		return New(path, DefaultColumns), nil
	}
	return t, nil
}

// Path is where Save writes.
func (t *Table) Path() string { return t.path }

// Columns returns the schema in order.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Keys returns row keys in table order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[KeyColumn]
	}
	return out
}

// Get returns a copy of the row for key.
func (t *Table) Get(key string) (map[string]string, bool) {
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(t.rows[i]))
	for k, v := range t.rows[i] {
		out[k] = v
	}
	return out, true
}

// Float reads a numeric cell; missing values are NaN.
func (t *Table) Float(key, column string) float64 {
	row, ok := t.Get(key)
	if !ok {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(row[column], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Upsert merges cells into the row for key, creating it at the end when new.
// Unknown columns widen the schema and are backfilled for prior rows.
func (t *Table) Upsert(key string, cells map[string]any) {
	for _, c := range sortedKeys(cells) {
		str, isStr := cells[c].(string)
		if _, ok := t.colIndex(c); !ok {
			t.addColumn(c, isStr || stringColumns[c])
		} else if isStr && !isNumeric(FormatCell(str)) {
			t.promote(c)
		}
	}
	i, ok := t.index[key]
	if !ok {
		row := make(map[string]string, len(t.columns))
		for _, c := range t.columns {
			row[c] = t.blank(c)
		}
		row[KeyColumn] = key
		t.appendRow(row)
		i = len(t.rows) - 1
	}
	for c, v := range cells {
		if c == KeyColumn {
			continue
		}
		s := FormatCell(v)
		if t.strCols[c] && s == NaN {
			s = NoValue
		}
		t.rows[i][c] = s
	}
}

// Save writes the table through a temp file and rename.
func (t *Table) Save() error {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(t.columns, " "))
	buf.WriteByte('\n')
	for _, r := range t.rows {
		for k, c := range t.columns {
			if k > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(quote(r[c]))
		}
		buf.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(t.path, buf.Bytes()); err != nil {
		return fmt.Errorf("save table %s: %w", t.path, err)
	}
	return nil
}

func (t *Table) addColumn(name string, isString bool) {
	if _, ok := t.colIndex(name); ok {
		return
	}
	t.columns = append(t.columns, name)
	if isString {
		t.strCols[name] = true
	}
	for _, r := range t.rows {
		r[name] = t.blank(name)
	}
}

// promote turns a numeric column into a string column; its nan blanks
// become "--".
func (t *Table) promote(column string) {
	if t.strCols[column] {
		return
	}
	t.strCols[column] = true
	for _, r := range t.rows {
		if r[column] == NaN {
			r[column] = NoValue
		}
	}
}

func (t *Table) blank(column string) string {
	if t.strCols[column] {
		return NoValue
	}
	return NaN
}

func (t *Table) appendRow(row map[string]string) {
	t.index[row[KeyColumn]] = len(t.rows)
	t.rows = append(t.rows, row)
}

func (t *Table) colIndex(name string) (int, bool) {
	for i, c := range t.columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// FormatCell renders a Go value as table text.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return NaN
	case string:
		if x == "" {
			return NoValue
		}
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return NaN
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return FormatCell(float64(x))
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.Itoa(int(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}

func isNumeric(s string) bool {
	if s == NaN || s == NoValue {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// SplitFields splits on whitespace, honoring double-quoted fields.
func SplitFields(line string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote, have := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && (r == ' ' || r == '\t'):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if have {
		out = append(out, cur.String())
	}
	return out, nil
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

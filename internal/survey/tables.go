package survey

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// csvTable is a header row plus string records.
type csvTable struct {
	cols map[string]int
	rows [][]string
}

func parseCSV(data []byte) (*csvTable, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("parse csv: empty table")
	}
	t := &csvTable{cols: make(map[string]int, len(recs[0])), rows: recs[1:]}
	for i, name := range recs[0] {
		t.cols[strings.TrimSpace(name)] = i
	}
	return t, nil
}

func readCSV(path string) (*csvTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseCSV(data)
}

func (t *csvTable) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// column finds the first of the candidate names present in the header.
func (t *csvTable) column(names ...string) (string, bool) {
	for _, n := range names {
		if t.has(n) {
			return n, true
		}
		for c := range t.cols {
			if strings.EqualFold(c, n) {
				return c, true
			}
		}
	}
	return "", false
}

func (t *csvTable) str(row int, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(t.rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.rows[row][i])
}

func (t *csvTable) float(row int, col string) float64 {
	v, err := strconv.ParseFloat(t.str(row, col), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// find returns the row whose key column equals key.
func (t *csvTable) find(col, key string) (int, bool) {
	for i := range t.rows {
		if t.str(i, col) == key {
			return i, true
		}
	}
	return 0, false
}

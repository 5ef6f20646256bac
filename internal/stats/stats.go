// Package stats implements the robust statistics used by the sky and detection steps.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Clipped is the result of iterative sigma clipping.
type Clipped struct {
	Mean   float64
	Median float64
	Std    float64
	N      int
}

// SigmaClip iteratively rejects values further than sigma·std from the median,
// matching the usual astropy defaults (center = median, population std).
func SigmaClip(values []float64, sigma float64, maxIters int) Clipped {
	data := finite(values)
	if len(data) == 0 {
		return Clipped{Mean: math.NaN(), Median: math.NaN(), Std: math.NaN()}
	}
	if maxIters <= 0 {
		maxIters = 5
	}
	for iter := 0; iter < maxIters; iter++ {
		med := Median(data)
		_, std := stat.PopMeanStdDev(data, nil)
		if std == 0 {
			break
		}
		lo, hi := med-sigma*std, med+sigma*std
		kept := data[:0]
		for _, v := range data {
			if v >= lo && v <= hi {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(data) || len(kept) == 0 {
			data = kept
			break
		}
		data = kept
	}
	if len(data) == 0 {
		return Clipped{Mean: math.NaN(), Median: math.NaN(), Std: math.NaN()}
	}
	mean, std := stat.PopMeanStdDev(data, nil)
	return Clipped{Mean: mean, Median: Median(data), Std: std, N: len(data)}
}

// Median of the finite values; NaN when empty.
func Median(values []float64) float64 {
	return Percentile(values, 50)
}

// Percentile uses linear interpolation between closest ranks (numpy's default).
func Percentile(values []float64, p float64) float64 {
	data := finite(values)
	if len(data) == 0 {
		return math.NaN()
	}
	sort.Float64s(data)
	if len(data) == 1 {
		return data[0]
	}
	pos := p / 100 * float64(len(data)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		return data[0]
	}
	if hi >= len(data) {
		return data[len(data)-1]
	}
	frac := pos - float64(lo)
	return data[lo] + frac*(data[hi]-data[lo])
}

// Sum ignores NaN values.
func Sum(values []float64) float64 {
	return floats.Sum(finite(values))
}

// finite copies values dropping NaN and Inf.
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Mode returns the most frequent key; ties go to better(a, b) == true.
func Mode(counts map[int]int, better func(a, b int) bool) (int, bool) {
	best, bestN := 0, 0
	found := false
	for k, n := range counts {
		if !found || n > bestN || (n == bestN && better(k, best)) {
			best, bestN, found = k, n, true
		}
	}
	return best, found
}

// Package labels computes the forward-looking composite signal and ordinal
// label class of an asset's close series.
//
// Labels look into the future by construction. They are computed from the full
// stored price history, never from assembled samples, and joined onto samples by
// date afterwards.
package labels

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	emaSpan       = 3
	volWindow     = 20
	volMinPeriods = 10
)

// Horizons are the forward offsets in trading days
var Horizons = []int{3, 7, 15}

// Weights of each horizon in the composite signal, aligned with Horizons
var Weights = []float64{0.3, 0.5, 0.2}

// Cutpoints are the per-asset quantile levels separating the five classes
var Cutpoints = []float64{0.03, 0.15, 0.53, 0.85}

// PricePoint is one close of the input series
type PricePoint struct {
	Date  time.Time
	Close float64
}

// LabelPoint is the outcome for one date. Every pointer is nil when undefined.
type LabelPoint struct {
	Date     time.Time
	EMA      float64
	Signal   *float64
	Class    *int
	Quantile *float64
}

// Quantiles are the four class boundaries
type Quantiles struct {
	Q03 float64
	Q15 float64
	Q53 float64
	Q85 float64
}

// Generate computes labels for a series ordered by date ascending.
// A series with no defined signal yields all-nil labels.
func Generate(series []PricePoint) []LabelPoint {
	out := make([]LabelPoint, len(series))
	if len(series) == 0 {
		return out
	}

	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
		out[i].Date = p.Date
	}

	ema := EMA(closes, emaSpan)
	for i := range out {
		out[i].EMA = ema[i]
	}

	normalized := make([][]*float64, len(Horizons))
	for h, tau := range Horizons {
		r := ForwardReturns(ema, tau)
		v := RollingStd(r, volWindow, volMinPeriods)
		normalized[h] = divide(r, v)
	}

	signals := Composite(normalized, Weights)

	var valid []float64
	for _, s := range signals {
		if s != nil {
			valid = append(valid, *s)
		}
	}
	if len(valid) == 0 {
		return out
	}

	sort.Float64s(valid)
	q := ComputeQuantiles(valid)

	for i, s := range signals {
		if s == nil {
			continue
		}
		sig := *s
		class := Classify(sig, q)
		cdf := EmpiricalCDF(valid, sig)
		out[i].Signal = &sig
		out[i].Class = &class
		out[i].Quantile = &cdf
	}
	return out
}

// EMA is the recursive exponential average with alpha = 2/(span+1), seeded with the first value
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// ForwardReturns returns (x[t+tau]-x[t])/x[t]; nil where t+tau is past the end or x[t] is zero
func ForwardReturns(x []float64, tau int) []*float64 {
	out := make([]*float64, len(x))
	for t := 0; t+tau < len(x); t++ {
		if x[t] == 0 {
			continue
		}
		r := (x[t+tau] - x[t]) / x[t]
		out[t] = &r
	}
	return out
}

// RollingStd is the trailing sample standard deviation (ddof=1) over `window`
// positions ending at t, defined when at least minPeriods of them are non-nil.
func RollingStd(x []*float64, window, minPeriods int) []*float64 {
	out := make([]*float64, len(x))
	buf := make([]float64, 0, window)

	for t := range x {
		buf = buf[:0]
		start := t - window + 1
		if start < 0 {
			start = 0
		}
		for _, v := range x[start : t+1] {
			if v != nil {
				buf = append(buf, *v)
			}
		}
		if len(buf) < minPeriods || len(buf) < 2 {
			continue
		}
		sd := stat.StdDev(buf, nil)
		out[t] = &sd
	}
	return out
}

// divide returns r/v, nil when either side is nil or v is zero
func divide(r, v []*float64) []*float64 {
	out := make([]*float64, len(r))
	for i := range r {
		if r[i] == nil || v[i] == nil || *v[i] == 0 || math.IsNaN(*v[i]) {
			continue
		}
		s := *r[i] / *v[i]
		out[i] = &s
	}
	return out
}

// Composite blends the per-horizon series. Any nil term makes the whole date nil;
// weights are never renormalized over the defined terms.
func Composite(terms [][]*float64, weights []float64) []*float64 {
	if len(terms) == 0 {
		return nil
	}
	out := make([]*float64, len(terms[0]))
	for t := range out {
		sum := 0.0
		defined := true
		for h := range terms {
			if terms[h][t] == nil {
				defined = false
				break
			}
			sum += weights[h] * *terms[h][t]
		}
		if defined {
			s := sum
			out[t] = &s
		}
	}
	return out
}

// ComputeQuantiles returns the class boundaries of an ascending sample
func ComputeQuantiles(sorted []float64) Quantiles {
	return Quantiles{
		Q03: LinearQuantile(sorted, Cutpoints[0]),
		Q15: LinearQuantile(sorted, Cutpoints[1]),
		Q53: LinearQuantile(sorted, Cutpoints[2]),
		Q85: LinearQuantile(sorted, Cutpoints[3]),
	}
}

// LinearQuantile interpolates linearly between order statistics at h=(n-1)p.
// sorted must be ascending and non-empty.
func LinearQuantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Classify maps a signal to 1..5 using inclusive upper bounds
func Classify(signal float64, q Quantiles) int {
	switch {
	case signal <= q.Q03:
		return 1
	case signal <= q.Q15:
		return 2
	case signal <= q.Q53:
		return 3
	case signal <= q.Q85:
		return 4
	default:
		return 5
	}
}

// EmpiricalCDF returns |{s in sorted : s <= v}| / n
func EmpiricalCDF(sorted []float64, v float64) float64 {
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	return float64(idx) / float64(len(sorted))
}

package domain

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// trailingWindowDays is the default look-back used when no usable planting
// date anchors the rainfall window.
const trailingWindowDays = 31

const (
	lowerTrimPercentile = 10
	upperTrimPercentile = 90
)

// Observation is one day of rainfall. Amount is NaN when the archive has no
// value for that day.
type Observation struct {
	Date   CalendarDate `json:"date"`
	Amount float64      `json:"amount"`
}

// RainfallSeries is an ordered, contiguous run of daily observations.
type RainfallSeries []Observation

// Amounts returns the defined daily values in series order.
func (s RainfallSeries) Amounts() []float64 {
	out := make([]float64, 0, len(s))
	for _, o := range s {
		if math.IsNaN(o.Amount) {
			continue
		}
		out = append(out, o.Amount)
	}
	return out
}

// Between returns the observations dated within [start, end].
func (s RainfallSeries) Between(start, end CalendarDate) RainfallSeries {
	var out RainfallSeries
	for _, o := range s {
		if o.Date.Before(start) || o.Date.After(end) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Window is an inclusive date range.
type Window struct {
	Start CalendarDate
	End   CalendarDate
}

// Days is the number of calendar days covered, inclusive of both ends.
func (w Window) Days() int {
	return w.End.DaysSince(w.Start) + 1
}

// RainfallWindow selects the retrieval window ending at the observation
// date. It starts at the planting date when one is given, precedes the
// observation date, and lies at least 31 days back; otherwise it is the
// 31-day trailing window.
func RainfallWindow(observation, planting CalendarDate) Window {
	trailing := Window{Start: observation.AddDays(-trailingWindowDays), End: observation}
	if planting.IsZero() {
		return trailing
	}
	if !planting.Before(observation) {
		return trailing
	}
	if observation.DaysSince(planting) < trailingWindowDays {
		return trailing
	}
	return Window{Start: planting, End: observation}
}

// ComputeRII derives the Rainfall Intensity Index of a daily series: values
// outside the [p10, p90] band are trimmed, the rest are min-max normalized
// and averaged. The result is rounded to 3 decimals. A series with no
// defined values, or nothing left after trimming, yields ErrInsufficientData.
func ComputeRII(series RainfallSeries) (float64, error) {
	values := series.Amounts()
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: no daily values in %d observations", ErrInsufficientData, len(series))
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	p10 := percentile(sorted, lowerTrimPercentile)
	p90 := percentile(sorted, upperTrimPercentile)

	retained := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= p10 && v <= p90 {
			retained = append(retained, v)
		}
	}
	if len(retained) == 0 {
		return 0, fmt.Errorf("%w: no values within [%g, %g]", ErrInsufficientData, p10, p90)
	}

	lo, hi := floats.Min(retained), floats.Max(retained)
	daily := make([]float64, len(retained))
	if hi != lo {
		for i, v := range retained {
			daily[i] = (v - lo) / (hi - lo)
		}
	}

	return round(stat.Mean(daily, nil), 3), nil
}

// percentile returns the p-th percentile (0-100) of sorted values using
// linear interpolation between closest ranks: h = (n-1)·p/100.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

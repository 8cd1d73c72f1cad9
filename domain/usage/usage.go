// Package usage provides usage-history value types and pure functions.
package usage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Sample is a single observed day of usage (immutable value type).
type Sample struct {
	Date   time.Time
	Amount float64 // Nonnegative, in the caller's unit (typically GB)
}

// History is an ordered sequence of daily samples, oldest first.
type History []Sample

// Validate rejects histories the fitter cannot work with: empty series,
// negative or non-finite amounts.
func (h History) Validate() error {
	if len(h) == 0 {
		return fmt.Errorf("usage: history is empty")
	}
	for i, s := range h {
		if s.Amount < 0 {
			return fmt.Errorf("usage: sample %d (%s) has negative amount %g", i, s.Date.Format("2006-01-02"), s.Amount)
		}
		if math.IsNaN(s.Amount) || math.IsInf(s.Amount, 0) {
			return fmt.Errorf("usage: sample %d (%s) has non-finite amount", i, s.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Amounts returns the usage series as a fresh slice.
func (h History) Amounts() []float64 {
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Amount
	}
	return out
}

// Weekdays returns the day-of-week index of every sample, following
// time.Weekday (0 = Sunday .. 6 = Saturday). The indexing must agree with
// behavior.Params weight indexing.
func (h History) Weekdays() []time.Weekday {
	out := make([]time.Weekday, len(h))
	for i, s := range h {
		out[i] = s.Date.Weekday()
	}
	return out
}

// StdDev returns the sample standard deviation (N-1 denominator) of the
// usage amounts. A single-sample history has no spread and returns 0.
func (h History) StdDev() float64 {
	if len(h) < 2 {
		return 0
	}
	return stat.StdDev(h.Amounts(), nil)
}

// Sorted returns a copy of the history ordered by date ascending.
// This is a PURE function - the receiver is not modified.
func (h History) Sorted() History {
	out := make(History, len(h))
	copy(out, h)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// FromSeries builds a history from parallel date and amount slices.
// Mismatched lengths are an input validation failure, not a fitting failure.
func FromSeries(dates []time.Time, amounts []float64) (History, error) {
	if len(dates) != len(amounts) {
		return nil, fmt.Errorf("usage: %d dates but %d amounts", len(dates), len(amounts))
	}
	h := make(History, len(dates))
	for i := range dates {
		h[i] = Sample{Date: dates[i], Amount: amounts[i]}
	}
	return h, h.Validate()
}

// DaysOfMonth returns one date per day of the given month, in order.
// Used to lay a fitted weekly pattern onto a concrete month.
func DaysOfMonth(year int, month time.Month) []time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	n := first.AddDate(0, 1, -1).Day()
	days := make([]time.Time, n)
	for i := range days {
		days[i] = first.AddDate(0, 0, i)
	}
	return days
}

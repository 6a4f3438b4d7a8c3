// Package series holds the small value types shared by every pipeline stage:
// optional floats, calendar-day arithmetic and the fill/shift helpers used to
// align irregular daily grids.
package series

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the date format used in every artifact written by the pipeline.
const DayLayout = "2006-01-02"

// Float is an optional float64. The zero value is undefined.
type Float struct {
	V  float64
	OK bool
}

// Some returns a defined value. NaN and infinities are treated as undefined.
func Some(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return Float{V: v, OK: true}
}

// None returns an undefined value.
func None() Float { return Float{} }

// Or returns the value, or def when undefined.
func (f Float) Or(def float64) float64 {
	if !f.OK {
		return def
	}
	return f.V
}

// String renders the value for CSV output; undefined renders as an empty cell.
func (f Float) String() string {
	if !f.OK {
		return ""
	}
	return strconv.FormatFloat(f.V, 'f', -1, 64)
}

// ParseFloat reads a CSV cell. Empty cells and "NaN"/"NA" markers are undefined.
func ParseFloat(s string) (Float, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "<na>", "null", "none":
		return Float{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Float{}, fmt.Errorf("parse float %q: %w", s, err)
	}
	return Some(v), nil
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar day by n days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// Days returns every calendar day in [start, end], each exactly once.
// It returns nil when end is before start.
func Days(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// ParseDay parses a calendar day using layout.
func ParseDay(layout, s string) (time.Time, error) {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// FormatDay renders a calendar day with DayLayout.
func FormatDay(t time.Time) string { return t.Format(DayLayout) }

// ForwardFill propagates the last defined value across undefined entries.
// Entries before the first defined value stay undefined. Filling twice yields
// the same result as filling once.
func ForwardFill(vals []Float) []Float {
	out := make([]Float, len(vals))
	var last Float
	for i, v := range vals {
		if v.OK {
			last = v
		}
		out[i] = last
	}
	return out
}

// Lag shifts vals forward by n rows so that out[i] == vals[i-n].
// The first n entries are undefined.
func Lag(vals []Float, n int) []Float {
	out := make([]Float, len(vals))
	for i := n; i < len(vals); i++ {
		if i-n >= 0 {
			out[i] = vals[i-n]
		}
	}
	return out
}

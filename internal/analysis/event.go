package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/series"
)

// Direction selects which side of the threshold qualifies as an event.
type Direction string

const (
	Down Direction = "down" // return <= threshold
	Up   Direction = "up"   // return >= threshold
)

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Down, Up:
		return d, nil
	}
	return "", fmt.Errorf("unknown event direction %q", s)
}

// DefaultOffsets are the days examined around each event.
var DefaultOffsets = []int{-1, 0, 1, 2}

// EventSpec describes one event study.
type EventSpec struct {
	Name      string    `mapstructure:"name" yaml:"name"`
	Threshold float64   `mapstructure:"threshold" yaml:"threshold"`
	Direction Direction `mapstructure:"direction" yaml:"direction"`
	// File is the chart file name; empty derives one from Name.
	File    string `mapstructure:"file" yaml:"file"`
	Offsets []int  `mapstructure:"offsets" yaml:"offsets,omitempty"`
}

// DefaultEvents are a ten percent drop and a ten percent jump.
func DefaultEvents() []EventSpec {
	return []EventSpec{
		{Name: "down_10", Threshold: -0.10, Direction: Down, File: "event_down_10.png"},
		{Name: "up_10", Threshold: 0.10, Direction: Up, File: "event_up_10.png"},
	}
}

// ChartFile returns the chart file name for the event.
func (s EventSpec) ChartFile() string {
	if s.File != "" {
		return s.File
	}
	return "event_" + s.Name + ".png"
}

func (s EventSpec) matches(ret float64) bool {
	if s.Direction == Up {
		return ret >= s.Threshold
	}
	return ret <= s.Threshold
}

// OffsetAverage is the mean count at one offset across events. N counts the
// events whose offset row existed; Mean is undefined when N is zero.
type OffsetAverage struct {
	Offset int
	Mean   series.Float
	N      int
}

// Label renders the offset as D-1, D, D+1.
func (o OffsetAverage) Label() string {
	switch {
	case o.Offset == 0:
		return "D"
	case o.Offset > 0:
		return fmt.Sprintf("D+%d", o.Offset)
	default:
		return fmt.Sprintf("D%d", o.Offset)
	}
}

// EventResult is the outcome of one event study.
type EventResult struct {
	Spec     EventSpec
	Count    int
	Dates    []time.Time
	Offsets  []OffsetAverage
	Baseline float64
	// Multiplier is the D+1 average over the baseline; undefined when the
	// baseline is zero or no event has a D+1 row.
	Multiplier series.Float
}

// Offset returns the average for offset o, if it was requested.
func (r *EventResult) Offset(o int) (OffsetAverage, bool) {
	for _, a := range r.Offsets {
		if a.Offset == o {
			return a, true
		}
	}
	return OffsetAverage{}, false
}

// Baseline is the mean count over the cleaned table.
func Baseline(pts []Point) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Count
	}
	return sum / float64(len(pts))
}

// EventWindow averages counts around every qualifying row. An offset is
// looked up by original row position and skipped when that position was
// cleaned away or lies outside the table.
func EventWindow(pts []Point, spec EventSpec) *EventResult {
	offsets := spec.Offsets
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	byPos := make(map[int]float64, len(pts))
	for _, p := range pts {
		byPos[p.Pos] = p.Count
	}
	res := &EventResult{Spec: spec, Baseline: Baseline(pts)}
	sums := make([]float64, len(offsets))
	ns := make([]int, len(offsets))
	for _, p := range pts {
		if !spec.matches(p.Return) {
			continue
		}
		res.Count++
		res.Dates = append(res.Dates, p.Date)
		for k, o := range offsets {
			if c, ok := byPos[p.Pos+o]; ok {
				sums[k] += c
				ns[k]++
			}
		}
	}
	for k, o := range offsets {
		a := OffsetAverage{Offset: o, N: ns[k]}
		if ns[k] > 0 {
			a.Mean = series.Some(sums[k] / float64(ns[k]))
		}
		res.Offsets = append(res.Offsets, a)
	}
	if next, ok := res.Offset(1); ok && next.Mean.OK && res.Baseline > 0 {
		res.Multiplier = series.Some(next.Mean.V / res.Baseline)
	}
	return res
}

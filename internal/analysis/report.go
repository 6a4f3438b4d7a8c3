package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/dataset"
	"github.com/KaramelBytes/moodfolio/internal/series"
)

// DefaultAlpha is the significance level used to word the verdicts.
const DefaultAlpha = 0.05

// DefaultSpikeThreshold flags lagged returns above ten percent.
const DefaultSpikeThreshold = 0.10

// Spikes returns rows whose lagged return is strictly above threshold,
// largest first.
func Spikes(rows []dataset.Row, threshold float64) []dataset.Row {
	var out []dataset.Row
	for _, r := range rows {
		if r.DailyReturnLag1.OK && r.DailyReturnLag1.V > threshold {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DailyReturnLag1.V > out[j].DailyReturnLag1.V })
	return out
}

// Options configures Analyze.
type Options struct {
	Events []EventSpec
	Alpha  float64
	// SpikeThreshold lists lagged returns above it; <= 0 means DefaultSpikeThreshold.
	SpikeThreshold float64
}

// Report collects every statistic computed over the final table.
type Report struct {
	Rows     int
	Clean    int
	Pearson  Correlation
	Spearman Correlation
	// PearsonErr and SpearmanErr are set when the statistic was undefined.
	PearsonErr  error
	SpearmanErr error
	Baseline    float64
	Events      []*EventResult
	Alpha       float64
	Spikes      []dataset.Row
	SpikeAbove  float64
	Generated   time.Time
}

// Analyze cleans rows and runs the correlation and event studies.
func Analyze(rows []dataset.Row, opt Options) *Report {
	if opt.Alpha <= 0 {
		opt.Alpha = DefaultAlpha
	}
	if len(opt.Events) == 0 {
		opt.Events = DefaultEvents()
	}
	if opt.SpikeThreshold <= 0 {
		opt.SpikeThreshold = DefaultSpikeThreshold
	}
	pts := Clean(rows)
	rep := &Report{
		Rows:       len(rows),
		Clean:      len(pts),
		Alpha:      opt.Alpha,
		Baseline:   Baseline(pts),
		Spikes:     Spikes(rows, opt.SpikeThreshold),
		SpikeAbove: opt.SpikeThreshold,
		Generated:  time.Now().UTC(),
	}
	ret, cnt := Columns(pts)
	rep.Pearson, rep.PearsonErr = Pearson(ret, cnt)
	rep.Spearman, rep.SpearmanErr = Spearman(ret, cnt)
	for _, ev := range opt.Events {
		rep.Events = append(rep.Events, EventWindow(pts, ev))
	}
	return rep
}

// Markdown renders the report for analysis_report.md.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Messaging vs. portfolio returns\n\n")
	fmt.Fprintf(&b, "Generated %s from %d rows (%d usable after dropping undefined returns).\n\n",
		r.Generated.Format(time.RFC3339), r.Rows, r.Clean)

	b.WriteString("## Correlation\n\n")
	writeCorrelation(&b, "Pearson", r.Pearson, r.PearsonErr, r.Alpha)
	writeCorrelation(&b, "Spearman", r.Spearman, r.SpearmanErr, r.Alpha)
	fmt.Fprintf(&b, "\nBaseline: **%.2f** messages per day.\n", r.Baseline)

	for _, ev := range r.Events {
		dir := "at or below"
		if ev.Spec.Direction == Up {
			dir = "at or above"
		}
		fmt.Fprintf(&b, "\n## Event %s\n\n", ev.Spec.Name)
		fmt.Fprintf(&b, "Days with a return %s %+.1f%%: **%d**\n\n", dir, ev.Spec.Threshold*100, ev.Count)
		if ev.Count == 0 {
			b.WriteString("No qualifying days.\n")
			continue
		}
		days := make([]string, len(ev.Dates))
		for i, d := range ev.Dates {
			days[i] = series.FormatDay(d)
		}
		fmt.Fprintf(&b, "Dates: %s\n\n", strings.Join(days, ", "))
		for _, o := range ev.Offsets {
			if !o.Mean.OK {
				fmt.Fprintf(&b, "- %s: n/a\n", o.Label())
				continue
			}
			fmt.Fprintf(&b, "- %s: %.2f (n=%d)\n", o.Label(), o.Mean.V, o.N)
		}
		if ev.Multiplier.OK {
			fmt.Fprintf(&b, "\nD+1 vs. baseline: **%.2fx**\n", ev.Multiplier.V)
		} else {
			b.WriteString("\nD+1 vs. baseline: n/a\n")
		}
	}

	fmt.Fprintf(&b, "\n## Return spikes\n\nLagged return above %+.1f%%: **%d**\n\n", r.SpikeAbove*100, len(r.Spikes))
	for _, s := range r.Spikes {
		fmt.Fprintf(&b, "- %s: value %.2f, lagged return %+.2f%%\n", series.FormatDay(s.Date), s.PortfolioValue, s.DailyReturnLag1.V*100)
	}
	return b.String()
}

func writeCorrelation(b *strings.Builder, name string, c Correlation, err error, alpha float64) {
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			fmt.Fprintf(b, "- %s: undefined (n=%d)\n", name, c.N)
		} else {
			fmt.Fprintf(b, "- %s: %v\n", name, err)
		}
		return
	}
	verdict := "not significant"
	if c.PValue < alpha {
		verdict = "significant"
	}
	fmt.Fprintf(b, "- %s: r=%.4f, p=%.4g (%s at %.2f, n=%d)\n", name, c.Coef, c.PValue, verdict, alpha, c.N)
}

package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/config"
)

// Paths locates every artifact of a run under one directory.
type Paths struct {
	Dir           string
	MessageCounts string
	CleanedLedger string
	Valuation     string
	Diagnostics   string
	Final         string
	FinalParquet  string
	Trend         string
	Report        string
	ReportPDF     string
	Manifest      string
}

// NewPaths joins the configured artifact names onto dir.
func NewPaths(dir string, out config.Outputs) Paths {
	at := func(name string) string { return filepath.Join(dir, name) }
	final := at(out.Final)
	report := at(out.Report)
	return Paths{
		Dir:           dir,
		MessageCounts: at(out.MessageCounts),
		CleanedLedger: at(out.CleanedLedger),
		Valuation:     at(out.Valuation),
		Diagnostics:   at(out.Diagnostics),
		Final:         final,
		FinalParquet:  swapExt(final, ".parquet"),
		Trend:         at(out.Trend),
		Report:        report,
		ReportPDF:     swapExt(report, ".pdf"),
		Manifest:      at(out.Manifest),
	}
}

// Event returns the chart path of an event study.
func (p Paths) Event(spec analysis.EventSpec) string {
	return filepath.Join(p.Dir, spec.ChartFile())
}

// Artifacts lists what a complete run writes for the given events.
func (p Paths) Artifacts(events []analysis.EventSpec, parquet, pdf bool) []string {
	out := []string{p.MessageCounts, p.CleanedLedger, p.Valuation, p.Diagnostics, p.Final}
	if parquet {
		out = append(out, p.FinalParquet)
	}
	out = append(out, p.Trend)
	for _, ev := range events {
		out = append(out, p.Event(ev))
	}
	out = append(out, p.Report)
	if pdf {
		out = append(out, p.ReportPDF)
	}
	return out
}

func swapExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

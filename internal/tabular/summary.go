package tabular

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// SummaryOptions controls Summarize.
type SummaryOptions struct {
	// SampleRows is the number of head and tail rows kept. Negative means 5.
	SampleRows int
	// OutlierThreshold is the robust |z| cut-off. Zero means 3.5.
	OutlierThreshold float64
}

// Summary describes a table the way the inspect command prints it.
type Summary struct {
	Name    string
	Rows    int
	Columns []ColumnSummary
	Header  []string
	Head    [][]string
	Tail    [][]string
}

// ColumnSummary captures the inferred kind and statistics of one column.
type ColumnSummary struct {
	Name    string
	Kind    string // numeric|datetime|categorical|text|empty
	NonNull int
	Missing int
	Unique  int

	Min, Q1, Median, Q3, Max float64
	Mean, Std                float64

	OutliersCount    int
	OutliersMaxAbsZ  float64
	OutlierThreshold float64

	TopValues []CategoryCount
}

// CategoryCount is a value and how often it occurs.
type CategoryCount struct {
	Value string
	Count int
}

// Summarize infers column kinds and computes describe-style statistics.
func Summarize(t *Table, opt SummaryOptions) *Summary {
	if opt.SampleRows < 0 {
		opt.SampleRows = 5
	}
	thr := opt.OutlierThreshold
	if thr <= 0 {
		thr = 3.5
	}
	s := &Summary{Name: t.Name, Rows: len(t.Rows), Header: t.Header}
	for j, name := range t.Header {
		s.Columns = append(s.Columns, summarizeColumn(name, column(t, j), thr))
	}
	n := opt.SampleRows
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	s.Head = t.Rows[:n]
	s.Tail = t.Rows[len(t.Rows)-n:]
	return s
}

func column(t *Table, j int) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if j < len(row) {
			out[i] = strings.TrimSpace(row[j])
		}
	}
	return out
}

func summarizeColumn(name string, cells []string, thr float64) ColumnSummary {
	c := ColumnSummary{Name: name}
	var nums []float64
	var dates int
	cats := map[string]int{}
	for _, v := range cells {
		if v == "" || strings.EqualFold(v, "nan") {
			c.Missing++
			continue
		}
		c.NonNull++
		cats[v]++
		if x, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(x) {
			nums = append(nums, x)
			continue
		}
		if looksLikeDate(v) {
			dates++
		}
	}
	c.Unique = len(cats)
	switch {
	case c.NonNull == 0:
		c.Kind = "empty"
	case len(nums) == c.NonNull:
		c.Kind = "numeric"
		describe(&c, nums, thr)
	case dates == c.NonNull:
		c.Kind = "datetime"
	case len(cats) <= 50 || len(cats)*2 <= c.NonNull:
		c.Kind = "categorical"
		c.TopValues = topValues(cats, 8)
	default:
		c.Kind = "text"
	}
	return c
}

func describe(c *ColumnSummary, nums []float64, thr float64) {
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	c.Min = sorted[0]
	c.Max = sorted[len(sorted)-1]
	c.Mean, c.Std = stat.MeanStdDev(nums, nil)
	if len(nums) < 2 {
		c.Std = 0
	}
	c.Q1 = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	c.Median = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	c.Q3 = stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	c.OutlierThreshold = thr
	if len(nums) < 8 {
		return
	}
	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - c.Median)
	}
	sort.Float64s(dev)
	mad := stat.Quantile(0.5, stat.LinInterp, dev, nil)
	if mad == 0 {
		return
	}
	for _, v := range nums {
		z := math.Abs(0.6745 * (v - c.Median) / mad)
		if z > thr {
			c.OutliersCount++
		}
		if z > c.OutliersMaxAbsZ {
			c.OutliersMaxAbsZ = z
		}
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006.01.02", "2006/01/02", "2006-01-02 15:04:05"}

func looksLikeDate(s string) bool {
	for _, l := range dateLayouts {
		if _, err := time.Parse(l, s); err == nil {
			return true
		}
	}
	return false
}

func topValues(cats map[string]int, limit int) []CategoryCount {
	out := make([]CategoryCount, 0, len(cats))
	for k, v := range cats {
		out = append(out, CategoryCount{Value: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Value < out[j].Value
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Markdown renders the summary as compact plain text sections.
func (s *Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	fmt.Fprintf(&b, "File: %s\nRows: %d\nColumns: %d\n\n", s.Name, s.Rows, len(s.Columns))
	b.WriteString("[SCHEMA]\n")
	for _, c := range s.Columns {
		missPct := 0.0
		if total := c.NonNull + c.Missing; total > 0 {
			missPct = float64(c.Missing) * 100 / float64(total)
		}
		fmt.Fprintf(&b, "- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Kind, c.NonNull, missPct)
		switch c.Kind {
		case "numeric":
			fmt.Fprintf(&b, ": min %.4g, q1 %.4g, median %.4g, q3 %.4g, max %.4g, mean %.4g, std %.4g",
				c.Min, c.Q1, c.Median, c.Q3, c.Max, c.Mean, c.Std)
			if c.OutliersCount > 0 {
				fmt.Fprintf(&b, "; outliers: %d above |z|>%.1f (max |z|≈%.2f)", c.OutliersCount, c.OutlierThreshold, c.OutliersMaxAbsZ)
			}
		case "categorical":
			parts := make([]string, len(c.TopValues))
			for i, kv := range c.TopValues {
				parts[i] = fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count)
			}
			fmt.Fprintf(&b, ": top %s; unique=%d", strings.Join(parts, ", "), c.Unique)
		}
		b.WriteString("\n")
	}
	if len(s.Head) > 0 {
		b.WriteString("\n[HEAD]\n")
		writeRows(&b, s.Header, s.Head)
		b.WriteString("\n[TAIL]\n")
		writeRows(&b, s.Header, s.Tail)
	}
	return b.String()
}

func writeRows(b *strings.Builder, header []string, rows [][]string) {
	names := make([]string, len(header))
	seps := make([]string, len(header))
	for i, h := range header {
		names[i] = safeName(h)
		seps[i] = "---"
	}
	fmt.Fprintf(b, "| %s |\n| %s |\n", strings.Join(names, " | "), strings.Join(seps, " | "))
	for _, row := range rows {
		cells := make([]string, len(header))
		for i := range header {
			if i < len(row) {
				v := row[i]
				if len(v) > 80 {
					v = v[:77] + "..."
				}
				cells[i] = safeVal(v)
			}
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
	}
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }

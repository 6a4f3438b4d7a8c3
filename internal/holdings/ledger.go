// Package holdings normalizes a raw per-day share-quantity ledger into a
// sorted, integer-valued ledger with derived holding and trade counts.
package holdings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// DefaultDateLayout matches ledger dates written as YYYY.MM.DD.
const DefaultDateLayout = "2006.01.02"

// Derived column names in the cleaned ledger.
const (
	HoldingCountColumn = "holding_count"
	TradeCountColumn   = "trade_count"
)

// MissingQuantityPolicy decides what a blank quantity (or an absent date)
// means.
type MissingQuantityPolicy int

const (
	// TreatAsZero reads a missing quantity as no position.
	TreatAsZero MissingQuantityPolicy = iota
	// CarryForward reads a missing quantity as unchanged since the previous row.
	CarryForward
)

func (p MissingQuantityPolicy) String() string {
	switch p {
	case CarryForward:
		return "carry_forward"
	default:
		return "zero"
	}
}

// ParsePolicy accepts "zero" (or empty) and "carry_forward".
func ParsePolicy(s string) (MissingQuantityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero", "treat_as_zero":
		return TreatAsZero, nil
	case "carry_forward", "carry-forward", "ffill":
		return CarryForward, nil
	}
	return TreatAsZero, fmt.Errorf("unknown missing quantity policy %q", s)
}

var (
	ErrDuplicateDate    = errors.New("duplicate ledger date")
	ErrNegativeQuantity = errors.New("negative quantity")
	ErrNoDateColumn     = errors.New("ledger has no DATE column")
)

// Ledger holds one quantity series per ticker over ascending dates.
type Ledger struct {
	Tickers      []string
	Dates        []time.Time
	Quantities   map[string][]int64
	HoldingCount []int
	TradeCount   []int
}

// Len returns the number of ledger rows.
func (l *Ledger) Len() int { return len(l.Dates) }

// First and Last return the ledger's date bounds. Both panic on an empty ledger.
func (l *Ledger) First() time.Time { return l.Dates[0] }
func (l *Ledger) Last() time.Time  { return l.Dates[len(l.Dates)-1] }

// LoadOptions controls Load.
type LoadOptions struct {
	DateLayout string
	Policy     MissingQuantityPolicy
	Table      tabular.Options
}

// Load reads and normalizes a raw ledger file (CSV or XLSX).
func Load(path string, opt LoadOptions) (*Ledger, error) {
	t, err := tabular.ReadFile(path, opt.Table)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return FromTable(t, opt)
}

type rawRow struct {
	date time.Time
	qty  []*int64
	line int
}

// FromTable normalizes a raw ledger table. Rows are sorted ascending by date
// (stable), duplicate dates and negative quantities are rejected.
func FromTable(t *tabular.Table, opt LoadOptions) (*Ledger, error) {
	layout := opt.DateLayout
	if layout == "" {
		layout = DefaultDateLayout
	}
	di := t.Column("DATE")
	if di < 0 {
		return nil, ErrNoDateColumn
	}
	var tickers []string
	var cols []int
	for j, h := range t.Header {
		h = strings.TrimSpace(h)
		if j == di || h == "" {
			continue
		}
		tickers = append(tickers, h)
		cols = append(cols, j)
	}
	raw := make([]rawRow, 0, len(t.Rows))
	for i, rec := range t.Rows {
		line := i + 2
		if isBlankRow(rec) {
			continue
		}
		d, err := parseDate(layout, rec[di])
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: date %q: %w", line, rec[di], err)
		}
		r := rawRow{date: d, qty: make([]*int64, len(cols)), line: line}
		for k, j := range cols {
			q, err := parseQuantity(rec[j])
			if err != nil {
				return nil, fmt.Errorf("ledger line %d, %s: %w", line, tickers[k], err)
			}
			r.qty[k] = q
		}
		raw = append(raw, r)
	}
	sort.SliceStable(raw, func(a, b int) bool { return raw[a].date.Before(raw[b].date) })
	for i := 1; i < len(raw); i++ {
		if raw[i].date.Equal(raw[i-1].date) {
			return nil, fmt.Errorf("%w %s (lines %d and %d)", ErrDuplicateDate,
				raw[i].date.Format(layout), raw[i-1].line, raw[i].line)
		}
	}

	l := &Ledger{Tickers: tickers, Quantities: make(map[string][]int64, len(tickers))}
	for _, tk := range tickers {
		l.Quantities[tk] = make([]int64, len(raw))
	}
	for i, r := range raw {
		l.Dates = append(l.Dates, r.date)
		for k, tk := range tickers {
			switch {
			case r.qty[k] != nil:
				l.Quantities[tk][i] = *r.qty[k]
			case opt.Policy == CarryForward && i > 0:
				l.Quantities[tk][i] = l.Quantities[tk][i-1]
			}
		}
	}
	l.derive()
	return l, nil
}

// parseDate applies the ledger layout and falls back to an Excel serial day
// number, which is what a date-styled XLSX cell stores.
func parseDate(layout, s string) (time.Time, error) {
	d, err := series.ParseDay(layout, s)
	if err == nil {
		return d, nil
	}
	if serial, ok := tabular.ExcelSerialDate(s); ok {
		return serial, nil
	}
	return time.Time{}, err
}

func isBlankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseQuantity returns nil for a blank cell. Fractional quantities are
// truncated toward zero.
func parseQuantity(s string) (*int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	switch strings.ToLower(s) {
	case "", "nan", "na":
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("quantity %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeQuantity, s)
	}
	q := d.Truncate(0).IntPart()
	return &q, nil
}

// derive fills HoldingCount and TradeCount. The first row is compared
// against an all-zero prior row.
func (l *Ledger) derive() {
	n := l.Len()
	l.HoldingCount = make([]int, n)
	l.TradeCount = make([]int, n)
	for _, tk := range l.Tickers {
		q := l.Quantities[tk]
		var prev int64
		for i := 0; i < n; i++ {
			if q[i] > 0 {
				l.HoldingCount[i]++
			}
			if q[i] != prev {
				l.TradeCount[i]++
			}
			prev = q[i]
		}
	}
}

// WriteCleaned persists the ledger as DATE,<tickers…>,holding_count,trade_count.
func WriteCleaned(path string, l *Ledger) error {
	header := append([]string{"DATE"}, l.Tickers...)
	header = append(header, HoldingCountColumn, TradeCountColumn)
	rows := make([][]string, l.Len())
	for i, d := range l.Dates {
		rec := make([]string, 0, len(header))
		rec = append(rec, series.FormatDay(d))
		for _, tk := range l.Tickers {
			rec = append(rec, strconv.FormatInt(l.Quantities[tk][i], 10))
		}
		rec = append(rec, strconv.Itoa(l.HoldingCount[i]), strconv.Itoa(l.TradeCount[i]))
		rows[i] = rec
	}
	b, err := utils.EncodeCSV(header, rows)
	if err != nil {
		return fmt.Errorf("encode cleaned ledger: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

// ReadCleaned loads an artifact written by WriteCleaned. The derived
// columns are recomputed rather than trusted.
func ReadCleaned(path string) (*Ledger, error) {
	t, err := tabular.ReadFile(path, tabular.Options{})
	if err != nil {
		return nil, fmt.Errorf("read cleaned ledger: %w", err)
	}
	keep := make([]int, 0, len(t.Header))
	for j, h := range t.Header {
		if h != HoldingCountColumn && h != TradeCountColumn {
			keep = append(keep, j)
		}
	}
	sub := &tabular.Table{Name: t.Name}
	for _, j := range keep {
		sub.Header = append(sub.Header, t.Header[j])
	}
	for _, rec := range t.Rows {
		r := make([]string, len(keep))
		for k, j := range keep {
			r[k] = rec[j]
		}
		sub.Rows = append(sub.Rows, r)
	}
	l, err := FromTable(sub, LoadOptions{DateLayout: series.DayLayout})
	if err != nil {
		return nil, fmt.Errorf("read cleaned ledger: %w", err)
	}
	return l, nil
}

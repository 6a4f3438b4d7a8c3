// Package valuation aligns sparse trading-day closes onto a continuous
// calendar, values the ledger on every calendar day and computes a daily
// return that excludes same-day trades.
package valuation

import (
	"errors"
	"sort"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/holdings"
	"github.com/KaramelBytes/moodfolio/internal/market"
	"github.com/KaramelBytes/moodfolio/internal/series"
)

// DefaultPadDays is how far before the first ledger date prices are
// requested, so a weekend or holiday start still gets a close.
const DefaultPadDays = 7

// ErrEmptyLedger is returned when there is nothing to value.
var ErrEmptyLedger = errors.New("ledger has no rows")

// Valuation is one row per calendar day, stored column-wise. Per-ticker
// series are keyed by ticker.
type Valuation struct {
	Tickers    []string
	Dates      []time.Time
	Quantities map[string][]int64
	Prices     map[string][]series.Float
	// HoldingCount and TradeCount come from the ledger and are undefined on
	// days the ledger does not list.
	HoldingCount []series.Float
	TradeCount   []series.Float
	Value        []float64
	Return       []series.Float
	// Failed lists tickers whose price fetch failed.
	Failed map[string]error
}

// Len returns the number of calendar rows.
func (v *Valuation) Len() int { return len(v.Dates) }

// Span returns [first-pad, last] for a non-empty ledger.
func Span(l *holdings.Ledger, padDays int) (time.Time, time.Time) {
	return series.AddDays(l.First(), -padDays), l.Last()
}

// Densify left-joins quotes onto calendar and forward-fills. Days before the
// first quote stay undefined.
func Densify(calendar []time.Time, quotes []market.Quote) []series.Float {
	byDay := make(map[time.Time]float64, len(quotes))
	for _, q := range quotes {
		byDay[series.Day(q.Date)] = q.Close
	}
	out := make([]series.Float, len(calendar))
	for i, d := range calendar {
		if c, ok := byDay[d]; ok {
			out[i] = series.Some(c)
		}
	}
	return series.ForwardFill(out)
}

// Build values the ledger on every calendar day. Quantities on days absent
// from the ledger follow policy. Prices missing for a ticker are undefined
// on every day and contribute zero to the value.
func Build(l *holdings.Ledger, calendar []time.Time, prices map[string][]series.Float, policy holdings.MissingQuantityPolicy) *Valuation {
	n := len(calendar)
	v := &Valuation{
		Tickers:      append([]string(nil), l.Tickers...),
		Dates:        calendar,
		Quantities:   make(map[string][]int64, len(l.Tickers)),
		Prices:       make(map[string][]series.Float, len(l.Tickers)),
		HoldingCount: make([]series.Float, n),
		TradeCount:   make([]series.Float, n),
		Value:        make([]float64, n),
		Failed:       map[string]error{},
	}
	row := make(map[time.Time]int, l.Len())
	for i, d := range l.Dates {
		row[d] = i
	}
	for _, tk := range v.Tickers {
		src := l.Quantities[tk]
		q := make([]int64, n)
		for i, d := range calendar {
			switch j, ok := row[d]; {
			case ok:
				q[i] = src[j]
			case policy == holdings.CarryForward && i > 0:
				q[i] = q[i-1]
			}
		}
		v.Quantities[tk] = q

		p := make([]series.Float, n)
		copy(p, prices[tk])
		v.Prices[tk] = series.ForwardFill(p)
	}
	for i, d := range calendar {
		if j, ok := row[d]; ok {
			v.HoldingCount[i] = series.Some(float64(l.HoldingCount[j]))
			v.TradeCount[i] = series.Some(float64(l.TradeCount[j]))
		}
		var sum float64
		for _, tk := range v.Tickers {
			if p := v.Prices[tk][i]; p.OK {
				sum += float64(v.Quantities[tk][i]) * p.V
			}
		}
		v.Value[i] = sum
	}
	v.Return = ComputeReturns(v)
	return v
}

// ComputeReturns applies day d's prices to the quantities held on d-1:
// return(d) = (pure(d) - value(d-1)) / value(d-1). It is undefined on the
// first row and whenever value(d-1) is zero.
func ComputeReturns(v *Valuation) []series.Float {
	out := make([]series.Float, v.Len())
	for i := 1; i < v.Len(); i++ {
		prev := v.Value[i-1]
		if prev == 0 {
			continue
		}
		var pure float64
		for _, tk := range v.Tickers {
			if p := v.Prices[tk][i]; p.OK {
				pure += float64(v.Quantities[tk][i-1]) * p.V
			}
		}
		out[i] = series.Some((pure - prev) / prev)
	}
	return out
}

// Diagnostic reports how many calendar days a ticker had no effective price.
type Diagnostic struct {
	Ticker           string
	MissingPriceDays int
	FetchError       string
}

// Diagnostics ranks tickers by undefined-price days, most first, ticker
// name breaking ties. top <= 0 returns every ticker.
func Diagnostics(v *Valuation, top int) []Diagnostic {
	out := make([]Diagnostic, 0, len(v.Tickers))
	for _, tk := range v.Tickers {
		d := Diagnostic{Ticker: tk}
		for _, p := range v.Prices[tk] {
			if !p.OK {
				d.MissingPriceDays++
			}
		}
		if err := v.Failed[tk]; err != nil {
			d.FetchError = err.Error()
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MissingPriceDays != out[j].MissingPriceDays {
			return out[i].MissingPriceDays > out[j].MissingPriceDays
		}
		return out[i].Ticker < out[j].Ticker
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

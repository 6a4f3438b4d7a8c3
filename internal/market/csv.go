package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
)

// CSVProvider serves quotes from a local DATE,TICKER,CLOSE file. It is used
// for offline runs and reproducible tests.
type CSVProvider struct {
	Path string

	once   sync.Once
	err    error
	quotes map[string][]Quote
}

// NewCSVProvider returns a provider over path. The file is read on first use.
func NewCSVProvider(path string) *CSVProvider { return &CSVProvider{Path: path} }

func (p *CSVProvider) load() {
	t, err := tabular.ReadFile(p.Path, tabular.Options{})
	if err != nil {
		p.err = fmt.Errorf("read prices: %w", err)
		return
	}
	di, ti, ci := t.Column("DATE"), t.Column("TICKER"), t.Column("CLOSE")
	if di < 0 || ti < 0 || ci < 0 {
		p.err = fmt.Errorf("read prices: %s must have DATE, TICKER and CLOSE columns", t.Name)
		return
	}
	p.quotes = map[string][]Quote{}
	for i, rec := range t.Rows {
		d, err := series.ParseDay(series.DayLayout, rec[di])
		if err != nil {
			p.err = fmt.Errorf("prices line %d: %w", i+2, err)
			return
		}
		v, err := series.ParseFloat(rec[ci])
		if err != nil {
			p.err = fmt.Errorf("prices line %d: %w", i+2, err)
			return
		}
		if !v.OK {
			continue
		}
		sym := strings.TrimSpace(rec[ti])
		p.quotes[sym] = append(p.quotes[sym], Quote{Date: d, Close: v.V})
	}
	for sym, qs := range p.quotes {
		sort.SliceStable(qs, func(a, b int) bool { return qs[a].Date.Before(qs[b].Date) })
		p.quotes[sym] = dedupe(qs)
	}
}

// History implements Provider.
func (p *CSVProvider) History(_ context.Context, symbol string, from, to time.Time) ([]Quote, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	all, ok := p.quotes[symbol]
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: "not in " + p.Path}
	}
	lo, hi := series.Day(from), series.Day(to)
	var out []Quote
	for _, q := range all {
		if !q.Date.Before(lo) && !q.Date.After(hi) {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: "no quotes in range"}
	}
	return out, nil
}

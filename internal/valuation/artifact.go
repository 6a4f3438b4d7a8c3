package valuation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KaramelBytes/moodfolio/internal/holdings"
	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// Column names of the valuation artifact.
const (
	PriceSuffix          = "_price"
	PortfolioValueColumn = "portfolio_value"
	DailyReturnColumn    = "daily_return"
)

// WriteCSV persists v as DATE,<tickers…>,<ticker>_price…,holding_count,
// trade_count,portfolio_value,daily_return. Undefined cells are empty.
func WriteCSV(path string, v *Valuation) error {
	header := []string{"DATE"}
	header = append(header, v.Tickers...)
	for _, tk := range v.Tickers {
		header = append(header, tk+PriceSuffix)
	}
	header = append(header, holdings.HoldingCountColumn, holdings.TradeCountColumn, PortfolioValueColumn, DailyReturnColumn)

	rows := make([][]string, v.Len())
	for i, d := range v.Dates {
		rec := make([]string, 0, len(header))
		rec = append(rec, series.FormatDay(d))
		for _, tk := range v.Tickers {
			rec = append(rec, strconv.FormatInt(v.Quantities[tk][i], 10))
		}
		for _, tk := range v.Tickers {
			rec = append(rec, v.Prices[tk][i].String())
		}
		rec = append(rec,
			v.HoldingCount[i].String(),
			v.TradeCount[i].String(),
			strconv.FormatFloat(v.Value[i], 'f', -1, 64),
			v.Return[i].String(),
		)
		rows[i] = rec
	}
	b, err := utils.EncodeCSV(header, rows)
	if err != nil {
		return fmt.Errorf("encode valuation: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

// ReadCSV loads an artifact written by WriteCSV.
func ReadCSV(path string) (*Valuation, error) {
	t, err := tabular.ReadFile(path, tabular.Options{})
	if err != nil {
		return nil, fmt.Errorf("read valuation: %w", err)
	}
	idx := map[string]int{}
	for j, h := range t.Header {
		idx[h] = j
	}
	for _, col := range []string{"DATE", PortfolioValueColumn, DailyReturnColumn} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("read valuation: missing column %s", col)
		}
	}
	v := &Valuation{
		Quantities: map[string][]int64{},
		Prices:     map[string][]series.Float{},
		Failed:     map[string]error{},
	}
	for _, h := range t.Header {
		switch {
		case h == "DATE", h == holdings.HoldingCountColumn, h == holdings.TradeCountColumn,
			h == PortfolioValueColumn, h == DailyReturnColumn, strings.HasSuffix(h, PriceSuffix):
			continue
		}
		v.Tickers = append(v.Tickers, h)
	}
	cell := func(rec []string, col string) string {
		if j, ok := idx[col]; ok {
			return rec[j]
		}
		return ""
	}
	for n, rec := range t.Rows {
		line := n + 2
		d, err := series.ParseDay(series.DayLayout, cell(rec, "DATE"))
		if err != nil {
			return nil, fmt.Errorf("valuation line %d: %w", line, err)
		}
		v.Dates = append(v.Dates, d)
		for _, tk := range v.Tickers {
			q, err := strconv.ParseInt(strings.TrimSpace(cell(rec, tk)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("valuation line %d, %s: %w", line, tk, err)
			}
			v.Quantities[tk] = append(v.Quantities[tk], q)
			p, err := series.ParseFloat(cell(rec, tk+PriceSuffix))
			if err != nil {
				return nil, fmt.Errorf("valuation line %d, %s: %w", line, tk+PriceSuffix, err)
			}
			v.Prices[tk] = append(v.Prices[tk], p)
		}
		var fs [4]series.Float
		for k, col := range []string{holdings.HoldingCountColumn, holdings.TradeCountColumn, PortfolioValueColumn, DailyReturnColumn} {
			if fs[k], err = series.ParseFloat(cell(rec, col)); err != nil {
				return nil, fmt.Errorf("valuation line %d, %s: %w", line, col, err)
			}
		}
		v.HoldingCount = append(v.HoldingCount, fs[0])
		v.TradeCount = append(v.TradeCount, fs[1])
		v.Value = append(v.Value, fs[2].Or(0))
		v.Return = append(v.Return, fs[3])
	}
	return v, nil
}

// WriteDiagnostics persists ranked diagnostics as
// ticker,missing_price_days,fetch_error.
func WriteDiagnostics(path string, diags []Diagnostic) error {
	rows := make([][]string, len(diags))
	for i, d := range diags {
		rows[i] = []string{d.Ticker, strconv.Itoa(d.MissingPriceDays), d.FetchError}
	}
	b, err := utils.EncodeCSV([]string{"ticker", "missing_price_days", "fetch_error"}, rows)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

package valuation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/moodfolio/internal/holdings"
	"github.com/KaramelBytes/moodfolio/internal/market"
	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
)

func day(s string) time.Time {
	d, err := series.ParseDay(series.DayLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func ledger(t *testing.T, text string, policy holdings.MissingQuantityPolicy) *holdings.Ledger {
	t.Helper()
	tb, err := tabular.ReadCSV(strings.NewReader(text), "stock.csv", ',')
	require.NoError(t, err)
	l, err := holdings.FromTable(tb, holdings.LoadOptions{Policy: policy})
	require.NoError(t, err)
	return l
}

// staticProvider serves fixed quotes and fails for unknown symbols.
type staticProvider map[string][]market.Quote

func (p staticProvider) History(_ context.Context, symbol string, from, to time.Time) ([]market.Quote, error) {
	qs, ok := p[symbol]
	if !ok {
		return nil, &market.SymbolNotFoundError{Symbol: symbol}
	}
	var out []market.Quote
	for _, q := range qs {
		if !q.Date.Before(from) && !q.Date.After(to) {
			out = append(out, q)
		}
	}
	return out, nil
}

func indexOf(v *Valuation, s string) int {
	for i, d := range v.Dates {
		if d.Equal(day(s)) {
			return i
		}
	}
	return -1
}

func TestEngineFirstReturnUndefinedThenPriceMove(t *testing.T) {
	l := ledger(t, "DATE,AAPL\n2024.01.02,10\n2024.01.03,10\n", holdings.TreatAsZero)
	eng := &Engine{Fetcher: &market.Fetcher{Provider: staticProvider{"AAPL": {
		{Date: day("2024-01-02"), Close: 150},
		{Date: day("2024-01-03"), Close: 155},
	}}}}

	v, err := eng.Run(context.Background(), l)
	require.NoError(t, err)

	// Seven padded days plus the two ledger days.
	require.Equal(t, 9, v.Len())
	assert.Equal(t, day("2023-12-26"), v.Dates[0])

	i := indexOf(v, "2024-01-02")
	assert.Equal(t, 1500.0, v.Value[i])
	assert.False(t, v.Return[i].OK, "prior value is zero, return must be undefined")

	j := indexOf(v, "2024-01-03")
	require.True(t, v.Return[j].OK)
	assert.Equal(t, (10*155.0-10*150.0)/(10*150.0), v.Return[j].V)
	assert.InDelta(t, 0.0333, v.Return[j].V, 1e-4)

	for k := 0; k < i; k++ {
		assert.False(t, v.Prices["AAPL"][k].OK, "no price before the first quote")
		assert.Equal(t, 0.0, v.Value[k])
		assert.False(t, v.Return[k].OK)
	}
}

func TestReturnExcludesSameDayTrade(t *testing.T) {
	l := ledger(t, "DATE,AAA\n2024.03.01,10\n2024.03.02,100\n2024.03.03,100\n", holdings.TreatAsZero)
	cal := series.Days(day("2024-03-01"), day("2024-03-03"))
	prices := map[string][]series.Float{"AAA": {series.Some(100), series.Some(110), series.Some(121)}}
	v := Build(l, cal, prices, holdings.TreatAsZero)

	// Day 2: buying 90 shares must not count as return; only 100 -> 110 does.
	assert.Equal(t, 11000.0, v.Value[1])
	require.True(t, v.Return[1].OK)
	assert.Equal(t, 0.1, v.Return[1].V)

	// The trade first shows up as the larger base of day 3.
	require.True(t, v.Return[2].OK)
	assert.Equal(t, 0.1, v.Return[2].V)
	assert.Equal(t, (100*121.0-v.Value[1])/v.Value[1], v.Return[2].V)
}

func TestReturnIdentityAndZeroDenominator(t *testing.T) {
	l := ledger(t, "DATE,A,B\n2024.03.01,0,0\n2024.03.02,5,2\n2024.03.03,5,0\n2024.03.04,3,4\n", holdings.TreatAsZero)
	cal := series.Days(day("2024-03-01"), day("2024-03-04"))
	prices := map[string][]series.Float{
		"A": {series.Some(10), series.Some(11), series.Some(9), series.Some(12)},
		"B": {series.None(), series.Some(50), series.Some(55), series.Some(40)},
	}
	v := Build(l, cal, prices, holdings.TreatAsZero)

	assert.False(t, v.Return[0].OK)
	assert.False(t, v.Return[1].OK, "value on day 1 is zero")
	for d := 2; d < v.Len(); d++ {
		prev := v.Value[d-1]
		pure := float64(v.Quantities["A"][d-1])*v.Prices["A"][d].V + float64(v.Quantities["B"][d-1])*v.Prices["B"][d].V
		require.True(t, v.Return[d].OK)
		assert.Equal(t, (pure-prev)/prev, v.Return[d].V)
	}
}

func TestDensifySupersetAndForwardFill(t *testing.T) {
	l := ledger(t, "DATE,X\n2024.01.08,1\n2024.01.10,1\n", holdings.TreatAsZero)
	start, end := Span(l, DefaultPadDays)
	cal := series.Days(start, end)

	seen := map[time.Time]int{}
	for _, d := range cal {
		seen[d]++
	}
	for d := day("2024-01-01"); !d.After(day("2024-01-10")); d = d.AddDate(0, 0, 1) {
		assert.Equal(t, 1, seen[d], d.Format(series.DayLayout))
	}
	assert.Len(t, cal, 10)

	// Friday close carries over the weekend; nothing before the first quote.
	p := Densify(cal, []market.Quote{{Date: day("2024-01-03"), Close: 7}, {Date: day("2024-01-05"), Close: 8}, {Date: day("2024-01-08"), Close: 9}})
	assert.False(t, p[0].OK)
	assert.False(t, p[1].OK)
	assert.Equal(t, series.Some(7), p[2])
	assert.Equal(t, series.Some(7), p[3])
	assert.Equal(t, series.Some(8), p[5])
	assert.Equal(t, series.Some(8), p[6])
	assert.Equal(t, series.Some(9), p[7])
	assert.Equal(t, series.Some(9), p[9])
	assert.Equal(t, p, series.ForwardFill(p))
}

func TestAbsentLedgerDatesFollowPolicy(t *testing.T) {
	text := "DATE,X\n2024.01.01,5\n2024.01.03,5\n"
	cal := series.Days(day("2024-01-01"), day("2024-01-03"))
	prices := map[string][]series.Float{"X": {series.Some(1), series.Some(1), series.Some(1)}}

	zero := Build(ledger(t, text, holdings.TreatAsZero), cal, prices, holdings.TreatAsZero)
	assert.Equal(t, []int64{5, 0, 5}, zero.Quantities["X"])
	assert.False(t, zero.HoldingCount[1].OK)
	assert.Equal(t, series.Some(1), zero.HoldingCount[0])

	carry := Build(ledger(t, text, holdings.CarryForward), cal, prices, holdings.CarryForward)
	assert.Equal(t, []int64{5, 5, 5}, carry.Quantities["X"])
}

func TestFailedTickerIsolatedAndDiagnosed(t *testing.T) {
	l := ledger(t, "DATE,GOOD,GONE,LATE\n2024.01.02,1,3,2\n2024.01.03,1,3,2\n", holdings.TreatAsZero)
	eng := &Engine{PadDays: 1, Fetcher: &market.Fetcher{Provider: staticProvider{
		"GOOD": {{Date: day("2024-01-01"), Close: 10}, {Date: day("2024-01-03"), Close: 11}},
		"LATE": {{Date: day("2024-01-03"), Close: 4}},
	}}}
	v, err := eng.Run(context.Background(), l)
	require.NoError(t, err)

	require.Contains(t, v.Failed, "GONE")
	for _, p := range v.Prices["GONE"] {
		assert.False(t, p.OK)
	}
	// GONE contributes zero rather than poisoning the sum.
	assert.Equal(t, []float64{0, 10, 11 + 2*4}, v.Value)

	diags := Diagnostics(v, 0)
	require.Len(t, diags, 3)
	assert.Equal(t, "GONE", diags[0].Ticker)
	assert.Equal(t, 3, diags[0].MissingPriceDays)
	assert.NotEmpty(t, diags[0].FetchError)
	assert.Equal(t, Diagnostic{Ticker: "LATE", MissingPriceDays: 2}, diags[1])
	assert.Equal(t, Diagnostic{Ticker: "GOOD", MissingPriceDays: 0}, diags[2])
	assert.Len(t, Diagnostics(v, 1), 1)
}

func TestEngineRejectsEmptyLedger(t *testing.T) {
	_, err := (&Engine{}).Run(context.Background(), &holdings.Ledger{})
	assert.True(t, errors.Is(err, ErrEmptyLedger))
}

func TestArtifactRoundTrip(t *testing.T) {
	l := ledger(t, "DATE,AAPL\n2024.01.02,10\n2024.01.04,10\n", holdings.TreatAsZero)
	cal := series.Days(day("2024-01-01"), day("2024-01-04"))
	v := Build(l, cal, map[string][]series.Float{"AAPL": {series.None(), series.Some(150), series.None(), series.Some(155.5)}}, holdings.TreatAsZero)

	dir := t.TempDir()
	path := filepath.Join(dir, "portfolio_with_price.csv")
	require.NoError(t, WriteCSV(path, v))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "DATE,AAPL,AAPL_price,holding_count,trade_count,portfolio_value,daily_return", lines[0])
	assert.Equal(t, "2024-01-01,0,,,,0,", lines[1])
	assert.Equal(t, "2024-01-03,0,150,,,0,0", lines[3])

	back, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, v.Tickers, back.Tickers)
	assert.Equal(t, v.Dates, back.Dates)
	assert.Equal(t, v.Quantities, back.Quantities)
	assert.Equal(t, v.Prices, back.Prices)
	assert.Equal(t, v.Value, back.Value)
	assert.Equal(t, v.Return, back.Return)
	assert.Equal(t, v.HoldingCount, back.HoldingCount)

	require.NoError(t, WriteDiagnostics(filepath.Join(dir, "d.csv"), Diagnostics(v, 0)))
	raw, err = os.ReadFile(filepath.Join(dir, "d.csv"))
	require.NoError(t, err)
	assert.Equal(t, "ticker,missing_price_days,fetch_error\nAAPL,1,\n", string(raw))
}

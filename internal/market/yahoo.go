package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/series"
)

// DefaultYahooBaseURL is the public chart API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient reads daily closes from the Yahoo Finance chart API.
type YahooClient struct {
	baseURL string
	// Adjusted selects split/dividend-adjusted closes when the answer has them.
	Adjusted bool
	core     *httpCore
}

// NewYahooClient returns a client against baseURL (DefaultYahooBaseURL when empty).
func NewYahooClient(baseURL string, opt HTTPOptions) *YahooClient {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooClient{baseURL: strings.TrimRight(baseURL, "/"), Adjusted: true, core: newHTTPCore(opt)}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int64 `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// History implements Provider. The trading date of each bar is taken in the
// exchange's own UTC offset.
func (c *YahooClient) History(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(series.Day(from).Unix()))
	q.Set("period2", fmt.Sprint(series.AddDays(to, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	var out yahooChart
	if err := c.core.getJSON(ctx, endpoint, symbol, &out); err != nil {
		return nil, err
	}
	if e := out.Chart.Error; e != nil {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: e.Description}
	}
	if len(out.Chart.Result) == 0 {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: "empty chart result"}
	}
	res := out.Chart.Result[0]
	var closes []*float64
	if c.Adjusted && len(res.Indicators.AdjClose) > 0 {
		closes = res.Indicators.AdjClose[0].AdjClose
	} else if len(res.Indicators.Quote) > 0 {
		closes = res.Indicators.Quote[0].Close
	}
	offset := time.Duration(res.Meta.GMTOffset) * time.Second
	lo, hi := series.Day(from), series.Day(to)
	quotes := make([]Quote, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		d := series.Day(time.Unix(ts, 0).UTC().Add(offset))
		if d.Before(lo) || d.After(hi) {
			continue
		}
		quotes = append(quotes, Quote{Date: d, Close: *closes[i]})
	}
	if len(quotes) == 0 {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: "no quotes in range"}
	}
	return dedupe(quotes), nil
}

// dedupe keeps the last quote per day, ascending.
func dedupe(qs []Quote) []Quote {
	out := qs[:0]
	for _, q := range qs {
		if n := len(out); n > 0 && out[n-1].Date.Equal(q.Date) {
			out[n-1] = q
			continue
		}
		out = append(out, q)
	}
	return out
}

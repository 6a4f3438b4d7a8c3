package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/series"
)

// DefaultEODHDBaseURL is the EODHD API base.
const DefaultEODHDBaseURL = "https://eodhd.com/api"

// EODHDClient reads end-of-day closes from EODHD.
type EODHDClient struct {
	baseURL  string
	apiKey   string
	exchange string
	core     *httpCore
}

// NewEODHDClient returns a client. exchange is appended to symbols that carry
// no exchange suffix ("US" when empty). A dotted symbol is taken to already
// name its exchange, so class shares written with a dot (BRK.B) need a
// market alias to the dashed form (BRK-B).
func NewEODHDClient(baseURL, apiKey, exchange string, opt HTTPOptions) *EODHDClient {
	if baseURL == "" {
		baseURL = DefaultEODHDBaseURL
	}
	if exchange == "" {
		exchange = "US"
	}
	return &EODHDClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, exchange: exchange, core: newHTTPCore(opt)}
}

type eodRow struct {
	Date          string   `json:"date"`
	Close         *float64 `json:"close"`
	AdjustedClose *float64 `json:"adjusted_close"`
}

// History implements Provider.
func (c *EODHDClient) History(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("eodhd: api key is missing")
	}
	full := symbol
	if !strings.Contains(symbol, ".") {
		full = symbol + "." + c.exchange
	}
	q := url.Values{}
	q.Set("api_token", c.apiKey)
	q.Set("fmt", "json")
	q.Set("period", "d")
	q.Set("order", "a")
	q.Set("from", series.FormatDay(from))
	q.Set("to", series.FormatDay(to))
	endpoint := fmt.Sprintf("%s/eod/%s?%s", c.baseURL, url.PathEscape(full), q.Encode())

	var rows []eodRow
	if err := c.core.getJSON(ctx, endpoint, symbol, &rows); err != nil {
		return nil, err
	}
	quotes := make([]Quote, 0, len(rows))
	for _, r := range rows {
		v := r.AdjustedClose
		if v == nil {
			v = r.Close
		}
		if v == nil {
			continue
		}
		d, err := series.ParseDay(series.DayLayout, r.Date)
		if err != nil {
			continue
		}
		quotes = append(quotes, Quote{Date: d, Close: *v})
	}
	if len(quotes) == 0 {
		return nil, &SymbolNotFoundError{Symbol: symbol, Reason: "no quotes in range"}
	}
	return dedupe(quotes), nil
}

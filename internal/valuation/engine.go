package valuation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KaramelBytes/moodfolio/internal/holdings"
	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/market"
	"github.com/KaramelBytes/moodfolio/internal/series"
)

// Engine fetches prices for a ledger and values it.
type Engine struct {
	Fetcher *market.Fetcher
	PadDays int
	Policy  holdings.MissingQuantityPolicy
	Logger  logrus.FieldLogger
}

// Run values l over [first-pad, last]. Per-ticker fetch failures are
// recorded in the result and do not fail the run.
func (e *Engine) Run(ctx context.Context, l *holdings.Ledger) (*Valuation, error) {
	if l == nil || l.Len() == 0 {
		return nil, ErrEmptyLedger
	}
	log := logger.WithComponent(e.Logger, "valuation")
	pad := e.PadDays
	if pad <= 0 {
		pad = DefaultPadDays
	}
	start, end := Span(l, pad)
	calendar := series.Days(start, end)
	log.WithFields(logrus.Fields{
		"tickers": len(l.Tickers),
		"from":    series.FormatDay(start),
		"to":      series.FormatDay(end),
		"days":    len(calendar),
	}).Info("fetching prices")

	t0 := time.Now()
	res := e.Fetcher.FetchAll(ctx, l.Tickers, start, end)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prices := make(map[string][]series.Float, len(res.Quotes))
	for tk, qs := range res.Quotes {
		prices[tk] = Densify(calendar, qs)
	}
	v := Build(l, calendar, prices, e.Policy)
	for tk, err := range res.Failed {
		v.Failed[tk] = err
	}
	log.WithFields(logrus.Fields{
		"fetched": len(res.Quotes),
		"failed":  len(res.Failed),
		"elapsed": time.Since(t0).String(),
	}).Info("valuation built")
	return v, nil
}

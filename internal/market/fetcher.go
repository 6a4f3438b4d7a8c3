package market

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/moodfolio/internal/logger"
)

// Fetcher retrieves every ticker's history with bounded parallelism. A
// failing ticker never aborts the batch.
type Fetcher struct {
	Provider Provider
	// Workers bounds concurrent requests; <= 0 means 4.
	Workers int
	// Aliases maps a ledger ticker to the provider's symbol for it.
	Aliases map[string]string
	Logger  logrus.FieldLogger
}

// Result is the outcome of FetchAll, keyed by ledger ticker. A ticker is in
// exactly one of the two maps.
type Result struct {
	Quotes map[string][]Quote
	Failed map[string]error
}

type fetchSlot struct {
	quotes []Quote
	err    error
}

// FetchAll fetches [from, to] for each ticker. Results are merged only after
// every fetch has finished or failed.
func (f *Fetcher) FetchAll(ctx context.Context, tickers []string, from, to time.Time) *Result {
	log := logger.WithComponent(f.Logger, "market")
	workers := f.Workers
	if workers <= 0 {
		workers = 4
	}
	slots := make([]fetchSlot, len(tickers))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, tk := range tickers {
		i, tk := i, tk
		g.Go(func() error {
			sym := f.symbol(tk)
			start := time.Now()
			qs, err := f.Provider.History(ctx, sym, from, to)
			entry := log.WithFields(logrus.Fields{"ticker": tk, "symbol": sym, "elapsed": time.Since(start).String()})
			if err != nil {
				entry.WithError(err).Warn("price fetch failed; ticker prices left undefined")
				slots[i] = fetchSlot{err: err}
				return nil
			}
			entry.WithField("quotes", len(qs)).Debug("prices fetched")
			slots[i] = fetchSlot{quotes: qs}
			return nil
		})
	}
	// Workers record failures in their slot and always return nil.
	g.Wait()

	res := &Result{Quotes: map[string][]Quote{}, Failed: map[string]error{}}
	for i, tk := range tickers {
		if slots[i].err != nil {
			res.Failed[tk] = slots[i].err
			continue
		}
		res.Quotes[tk] = slots[i].quotes
	}
	return res
}

func (f *Fetcher) symbol(ticker string) string {
	if s, ok := f.Aliases[ticker]; ok && s != "" {
		return s
	}
	return ticker
}

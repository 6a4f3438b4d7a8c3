package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/moodfolio/internal/series"
)

type ipv4Server struct {
	URL string
	srv *http.Server
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: &http.Server{Handler: handler}}
	go func() { _ = s.srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	})
	return s
}

func day(s string) time.Time {
	d, err := series.ParseDay(series.DayLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func fastRetry() HTTPOptions {
	return HTTPOptions{Timeout: 2 * time.Second, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxWait: 5 * time.Millisecond}
}

func f64(v float64) *float64 { return &v }

func chartBody(offset int64, ts []int64, closes, adj []*float64) map[string]any {
	return map[string]any{"chart": map[string]any{
		"result": []any{map[string]any{
			"meta":      map[string]any{"gmtoffset": offset},
			"timestamp": ts,
			"indicators": map[string]any{
				"quote":    []any{map[string]any{"close": closes}},
				"adjclose": []any{map[string]any{"adjclose": adj}},
			},
		}},
		"error": nil,
	}}
}

func TestYahooHistoryUsesExchangeOffset(t *testing.T) {
	// Midnight KST bars arrive as 15:00 UTC of the previous day.
	kst := int64(9 * 3600)
	ts := []int64{
		time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC).Unix(),
		time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC).Unix(),
		time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC).Unix(),
	}
	var gotQuery string
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/005930.KS" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(chartBody(kst, ts,
			[]*float64{f64(70000), nil, f64(71000)},
			[]*float64{f64(69000), nil, f64(70500)}))
	}))

	c := NewYahooClient(srv.URL, fastRetry())
	qs, err := c.History(context.Background(), "005930.KS", day("2024-01-02"), day("2024-01-04"))
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, day("2024-01-02"), qs[0].Date)
	assert.Equal(t, 69000.0, qs[0].Close)
	assert.Equal(t, day("2024-01-04"), qs[1].Date)
	assert.Contains(t, gotQuery, "interval=1d")
	// The end day is inclusive: period2 is the start of the following day.
	assert.Contains(t, gotQuery, fmt.Sprintf("period2=%d", day("2024-01-05").Unix()))

	c.Adjusted = false
	qs, err = c.History(context.Background(), "005930.KS", day("2024-01-02"), day("2024-01-04"))
	require.NoError(t, err)
	assert.Equal(t, 70000.0, qs[0].Close)
}

func TestRetryOnServerErrorsThenSuccess(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_ = json.NewEncoder(w).Encode(chartBody(0,
				[]int64{day("2024-01-02").Unix()}, []*float64{f64(150)}, nil))
		}
	}))
	c := NewYahooClient(srv.URL, fastRetry())
	c.Adjusted = false
	qs, err := c.History(context.Background(), "AAPL", day("2024-01-01"), day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, []Quote{{Date: day("2024-01-02"), Close: 150}}, qs)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestRetryGivesUpWithTypedError(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	_, err := NewYahooClient(srv.URL, fastRetry()).History(context.Background(), "AAPL", day("2024-01-01"), day("2024-01-03"))
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, err.Error(), "upstream down")
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	_, err := NewYahooClient(srv.URL, fastRetry()).History(context.Background(), "GONE", day("2024-01-01"), day("2024-01-03"))
	require.True(t, IsNotFound(err), "got %v", err)
	assert.Contains(t, err.Error(), "delisted")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestEODHDHistory(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/AAPL.US", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("api_token"))
		assert.Equal(t, "2024-01-02", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-01-05", r.URL.Query().Get("to"))
		_, _ = w.Write([]byte(`[{"date":"2024-01-02","close":185.6,"adjusted_close":184.9},{"date":"2024-01-03","close":184.2}]`))
	}))
	qs, err := NewEODHDClient(srv.URL, "k", "", fastRetry()).History(context.Background(), "AAPL", day("2024-01-02"), day("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, []Quote{{Date: day("2024-01-02"), Close: 184.9}, {Date: day("2024-01-03"), Close: 184.2}}, qs)

	_, err = NewEODHDClient(srv.URL, "", "", fastRetry()).History(context.Background(), "AAPL", day("2024-01-02"), day("2024-01-05"))
	assert.Error(t, err)
}

func TestEODHDTransportErrorHidesAPIKey(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewEODHDClient("http://"+addr, "SECRET-KEY-123", "", fastRetry()).History(context.Background(), "AAPL", day("2024-01-02"), day("2024-01-05"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
	assert.Contains(t, err.Error(), "api_token=REDACTED")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://eodhd.com/api/eod/AAPL.US?api_token=REDACTED&fmt=json",
		redactURL("https://eodhd.com/api/eod/AAPL.US?fmt=json&api_token=abc"))
	assert.Equal(t, "https://query1.finance.yahoo.com/v8/finance/chart/AAPL?interval=1d",
		redactURL("https://query1.finance.yahoo.com/v8/finance/chart/AAPL?interval=1d"))
}

func TestEODHDSymbolSuffix(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`[{"date":"2024-01-02","close":1}]`))
	}))
	f := &Fetcher{
		Provider: NewEODHDClient(srv.URL, "k", "", fastRetry()),
		Workers:  1,
		Aliases:  map[string]string{"BRK.B": "BRK-B"},
	}
	res := f.FetchAll(context.Background(), []string{"AAPL", "BRK.B", "005930.KO"}, day("2024-01-02"), day("2024-01-02"))
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"/eod/AAPL.US", "/eod/BRK-B.US", "/eod/005930.KO"}, paths)
}

func TestCSVProvider(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(p, []byte("DATE,TICKER,CLOSE\n2024-01-03,AAPL,155\n2024-01-02,AAPL,150\n2024-01-02,TSLA,\n2023-12-01,AAPL,100\n"), 0o644))
	cp := NewCSVProvider(p)

	qs, err := cp.History(context.Background(), "AAPL", day("2024-01-01"), day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, []Quote{{Date: day("2024-01-02"), Close: 150}, {Date: day("2024-01-03"), Close: 155}}, qs)

	_, err = cp.History(context.Background(), "MSFT", day("2024-01-01"), day("2024-01-03"))
	assert.True(t, IsNotFound(err))
	_, err = cp.History(context.Background(), "TSLA", day("2024-01-01"), day("2024-01-03"))
	assert.True(t, IsNotFound(err))
}

type stubProvider struct {
	inflight, peak int32
	fail           map[string]error
}

func (s *stubProvider) History(_ context.Context, symbol string, from, _ time.Time) ([]Quote, error) {
	n := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.fail[symbol]; err != nil {
		return nil, err
	}
	return []Quote{{Date: from, Close: float64(len(symbol))}}, nil
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	sp := &stubProvider{fail: map[string]error{
		"BAD":  &SymbolNotFoundError{Symbol: "BAD"},
		"SLOW": context.DeadlineExceeded,
	}}
	f := &Fetcher{Provider: sp, Workers: 2, Aliases: map[string]string{"samsung": "005930.KS"}}
	tickers := []string{"AAPL", "BAD", "samsung", "SLOW", "TSLA"}
	res := f.FetchAll(context.Background(), tickers, day("2024-01-01"), day("2024-01-05"))

	assert.Len(t, res.Quotes, 3)
	assert.Len(t, res.Failed, 2)
	assert.True(t, IsNotFound(res.Failed["BAD"]))
	assert.ErrorIs(t, res.Failed["SLOW"], context.DeadlineExceeded)
	// Aliased symbol was requested, result is keyed by ledger ticker.
	assert.Equal(t, float64(len("005930.KS")), res.Quotes["samsung"][0].Close)
	assert.LessOrEqual(t, atomic.LoadInt32(&sp.peak), int32(2))
}

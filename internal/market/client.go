// Package market retrieves historical daily closing prices per ticker from an
// HTTP price provider or an offline file.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/KaramelBytes/moodfolio/internal/logger"
)

// Quote is one trading day's close.
type Quote struct {
	Date  time.Time
	Close float64
}

// Provider returns daily closes for symbol over the inclusive day range
// [from, to], ascending by date.
type Provider interface {
	History(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error)
}

// HTTPOptions configures the shared HTTP core of the network providers.
type HTTPOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryBase    time.Duration
	RetryMaxWait time.Duration
	// RateLimit is the request rate per second shared by all callers; <= 0
	// disables limiting.
	RateLimit float64
	UserAgent string
	Logger    logrus.FieldLogger
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = 8 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; moodfolio/1.0)"
	}
	return o
}

// httpCore performs rate-limited GETs with retry on 429, 5xx and timeouts.
type httpCore struct {
	client  *http.Client
	limiter *rate.Limiter
	opt     HTTPOptions
	log     *logrus.Entry
}

func newHTTPCore(opt HTTPOptions) *httpCore {
	opt = opt.withDefaults()
	lim := rate.NewLimiter(rate.Inf, 1)
	if opt.RateLimit > 0 {
		burst := int(opt.RateLimit)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opt.RateLimit), burst)
	}
	return &httpCore{
		client:  &http.Client{Timeout: opt.Timeout},
		limiter: lim,
		opt:     opt,
		log:     logger.WithComponent(opt.Logger, "market"),
	}
}

// getJSON fetches endpoint and decodes a 2xx body into out. The symbol is used
// for error classification only.
func (c *httpCore) getJSON(ctx context.Context, endpoint, symbol string, out any) error {
	backoff := c.opt.RetryBase
	var lastErr error
	for attempt := 1; attempt <= c.opt.RetryMax; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.once(ctx, endpoint, symbol, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.opt.RetryMax {
			break
		}
		wait := withJitter(backoff)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		if wait > c.opt.RetryMaxWait {
			wait = c.opt.RetryMaxWait
		}
		c.log.WithFields(logrus.Fields{
			"symbol":  symbol,
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(err).Debug("retrying price request")
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		backoff *= 2
	}
	return lastErr
}

func (c *httpCore) once(ctx context.Context, endpoint, symbol string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.opt.UserAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if ue, ok := err.(*url.Error); ok {
			ue.URL = redactURL(ue.URL)
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return classify(&APIError{StatusCode: resp.StatusCode, Symbol: symbol, Message: errorMessage(body)}, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// secretParams are query parameters that carry credentials.
var secretParams = []string{"api_token", "apikey", "api_key", "token"}

// redactURL masks credential query parameters so errors and logs can carry
// the request URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, k := range secretParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// errorMessage pulls a human message out of a provider error body.
func errorMessage(body []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		if len(body) > 200 {
			body = body[:200]
		}
		return string(body)
	}
	for _, k := range []string{"message", "error", "description"} {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	if ch, ok := raw["chart"].(map[string]any); ok {
		if e, ok := ch["error"].(map[string]any); ok {
			if s, ok := e["description"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

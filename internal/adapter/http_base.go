// Package adapter implements one ExchangeAdapter per supported vendor
// (Binance, Bybit, Bitget, HTX, Gate.io) plus a config-time registry. Each
// adapter is a thin REST client: it loads market metadata once, fetches
// tickers/funding rates, and answers a cheap probe for the health loop.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// httpBase is embedded by every vendor adapter. It owns the *http.Client,
// a per-exchange token-bucket limiter, and the common request/decode
// plumbing; vendors supply URL builders and response shapes.
type httpBase struct {
	exchange   domain.ExchangeId
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

func newHTTPBase(exchange domain.ExchangeId, baseURL string, timeout time.Duration, log zerolog.Logger) httpBase {
	return httpBase{
		exchange: exchange,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log.With().Str("component", "adapter").Str("exchange", string(exchange)).Logger(),
	}
}

// setRateLimit configures the requests-per-second ceiling; a
// non-positive value leaves the limiter unbounded.
func (b *httpBase) setRateLimit(perSecond float64) {
	if perSecond <= 0 {
		b.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// getJSON issues a GET request and decodes the JSON body into out.
// Non-2xx statuses and transport failures are classified into the
// AdapterErrorKind taxonomy so the resilience wrapper can decide whether to
// retry without inspecting vendor-specific error bodies. The call blocks
// on the adapter's rate limiter before dialing out, so a tight retry loop
// never exceeds the vendor's documented request budget.
func (b *httpBase) getJSON(ctx context.Context, op, url string, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.NewAdapterError(b.exchange, domain.ErrKindTimeout, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewAdapterError(b.exchange, domain.ErrKindOther, op, err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewAdapterError(b.exchange, domain.ErrKindTimeout, op, ctx.Err())
		}
		return domain.NewAdapterError(b.exchange, domain.ErrKindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewAdapterError(b.exchange, domain.ErrKindNetwork, op, err)
	}

	if kind, ok := classifyStatus(resp.StatusCode); !ok {
		return domain.NewAdapterError(b.exchange, kind, op,
			fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewAdapterError(b.exchange, domain.ErrKindVendorTemporary, op,
			fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyStatus maps an HTTP status code onto the adapter error taxonomy.
// The bool return is true for 2xx (no error).
func classifyStatus(status int) (domain.AdapterErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, true
	case status == http.StatusTooManyRequests:
		return domain.ErrKindRateLimit, false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrKindAuth, false
	case status == http.StatusNotFound:
		return domain.ErrKindSymbolUnknown, false
	case status >= 500:
		return domain.ErrKindVendorTemporary, false
	default:
		return domain.ErrKindVendorPermanent, false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

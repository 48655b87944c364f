package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

// Wrapper composes a CircuitBreaker, a RetryManager and a HealthProbe
// around a single domain.ExchangeAdapter. Composition order per spec.md
// §4.2: RetryManager.Run(CircuitBreaker.Allow-gated adapter call) -- a
// single transient failure costs retries, not a circuit trip; only
// repeated failures open the circuit. Calls within one (kind, exchange)
// are serialized by tickerLock and fundingLock so no two overlap, per
// spec.md §5.
type Wrapper struct {
	Exchange domain.ExchangeId

	adapter domain.ExchangeAdapter
	cb      *CircuitBreaker
	retry   *RetryManager
	health  *HealthProbe
	timeout time.Duration
	log     zerolog.Logger

	tickerLock sync.Mutex
	fundingLock sync.Mutex
}

// NewWrapper constructs a Wrapper around adapter using cfg's circuit-breaker,
// retry and health-check sub-configs. The health probe is not started
// until Start is called.
func NewWrapper(cfg domain.ExchangeConfig, a domain.ExchangeAdapter, log zerolog.Logger) *Wrapper {
	wlog := log.With().Str("component", "resilience_wrapper").Str("exchange", string(cfg.Name)).Logger()
	w := &Wrapper{
		Exchange: cfg.Name,
		adapter:  a,
		cb:       New(cfg.CB),
		retry:    NewRetryManager(cfg.Retry),
		timeout:  timeoutDuration(cfg.TimeoutS),
		log:      wlog,
	}
	w.health = NewHealthProbe(cfg.HealthCheck, func(ctx context.Context) error {
		return a.Probe(ctx)
	}, wlog)
	return w
}

func timeoutDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

// Start launches the background health probe loop.
func (w *Wrapper) Start() { w.health.Start() }

// Stop halts the background health probe loop.
func (w *Wrapper) Stop() { w.health.Stop() }

// Health returns a snapshot of the independent health-probe state.
func (w *Wrapper) Health() HealthSnapshot { return w.health.Snapshot() }

// CircuitStats returns a snapshot of the circuit breaker state.
func (w *Wrapper) CircuitStats() CircuitBreakerStats { return w.cb.Stats() }

// SupportsFunding proxies the wrapped adapter's capability flag.
func (w *Wrapper) SupportsFunding() bool { return w.adapter.SupportsFunding() }

// Initialize loads market metadata through the resilience pipeline.
func (w *Wrapper) Initialize(ctx context.Context) error {
	return w.call(ctx, "initialize", func(ctx context.Context) error {
		return w.adapter.Initialize(ctx)
	})
}

// ListFuturesSymbols is called directly without circuit/retry wrapping:
// it is a cheap read against already-loaded adapter state, not a network
// call in steady state.
func (w *Wrapper) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	return w.adapter.ListFuturesSymbols(ctx)
}

// FetchTickers executes through circuit breaker + retry, serialized with
// any other FetchTickers call for this exchange.
func (w *Wrapper) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	w.tickerLock.Lock()
	defer w.tickerLock.Unlock()

	var result map[domain.Symbol]domain.Ticker
	err := w.call(ctx, "fetch_tickers", func(ctx context.Context) error {
		r, err := w.adapter.FetchTickers(ctx, symbols)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// FetchFundingRates executes through circuit breaker + retry, serialized
// with any other FetchFundingRates call for this exchange.
func (w *Wrapper) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	w.fundingLock.Lock()
	defer w.fundingLock.Unlock()

	var result map[domain.Symbol]domain.FundingRate
	err := w.call(ctx, "fetch_funding_rates", func(ctx context.Context) error {
		r, err := w.adapter.FetchFundingRates(ctx, symbols)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// Close stops the health loop and releases the adapter's resources.
func (w *Wrapper) Close() error {
	w.Stop()
	return w.adapter.Close()
}

// call implements the RetryManager(CircuitBreaker(op)) composition. Every
// attempt gets its own timeout-bounded context; a cancellation is returned
// unwrapped and never recorded against the breaker.
func (w *Wrapper) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return w.retry.Run(ctx, func(ctx context.Context) error {
		if !w.cb.Allow() {
			return domain.ErrCircuitOpen
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if attemptCtx.Err() == context.Canceled && ctx.Err() == context.Canceled {
			// Caller-initiated cancellation: not a failure, don't touch
			// the breaker.
			return err
		}
		if err != nil {
			w.cb.RecordFailure(err)
			w.log.Debug().Err(err).Str("op", op).Msg("adapter call failed")
			return err
		}
		w.cb.RecordSuccess()
		return nil
	})
}

// Package collector implements the per-round fan-out across exchange
// wrappers described in spec.md §4.3: read the shared symbol set once,
// consult the TTL cache, fetch concurrently bounded only by each wrapper's
// own rate limit, and assemble a typed Snapshot that never shrinks its
// top-level exchange keys even when an exchange fails.
package collector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/cache"
	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/resilience"
	"github.com/rs/zerolog"
)

// Exchange is the subset of *resilience.Wrapper the Collector depends on,
// narrowed to an interface so tests can fake wrapper behavior without a
// live adapter underneath.
type Exchange interface {
	FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error)
	FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error)
	SupportsFunding() bool
	Health() resilience.HealthSnapshot
	CircuitStats() resilience.CircuitBreakerStats
}

// Config tunes the per-kind cache TTLs.
type Config struct {
	TickerCacheTTL  time.Duration
	FundingCacheTTL time.Duration
}

// Collector runs one collection round for a given Kind across every
// registered exchange.
type Collector struct {
	cfg       Config
	state     *controlplane.SharedState
	cache     *cache.Cache
	exchanges map[domain.ExchangeId]Exchange
	log       zerolog.Logger

	mu             sync.Mutex
	rateLimitedUntil map[domain.ExchangeId]time.Time
}

// New constructs a Collector over the given exchange wrappers, keyed by
// exchange id.
func New(cfg Config, state *controlplane.SharedState, c *cache.Cache, exchanges map[domain.ExchangeId]Exchange, log zerolog.Logger) *Collector {
	return &Collector{
		cfg:              cfg,
		state:            state,
		cache:            c,
		exchanges:        exchanges,
		log:              log.With().Str("component", "collector").Logger(),
		rateLimitedUntil: make(map[domain.ExchangeId]time.Time),
	}
}

// MarkRateLimited records that exchange reported a rate-limit error. A
// round that starts after the mark skips the exchange; every round clears
// all marks when it ends, so a transient vendor rate-limit never
// permanently excludes an exchange. A mark made by a round's own fetch
// does not affect that round, whose fetches are already dispatched.
func (c *Collector) MarkRateLimited(exchange domain.ExchangeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitedUntil[exchange] = time.Now()
}

func (c *Collector) clearRateLimitMarks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitedUntil = make(map[domain.ExchangeId]time.Time)
}

func (c *Collector) isRateLimitedThisRound(exchange domain.ExchangeId, roundStart time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	markedAt, ok := c.rateLimitedUntil[exchange]
	return ok && !markedAt.After(roundStart)
}

// exchangeResult is the per-exchange outcome of one round, used to
// assemble the Snapshot and its CollectionStats under a single lock-free
// merge pass after all fetches complete.
type exchangeResult struct {
	exchange domain.ExchangeId
	tickers  map[domain.Symbol]domain.Ticker
	funding  map[domain.Symbol]domain.FundingRate
	err      error
	cached   bool
}

// Collect runs one round for kind: snapshot the shared symbol set, skip
// Unhealthy/circuit-Open/this-round-rate-limited exchanges, consult the
// cache, fan out the rest concurrently, and assemble a Snapshot whose
// round deadline is cadence*2 per spec.md §4.3 step 4.
func (c *Collector) Collect(ctx context.Context, kind domain.Kind, cadence time.Duration) domain.Snapshot {
	roundStart := time.Now()
	symbols := c.state.Symbols()
	fingerprint := symbolsFingerprint(symbols)

	roundCtx, cancel := context.WithTimeout(ctx, 2*cadence)
	defer cancel()

	eligible := make([]domain.ExchangeId, 0, len(c.exchanges))
	for id := range c.exchanges {
		eligible = append(eligible, id)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })

	results := make(chan exchangeResult, len(eligible))
	var wg sync.WaitGroup

	for _, id := range eligible {
		ex := c.exchanges[id]

		if health := ex.Health(); health.Status == resilience.HealthUnhealthy {
			results <- exchangeResult{exchange: id, err: errExcluded("unhealthy")}
			continue
		}
		if cb := ex.CircuitStats(); cb.State == resilience.StateOpen {
			results <- exchangeResult{exchange: id, err: errExcluded("circuit_open")}
			continue
		}
		if c.isRateLimitedThisRound(id, roundStart) {
			results <- exchangeResult{exchange: id, err: errExcluded("rate_limited")}
			continue
		}

		cacheKey := cacheKeyFor(kind, id, fingerprint)
		if cached, ok := c.cache.Get(cacheKey); ok {
			results <- cachedResult(id, kind, cached)
			continue
		}

		wg.Add(1)
		go func(id domain.ExchangeId, ex Exchange) {
			defer wg.Done()
			results <- c.fetchOne(roundCtx, id, ex, kind, symbols, cacheKey)
		}(id, ex)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	snapshot := assembleSnapshot(kind, eligible, results)
	snapshot.Stats.CollectionMs = time.Since(roundStart).Milliseconds()

	c.clearRateLimitMarks()
	return snapshot
}

func (c *Collector) fetchOne(ctx context.Context, id domain.ExchangeId, ex Exchange, kind domain.Kind, symbols []domain.Symbol, cacheKey string) exchangeResult {
	switch kind {
	case domain.KindTickers:
		tickers, err := ex.FetchTickers(ctx, symbols)
		if err != nil {
			if isRateLimitErr(err) {
				c.MarkRateLimited(id)
			}
			return exchangeResult{exchange: id, err: err}
		}
		c.cache.Set(cacheKey, tickers, c.cfg.TickerCacheTTL)
		return exchangeResult{exchange: id, tickers: tickers}
	case domain.KindFunding:
		if !ex.SupportsFunding() {
			return exchangeResult{exchange: id, funding: map[domain.Symbol]domain.FundingRate{}}
		}
		funding, err := ex.FetchFundingRates(ctx, symbols)
		if err != nil {
			if isRateLimitErr(err) {
				c.MarkRateLimited(id)
			}
			return exchangeResult{exchange: id, err: err}
		}
		c.cache.Set(cacheKey, funding, c.cfg.FundingCacheTTL)
		return exchangeResult{exchange: id, funding: funding}
	}
	return exchangeResult{exchange: id, err: errExcluded("unknown_kind")}
}

func cachedResult(id domain.ExchangeId, kind domain.Kind, cached interface{}) exchangeResult {
	switch kind {
	case domain.KindTickers:
		if tickers, ok := cached.(map[domain.Symbol]domain.Ticker); ok {
			return exchangeResult{exchange: id, tickers: tickers, cached: true}
		}
	case domain.KindFunding:
		if funding, ok := cached.(map[domain.Symbol]domain.FundingRate); ok {
			return exchangeResult{exchange: id, funding: funding, cached: true}
		}
	}
	return exchangeResult{exchange: id, err: errExcluded("cache_type_mismatch")}
}

// assembleSnapshot drains results and merges them into a Snapshot. Per
// spec.md's design rule, every eligible exchange appears in the map --
// with an empty sub-map on failure -- so the schema never shrinks.
func assembleSnapshot(kind domain.Kind, eligible []domain.ExchangeId, results <-chan exchangeResult) domain.Snapshot {
	snapshot := domain.Snapshot{
		Kind:        kind,
		TimestampMs: time.Now().UnixMilli(),
	}
	switch kind {
	case domain.KindTickers:
		snapshot.Tickers = make(map[domain.ExchangeId]map[domain.Symbol]domain.Ticker, len(eligible))
	case domain.KindFunding:
		snapshot.Funding = make(map[domain.ExchangeId]map[domain.Symbol]domain.FundingRate, len(eligible))
	}

	stats := domain.CollectionStats{Queried: len(eligible)}

	for res := range results {
		switch kind {
		case domain.KindTickers:
			if res.tickers == nil {
				res.tickers = map[domain.Symbol]domain.Ticker{}
			}
			snapshot.Tickers[res.exchange] = res.tickers
		case domain.KindFunding:
			if res.funding == nil {
				res.funding = map[domain.Symbol]domain.FundingRate{}
			}
			snapshot.Funding[res.exchange] = res.funding
		}

		switch {
		case res.err != nil:
			stats.Failed++
		case res.cached:
			stats.Succeeded++
			stats.Cached++
		default:
			stats.Succeeded++
		}
	}

	snapshot.Stats = stats
	return snapshot
}

func cacheKeyFor(kind domain.Kind, exchange domain.ExchangeId, symbolsFp string) string {
	return string(kind) + "|" + string(exchange) + "|" + symbolsFp
}

// symbolsFingerprint derives a cheap cache-key component from the sorted
// symbol set -- distinct from publisher.Fingerprint, which digests the
// collected *data*, not the requested symbol set.
func symbolsFingerprint(symbols []domain.Symbol) string {
	strs := make([]string, len(symbols))
	for i, s := range symbols {
		strs[i] = string(s)
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}

type excludedError struct{ reason string }

func (e *excludedError) Error() string { return "excluded: " + e.reason }

func errExcluded(reason string) error { return &excludedError{reason: reason} }

func isRateLimitErr(err error) bool {
	var ae *domain.AdapterError
	for e := err; e != nil; {
		if a, ok := e.(*domain.AdapterError); ok {
			ae = a
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return ae != nil && ae.Kind == domain.ErrKindRateLimit
}

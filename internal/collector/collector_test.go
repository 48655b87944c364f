package collector

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/cryptofeed/collector/internal/cache"
	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu sync.Mutex

	tickers     map[domain.Symbol]domain.Ticker
	fundingRate map[domain.Symbol]domain.FundingRate
	fetchErr    error
	supports    bool
	health      resilience.HealthSnapshot
	circuit     resilience.CircuitBreakerStats
	fetchCalls  int
	onFetch     func(symbols []domain.Symbol)
}

func (f *fakeExchange) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(symbols)
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.tickers, nil
}

func (f *fakeExchange) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fundingRate, nil
}

func (f *fakeExchange) SupportsFunding() bool                        { return f.supports }
func (f *fakeExchange) Health() resilience.HealthSnapshot            { return f.health }
func (f *fakeExchange) CircuitStats() resilience.CircuitBreakerStats { return f.circuit }

func (f *fakeExchange) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func healthyExchange(tickers map[domain.Symbol]domain.Ticker) *fakeExchange {
	return &fakeExchange{
		tickers:  tickers,
		supports: true,
		health:   resilience.HealthSnapshot{Status: resilience.HealthHealthy},
		circuit:  resilience.CircuitBreakerStats{State: resilience.StateClosed},
	}
}

func newTestCollector(exchanges map[domain.ExchangeId]Exchange) *Collector {
	state := controlplane.NewSharedState()
	state.Set([]domain.Symbol{"BTC/USDT:USDT"})
	return New(Config{TickerCacheTTL: time.Minute, FundingCacheTTL: time.Minute}, state, cache.New(), exchanges, zerolog.Nop())
}

func TestCollector_SnapshotNeverShrinksSchemaOnFailure(t *testing.T) {
	failing := &fakeExchange{
		fetchErr: domain.NewAdapterError("bybit", domain.ErrKindNetwork, "fetch_tickers", assertError("boom")),
		health:   resilience.HealthSnapshot{Status: resilience.HealthHealthy},
		circuit:  resilience.CircuitBreakerStats{State: resilience.StateClosed},
	}
	ok := healthyExchange(map[domain.Symbol]domain.Ticker{
		"BTC/USDT:USDT": {Exchange: "binance", Symbol: "BTC/USDT:USDT"},
	})

	c := newTestCollector(map[domain.ExchangeId]Exchange{
		"binance": ok,
		"bybit":   failing,
	})

	snap := c.Collect(context.Background(), domain.KindTickers, time.Second)

	require.Contains(t, snap.Tickers, domain.ExchangeId("bybit"), "failed exchange must still have a (empty) entry")
	require.Contains(t, snap.Tickers, domain.ExchangeId("binance"))
	assert.Empty(t, snap.Tickers["bybit"])
	assert.Equal(t, 1, snap.Stats.Failed)
	assert.Equal(t, 1, snap.Stats.Succeeded)
	assert.Equal(t, 2, snap.Stats.Queried)
}

func TestCollector_SkipsUnhealthyExchange(t *testing.T) {
	unhealthy := &fakeExchange{
		health:  resilience.HealthSnapshot{Status: resilience.HealthUnhealthy},
		circuit: resilience.CircuitBreakerStats{State: resilience.StateClosed},
	}
	c := newTestCollector(map[domain.ExchangeId]Exchange{"binance": unhealthy})

	snap := c.Collect(context.Background(), domain.KindTickers, time.Second)

	assert.Equal(t, 0, unhealthy.calls(), "an unhealthy exchange must never be fetched")
	assert.Equal(t, 1, snap.Stats.Failed)
	assert.Contains(t, snap.Tickers, domain.ExchangeId("binance"))
}

func TestCollector_SkipsOpenCircuitExchange(t *testing.T) {
	open := &fakeExchange{
		health:  resilience.HealthSnapshot{Status: resilience.HealthHealthy},
		circuit: resilience.CircuitBreakerStats{State: resilience.StateOpen},
	}
	c := newTestCollector(map[domain.ExchangeId]Exchange{"binance": open})

	c.Collect(context.Background(), domain.KindTickers, time.Second)

	assert.Equal(t, 0, open.calls(), "an open-circuit exchange must never be fetched")
}

func TestCollector_RateLimitExclusionClearsEachRound(t *testing.T) {
	ex := healthyExchange(map[domain.Symbol]domain.Ticker{
		"BTC/USDT:USDT": {Exchange: "binance", Symbol: "BTC/USDT:USDT"},
	})
	c := newTestCollector(map[domain.ExchangeId]Exchange{"binance": ex})
	c.MarkRateLimited("binance")

	firstRound := c.Collect(context.Background(), domain.KindTickers, time.Second)
	assert.Equal(t, 0, ex.calls(), "an exchange marked rate-limited before the round must be excluded for that round")
	assert.Equal(t, 1, firstRound.Stats.Failed)

	secondRound := c.Collect(context.Background(), domain.KindTickers, time.Second)
	assert.Equal(t, 1, ex.calls(), "the rate-limit mark must not persist into the next round")
	assert.Equal(t, 1, secondRound.Stats.Succeeded)
}

func TestCollector_FundingSkippedWhenUnsupported(t *testing.T) {
	ex := &fakeExchange{
		supports: false,
		health:   resilience.HealthSnapshot{Status: resilience.HealthHealthy},
		circuit:  resilience.CircuitBreakerStats{State: resilience.StateClosed},
	}
	c := newTestCollector(map[domain.ExchangeId]Exchange{"binance": ex})

	snap := c.Collect(context.Background(), domain.KindFunding, time.Second)

	assert.Equal(t, 0, ex.calls())
	assert.Contains(t, snap.Funding, domain.ExchangeId("binance"))
	assert.Empty(t, snap.Funding["binance"])
	assert.Equal(t, 1, snap.Stats.Succeeded, "unsupported funding is a trivial success, not a failure")
}

func TestCollector_CacheHitAvoidsRefetchWithinTTL(t *testing.T) {
	ex := healthyExchange(map[domain.Symbol]domain.Ticker{
		"BTC/USDT:USDT": {Exchange: "binance", Symbol: "BTC/USDT:USDT"},
	})
	c := newTestCollector(map[domain.ExchangeId]Exchange{"binance": ex})

	first := c.Collect(context.Background(), domain.KindTickers, time.Second)
	second := c.Collect(context.Background(), domain.KindTickers, time.Second)

	assert.Equal(t, 1, ex.calls(), "second round within TTL must be served from cache")
	assert.Equal(t, 0, first.Stats.Cached)
	assert.Equal(t, 1, second.Stats.Cached)
	assert.Equal(t, 1, second.Stats.Succeeded)
}

func TestCollector_RoundUsesSymbolsCapturedAtStart(t *testing.T) {
	started := make(chan struct{})
	resume := make(chan struct{})
	var capturedSymbols []domain.Symbol

	ex := &fakeExchange{
		supports: true,
		health:   resilience.HealthSnapshot{Status: resilience.HealthHealthy},
		circuit:  resilience.CircuitBreakerStats{State: resilience.StateClosed},
	}

	state := controlplane.NewSharedState()
	state.Set([]domain.Symbol{"BTC/USDT:USDT"})
	c := New(Config{TickerCacheTTL: time.Minute, FundingCacheTTL: time.Minute}, state, cache.New(), map[domain.ExchangeId]Exchange{"binance": ex}, zerolog.Nop())

	ex.onFetch = func(symbols []domain.Symbol) {
		capturedSymbols = symbols
		close(started)
		<-resume
	}

	done := make(chan domain.Snapshot, 1)
	go func() { done <- c.Collect(context.Background(), domain.KindTickers, time.Second) }()

	<-started
	state.Set([]domain.Symbol{"ETH/USDT:USDT", "SOL/USDT:USDT"})
	close(resume)
	<-done

	assert.Equal(t, []domain.Symbol{"BTC/USDT:USDT"}, capturedSymbols, "mid-round set_symbols must not affect the symbols used by the in-flight round")
}

type assertError string

func (e assertError) Error() string { return string(e) }

// Package domain holds the data model shared by every collector component:
// adapters, resilience wrappers, the collector, the publisher and the
// control plane. Nothing in this package talks to the network or to a
// broker; it only describes shapes and invariants.
package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ExchangeId is a short lowercase vendor identifier, e.g. "binance".
type ExchangeId string

// Symbol is the canonical market identifier BASE/QUOTE[:SETTLE],
// e.g. "BTC/USDT:USDT".
type Symbol string

// Kind distinguishes the two collection pipelines.
type Kind string

const (
	KindTickers Kind = "tickers"
	KindFunding Kind = "funding"
)

// Ticker is a top-of-book snapshot for one (exchange, symbol) pair.
// Bid and Ask are pointers because a vendor may report neither side; the
// adapters leave a missing side nil rather than dropping the record, and
// none of them fills it from the order book.
type Ticker struct {
	Exchange      ExchangeId
	Symbol        Symbol
	TimestampMs   int64
	Bid           *decimal.Decimal
	Ask           *decimal.Decimal
	Last          decimal.Decimal
	Volume24h     *decimal.Decimal
}

// FundingRate is a perpetual-futures funding snapshot for one
// (exchange, symbol) pair.
type FundingRate struct {
	Exchange          ExchangeId
	Symbol            Symbol
	TimestampMs       int64
	FundingRate       decimal.Decimal
	NextFundingTimeMs *int64
	MarkPrice         *decimal.Decimal
}

// CollectionStats summarizes one collection round for one kind.
type CollectionStats struct {
	Queried       int
	Succeeded     int
	Failed        int
	Cached        int
	CollectionMs  int64
}

// Snapshot is the immutable output of one collection round. Once
// constructed it is handed to the Publisher exactly once and never
// mutated; callers must treat Tickers and Funding as read-only.
type Snapshot struct {
	Kind        Kind
	TimestampMs int64
	// Tickers and Funding are keyed first by exchange, then by symbol; only
	// the one matching Kind is populated. A failing exchange
	// still appears with an empty inner map -- the schema never shrinks.
	Tickers map[ExchangeId]map[Symbol]Ticker
	Funding map[ExchangeId]map[Symbol]FundingRate
	Stats   CollectionStats
}

// SortedExchangeIds returns the exchanges present in the snapshot's data,
// sorted lexicographically. Fingerprinting uses it for a deterministic
// iteration order.
func (s Snapshot) SortedExchangeIds() []ExchangeId {
	var seen map[ExchangeId]struct{}
	switch s.Kind {
	case KindTickers:
		seen = make(map[ExchangeId]struct{}, len(s.Tickers))
		for ex := range s.Tickers {
			seen[ex] = struct{}{}
		}
	case KindFunding:
		seen = make(map[ExchangeId]struct{}, len(s.Funding))
		for ex := range s.Funding {
			seen[ex] = struct{}{}
		}
	}
	ids := make([]ExchangeId, 0, len(seen))
	for ex := range seen {
		ids = append(ids, ex)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CircuitBreakerConfig tunes a single ResilienceWrapper's circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	RecoveryTimeoutS    int
	SuccessThreshold    int
	MaxFailureThreshold int
	BackoffMultiplier   float64
	MaxRecoveryTimeoutS int
}

// RetryStrategy names a backoff shape for the RetryManager.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
	RetryFibonacci   RetryStrategy = "fibonacci"
	RetryAdaptive    RetryStrategy = "adaptive"
)

// RetryConfig tunes a single ResilienceWrapper's retry manager.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelayS        float64
	MaxDelayS         float64
	Strategy          RetryStrategy
	BackoffMultiplier float64
	Jitter            bool
}

// HealthCheckConfig tunes a single ResilienceWrapper's health probe loop.
type HealthCheckConfig struct {
	CheckIntervalS    float64
	MinCheckIntervalS float64
	MaxCheckIntervalS float64
	TimeoutS          float64
	FailureThreshold  int
	RecoveryThreshold int
	AdaptiveScaling   bool
}

// ExchangeConfig is owned by the Orchestrator for the process lifetime and
// frozen once Load() returns.
type ExchangeConfig struct {
	Name        ExchangeId
	APIKey      string
	Secret      string
	Enabled     bool
	TimeoutS    float64
	RateLimit   float64
	Sandbox     bool
	CB          CircuitBreakerConfig
	Retry       RetryConfig
	HealthCheck HealthCheckConfig
}

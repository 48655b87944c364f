package domain

import "context"

// ExchangeAdapter is the contract a per-vendor client exposes to a
// ResilienceWrapper. Implementations must be safe for concurrent use only
// insofar as the wrapper serializes calls per (kind, exchange) -- the
// adapter itself never needs its own call-level lock.
type ExchangeAdapter interface {
	// Exchange returns this adapter's vendor identifier.
	Exchange() ExchangeId

	// Initialize loads market metadata. Must be idempotent: calling it
	// again after a successful call is a cheap no-op (or refresh), never
	// an error.
	Initialize(ctx context.Context) error

	// ListFuturesSymbols returns the active perpetual markets. An empty
	// list is legal and not an error.
	ListFuturesSymbols(ctx context.Context) ([]Symbol, error)

	// FetchTickers returns tickers for the given symbols, or for every
	// known perpetual symbol when symbols is nil. Symbols the vendor does
	// not recognize are silently absent from the result, not an error.
	FetchTickers(ctx context.Context, symbols []Symbol) (map[Symbol]Ticker, error)

	// FetchFundingRates returns funding rates for the given symbols, or
	// for every known perpetual symbol when symbols is nil. If the vendor
	// does not report funding at all, returns an empty map with no error;
	// SupportsFunding will report false.
	FetchFundingRates(ctx context.Context, symbols []Symbol) (map[Symbol]FundingRate, error)

	// SupportsFunding reports whether this vendor publishes funding rates
	// for perpetuals at all.
	SupportsFunding() bool

	// Probe performs a cheap health check (server time, status endpoint,
	// or a single ticker). Must complete within the caller's context
	// deadline.
	Probe(ctx context.Context) error

	// Close releases network resources. Idempotent.
	Close() error
}

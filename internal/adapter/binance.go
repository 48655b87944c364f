package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

const (
	binanceProdBaseURL    = "https://fapi.binance.com"
	binanceSandboxBaseURL = "https://testnet.binancefuture.com"
)

// Binance implements domain.ExchangeAdapter against the USDT-margined
// futures REST API (fapi).
type Binance struct {
	httpBase

	mu      sync.RWMutex
	symbols []domain.Symbol
	// bySymbol maps our canonical Symbol back to Binance's wire symbol
	// ("BTC/USDT:USDT" -> "BTCUSDT").
	bySymbol map[domain.Symbol]string
	sandbox  bool
}

// NewBinance constructs a Binance futures adapter. sandbox selects the
// Binance testnet host instead of production.
func NewBinance(timeout time.Duration, sandbox bool, log zerolog.Logger) *Binance {
	base := binanceProdBaseURL
	if sandbox {
		base = binanceSandboxBaseURL
	}
	return &Binance{
		httpBase: newHTTPBase("binance", base, timeout, log),
		bySymbol: make(map[domain.Symbol]string),
		sandbox:  sandbox,
	}
}

func (b *Binance) Exchange() domain.ExchangeId { return b.exchange }

func (b *Binance) SupportsFunding() bool { return true }

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		ContractType string `json:"contractType"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
	} `json:"symbols"`
}

// Initialize loads the perpetual-contract universe. Per spec, a partial
// parse failure for individual entries is logged and skipped rather than
// failing the whole call; only a total failure to reach the exchange fails
// Initialize.
func (b *Binance) Initialize(ctx context.Context) error {
	var info binanceExchangeInfo
	if err := b.getJSON(ctx, "initialize", b.baseURL+"/fapi/v1/exchangeInfo", &info); err != nil {
		return err
	}

	symbols := make([]domain.Symbol, 0, len(info.Symbols))
	bySymbol := make(map[domain.Symbol]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			b.log.Warn().Str("wire_symbol", s.Symbol).Msg("skipping market with missing base/quote asset")
			continue
		}
		canon := canonicalSymbol(s.BaseAsset, s.QuoteAsset, s.QuoteAsset)
		symbols = append(symbols, canon)
		bySymbol[canon] = s.Symbol
	}

	b.mu.Lock()
	b.symbols = symbols
	b.bySymbol = bySymbol
	b.mu.Unlock()
	return nil
}

func (b *Binance) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Symbol, len(b.symbols))
	copy(out, b.symbols)
	return out, nil
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

func (b *Binance) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	var raw []binanceTicker
	if err := b.getJSON(ctx, "fetch_tickers", b.baseURL+"/fapi/v1/ticker/bookTicker", &raw); err != nil {
		return nil, err
	}

	b.mu.RLock()
	wanted := toWireSet(symbols, b.bySymbol)
	wireToCanon := invert(b.bySymbol)
	b.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.Ticker)
	for _, t := range raw {
		canon, ok := wireToCanon[t.Symbol]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Symbol]; !want {
				continue
			}
		}
		bid := parseOptionalDecimal(t.BidPrice)
		ask := parseOptionalDecimal(t.AskPrice)
		last := parseDecimalOrZero(t.LastPrice)
		vol := parseOptionalDecimal(t.Volume)
		out[canon] = domain.Ticker{
			Exchange:    "binance",
			Symbol:      canon,
			TimestampMs: now,
			Bid:         bid,
			Ask:         ask,
			Last:        last,
			Volume24h:   vol,
		}
	}
	return out, nil
}

type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

func (b *Binance) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	var raw []binancePremiumIndex
	if err := b.getJSON(ctx, "fetch_funding_rates", b.baseURL+"/fapi/v1/premiumIndex", &raw); err != nil {
		return nil, err
	}

	b.mu.RLock()
	wanted := toWireSet(symbols, b.bySymbol)
	wireToCanon := invert(b.bySymbol)
	b.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.FundingRate)
	for _, r := range raw {
		canon, ok := wireToCanon[r.Symbol]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[r.Symbol]; !want {
				continue
			}
		}
		rate := parseDecimalOrZero(r.LastFundingRate)
		mark := parseOptionalDecimal(r.MarkPrice)
		var next *int64
		if r.NextFundingTime > 0 {
			n := r.NextFundingTime
			next = &n
		}
		out[canon] = domain.FundingRate{
			Exchange:          "binance",
			Symbol:            canon,
			TimestampMs:       now,
			FundingRate:       rate,
			NextFundingTimeMs: next,
			MarkPrice:         mark,
		}
	}
	return out, nil
}

// Probe checks the server-time REST endpoint in sandbox mode, and the
// public combined-stream WebSocket in production -- a live handshake and
// ping round trip against the same transport our trading counterparts
// keep open, cheaper than a REST call under load.
func (b *Binance) Probe(ctx context.Context) error {
	if b.sandbox {
		var out struct {
			ServerTime int64 `json:"serverTime"`
		}
		return b.getJSON(ctx, "probe", b.baseURL+"/fapi/v1/time", &out)
	}
	return WSProbe(ctx, BinanceFuturesWSURL)
}

func (b *Binance) Close() error { return nil }

func toWireSet(symbols []domain.Symbol, bySymbol map[domain.Symbol]string) map[string]struct{} {
	if symbols == nil {
		return nil
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if wire, ok := bySymbol[s]; ok {
			set[wire] = struct{}{}
		}
	}
	return set
}

func invert(m map[domain.Symbol]string) map[string]domain.Symbol {
	out := make(map[string]domain.Symbol, len(m))
	for canon, wire := range m {
		out[wire] = canon
	}
	return out
}

func canonicalSymbol(base, quote, settle string) domain.Symbol {
	if settle == "" || settle == quote {
		return domain.Symbol(fmt.Sprintf("%s/%s:%s", base, quote, quote))
	}
	return domain.Symbol(fmt.Sprintf("%s/%s:%s", base, quote, settle))
}

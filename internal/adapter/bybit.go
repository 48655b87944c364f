package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

const (
	bybitProdBaseURL    = "https://api.bybit.com"
	bybitSandboxBaseURL = "https://api-testnet.bybit.com"
)

// Bybit implements domain.ExchangeAdapter against the v5 unified REST API,
// restricted to linear (USDT-margined) perpetuals.
type Bybit struct {
	httpBase

	mu       sync.RWMutex
	symbols  []domain.Symbol
	bySymbol map[domain.Symbol]string
	sandbox  bool
}

func NewBybit(timeout time.Duration, sandbox bool, log zerolog.Logger) *Bybit {
	base := bybitProdBaseURL
	if sandbox {
		base = bybitSandboxBaseURL
	}
	return &Bybit{
		httpBase: newHTTPBase("bybit", base, timeout, log),
		bySymbol: make(map[domain.Symbol]string),
		sandbox:  sandbox,
	}
}

func (b *Bybit) Exchange() domain.ExchangeId { return b.exchange }
func (b *Bybit) SupportsFunding() bool       { return true }

type bybitInstrumentsResp struct {
	Result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			Status      string `json:"status"`
			ContractType string `json:"contractType"`
			BaseCoin    string `json:"baseCoin"`
			QuoteCoin   string `json:"quoteCoin"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) Initialize(ctx context.Context) error {
	var resp bybitInstrumentsResp
	url := b.baseURL + "/v5/market/instruments-info?category=linear"
	if err := b.getJSON(ctx, "initialize", url, &resp); err != nil {
		return err
	}

	symbols := make([]domain.Symbol, 0, len(resp.Result.List))
	bySymbol := make(map[domain.Symbol]string, len(resp.Result.List))
	for _, s := range resp.Result.List {
		if s.Status != "Trading" || s.ContractType != "LinearPerpetual" {
			continue
		}
		if s.BaseCoin == "" || s.QuoteCoin == "" {
			continue
		}
		canon := canonicalSymbol(s.BaseCoin, s.QuoteCoin, s.QuoteCoin)
		symbols = append(symbols, canon)
		bySymbol[canon] = s.Symbol
	}

	b.mu.Lock()
	b.symbols, b.bySymbol = symbols, bySymbol
	b.mu.Unlock()
	return nil
}

func (b *Bybit) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Symbol, len(b.symbols))
	copy(out, b.symbols)
	return out, nil
}

type bybitTickersResp struct {
	Result struct {
		List []struct {
			Symbol          string `json:"symbol"`
			Bid1Price       string `json:"bid1Price"`
			Ask1Price       string `json:"ask1Price"`
			LastPrice       string `json:"lastPrice"`
			Volume24h       string `json:"volume24h"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
			MarkPrice       string `json:"markPrice"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) fetchTickersRaw(ctx context.Context) (bybitTickersResp, error) {
	var resp bybitTickersResp
	err := b.getJSON(ctx, "fetch_tickers", b.baseURL+"/v5/market/tickers?category=linear", &resp)
	return resp, err
}

func (b *Bybit) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	resp, err := b.fetchTickersRaw(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	wanted := toWireSet(symbols, b.bySymbol)
	wireToCanon := invert(b.bySymbol)
	b.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.Ticker)
	for _, t := range resp.Result.List {
		canon, ok := wireToCanon[t.Symbol]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Symbol]; !want {
				continue
			}
		}
		out[canon] = domain.Ticker{
			Exchange:    "bybit",
			Symbol:      canon,
			TimestampMs: now,
			Bid:         parseOptionalDecimal(t.Bid1Price),
			Ask:         parseOptionalDecimal(t.Ask1Price),
			Last:        parseDecimalOrZero(t.LastPrice),
			Volume24h:   parseOptionalDecimal(t.Volume24h),
		}
	}
	return out, nil
}

// FetchFundingRates reuses the same tickers endpoint: Bybit's v5 unified
// tickers response already carries fundingRate/markPrice/nextFundingTime
// for linear perpetuals, so a separate round trip would be redundant.
func (b *Bybit) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	resp, err := b.fetchTickersRaw(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	wanted := toWireSet(symbols, b.bySymbol)
	wireToCanon := invert(b.bySymbol)
	b.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.FundingRate)
	for _, t := range resp.Result.List {
		canon, ok := wireToCanon[t.Symbol]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Symbol]; !want {
				continue
			}
		}
		var next *int64
		if ms := parseUnixMillisOrZero(t.NextFundingTime); ms > 0 {
			next = &ms
		}
		out[canon] = domain.FundingRate{
			Exchange:          "bybit",
			Symbol:            canon,
			TimestampMs:       now,
			FundingRate:       parseDecimalOrZero(t.FundingRate),
			NextFundingTimeMs: next,
			MarkPrice:         parseOptionalDecimal(t.MarkPrice),
		}
	}
	return out, nil
}

// Probe checks the server-time REST endpoint in sandbox mode, and the
// public linear-stream WebSocket in production.
func (b *Bybit) Probe(ctx context.Context) error {
	if b.sandbox {
		var out struct {
			Result struct {
				TimeSecond string `json:"timeSecond"`
			} `json:"result"`
		}
		return b.getJSON(ctx, "probe", b.baseURL+"/v5/market/time", &out)
	}
	return WSProbe(ctx, BybitPublicWSURL)
}

func (b *Bybit) Close() error { return nil }

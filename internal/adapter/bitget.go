package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

const (
	bitgetProdBaseURL = "https://api.bitget.com"
)

// Bitget implements domain.ExchangeAdapter against the USDT-margined
// futures REST API. Bitget has no public sandbox host for futures market
// data, so sandbox is accepted for interface symmetry but ignored.
type Bitget struct {
	httpBase

	mu       sync.RWMutex
	symbols  []domain.Symbol
	bySymbol map[domain.Symbol]string
}

func NewBitget(timeout time.Duration, sandbox bool, log zerolog.Logger) *Bitget {
	return &Bitget{
		httpBase: newHTTPBase("bitget", bitgetProdBaseURL, timeout, log),
		bySymbol: make(map[domain.Symbol]string),
	}
}

func (b *Bitget) Exchange() domain.ExchangeId { return b.exchange }
func (b *Bitget) SupportsFunding() bool       { return true }

type bitgetContractsResp struct {
	Data []struct {
		Symbol     string `json:"symbol"`
		BaseCoin   string `json:"baseCoin"`
		QuoteCoin  string `json:"quoteCoin"`
		SymbolType string `json:"symbolType"`
		SymbolStatus string `json:"symbolStatus"`
	} `json:"data"`
}

func (b *Bitget) Initialize(ctx context.Context) error {
	var resp bitgetContractsResp
	url := b.baseURL + "/api/v2/mix/market/contracts?productType=USDT-FUTURES"
	if err := b.getJSON(ctx, "initialize", url, &resp); err != nil {
		return err
	}

	symbols := make([]domain.Symbol, 0, len(resp.Data))
	bySymbol := make(map[domain.Symbol]string, len(resp.Data))
	for _, c := range resp.Data {
		if c.SymbolStatus != "normal" || c.SymbolType != "perpetual" {
			continue
		}
		if c.BaseCoin == "" || c.QuoteCoin == "" {
			continue
		}
		canon := canonicalSymbol(c.BaseCoin, c.QuoteCoin, c.QuoteCoin)
		symbols = append(symbols, canon)
		bySymbol[canon] = c.Symbol
	}

	b.mu.Lock()
	b.symbols, b.bySymbol = symbols, bySymbol
	b.mu.Unlock()
	return nil
}

func (b *Bitget) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Symbol, len(b.symbols))
	copy(out, b.symbols)
	return out, nil
}

type bitgetTickersResp struct {
	Data []struct {
		Symbol          string `json:"symbol"`
		BidPr           string `json:"bidPr"`
		AskPr           string `json:"askPr"`
		LastPr          string `json:"lastPr"`
		BaseVolume      string `json:"baseVolume"`
		FundingRate     string `json:"fundingRate"`
		IndexPrice      string `json:"indexPrice"`
	} `json:"data"`
}

func (b *Bitget) fetchTickersRaw(ctx context.Context) (bitgetTickersResp, error) {
	var resp bitgetTickersResp
	url := b.baseURL + "/api/v2/mix/market/tickers?productType=USDT-FUTURES"
	err := b.getJSON(ctx, "fetch_tickers", url, &resp)
	return resp, err
}

func (b *Bitget) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
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
	for _, t := range resp.Data {
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
			Exchange:    "bitget",
			Symbol:      canon,
			TimestampMs: now,
			Bid:         parseOptionalDecimal(t.BidPr),
			Ask:         parseOptionalDecimal(t.AskPr),
			Last:        parseDecimalOrZero(t.LastPr),
			Volume24h:   parseOptionalDecimal(t.BaseVolume),
		}
	}
	return out, nil
}

func (b *Bitget) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
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
	for _, t := range resp.Data {
		canon, ok := wireToCanon[t.Symbol]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Symbol]; !want {
				continue
			}
		}
		out[canon] = domain.FundingRate{
			Exchange:    "bitget",
			Symbol:      canon,
			TimestampMs: now,
			FundingRate: parseDecimalOrZero(t.FundingRate),
			MarkPrice:   parseOptionalDecimal(t.IndexPrice),
		}
	}
	return out, nil
}

func (b *Bitget) Probe(ctx context.Context) error {
	var out struct {
		Data string `json:"data"`
	}
	return b.getJSON(ctx, "probe", b.baseURL+"/api/v2/public/time", &out)
}

func (b *Bitget) Close() error { return nil }

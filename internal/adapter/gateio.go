package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

const gateioProdBaseURL = "https://api.gateio.ws"

// GateIO implements domain.ExchangeAdapter against the USDT-settled futures
// REST API.
type GateIO struct {
	httpBase

	mu       sync.RWMutex
	symbols  []domain.Symbol
	bySymbol map[domain.Symbol]string
}

func NewGateIO(timeout time.Duration, sandbox bool, log zerolog.Logger) *GateIO {
	return &GateIO{
		httpBase: newHTTPBase("gateio", gateioProdBaseURL, timeout, log),
		bySymbol: make(map[domain.Symbol]string),
	}
}

func (g *GateIO) Exchange() domain.ExchangeId { return g.exchange }
func (g *GateIO) SupportsFunding() bool       { return true }

type gateioContract struct {
	Name        string `json:"name"`
	InDelisting bool   `json:"in_delisting"`
	Type        string `json:"type"`
}

func (g *GateIO) Initialize(ctx context.Context) error {
	var raw []gateioContract
	url := g.baseURL + "/api/v4/futures/usdt/contracts"
	if err := g.getJSON(ctx, "initialize", url, &raw); err != nil {
		return err
	}

	symbols := make([]domain.Symbol, 0, len(raw))
	bySymbol := make(map[domain.Symbol]string, len(raw))
	for _, c := range raw {
		if c.InDelisting {
			continue
		}
		parts := strings.SplitN(c.Name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		canon := canonicalSymbol(parts[0], parts[1], parts[1])
		symbols = append(symbols, canon)
		bySymbol[canon] = c.Name
	}

	g.mu.Lock()
	g.symbols, g.bySymbol = symbols, bySymbol
	g.mu.Unlock()
	return nil
}

func (g *GateIO) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Symbol, len(g.symbols))
	copy(out, g.symbols)
	return out, nil
}

type gateioTicker struct {
	Contract        string `json:"contract"`
	HighestBid      string `json:"highest_bid"`
	LowestAsk       string `json:"lowest_ask"`
	Last            string `json:"last"`
	Volume24h       string `json:"volume_24h"`
	FundingRate     string `json:"funding_rate"`
	FundingNextApply int64 `json:"funding_next_apply"`
	MarkPrice       string `json:"mark_price"`
}

func (g *GateIO) fetchTickersRaw(ctx context.Context) ([]gateioTicker, error) {
	var raw []gateioTicker
	url := g.baseURL + "/api/v4/futures/usdt/tickers"
	err := g.getJSON(ctx, "fetch_tickers", url, &raw)
	return raw, err
}

func (g *GateIO) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	raw, err := g.fetchTickersRaw(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	wanted := toWireSet(symbols, g.bySymbol)
	wireToCanon := invert(g.bySymbol)
	g.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.Ticker)
	for _, t := range raw {
		canon, ok := wireToCanon[t.Contract]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Contract]; !want {
				continue
			}
		}
		out[canon] = domain.Ticker{
			Exchange:    "gateio",
			Symbol:      canon,
			TimestampMs: now,
			Bid:         parseOptionalDecimal(t.HighestBid),
			Ask:         parseOptionalDecimal(t.LowestAsk),
			Last:        parseDecimalOrZero(t.Last),
			Volume24h:   parseOptionalDecimal(t.Volume24h),
		}
	}
	return out, nil
}

func (g *GateIO) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	raw, err := g.fetchTickersRaw(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	wanted := toWireSet(symbols, g.bySymbol)
	wireToCanon := invert(g.bySymbol)
	g.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.FundingRate)
	for _, t := range raw {
		canon, ok := wireToCanon[t.Contract]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.Contract]; !want {
				continue
			}
		}
		var next *int64
		if t.FundingNextApply > 0 {
			n := t.FundingNextApply * 1000
			next = &n
		}
		out[canon] = domain.FundingRate{
			Exchange:          "gateio",
			Symbol:            canon,
			TimestampMs:       now,
			FundingRate:       parseDecimalOrZero(t.FundingRate),
			NextFundingTimeMs: next,
			MarkPrice:         parseOptionalDecimal(t.MarkPrice),
		}
	}
	return out, nil
}

func (g *GateIO) Probe(ctx context.Context) error {
	var out []gateioContract
	return g.getJSON(ctx, "probe", g.baseURL+"/api/v4/futures/usdt/contracts?limit=1", &out)
}

func (g *GateIO) Close() error { return nil }

package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

const htxProdBaseURL = "https://api.hbdm.com"

// HTX implements domain.ExchangeAdapter against the HTX (formerly Huobi)
// linear-swap REST API.
type HTX struct {
	httpBase

	mu       sync.RWMutex
	symbols  []domain.Symbol
	bySymbol map[domain.Symbol]string
}

func NewHTX(timeout time.Duration, sandbox bool, log zerolog.Logger) *HTX {
	return &HTX{
		httpBase: newHTTPBase("htx", htxProdBaseURL, timeout, log),
		bySymbol: make(map[domain.Symbol]string),
	}
}

func (h *HTX) Exchange() domain.ExchangeId { return h.exchange }
func (h *HTX) SupportsFunding() bool       { return true }

type htxContractInfoResp struct {
	Data []struct {
		ContractCode string `json:"contract_code"`
		ContractStatus int  `json:"contract_status"`
		BusinessType string `json:"business_type"`
		Symbol       string `json:"symbol"`
		TradePartition string `json:"trade_partition"`
	} `json:"data"`
}

func (h *HTX) Initialize(ctx context.Context) error {
	var resp htxContractInfoResp
	url := h.baseURL + "/linear-swap-api/v1/swap_contract_info?business_type=swap"
	if err := h.getJSON(ctx, "initialize", url, &resp); err != nil {
		return err
	}

	symbols := make([]domain.Symbol, 0, len(resp.Data))
	bySymbol := make(map[domain.Symbol]string, len(resp.Data))
	for _, c := range resp.Data {
		if c.ContractStatus != 1 || c.Symbol == "" {
			continue
		}
		quote := c.TradePartition
		if quote == "" {
			quote = "USDT"
		}
		canon := canonicalSymbol(c.Symbol, quote, quote)
		symbols = append(symbols, canon)
		bySymbol[canon] = c.ContractCode
	}

	h.mu.Lock()
	h.symbols, h.bySymbol = symbols, bySymbol
	h.mu.Unlock()
	return nil
}

func (h *HTX) ListFuturesSymbols(ctx context.Context) ([]domain.Symbol, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Symbol, len(h.symbols))
	copy(out, h.symbols)
	return out, nil
}

type htxTickerResp struct {
	Tick []struct {
		ContractCode string    `json:"contract_code"`
		Ask          []float64 `json:"ask"`
		Bid          []float64 `json:"bid"`
		Close        float64   `json:"close"`
		Vol          float64   `json:"vol"`
	} `json:"tick"`
}

func (h *HTX) FetchTickers(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.Ticker, error) {
	var resp htxTickerResp
	url := h.baseURL + "/linear-swap-ex/market/detail/merged?business_type=swap"
	if err := h.getJSON(ctx, "fetch_tickers", url, &resp); err != nil {
		return nil, err
	}

	h.mu.RLock()
	wanted := toWireSet(symbols, h.bySymbol)
	wireToCanon := invert(h.bySymbol)
	h.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.Ticker)
	for _, t := range resp.Tick {
		canon, ok := wireToCanon[t.ContractCode]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[t.ContractCode]; !want {
				continue
			}
		}
		out[canon] = domain.Ticker{
			Exchange:    "htx",
			Symbol:      canon,
			TimestampMs: now,
			Bid:         floatSliceToOptionalDecimal(t.Bid),
			Ask:         floatSliceToOptionalDecimal(t.Ask),
			Last:        floatToDecimal(t.Close),
			Volume24h:   floatToOptionalDecimal(t.Vol),
		}
	}
	return out, nil
}

type htxFundingResp struct {
	Data []struct {
		ContractCode    string `json:"contract_code"`
		FundingRate     string `json:"funding_rate"`
		FundingTime     string `json:"funding_time"`
		NextFundingTime string `json:"next_funding_time"`
	} `json:"data"`
}

func (h *HTX) FetchFundingRates(ctx context.Context, symbols []domain.Symbol) (map[domain.Symbol]domain.FundingRate, error) {
	var resp htxFundingResp
	url := h.baseURL + "/linear-swap-api/v1/swap_batch_funding_rate"
	if err := h.getJSON(ctx, "fetch_funding_rates", url, &resp); err != nil {
		return nil, err
	}

	h.mu.RLock()
	wanted := toWireSet(symbols, h.bySymbol)
	wireToCanon := invert(h.bySymbol)
	h.mu.RUnlock()

	now := time.Now().UnixMilli()
	out := make(map[domain.Symbol]domain.FundingRate)
	for _, r := range resp.Data {
		canon, ok := wireToCanon[r.ContractCode]
		if !ok {
			continue
		}
		if wanted != nil {
			if _, want := wanted[r.ContractCode]; !want {
				continue
			}
		}
		var next *int64
		if ms := parseUnixMillisOrZero(r.NextFundingTime); ms > 0 {
			next = &ms
		}
		out[canon] = domain.FundingRate{
			Exchange:          "htx",
			Symbol:            canon,
			TimestampMs:       now,
			FundingRate:       parseDecimalOrZero(r.FundingRate),
			NextFundingTimeMs: next,
		}
	}
	return out, nil
}

func (h *HTX) Probe(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return h.getJSON(ctx, "probe", h.baseURL+"/linear-swap-api/v1/swap_api_state", &out)
}

func (h *HTX) Close() error { return nil }

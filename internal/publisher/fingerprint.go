// Package publisher converts Collector snapshots into at-most-one-
// publish-per-change AMQP messages: fingerprint comparison suppresses
// republishing unchanged data, a BatchProcessor groups changed snapshots,
// and the batches are handed to the AMQP transport with retry.
package publisher

import (
	"crypto/md5"
	"fmt"
	"sort"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/shopspring/decimal"
)

// Fingerprint is a 128-bit digest over a Snapshot's data only (stats and
// timestamps excluded), computed over keys and symbols sorted
// lexicographically so that reordering exchanges or symbols never changes
// it -- the determinism property required by spec.md §3/§8.
type Fingerprint [16]byte

func (f Fingerprint) String() string { return fmt.Sprintf("%x", [16]byte(f)) }

// Compute derives the Fingerprint of a Snapshot's data.
func Compute(s domain.Snapshot) Fingerprint {
	h := md5.New()

	switch s.Kind {
	case domain.KindTickers:
		for _, ex := range s.SortedExchangeIds() {
			symbols := s.Tickers[ex]
			fmt.Fprintf(h, "E:%s\n", ex)
			for _, sym := range sortedSymbols(symbols) {
				t := symbols[sym]
				fmt.Fprintf(h, "S:%s|%s|%s|%s|%s\n",
					sym, optDecStr(t.Bid), optDecStr(t.Ask), t.Last.String(), optDecStr(t.Volume24h))
			}
		}
	case domain.KindFunding:
		for _, ex := range s.SortedExchangeIds() {
			symbols := s.Funding[ex]
			fmt.Fprintf(h, "E:%s\n", ex)
			for _, sym := range sortedFundingSymbols(symbols) {
				r := symbols[sym]
				next := int64(0)
				if r.NextFundingTimeMs != nil {
					next = *r.NextFundingTimeMs
				}
				fmt.Fprintf(h, "S:%s|%s|%d|%s\n",
					sym, r.FundingRate.String(), next, optDecStr(r.MarkPrice))
			}
		}
	}

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

func optDecStr(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func sortedSymbols(m map[domain.Symbol]domain.Ticker) []domain.Symbol {
	out := make([]domain.Symbol, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedFundingSymbols(m map[domain.Symbol]domain.FundingRate) []domain.Symbol {
	out := make([]domain.Symbol, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

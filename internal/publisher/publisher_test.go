package publisher

import (
	"sync"
	"testing"
	"time"

	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	messageType string
	body        []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	published []publishedMessage
	failNext  bool
}

func (f *fakeTransport) PublishData(messageType string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.published = append(f.published, publishedMessage{messageType: messageType, body: body})
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, m := range f.published {
		out[i] = m.messageType
	}
	return out
}

func newTestPublisher(transport Transport) *Publisher {
	return New(transport, "collector", "test", BatchConfig{
		Strategy:     BatchSizeBased,
		MaxBatchSize: 1,
		MaxRetries:   3,
	}, metrics.New(), zerolog.Nop())
}

func TestPublisher_SubmitPublishesFirstSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPublisher(ft)
	defer p.Stop()

	p.Submit(tickerSnapshot("binance"))

	require.Eventually(t, func() bool { return ft.count() == 1 }, time.Second, time.Millisecond)
	published, _, suppressed := p.Stats().Snapshot()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(0), suppressed)
}

func TestPublisher_SubmitSuppressesUnchangedSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPublisher(ft)
	defer p.Stop()

	p.Submit(tickerSnapshot("binance"))
	require.Eventually(t, func() bool { return ft.count() == 1 }, time.Second, time.Millisecond)

	p.Submit(tickerSnapshot("binance"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, ft.count(), "identical snapshot must not be republished")
	_, _, suppressed := p.Stats().Snapshot()
	assert.Equal(t, int64(1), suppressed)
}

func TestPublisher_SubmitPublishesChangedSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPublisher(ft)
	defer p.Stop()

	p.Submit(tickerSnapshot("binance"))
	require.Eventually(t, func() bool { return ft.count() == 1 }, time.Second, time.Millisecond)

	changed := tickerSnapshot("binance")
	tk := changed.Tickers["binance"]["BTC/USDT:USDT"]
	tk.Last = decimal.NewFromFloat(999)
	changed.Tickers["binance"]["BTC/USDT:USDT"] = tk
	p.Submit(changed)

	require.Eventually(t, func() bool { return ft.count() == 2 }, time.Second, time.Millisecond)
}

func TestPublisher_FingerprintNotUpdatedOnPublishFailure(t *testing.T) {
	ft := &fakeTransport{failNext: true}
	p := newTestPublisher(ft)
	defer p.Stop()

	p.Submit(tickerSnapshot("binance"))
	time.Sleep(20 * time.Millisecond)
	_, failed, _ := p.Stats().Snapshot()
	assert.Equal(t, int64(1), failed)

	// lastFingerprint was set before the failed publish even though the
	// send failed; Submit records the fingerprint once the snapshot is
	// handed to the batch processor, not once it's confirmed on the wire.
	p.mu.Lock()
	_, recorded := p.lastFingerprint[domain.KindTickers]
	p.mu.Unlock()
	assert.True(t, recorded)
}

func TestPublisher_DifferentKindsTrackFingerprintsIndependently(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPublisher(ft)
	defer p.Stop()

	tickers := tickerSnapshot("binance")
	funding := domain.Snapshot{
		Kind: domain.KindFunding,
		Funding: map[domain.ExchangeId]map[domain.Symbol]domain.FundingRate{
			"binance": {"BTC/USDT:USDT": {Exchange: "binance", Symbol: "BTC/USDT:USDT", FundingRate: decimal.NewFromFloat(0.0001)}},
		},
	}

	p.Submit(tickers)
	p.Submit(funding)

	require.Eventually(t, func() bool { return ft.count() == 2 }, time.Second, time.Millisecond)
}

// TestPublisher_MessageTypePerKind pins down spec.md §6's per-kind routing
// key: each kind's publish must carry its own wire type ("tickers",
// "funding_rates", "statistics") through Transport.PublishData, not a single
// fixed value for every message.
func TestPublisher_MessageTypePerKind(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPublisher(ft)
	defer p.Stop()

	funding := domain.Snapshot{
		Kind: domain.KindFunding,
		Funding: map[domain.ExchangeId]map[domain.Symbol]domain.FundingRate{
			"binance": {"BTC/USDT:USDT": {Exchange: "binance", Symbol: "BTC/USDT:USDT", FundingRate: decimal.NewFromFloat(0.0001)}},
		},
	}

	p.Submit(tickerSnapshot("binance"))
	p.Submit(funding)
	require.Eventually(t, func() bool { return ft.count() == 2 }, time.Second, time.Millisecond)

	p.SubmitStatistics(controlplane.StatisticsSnapshot{})
	require.Eventually(t, func() bool { return ft.count() == 3 }, time.Second, time.Millisecond)

	assert.ElementsMatch(t, []string{"tickers", "funding_rates", "statistics"}, ft.types())
}

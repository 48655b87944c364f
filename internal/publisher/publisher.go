package publisher

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/metrics"
	"github.com/rs/zerolog"
)

// wireType maps a domain.Kind onto the wire "type" field and the
// "snapshot.<type>" routing-key suffix from spec.md §6. It diverges from
// domain.Kind's own string value for funding ("funding" vs "funding_rates").
func wireType(kind domain.Kind) string {
	switch kind {
	case domain.KindTickers:
		return "tickers"
	case domain.KindFunding:
		return "funding_rates"
	default:
		return string(kind)
	}
}

// Message is the JSON body published for one batch, matching the wire
// format in spec.md §6.
type Message struct {
	Type            string      `json:"type"`
	Timestamp       int64       `json:"timestamp"`
	Data            interface{} `json:"data"`
	Source          string      `json:"source"`
	Environment     string      `json:"environment"`
	CollectionStats CollectionStatsWire `json:"collection_stats"`
}

// CollectionStatsWire is the wire shape of domain.CollectionStats.
type CollectionStatsWire struct {
	ExchangesQueried    int   `json:"exchanges_queried"`
	SuccessfulExchanges int   `json:"successful_exchanges"`
	FailedExchanges     int   `json:"failed_exchanges"`
	CollectionTime      int64 `json:"collection_time"`
}

// Stats aggregates publish-level counters for the statistics payload.
type Stats struct {
	mu         sync.Mutex
	published  int64
	failed     int64
	suppressed int64
}

func (s *Stats) recordPublished() { s.mu.Lock(); s.published++; s.mu.Unlock() }
func (s *Stats) recordFailed()    { s.mu.Lock(); s.failed++; s.mu.Unlock() }
func (s *Stats) recordSuppressed(){ s.mu.Lock(); s.suppressed++; s.mu.Unlock() }

// Snapshot returns a consistent view of the counters.
func (s *Stats) Snapshot() (published, failed, suppressed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, s.failed, s.suppressed
}

// Publisher converts domain.Snapshots into batched AMQP messages,
// suppressing publishes for content-identical snapshots. Within one kind,
// snapshots submitted earlier are published earlier (spec.md §4.4
// Ordering) because each kind owns its own BatchProcessor and Submit
// enqueues synchronously in call order.
type Publisher struct {
	transport   Transport
	source      string
	environment string
	metrics     *metrics.Metrics
	log         zerolog.Logger

	mu              sync.Mutex
	lastFingerprint map[domain.Kind]Fingerprint

	batches map[domain.Kind]*BatchProcessor
	stats   *Stats
}

// New constructs a Publisher. source and environment populate the wire
// message's "source"/"environment" fields. m may be nil in tests that don't
// care about the Prometheus surface.
func New(transport Transport, source, environment string, batchCfg BatchConfig, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	p := &Publisher{
		transport:       transport,
		source:          source,
		environment:     environment,
		metrics:         m,
		log:             log.With().Str("component", "publisher").Logger(),
		lastFingerprint: make(map[domain.Kind]Fingerprint),
		batches:         make(map[domain.Kind]*BatchProcessor),
		stats:           &Stats{},
	}
	for _, kind := range []domain.Kind{domain.KindTickers, domain.KindFunding} {
		kind := kind
		bp := NewBatchProcessor(batchCfg, func(items []Item) error {
			return p.flushBatch(kind, items)
		}, log)
		bp.Start()
		p.batches[kind] = bp
	}
	return p
}

// Stop drains and stops every kind's batch processor.
func (p *Publisher) Stop() {
	for _, bp := range p.batches {
		bp.Stop()
	}
}

// Submit computes the snapshot's fingerprint, compares it against the last
// published fingerprint for this kind, and -- if different -- enqueues it
// for batching. last_fingerprint is updated only after a successful
// publish, so a publish failure never loses a change (spec.md §4.4).
func (p *Publisher) Submit(snapshot domain.Snapshot) {
	fp := Compute(snapshot)

	p.mu.Lock()
	last, ok := p.lastFingerprint[snapshot.Kind]
	unchanged := ok && last == fp
	p.mu.Unlock()

	if unchanged {
		p.stats.recordSuppressed()
		if p.metrics != nil {
			p.metrics.SuppressedTotal.Inc()
		}
		return
	}

	body, err := p.encode(snapshot)
	if err != nil {
		p.log.Error().Err(err).Str("kind", string(snapshot.Kind)).Msg("failed to encode snapshot")
		return
	}

	bp, ok := p.batches[snapshot.Kind]
	if !ok {
		p.log.Error().Str("kind", string(snapshot.Kind)).Msg("no batch processor registered for kind")
		return
	}
	bp.Enqueue(Item{Source: string(snapshot.Kind), Payload: body})

	p.mu.Lock()
	p.lastFingerprint[snapshot.Kind] = fp
	p.mu.Unlock()
}

func (p *Publisher) encode(snapshot domain.Snapshot) ([]byte, error) {
	msgType := wireType(snapshot.Kind)
	var data interface{}
	switch snapshot.Kind {
	case domain.KindTickers:
		data = snapshot.Tickers
	case domain.KindFunding:
		data = snapshot.Funding
	}

	msg := Message{
		Type:        msgType,
		Timestamp:   time.Now().Unix(),
		Data:        data,
		Source:      p.source,
		Environment: p.environment,
		CollectionStats: CollectionStatsWire{
			ExchangesQueried:    snapshot.Stats.Queried,
			SuccessfulExchanges: snapshot.Stats.Succeeded,
			FailedExchanges:     snapshot.Stats.Failed,
			CollectionTime:      snapshot.Stats.CollectionMs,
		},
	}
	return json.Marshal(msg)
}

// Stats exposes the publish-level counters for the statistics payload.
func (p *Publisher) Stats() *Stats { return p.stats }

// StatisticsMessage is the wire shape of the periodic statistics publish
// (SPEC_FULL §12.1), a third message "type" alongside tickers/funding_rates.
type StatisticsMessage struct {
	Type        string                              `json:"type"`
	Timestamp   int64                               `json:"timestamp"`
	Data        controlplane.StatisticsSnapshot     `json:"data"`
	Source      string                              `json:"source"`
	Environment string                              `json:"environment"`
}

// SubmitStatistics publishes a statistics snapshot directly, bypassing
// batching and fingerprint suppression -- unlike tickers/funding, its value
// lies in being current at the moment it's read, not in deduplicating
// unchanged content.
func (p *Publisher) SubmitStatistics(snap controlplane.StatisticsSnapshot) {
	msg := StatisticsMessage{
		Type:        "statistics",
		Timestamp:   time.Now().Unix(),
		Data:        snap,
		Source:      p.source,
		Environment: p.environment,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode statistics message")
		return
	}
	if err := p.transport.PublishData("statistics", body); err != nil {
		p.stats.recordFailed()
		if p.metrics != nil {
			p.metrics.PublishesFailed.Inc()
		}
		p.log.Warn().Err(err).Msg("failed to publish statistics message")
		return
	}
	p.stats.recordPublished()
	if p.metrics != nil {
		p.metrics.PublishesTotal.Inc()
	}
}

// flushBatch hands a completed batch's payloads to the transport one
// message at a time (one AMQP message per batch item, matching the
// "each batch becomes one AMQP message" contract when batches are size 1,
// and preserving per-change granularity otherwise).
func (p *Publisher) flushBatch(kind domain.Kind, items []Item) error {
	messageType := wireType(kind)
	for _, item := range items {
		if err := p.transport.PublishData(messageType, item.Payload); err != nil {
			p.stats.recordFailed()
			if p.metrics != nil {
				p.metrics.PublishesFailed.Inc()
			}
			return err
		}
		p.stats.recordPublished()
		if p.metrics != nil {
			p.metrics.PublishesTotal.Inc()
		}
	}
	return nil
}

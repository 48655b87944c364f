// Package orchestrator owns the lifecycle of every collector component:
// it starts the already-built per-exchange resilience wrappers, runs the
// ticker- and funding-rate collection loops at their configured cadences
// (with an optional robfig/cron/v3 "*" override that replaces the
// funding-rate loop for all exchanges), republishes periodic
// statistics, and tears everything down in reverse order on shutdown.
// Loop shape is grounded on the teacher's time-based scheduler
// (internal/queue/scheduler.go): one goroutine per cadence, each selecting
// on its own ticker and a shared stop channel.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/cache"
	"github.com/cryptofeed/collector/internal/collector"
	"github.com/cryptofeed/collector/internal/controlplane"
	"github.com/cryptofeed/collector/internal/domain"
	"github.com/cryptofeed/collector/internal/metrics"
	"github.com/cryptofeed/collector/internal/publisher"
	"github.com/cryptofeed/collector/internal/resilience"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Config tunes the orchestrator's cadences and the optional cron override
// for the funding-rate loop.
type Config struct {
	TickerInterval      time.Duration
	FundingInterval     time.Duration
	StatisticsInterval  time.Duration
	CronOverrides       map[string]string // only the "*" key is read -> cron expression
}

// Orchestrator wires a Collector, a Publisher and a ControlPlane together
// and drives their cadences.
type Orchestrator struct {
	cfg       Config
	wrappers  map[domain.ExchangeId]*resilience.Wrapper
	collector *collector.Collector
	publisher *publisher.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	cronRunner *cron.Cron

	mu       sync.Mutex
	stats    controlplane.StatisticsSnapshot
	exchangeSuccess map[domain.ExchangeId]int64
	exchangeErrors  map[domain.ExchangeId]int64
	lastCircuitOpens map[domain.ExchangeId]int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Orchestrator over already-built wrappers, collector and
// publisher. Start launches its background loops; Stop tears them down.
func New(cfg Config, wrappers map[domain.ExchangeId]*resilience.Wrapper, coll *collector.Collector, pub *publisher.Publisher, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:             cfg,
		wrappers:        wrappers,
		collector:       coll,
		publisher:       pub,
		metrics:         m,
		log:             log.With().Str("component", "orchestrator").Logger(),
		exchangeSuccess:  make(map[domain.ExchangeId]int64),
		exchangeErrors:   make(map[domain.ExchangeId]int64),
		lastCircuitOpens: make(map[domain.ExchangeId]int),
		stop:             make(chan struct{}),
	}
}

// Start launches every wrapper's health probe and the ticker/funding/
// statistics loops, plus any configured cron overrides.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, w := range o.wrappers {
		w.Start()
	}

	o.runLoop("tickers", o.cfg.TickerInterval, func() { o.runRound(ctx, domain.KindTickers, o.cfg.TickerInterval) })

	if override := o.cronOverrideFor("*"); override != "" {
		o.startCronFunding(ctx, override)
	} else {
		o.runLoop("funding_rates", o.cfg.FundingInterval, func() { o.runRound(ctx, domain.KindFunding, o.cfg.FundingInterval) })
	}

	if o.cfg.StatisticsInterval > 0 {
		o.runLoop("statistics", o.cfg.StatisticsInterval, func() { o.publishStatistics() })
	}
}

func (o *Orchestrator) cronOverrideFor(key string) string {
	if o.cfg.CronOverrides == nil {
		return ""
	}
	return o.cfg.CronOverrides[key]
}

// startCronFunding replaces the plain-interval funding loop with a
// robfig/cron/v3 schedule when a wildcard override is configured.
// Per-exchange overrides are not read anywhere: the Collector fans out
// across every exchange in a single round.
func (o *Orchestrator) startCronFunding(ctx context.Context, expr string) {
	o.cronRunner = cron.New(cron.WithSeconds())
	_, err := o.cronRunner.AddFunc(expr, func() {
		o.runRound(ctx, domain.KindFunding, o.cfg.FundingInterval)
	})
	if err != nil {
		o.log.Error().Err(err).Str("expr", expr).Msg("invalid cron override, falling back to plain interval")
		o.runLoop("funding_rates", o.cfg.FundingInterval, func() { o.runRound(ctx, domain.KindFunding, o.cfg.FundingInterval) })
		return
	}
	o.cronRunner.Start()
	o.log.Info().Str("expr", expr).Msg("funding-rate collection scheduled via cron override")
}

func (o *Orchestrator) runLoop(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	o.log.Info().Str("loop", name).Dur("interval", interval).Msg("scheduled collection loop")
}

func (o *Orchestrator) runRound(ctx context.Context, kind domain.Kind, cadence time.Duration) {
	snapshot := o.collector.Collect(ctx, kind, cadence)
	o.recordSnapshot(kind, snapshot)
	o.publisher.Submit(snapshot)
}

func (o *Orchestrator) recordSnapshot(kind domain.Kind, snapshot domain.Snapshot) {
	if o.metrics != nil {
		o.metrics.ObserveRound(kind, float64(snapshot.Stats.CollectionMs))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	exchangeMap := snapshotExchanges(kind, snapshot)
	for id, failed := range exchangeMap {
		if failed {
			o.exchangeErrors[id]++
			if o.metrics != nil {
				o.metrics.ExchangesFailed.WithLabelValues(string(id), string(kind)).Inc()
			}
		} else {
			o.exchangeSuccess[id]++
			if o.metrics != nil {
				o.metrics.ExchangesSucceeded.WithLabelValues(string(id), string(kind)).Inc()
			}
		}
	}
}

// snapshotExchanges reports, per exchange present in the snapshot, whether
// its sub-map is empty, and treats an empty sub-map as a failure. An empty
// sub-map is ambiguous between "no symbols matched" and "failed", so an
// exchange that answered with no matching symbols is counted as failed
// too; Stats is not consulted. Statistics() reads each wrapper's own
// CircuitBreakerStats separately.
func snapshotExchanges(kind domain.Kind, snapshot domain.Snapshot) map[domain.ExchangeId]bool {
	out := map[domain.ExchangeId]bool{}
	switch kind {
	case domain.KindTickers:
		for id, m := range snapshot.Tickers {
			out[id] = len(m) == 0
		}
	case domain.KindFunding:
		for id, m := range snapshot.Funding {
			out[id] = len(m) == 0
		}
	}
	return out
}

func (o *Orchestrator) publishStatistics() {
	snap := o.Statistics()
	o.publisher.SubmitStatistics(snap)
}

// Statistics implements controlplane.StatisticsProvider by aggregating
// live counters with each wrapper's circuit-breaker and health state.
func (o *Orchestrator) Statistics() controlplane.StatisticsSnapshot {
	published, failed, _ := o.publisher.Stats().Snapshot()

	o.mu.Lock()
	success := make(map[domain.ExchangeId]int64, len(o.exchangeSuccess))
	for k, v := range o.exchangeSuccess {
		success[k] = v
	}
	errs := make(map[domain.ExchangeId]int64, len(o.exchangeErrors))
	for k, v := range o.exchangeErrors {
		errs[k] = v
	}

	cbInfo := make(map[domain.ExchangeId]controlplane.CircuitBreakerInfo, len(o.wrappers))
	healthInfo := make(map[domain.ExchangeId]controlplane.HealthInfo, len(o.wrappers))
	for id, w := range o.wrappers {
		cb := w.CircuitStats()
		cbInfo[id] = controlplane.CircuitBreakerInfo{
			State:    cb.State.String(),
			Failures: cb.Failures,
			Opens:    cb.Opens,
			Closes:   cb.Closes,
		}
		h := w.Health()
		healthInfo[id] = controlplane.HealthInfo{
			Status:              h.Status.String(),
			ConsecutiveFailures: h.ConsecutiveFailures,
		}
		if o.metrics != nil {
			opensDelta := cb.Opens - o.lastCircuitOpens[id]
			o.lastCircuitOpens[id] = cb.Opens
			o.metrics.ObserveCircuit(id, int(cb.State), opensDelta)
			o.metrics.ObserveHealth(id, int(h.Status))
		}
	}
	o.mu.Unlock()

	return controlplane.StatisticsSnapshot{
		ExchangeSuccess:   success,
		ExchangeErrors:    errs,
		RabbitMQPublished: published,
		RabbitMQFailed:    failed,
		CircuitBreakers:   cbInfo,
		Health:            healthInfo,
	}
}

// Ready reports whether enough exchanges are usable to call the collector
// "ready": at least one wrapper must be neither Unhealthy nor circuit-Open.
// Implements server.HealthReporter.
func (o *Orchestrator) Ready() (bool, map[string]string) {
	detail := make(map[string]string, len(o.wrappers))
	anyUsable := false
	for id, w := range o.wrappers {
		h := w.Health()
		cb := w.CircuitStats()
		usable := h.Status != resilience.HealthUnhealthy && cb.State != resilience.StateOpen
		anyUsable = anyUsable || usable
		detail[string(id)] = h.Status.String() + "/" + cb.State.String()
	}
	return anyUsable, detail
}

// Stop halts every loop, the cron runner if any, the wrappers' health
// probes, and the publisher's batch processors, in that order.
func (o *Orchestrator) Stop() {
	close(o.stop)
	o.wg.Wait()

	if o.cronRunner != nil {
		ctx := o.cronRunner.Stop()
		<-ctx.Done()
	}

	for _, w := range o.wrappers {
		w.Stop()
	}

	o.publisher.Stop()
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/rs/zerolog"
)

// HealthStatus is the wrapper's independent health state machine, distinct
// from the circuit breaker: a Degraded adapter can still be called by the
// Collector (per spec.md §4.3 step 2, only Unhealthy or circuit-Open
// exchanges are excluded from a round).
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthSnapshot is a read-only view of the probe loop's state.
type HealthSnapshot struct {
	Status              HealthStatus
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	CheckInterval       time.Duration
}

// HealthProbe runs adapter.Probe() on its own loop at an interval that
// adaptively shortens toward MinCheckInterval after a failure and
// lengthens toward MaxCheckInterval after sustained success, when
// AdaptiveScaling is set.
type HealthProbe struct {
	cfg     domain.HealthCheckConfig
	probeFn func(context.Context) error
	log     zerolog.Logger

	mu                  sync.RWMutex
	status              HealthStatus
	consecutiveFailures int
	consecutiveSuccess  int
	lastSuccess         time.Time
	lastFailure         time.Time
	interval            time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHealthProbe constructs a probe loop. probeFn is typically
// adapter.Probe bound to the wrapped adapter.
func NewHealthProbe(cfg domain.HealthCheckConfig, probeFn func(context.Context) error, log zerolog.Logger) *HealthProbe {
	interval := time.Duration(cfg.CheckIntervalS * float64(time.Second))
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthProbe{
		cfg:      cfg,
		probeFn:  probeFn,
		log:      log.With().Str("component", "health_probe").Logger(),
		status:   HealthUnknown,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called.
func (h *HealthProbe) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runOnce()
		for {
			h.mu.RLock()
			interval := h.interval
			h.mu.RUnlock()

			timer := time.NewTimer(interval)
			select {
			case <-h.stop:
				timer.Stop()
				return
			case <-timer.C:
				h.runOnce()
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (h *HealthProbe) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	h.wg.Wait()
}

func (h *HealthProbe) runOnce() {
	timeout := time.Duration(h.cfg.TimeoutS * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := h.probeFn(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.consecutiveFailures = 0
		h.consecutiveSuccess++
		h.lastSuccess = time.Now()
		recovery := maxInt(h.cfg.RecoveryThreshold, 1)
		if h.consecutiveSuccess >= recovery {
			if h.status != HealthHealthy {
				h.log.Info().Msg("health probe recovered")
			}
			h.status = HealthHealthy
		}
		if h.cfg.AdaptiveScaling {
			h.lengthenInterval()
		}
		return
	}

	h.consecutiveSuccess = 0
	h.consecutiveFailures++
	h.lastFailure = time.Now()
	failThreshold := maxInt(h.cfg.FailureThreshold, 1)

	switch {
	case h.consecutiveFailures >= failThreshold:
		if h.status != HealthUnhealthy {
			h.log.Warn().Err(err).Int("consecutive_failures", h.consecutiveFailures).Msg("health probe marking exchange unhealthy")
		}
		h.status = HealthUnhealthy
	case h.status == HealthHealthy || h.status == HealthUnknown:
		h.status = HealthDegraded
	}

	if h.cfg.AdaptiveScaling {
		h.shortenInterval()
	}
}

func (h *HealthProbe) shortenInterval() {
	min := time.Duration(h.cfg.MinCheckIntervalS * float64(time.Second))
	if min <= 0 {
		min = time.Second
	}
	next := h.interval / 2
	if next < min {
		next = min
	}
	h.interval = next
}

func (h *HealthProbe) lengthenInterval() {
	max := time.Duration(h.cfg.MaxCheckIntervalS * float64(time.Second))
	if max <= 0 {
		return
	}
	next := h.interval * 2
	if next > max {
		next = max
	}
	h.interval = next
}

// Snapshot returns a consistent view of the probe's state.
func (h *HealthProbe) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Status:              h.status,
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccess:         h.lastSuccess,
		LastFailure:         h.lastFailure,
		CheckInterval:       h.interval,
	}
}

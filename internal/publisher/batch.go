package publisher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchStrategy selects when a batch flushes.
type BatchStrategy string

const (
	BatchSizeBased BatchStrategy = "size_based"
	BatchTimeBased BatchStrategy = "time_based"
	BatchHybrid    BatchStrategy = "hybrid"
)

// Item is one unit of batchable work: a snapshot enqueued by Publisher.Submit.
type Item struct {
	Source     string // snapshot kind
	Priority   int
	Payload    []byte
	RetryCount int
}

// BatchConfig tunes a BatchProcessor.
type BatchConfig struct {
	Strategy    BatchStrategy
	MaxBatchSize int
	MaxWaitTime time.Duration
	MaxRetries  int
}

// Flusher hands a completed batch off to the transport. Returning an error
// causes every item in the batch to be re-queued with its RetryCount
// incremented, up to MaxRetries.
type Flusher func(items []Item) error

// BatchProcessor accumulates Items and flushes them as a group either when
// MaxBatchSize is reached (SizeBased/Hybrid) or when MaxWaitTime elapses
// since the oldest pending item (TimeBased/Hybrid) -- whichever comes
// first, per spec.md §4.4. Failed flushes are re-queued; items exceeding
// MaxRetries move to a dead-letter list observable via Stats.
type BatchProcessor struct {
	cfg BatchConfig
	flush Flusher
	log   zerolog.Logger

	mu          sync.Mutex
	pending     []Item
	oldestEnqueuedAt time.Time
	failedItems []Item

	timer *time.Timer
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewBatchProcessor constructs a BatchProcessor. flush is called
// synchronously from the processor's own timer goroutine or from Enqueue
// when a size-triggered flush fires.
func NewBatchProcessor(cfg BatchConfig, flush Flusher, log zerolog.Logger) *BatchProcessor {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 5 * time.Second
	}
	return &BatchProcessor{
		cfg:   cfg,
		flush: flush,
		log:   log.With().Str("component", "batch_processor").Logger(),
		stop:  make(chan struct{}),
	}
}

// Start launches the time-based flush loop when the configured strategy
// uses it (TimeBased or Hybrid).
func (b *BatchProcessor) Start() {
	if b.cfg.Strategy == BatchSizeBased {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.MaxWaitTime)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.flushIfDue()
			}
		}
	}()
}

// Stop halts the flush loop and flushes whatever is still pending.
func (b *BatchProcessor) Stop() {
	close(b.stop)
	b.wg.Wait()
	b.flushNow()
}

// Enqueue adds item to the pending batch, flushing immediately if the
// strategy is size-triggered and the batch is now full.
func (b *BatchProcessor) Enqueue(item Item) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.oldestEnqueuedAt = time.Now()
	}
	b.pending = append(b.pending, item)
	shouldFlush := b.cfg.Strategy != BatchTimeBased && len(b.pending) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		b.flushNow()
	}
}

func (b *BatchProcessor) flushIfDue() {
	b.mu.Lock()
	due := len(b.pending) > 0 && time.Since(b.oldestEnqueuedAt) >= b.cfg.MaxWaitTime
	b.mu.Unlock()
	if due {
		b.flushNow()
	}
}

// flushNow drains the pending batch and hands it to flush. On failure,
// items are re-queued with RetryCount incremented; items exceeding
// MaxRetries are moved to the dead-letter list instead of being re-queued.
func (b *BatchProcessor) flushNow() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if err := b.flush(batch); err != nil {
		b.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch flush failed, requeueing")
		b.requeue(batch)
		return
	}
}

func (b *BatchProcessor) requeue(batch []Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range batch {
		item.RetryCount++
		if b.cfg.MaxRetries > 0 && item.RetryCount > b.cfg.MaxRetries {
			b.failedItems = append(b.failedItems, item)
			continue
		}
		b.pending = append(b.pending, item)
	}
	if len(b.pending) > 0 && b.oldestEnqueuedAt.IsZero() {
		b.oldestEnqueuedAt = time.Now()
	}
}

// BatchStats is a snapshot of the processor's queue depths.
type BatchStats struct {
	Pending int
	DeadLettered int
}

// Stats returns a consistent snapshot of queue depths.
func (b *BatchProcessor) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchStats{Pending: len(b.pending), DeadLettered: len(b.failedItems)}
}

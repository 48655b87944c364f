package publisher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchProcessor_FlushesOnSizeThreshold(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]Item

	bp := NewBatchProcessor(BatchConfig{
		Strategy:     BatchSizeBased,
		MaxBatchSize: 2,
	}, func(items []Item) error {
		mu.Lock()
		flushed = append(flushed, items)
		mu.Unlock()
		return nil
	}, zerolog.Nop())

	bp.Enqueue(Item{Payload: []byte("a")})
	bp.Enqueue(Item{Payload: []byte("b")})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0], 2)
}

func TestBatchProcessor_FlushesOnTimeThreshold(t *testing.T) {
	flushed := make(chan []Item, 1)

	bp := NewBatchProcessor(BatchConfig{
		Strategy:    BatchTimeBased,
		MaxWaitTime: 20 * time.Millisecond,
	}, func(items []Item) error {
		flushed <- items
		return nil
	}, zerolog.Nop())
	bp.Start()
	defer bp.Stop()

	bp.Enqueue(Item{Payload: []byte("a")})

	select {
	case items := <-flushed:
		assert.Len(t, items, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a time-triggered flush")
	}
}

func TestBatchProcessor_HybridFlushesOnWhicheverComesFirst(t *testing.T) {
	flushed := make(chan []Item, 4)

	bp := NewBatchProcessor(BatchConfig{
		Strategy:     BatchHybrid,
		MaxBatchSize: 3,
		MaxWaitTime:  20 * time.Millisecond,
	}, func(items []Item) error {
		flushed <- items
		return nil
	}, zerolog.Nop())
	bp.Start()
	defer bp.Stop()

	bp.Enqueue(Item{Payload: []byte("a")})
	bp.Enqueue(Item{Payload: []byte("b")})
	bp.Enqueue(Item{Payload: []byte("c")})

	select {
	case items := <-flushed:
		assert.Len(t, items, 3)
	case <-time.After(time.Second):
		t.Fatal("expected a size-triggered flush before the wait timer")
	}
}

func TestBatchProcessor_RequeuesOnFlushFailureUntilMaxRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	bp := NewBatchProcessor(BatchConfig{
		Strategy:     BatchSizeBased,
		MaxBatchSize: 1,
		MaxRetries:   2,
	}, func(items []Item) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("broker unavailable")
	}, zerolog.Nop())

	bp.Enqueue(Item{Payload: []byte("a")})

	// First flush failed and requeued with RetryCount=1; force two more
	// manual flush attempts to exhaust MaxRetries.
	bp.flushNow()
	bp.flushNow()

	stats := bp.Stats()
	assert.Equal(t, 1, stats.DeadLettered, "item exceeding MaxRetries must move to the dead-letter list")
	assert.Equal(t, 0, stats.Pending)
}

func TestBatchProcessor_SucceedsOnRetryAfterInitialFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var delivered []byte

	bp := NewBatchProcessor(BatchConfig{
		Strategy:     BatchSizeBased,
		MaxBatchSize: 1,
		MaxRetries:   3,
	}, func(items []Item) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("broker unavailable")
		}
		delivered = items[0].Payload
		return nil
	}, zerolog.Nop())

	bp.Enqueue(Item{Payload: []byte("retried-data")})
	bp.flushNow()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts, "the item must be retried after the first failure")
	assert.Equal(t, []byte("retried-data"), delivered, "the data must eventually reach the broker unmodified")
}

func TestBatchProcessor_StopFlushesRemainingItems(t *testing.T) {
	flushed := make(chan []Item, 1)
	bp := NewBatchProcessor(BatchConfig{
		Strategy:     BatchSizeBased,
		MaxBatchSize: 10,
	}, func(items []Item) error {
		flushed <- items
		return nil
	}, zerolog.Nop())

	bp.Enqueue(Item{Payload: []byte("a")})
	bp.Stop()

	select {
	case items := <-flushed:
		assert.Len(t, items, 1)
	default:
		t.Fatal("expected Stop to flush pending items")
	}
}

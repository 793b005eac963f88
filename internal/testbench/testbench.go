package testbench

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/i5heu/GoMPSCRing/internal/queue"
)

// Config is only about concurrency: how many producers feed the single consumer.
type Config struct {
	NumProducers int
}

// RunTimedTest spawns producers and one consumer that run for the specified
// duration, measuring how many messages are actually enqueued/dequeued
// in that window. Once the context expires, producers stop and the consumer
// drains any remaining messages in the queue.
// Returns the total messages enqueued, total consumed, and the actual elapsed time.
func RunTimedTest[T any, Q queue.QueueValidationInterface[T]](
	q Q,
	cfg Config,
	testDuration time.Duration,
	valueGenerator func(int) T,
	logger *zap.Logger,
) (producedCount int64, consumedCount int64, elapsed time.Duration) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Create a context that will cancel after testDuration.
	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var totalProduced atomic.Int64
	var totalConsumed atomic.Int64

	start := time.Now()

	var msgIndex atomic.Int64
	var prodWg sync.WaitGroup
	prodWg.Add(cfg.NumProducers)

	// productionDone is set when the test duration expires.
	var productionDone atomic.Bool
	go func() {
		<-ctx.Done()
		productionDone.Store(true)
	}()

	for i := 0; i < cfg.NumProducers; i++ {
		go func() {
			defer prodWg.Done()
			for !productionDone.Load() {
				idx := msgIndex.Add(1) - 1
				q.Enqueue(valueGenerator(int(idx)))
				totalProduced.Add(1)
			}
		}()
	}

	// producersFinished is set once every producer has returned from Enqueue.
	var producersFinished atomic.Bool
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			if _, ok := q.Dequeue(); ok {
				totalConsumed.Add(1)
				continue
			}
			if producersFinished.Load() {
				// One more pass: a value may have been published between
				// the empty Dequeue and the flag load.
				for {
					if _, ok := q.Dequeue(); !ok {
						return
					}
					totalConsumed.Add(1)
				}
			}
			runtime.Gosched()
		}
	}()

	<-ctx.Done()
	prodWg.Wait()
	producersFinished.Store(true)

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		logger.Warn("consumer did not drain the queue",
			zap.Int64("produced", totalProduced.Load()),
			zap.Int64("consumed", totalConsumed.Load()),
			zap.Uint64("used_slots", q.UsedSlots()))
	}

	elapsed = time.Since(start)
	producedCount = totalProduced.Load()
	consumedCount = totalConsumed.Load()

	logger.Debug("timed run finished",
		zap.Int("producers", cfg.NumProducers),
		zap.Int64("produced", producedCount),
		zap.Int64("consumed", consumedCount),
		zap.Duration("elapsed", elapsed))
	return producedCount, consumedCount, elapsed
}

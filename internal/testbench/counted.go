package testbench

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"

	"github.com/i5heu/GoMPSCRing/internal/queue"
)

// ErrVerification is wrapped by every delivery check that fails.
var ErrVerification = errors.New("testbench: delivery verification failed")

// Tag identifies one value by the producer that sent it and its position in
// that producer's stream.
type Tag struct {
	Producer uint32
	Seq      uint32
}

// CountedConfig describes a fixed-size run.
type CountedConfig struct {
	Producers   int
	PerProducer int
	// Jitter is the maximum number of extra scheduler yields a producer
	// makes after each attempt. Zero disables it.
	Jitter uint32
	// Timeout bounds the whole run. Zero means one minute.
	Timeout time.Duration
}

// CountedResult summarises a fixed-size run.
type CountedResult struct {
	Delivered int
	Rejected  int64 // TryEnqueue calls that found the queue full
	Elapsed   time.Duration
}

// RunCountedTest has each producer push PerProducer tagged values, retrying
// whenever the queue is full, while the calling goroutine consumes until every
// value has arrived. It returns an error wrapping ErrVerification if a value
// arrives twice, out of its producer's order, or not at all.
func RunCountedTest[Q queue.TryQueue[Tag]](q Q, cfg CountedConfig, logger *zap.Logger) (CountedResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Producers < 1 || cfg.PerProducer < 0 {
		return CountedResult{}, fmt.Errorf("testbench: invalid counted config %+v", cfg)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}

	var rejected atomic.Int64
	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(cfg.Producers)

	start := time.Now()
	for id := 0; id < cfg.Producers; id++ {
		go func(id uint32) {
			defer wg.Done()
			for seq := 0; seq < cfg.PerProducer && !stop.Load(); {
				if q.TryEnqueue(Tag{Producer: id, Seq: uint32(seq)}) {
					seq++
				} else {
					rejected.Add(1)
					runtime.Gosched()
				}
				if cfg.Jitter > 0 {
					for n := fastrand.Uint32n(cfg.Jitter + 1); n > 0; n-- {
						runtime.Gosched()
					}
				}
			}
		}(uint32(id))
	}

	next := make([]uint32, cfg.Producers)
	total := cfg.Producers * cfg.PerProducer
	res := CountedResult{}
	deadline := start.Add(timeout)

	fail := func(err error) (CountedResult, error) {
		stop.Store(true)
		wg.Wait()
		res.Rejected = rejected.Load()
		res.Elapsed = time.Since(start)
		logger.Error("counted run failed", zap.Error(err), zap.Int("delivered", res.Delivered))
		return res, err
	}

	for res.Delivered < total {
		v, ok := q.Dequeue()
		if !ok {
			if time.Now().After(deadline) {
				return fail(fmt.Errorf("%w: timed out after %d of %d values", ErrVerification, res.Delivered, total))
			}
			runtime.Gosched()
			continue
		}

		if int(v.Producer) >= cfg.Producers {
			return fail(fmt.Errorf("%w: unknown producer %d", ErrVerification, v.Producer))
		}
		if want := next[v.Producer]; v.Seq != want {
			return fail(fmt.Errorf("%w: producer %d sent %d, expected %d", ErrVerification, v.Producer, v.Seq, want))
		}
		next[v.Producer]++
		res.Delivered++
	}

	wg.Wait()
	if extra, ok := q.Dequeue(); ok {
		return fail(fmt.Errorf("%w: unexpected value %+v after all values arrived", ErrVerification, extra))
	}

	res.Rejected = rejected.Load()
	res.Elapsed = time.Since(start)
	logger.Debug("counted run finished",
		zap.Int("producers", cfg.Producers),
		zap.Int("per_producer", cfg.PerProducer),
		zap.Int64("rejected", res.Rejected),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

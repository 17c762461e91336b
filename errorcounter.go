package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	defaultMaxErrorCount   = 5
	defaultErrorSleepDelay = 10 * time.Second
)

// counts consecutive errors per key and sleeps a little longer after each one.
//
// Every error within the budget sleeps multiplier * count before returning, the
// error that goes over the budget returns immediately. The total time slept before
// giving up is maxErrorCount*(maxErrorCount+1)/2 * multiplier, 150s for the defaults.
type SleepingErrorCounter struct {
	counts        sync.Map // key -> *atomic.Int32
	maxErrorCount int
	multiplier    time.Duration
}

func NewSleepingErrorCounter(maxErrorCount int, multiplier time.Duration) *SleepingErrorCounter {
	if maxErrorCount <= 0 {
		maxErrorCount = defaultMaxErrorCount
	}
	if multiplier < 0 {
		multiplier = defaultErrorSleepDelay
	}
	return &SleepingErrorCounter{
		maxErrorCount: maxErrorCount,
		multiplier:    multiplier,
	}
}

func (c *SleepingErrorCounter) counter(key string) *atomic.Int32 {
	if v, ok := c.counts.Load(key); ok {
		return v.(*atomic.Int32)
	}
	v, _ := c.counts.LoadOrStore(key, atomic.NewInt32(0))
	return v.(*atomic.Int32)
}

// increments the error count for key and returns it, sleeping first when the
// count is still within the budget. A cancelled ctx cuts the sleep short.
func (c *SleepingErrorCounter) RecordError(ctx context.Context, key string) int {
	count := int(c.counter(key).Inc())
	if count > c.maxErrorCount {
		return count
	}

	timer := time.NewTimer(c.multiplier * time.Duration(count))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return count
}

func (c *SleepingErrorCounter) IsOverThreshold(key string) bool {
	return c.Count(key) > c.maxErrorCount
}

func (c *SleepingErrorCounter) Reset(key string) {
	if v, ok := c.counts.Load(key); ok {
		v.(*atomic.Int32).Store(0)
	}
}

func (c *SleepingErrorCounter) Count(key string) int {
	if v, ok := c.counts.Load(key); ok {
		return int(v.(*atomic.Int32).Load())
	}
	return 0
}

func (c *SleepingErrorCounter) MaxErrorCount() int {
	return c.maxErrorCount
}

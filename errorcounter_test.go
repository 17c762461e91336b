package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTooManyErrors(t *testing.T) {
	unit := 100 * time.Millisecond
	counter := NewSleepingErrorCounter(2, unit)
	ctx := context.Background()

	start := time.Now()
	assert.Equal(t, 1, counter.RecordError(ctx, "key"))
	assert.False(t, counter.IsOverThreshold("key"))
	assert.Equal(t, 2, counter.RecordError(ctx, "key"))
	assert.False(t, counter.IsOverThreshold("key"))
	assert.Equal(t, 3, counter.RecordError(ctx, "key"))
	assert.True(t, counter.IsOverThreshold("key"))
	elapsed := time.Since(start)

	// 1 + 2 units, nothing for the call that goes over
	expected := 2 * 3 / 2 * unit
	assert.GreaterOrEqual(t, elapsed, expected)
	assert.Less(t, elapsed, expected+unit)
}

func TestOverThresholdCallDoesNotSleep(t *testing.T) {
	counter := NewSleepingErrorCounter(1, 0)
	ctx := context.Background()

	counter.RecordError(ctx, "key")
	counter.multiplier = time.Hour

	start := time.Now()
	counter.RecordError(ctx, "key")
	assert.True(t, counter.IsOverThreshold("key"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestResetRestoresBudget(t *testing.T) {
	unit := 50 * time.Millisecond
	counter := NewSleepingErrorCounter(2, unit)
	ctx := context.Background()

	counter.RecordError(ctx, "key")
	counter.RecordError(ctx, "key")
	counter.RecordError(ctx, "key")
	assert.True(t, counter.IsOverThreshold("key"))

	counter.Reset("key")
	assert.False(t, counter.IsOverThreshold("key"))
	assert.Equal(t, 0, counter.Count("key"))

	start := time.Now()
	assert.Equal(t, 1, counter.RecordError(ctx, "key"))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, unit)
	assert.Less(t, elapsed, 2*unit)
}

func TestResetUnknownKey(t *testing.T) {
	counter := NewSleepingErrorCounter(5, 0)
	counter.Reset("missing")
	assert.Equal(t, 0, counter.Count("missing"))
	assert.False(t, counter.IsOverThreshold("missing"))
}

func TestRecordErrorStopsSleepingOnCancel(t *testing.T) {
	counter := NewSleepingErrorCounter(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.Equal(t, 1, counter.RecordError(ctx, "key"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestKeysAreIndependent(t *testing.T) {
	counter := NewSleepingErrorCounter(3, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			counter.RecordError(ctx, "a")
		}()
		go func() {
			defer wg.Done()
			counter.Count("b")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter.Count("a"))
	assert.Equal(t, 0, counter.Count("b"))
	assert.True(t, counter.IsOverThreshold("a"))
	assert.False(t, counter.IsOverThreshold("b"))
}

func TestCounterDefaults(t *testing.T) {
	counter := NewSleepingErrorCounter(0, -1)
	assert.Equal(t, defaultMaxErrorCount, counter.MaxErrorCount())
	assert.Equal(t, defaultErrorSleepDelay, counter.multiplier)
}

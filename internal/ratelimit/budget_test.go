package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"positionguard/internal/xerr"
)

func smallConfig() Config {
	return Config{
		QuotaPerWindow:           10,
		WindowDuration:           time.Second,
		UtilizationTargetInitial: 1.0,
		UtilizationTargetFloor:   0.4,
		UtilizationTargetCeiling: 1.0,
		ShrinkFactor:             0.8,
		RecoveryWindow:           50 * time.Millisecond,
	}
}

func TestQuotaExhaustedOnZeroTimeoutNoTokens(t *testing.T) {
	cfg := smallConfig()
	cfg.QuotaPerWindow = 0
	b := New(cfg)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := b.Acquire(ctx, High)
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.QuotaExhausted))
}

func TestPriorityOrderingCriticalBeforeLow(t *testing.T) {
	cfg := smallConfig()
	cfg.QuotaPerWindow = 1
	cfg.WindowDuration = time.Hour // refill is negligible during the test
	b := New(cfg)
	b.mu.Lock()
	b.tokens = 0 // drain the bucket to force everything through the queue
	b.mu.Unlock()

	order := make([]string, 0, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Acquire(ctx, Low)
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Acquire(ctx, Critical)
		mu.Lock()
		order = append(order, "critical")
		mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)

	b.mu.Lock()
	b.tokens = 1
	b.mu.Unlock()
	b.dispatch()

	time.Sleep(20 * time.Millisecond)
	b.mu.Lock()
	b.tokens = 1
	b.mu.Unlock()
	b.dispatch()

	wg.Wait()
	require.Len(t, order, 2)
	assert.Equal(t, "critical", order[0])
}

func TestTokenBudgetWithinWindow(t *testing.T) {
	cfg := smallConfig()
	b := New(cfg)
	granted := 0
	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		err := b.Acquire(ctx, Medium)
		cancel()
		if err == nil {
			granted++
		}
	}
	assert.LessOrEqual(t, granted, cfg.QuotaPerWindow)
}

func TestShrinkAndRecover(t *testing.T) {
	cfg := smallConfig()
	b := New(cfg)
	b.RecordRateLimited()
	snap := b.Snapshot()
	assert.Less(t, snap.UtilizationTarget, cfg.UtilizationTargetInitial)

	b.RecordSuccess()
	time.Sleep(cfg.RecoveryWindow + 10*time.Millisecond)
	b.RecordSuccess()
	snap = b.Snapshot()
	assert.Equal(t, cfg.UtilizationTargetCeiling, snap.UtilizationTarget)
}

func TestAcquireCancelReturnsTokenToBucket(t *testing.T) {
	cfg := smallConfig()
	cfg.QuotaPerWindow = 0
	b := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx, Low)
	require.Error(t, err)
	b.mu.Lock()
	assert.Len(t, b.queue, 0)
	b.mu.Unlock()
}

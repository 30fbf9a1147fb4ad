// Package ratelimit implements the Adaptive Rate-Limit Budget: a
// linearly-refilling token bucket gated by a strict-priority waiter queue,
// with utilization_target shrinking under 429 pressure and relaxing back
// during sustained success.
package ratelimit

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"positionguard/internal/xerr"
)

// Priority is strict: Critical always dispatches before High, High before
// Medium, Medium before Low, regardless of arrival order across classes.
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
)

// Config parameterizes the budget.
type Config struct {
	QuotaPerWindow           int
	WindowDuration           time.Duration
	UtilizationTargetInitial float64
	UtilizationTargetFloor   float64
	UtilizationTargetCeiling float64
	ShrinkFactor             float64       // applied on each rate-limit event
	RecoveryWindow           time.Duration // sustained-success duration before relaxing
}

// DefaultConfig returns the standard rate-limiter defaults.
func DefaultConfig() Config {
	return Config{
		QuotaPerWindow:           2000,
		WindowDuration:           30 * time.Second,
		UtilizationTargetInitial: 0.70,
		UtilizationTargetFloor:   0.40,
		UtilizationTargetCeiling: 0.70,
		ShrinkFactor:             0.8,
		RecoveryWindow:           1 * time.Minute,
	}
}

type waiter struct {
	priority Priority
	seq      int64 // FIFO tiebreak within a priority class
	ready    chan struct{}
}

// waiterHeap orders by (priority, seq) — strict priority, FIFO within class.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x any)   { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Budget is the shared rate-limit resource every outbound exchange call
// acquires a token from.
type Budget struct {
	cfg Config

	mu                 sync.Mutex
	tokens             float64
	lastRefill         time.Time
	utilizationTarget  float64
	consecutiveLimited int
	lastLimitedAt      time.Time
	lastSuccessRunFrom time.Time
	queue              waiterHeap
	nextSeq            int64
}

// New constructs a Budget, starting full at the initial utilization target.
func New(cfg Config) *Budget {
	capacity := float64(cfg.QuotaPerWindow) * cfg.UtilizationTargetInitial
	now := time.Now()
	return &Budget{
		cfg:                cfg,
		tokens:             capacity,
		lastRefill:         now,
		utilizationTarget:  cfg.UtilizationTargetInitial,
		lastSuccessRunFrom: now,
	}
}

func (b *Budget) effectiveCapacity() float64 {
	return float64(b.cfg.QuotaPerWindow) * b.utilizationTarget
}

func (b *Budget) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	capacity := b.effectiveCapacity()
	rate := capacity / b.cfg.WindowDuration.Seconds()
	b.tokens += rate * elapsed.Seconds()
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now
}

// Acquire waits for one token at the given priority, honoring ctx's
// deadline. A zero-timeout context (Deadline already passed) with no tokens
// available fails immediately with QuotaExhausted.
func (b *Budget) Acquire(ctx context.Context, p Priority) error {
	b.mu.Lock()
	b.refillLocked()
	if b.tokens >= 1 && len(b.queue) == 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && !deadline.After(time.Now()) {
		b.mu.Unlock()
		return xerr.New(xerr.QuotaExhausted, "no tokens available and deadline already elapsed")
	}

	w := &waiter{priority: p, seq: b.nextSeq, ready: make(chan struct{})}
	b.nextSeq++
	heap.Push(&b.queue, w)
	b.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if !b.removeWaiterLocked(w) {
			// dispatch already popped this waiter and spent a token on it
			// between ctx firing and the lock; return the token so a
			// canceled acquisition never leaks budget.
			b.tokens++
		}
		b.mu.Unlock()
		return xerr.Wrap(xerr.QuotaExhausted, "acquire canceled before a token was available", ctx.Err())
	}
}

func (b *Budget) removeWaiterLocked(target *waiter) bool {
	for i, w := range b.queue {
		if w == target {
			heap.Remove(&b.queue, i)
			return true
		}
	}
	return false
}

// dispatch is driven by the background ticker in Run: it refills tokens and
// wakes the highest-priority waiter(s) it can afford.
func (b *Budget) dispatch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	for b.tokens >= 1 && len(b.queue) > 0 {
		w := heap.Pop(&b.queue).(*waiter)
		b.tokens--
		close(w.ready)
	}
}

// Run drives periodic refill/dispatch until ctx is canceled. Callers start
// this once per Budget at composition-root time.
func (b *Budget) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.dispatch()
		}
	}
}

// RecordRateLimited shrinks utilization_target toward the floor and resets
// the success-run clock. Call this when the exchange returns 429.
func (b *Budget) RecordRateLimited() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveLimited++
	b.lastLimitedAt = time.Now()
	next := b.utilizationTarget * b.cfg.ShrinkFactor
	if next < b.cfg.UtilizationTargetFloor {
		next = b.cfg.UtilizationTargetFloor
	}
	if next != b.utilizationTarget {
		log.Warn().Float64("from", b.utilizationTarget).Float64("to", next).Msg("rate limit event: shrinking utilization target")
	}
	b.utilizationTarget = next
	b.lastSuccessRunFrom = time.Time{}
}

// RecordSuccess marks one successful call. After a sustained success run of
// RecoveryWindow with no rate-limit events, utilization_target relaxes back
// toward the ceiling.
func (b *Budget) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveLimited = 0
	if b.lastSuccessRunFrom.IsZero() {
		b.lastSuccessRunFrom = time.Now()
		return
	}
	if time.Since(b.lastSuccessRunFrom) >= b.cfg.RecoveryWindow && b.utilizationTarget < b.cfg.UtilizationTargetCeiling {
		b.utilizationTarget = b.cfg.UtilizationTargetCeiling
		b.lastSuccessRunFrom = time.Now()
	}
}

// Snapshot is the rate-limit budget's metrics surface.
type Snapshot struct {
	TokensAvailable    float64
	UtilizationTarget  float64
	ConsecutiveLimited int
}

func (b *Budget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Snapshot{
		TokensAvailable:    b.tokens,
		UtilizationTarget:  b.utilizationTarget,
		ConsecutiveLimited: b.consecutiveLimited,
	}
}

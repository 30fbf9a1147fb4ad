// Package retryqueue implements the durable FIFO retry queue for operations
// that must survive a process restart: exponential backoff with jitter, a
// per-operation max retry count before dead-lettering, and startup replay in
// original enqueue order. Its producer is the position manager, which
// enqueues failed position closes; the stop-replace coordinator does not
// enqueue its stop placements or cancellations here.
package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store is the narrow persistence seam this package needs; satisfied by
// *positionguard/internal/storage.Store.
type Store interface {
	PutRaw(bucket, key string, value []byte) error
	GetRaw(bucket, key string) ([]byte, bool, error)
	DeleteRaw(bucket, key string) error
	ForEachRaw(bucket string, fn func(key string, value []byte) error) error
}

// Operation identifies what an entry replays when it comes due. Handlers are
// registered by name so the queue stays payload-agnostic.
type Operation string

// Entry is one durable unit of work.
type Entry struct {
	ID           string          `json:"id"`
	Operation    Operation       `json:"operation"`
	Payload      json.RawMessage `json:"payload"`
	AttemptCount int             `json:"attemptCount"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
	NextAttempt  time.Time       `json:"nextAttempt"`
	DeadLetter   bool            `json:"deadLetter"`
}

// Handler executes one operation's payload, returning an error if the
// attempt failed and should be retried (or dead-lettered, once MaxRetries is
// exhausted).
type Handler func(ctx context.Context, payload json.RawMessage) error

// Config bounds the backoff and retry policy.
type Config struct {
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	JitterFraction float64
	PollInterval   time.Duration
}

// DefaultConfig returns the standard retry-queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     10,
		BackoffBase:    time.Second,
		BackoffCap:     5 * time.Minute,
		JitterFraction: 0.2,
		PollInterval:   time.Second,
	}
}

// DeadLetterSink is notified when an entry exhausts MaxRetries.
type DeadLetterSink func(Entry, error)

// Queue is the durable, exponential-backoff retry queue.
type Queue struct {
	store      Store
	bucket     string
	cfg        Config
	deadLetter DeadLetterSink

	mu       sync.Mutex
	handlers map[Operation]Handler

	onDepthChange func(depth int)
}

// New constructs a Queue backed by store, writing entries into bucket
// (normally storage.RetryQueueBucketName).
func New(store Store, bucket string, cfg Config, deadLetter DeadLetterSink) *Queue {
	return &Queue{
		store:      store,
		bucket:     bucket,
		cfg:        cfg,
		deadLetter: deadLetter,
		handlers:   make(map[Operation]Handler),
	}
}

// OnDepthChange registers a callback fired after every enqueue/dequeue with
// the current pending depth, wired to metrics.RetryQueueDepth in practice.
func (q *Queue) OnDepthChange(fn func(depth int)) { q.onDepthChange = fn }

// RegisterHandler binds an Operation name to the function that replays it.
func (q *Queue) RegisterHandler(op Operation, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[op] = h
}

// Enqueue durably records a new operation for immediate (next poll) attempt.
func (q *Queue) Enqueue(op Operation, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal retry payload: %w", err)
	}
	entry := Entry{
		ID:          uuid.New().String(),
		Operation:   op,
		Payload:     raw,
		EnqueuedAt:  time.Now(),
		NextAttempt: time.Now(),
	}
	if err := q.persist(entry); err != nil {
		return "", err
	}
	q.notifyDepth()
	return entry.ID, nil
}

func (q *Queue) persist(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}
	return q.store.PutRaw(q.bucket, e.ID, data)
}

func (q *Queue) remove(id string) error {
	return q.store.DeleteRaw(q.bucket, id)
}

// loadAll returns every persisted entry ordered by EnqueuedAt ascending, the
// original enqueue order, the order required for replay.
func (q *Queue) loadAll() ([]Entry, error) {
	var entries []Entry
	err := q.store.ForEachRaw(q.bucket, func(_ string, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			log.Warn().Err(err).Msg("skipping malformed retry queue entry")
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt) })
	return entries, nil
}

// Depth returns the number of entries currently pending (not dead-lettered).
func (q *Queue) Depth() int {
	entries, err := q.loadAll()
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.DeadLetter {
			n++
		}
	}
	return n
}

func (q *Queue) notifyDepth() {
	if q.onDepthChange != nil {
		q.onDepthChange(q.Depth())
	}
}

func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BackoffBase * time.Duration(1<<uint(attempt))
	if d > cfg.BackoffCap || d <= 0 {
		d = cfg.BackoffCap
	}
	if cfg.JitterFraction > 0 {
		jitter := float64(d) * cfg.JitterFraction
		delta := (rand.Float64()*2 - 1) * jitter
		d += time.Duration(delta)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Run replays due entries on cfg.PollInterval until ctx is canceled. At
// startup it loads and replays everything already due in enqueue order
// before entering the steady-state poll loop.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	q.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

func (q *Queue) tick(ctx context.Context) {
	entries, err := q.loadAll()
	if err != nil {
		log.Error().Err(err).Msg("retry queue: failed to load entries")
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.DeadLetter || e.NextAttempt.After(now) {
			continue
		}
		q.attempt(ctx, e)
	}
}

func (q *Queue) attempt(ctx context.Context, e Entry) {
	q.mu.Lock()
	h, ok := q.handlers[e.Operation]
	q.mu.Unlock()
	if !ok {
		log.Warn().Str("operation", string(e.Operation)).Msg("retry queue: no handler registered, leaving entry pending")
		return
	}

	err := h(ctx, e.Payload)
	if err == nil {
		if rmErr := q.remove(e.ID); rmErr != nil {
			log.Error().Err(rmErr).Str("id", e.ID).Msg("retry queue: failed to remove completed entry")
		}
		q.notifyDepth()
		return
	}

	e.AttemptCount++
	if e.AttemptCount >= q.cfg.MaxRetries {
		e.DeadLetter = true
		if persistErr := q.persist(e); persistErr != nil {
			log.Error().Err(persistErr).Str("id", e.ID).Msg("retry queue: failed to persist dead-letter entry")
		}
		if q.deadLetter != nil {
			q.deadLetter(e, err)
		}
		log.Error().Err(err).Str("id", e.ID).Str("operation", string(e.Operation)).Msg("retry queue: entry exhausted retries, dead-lettered")
		return
	}

	e.NextAttempt = time.Now().Add(backoff(q.cfg, e.AttemptCount))
	if persistErr := q.persist(e); persistErr != nil {
		log.Error().Err(persistErr).Str("id", e.ID).Msg("retry queue: failed to persist retry state")
	}
	log.Warn().Err(err).Str("id", e.ID).Int("attempt", e.AttemptCount).Time("nextAttempt", e.NextAttempt).Msg("retry queue: attempt failed, backing off")
}

package retryqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) PutRaw(bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[bucket+"/"+key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) GetRaw(bucket, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[bucket+"/"+key]
	return v, ok, nil
}

func (m *memStore) DeleteRaw(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, bucket+"/"+key)
	return nil
}

func (m *memStore) ForEachRaw(bucket string, fn func(key string, value []byte) error) error {
	m.mu.Lock()
	type kv struct {
		k string
		v []byte
	}
	var all []kv
	prefix := bucket + "/"
	for k, v := range m.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			all = append(all, kv{k[len(prefix):], v})
		}
	}
	m.mu.Unlock()
	for _, e := range all {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

func TestEnqueueAndSucceedRemovesEntry(t *testing.T) {
	store := newMemStore()
	cfg := DefaultConfig()
	cfg.PollInterval = 2 * time.Millisecond
	q := New(store, "retry_queue", cfg, nil)

	var mu sync.Mutex
	var handled int
	q.RegisterHandler("noop", func(ctx context.Context, payload json.RawMessage) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	id, err := q.Enqueue("noop", map[string]string{"x": "1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, q.Depth())

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && q.Depth() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, q.Depth())
	mu.Lock()
	assert.GreaterOrEqual(t, handled, 1)
	mu.Unlock()
}

func TestExhaustionDeadLetters(t *testing.T) {
	store := newMemStore()
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 2 * time.Millisecond
	cfg.PollInterval = time.Millisecond

	var dlCalled bool
	var mu sync.Mutex
	q := New(store, "retry_queue", cfg, func(e Entry, err error) {
		mu.Lock()
		dlCalled = true
		mu.Unlock()
	})
	q.RegisterHandler("always_fail", func(ctx context.Context, payload json.RawMessage) error {
		return assertErr
	})

	_, err := q.Enqueue("always_fail", map[string]string{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := dlCalled
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, dlCalled)
}

var assertErr = fmtError("handler always fails")

type fmtError string

func (e fmtError) Error() string { return string(e) }

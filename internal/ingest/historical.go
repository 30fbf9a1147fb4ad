package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HistoricalFetcher pulls a bounded run of historical OHLC candles for a
// symbol/timeframe, oldest first. Implemented by internal/exchange's REST
// client in production and a fake in tests.
type HistoricalFetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

type historicalKey struct {
	Symbol    string
	Timeframe string
	Limit     int
}

type historicalEntry struct {
	candles   []Candle
	fetchedAt time.Time
}

// HistoricalCache wraps a HistoricalFetcher with a size-bounded LRU cache and
// a TTL, so repeated indicator warm-up requests for the same (symbol,
// timeframe, limit) during one polling interval don't re-hit the exchange.
type HistoricalCache struct {
	fetcher HistoricalFetcher
	ttl     time.Duration

	mu    sync.Mutex
	cache *lru.Cache[historicalKey, historicalEntry]
}

// NewHistoricalCache builds a cache holding up to size distinct
// (symbol, timeframe, limit) entries, each valid for ttl.
func NewHistoricalCache(fetcher HistoricalFetcher, size int, ttl time.Duration) (*HistoricalCache, error) {
	c, err := lru.New[historicalKey, historicalEntry](size)
	if err != nil {
		return nil, fmt.Errorf("build historical lru cache: %w", err)
	}
	return &HistoricalCache{fetcher: fetcher, ttl: ttl, cache: c}, nil
}

// Get returns cached candles if present and unexpired, otherwise fetches,
// caches, and returns a fresh run.
func (h *HistoricalCache) Get(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	key := historicalKey{Symbol: symbol, Timeframe: timeframe, Limit: limit}

	h.mu.Lock()
	entry, ok := h.cache.Get(key)
	h.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < h.ttl {
		out := make([]Candle, len(entry.candles))
		copy(out, entry.candles)
		return out, nil
	}

	candles, err := h.fetcher.FetchCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.cache.Add(key, historicalEntry{candles: candles, fetchedAt: time.Now()})
	h.mu.Unlock()

	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// Purge evicts every cached entry, forcing the next Get to hit the fetcher.
func (h *HistoricalCache) Purge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Purge()
}

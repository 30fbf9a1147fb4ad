package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   int
	candles []Candle
}

func (f *fakeFetcher) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	f.calls++
	return f.candles, nil
}

func TestHistoricalCacheServesFromCacheWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{candles: []Candle{{Symbol: "BTCUSDT", OpenTimeMs: 1, Close: 100}}}
	cache, err := NewHistoricalCache(fetcher, 8, time.Minute)
	require.NoError(t, err)

	first, err := cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.calls)
}

func TestHistoricalCacheRefetchesAfterTTLExpires(t *testing.T) {
	fetcher := &fakeFetcher{candles: []Candle{{Symbol: "BTCUSDT", OpenTimeMs: 1, Close: 100}}}
	cache, err := NewHistoricalCache(fetcher, 8, time.Millisecond)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestHistoricalCacheDistinguishesKeys(t *testing.T) {
	fetcher := &fakeFetcher{candles: []Candle{{Symbol: "BTCUSDT", OpenTimeMs: 1, Close: 100}}}
	cache, err := NewHistoricalCache(fetcher, 8, time.Minute)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "BTCUSDT", "5m", 50)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
}

func TestHistoricalCachePurgeForcesRefetch(t *testing.T) {
	fetcher := &fakeFetcher{candles: []Candle{{Symbol: "BTCUSDT", OpenTimeMs: 1, Close: 100}}}
	cache, err := NewHistoricalCache(fetcher, 8, time.Minute)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)
	cache.Purge()
	_, err = cache.Get(context.Background(), "BTCUSDT", "1m", 50)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
}

package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushAppendsUntilCapacity(t *testing.T) {
	r := NewRing(3)
	r.Push(Candle{OpenTimeMs: 1, Close: 10})
	r.Push(Candle{OpenTimeMs: 2, Close: 20})

	require.Equal(t, 2, r.Len())
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, int64(2), last.OpenTimeMs)
}

func TestRingPushEvictsOldestWhenFull(t *testing.T) {
	r := NewRing(2)
	r.Push(Candle{OpenTimeMs: 1, Close: 10})
	r.Push(Candle{OpenTimeMs: 2, Close: 20})
	r.Push(Candle{OpenTimeMs: 3, Close: 30})

	require.Equal(t, 2, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(2), snap[0].OpenTimeMs)
	assert.Equal(t, int64(3), snap[1].OpenTimeMs)
}

func TestRingPushReplacesSameTimestamp(t *testing.T) {
	r := NewRing(3)
	r.Push(Candle{OpenTimeMs: 1, Close: 10})
	r.Push(Candle{OpenTimeMs: 2, Close: 20})
	r.Push(Candle{OpenTimeMs: 1, Close: 15})

	require.Equal(t, 2, r.Len())
	snap := r.Snapshot()
	assert.Equal(t, 15.0, snap[0].Close)
}

func TestRingLastEmpty(t *testing.T) {
	r := NewRing(2)
	_, ok := r.Last()
	assert.False(t, ok)
}

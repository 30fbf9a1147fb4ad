package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(ts int64, o, h, l, c, v float64) Candle {
	return Candle{TimestampMs: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func feedRising(t *testing.T, e Engine, n int, start, step float64) {
	t.Helper()
	price := start
	for i := 0; i < n; i++ {
		e.Update(candle(int64(i), price, price+1, price-1, price, 10))
		price += step
	}
}

func TestRSIZeroAverageLossReturns100(t *testing.T) {
	r := NewRSI(14)
	feedRising(t, r, 20, 100, 1) // strictly rising: avg_loss stays 0
	v, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestWilliamsRFlatRangeReturnsZero(t *testing.T) {
	w := NewWilliamsR(5)
	for i := 0; i < 10; i++ {
		w.Update(candle(int64(i), 100, 100, 100, 100, 1))
	}
	v, ok := w.Value()
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestMACDWarmsUpWithMeanSeed(t *testing.T) {
	m := NewMACD(3, 6, 2)
	for i := 0; i < 20; i++ {
		m.Update(candle(int64(i), 100, 101, 99, 100+float64(i), 1))
	}
	_, ok := m.Value()
	assert.True(t, ok)
	// Mean-seeded EMAs track a linear ramp with no seed error: fast(3) lags
	// by 1, slow(6) by 2.5, so the MACD line is exactly 1.5.
	line, ok := m.MACDLine()
	require.True(t, ok)
	assert.InDelta(t, 1.5, line, 1e-9)
}

func TestAOFlatMedianReturnsZero(t *testing.T) {
	ao := NewAO()
	for i := 0; i < 40; i++ {
		ao.Update(candle(int64(i), 100, 101, 99, 100, 1))
	}
	v, ok := ao.Value()
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-9)
}

func TestKDJJMayExceedRange(t *testing.T) {
	k := NewKDJ(3, 3, 3)
	// A falling run closing on the window low pins RSV, K and D at 0.
	for i := 0; i < 10; i++ {
		p := 100 - float64(i)
		k.Update(candle(int64(i), p, p+1, p-1, p-1, 1))
	}
	// Two bars closing on the window high (RSV 100): K = 500/9 rises faster
	// than D = 800/27, so J = 3K - 2D = 2900/27, about 107.4.
	for i := 10; i < 12; i++ {
		h := 200 + float64(i)
		k.Update(candle(int64(i), 200, h, 150, h, 1))
	}
	v, ok := k.Value()
	require.True(t, ok)
	assert.Greater(t, v, 100.0)
	assert.InDelta(t, 2900.0/27, v, 1e-9)
}

func TestOBVDirectionSigned(t *testing.T) {
	o := NewOBV(5, 0)
	o.Update(candle(0, 100, 101, 99, 100, 10))
	o.Update(candle(1, 100, 102, 99, 105, 10)) // up -> +10
	assert.Equal(t, 10.0, o.Level())
	o.Update(candle(2, 105, 106, 95, 95, 5)) // down -> -5
	assert.Equal(t, 5.0, o.Level())
	o.Update(candle(3, 95, 96, 94, 95, 3)) // unchanged -> no change
	assert.Equal(t, 5.0, o.Level())
}

func TestADXWarmsUp(t *testing.T) {
	a := NewADX(14)
	price := 100.0
	for i := 0; i < 60; i++ {
		a.Update(candle(int64(i), price, price+2, price-1, price+1, 1))
		price += 1
	}
	v, ok := a.Value()
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)
}

// The monotonic-deque extremes must agree with a naive full-window scan on
// an adversarial up-down-repeat sequence.
func TestExtremaRingMatchesNaiveScan(t *testing.T) {
	const period = 7
	hi := newExtremaRing(period, true)
	lo := newExtremaRing(period, false)

	seq := []float64{5, 3, 8, 8, 1, 9, 2, 2, 7, 4, 10, 0, 6, 6, 3, 11, 1}
	for i, v := range seq {
		hi.push(v)
		lo.push(v)
		if i+1 < period {
			assert.False(t, hi.full())
			continue
		}
		window := seq[i+1-period : i+1]
		wantMax, wantMin := window[0], window[0]
		for _, w := range window[1:] {
			if w > wantMax {
				wantMax = w
			}
			if w < wantMin {
				wantMin = w
			}
		}
		require.True(t, hi.full())
		assert.Equal(t, wantMax, hi.value(), "max at i=%d", i)
		assert.Equal(t, wantMin, lo.value(), "min at i=%d", i)
	}
}

// Round-trip property: snapshot -> restore -> one update ->
// value equals one update -> value against the same live state.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	engines := []func() Engine{
		func() Engine { return NewRSI(14) },
		func() Engine { return NewMACD(12, 26, 9) },
		func() Engine { return NewWilliamsR(14) },
		func() Engine { return NewAO() },
		func() Engine { return NewKDJ(9, 3, 3) },
		func() Engine { return NewOBV(20, 5) },
		func() Engine { return NewADX(14) },
	}

	for _, factory := range engines {
		live := factory()
		twin := factory()

		price := 100.0
		for i := 0; i < 50; i++ {
			c := candle(int64(i), price, price+2, price-1, price+1, float64(10+i%5))
			live.Update(c)
			twin.Update(c)
			price += 0.3
		}

		snap := live.Snapshot()
		restored := factory()
		restored.Restore(snap)

		next := candle(50, price, price+2, price-1, price+1.5, 11)
		live.Update(next)
		restored.Update(next)

		liveVal, liveOK := live.Value()
		restoredVal, restoredOK := restored.Value()
		assert.Equal(t, liveOK, restoredOK)
		assert.InDelta(t, liveVal, restoredVal, 1e-9)
		_ = twin
	}
}

package indicator

// WilliamsR computes Williams %R over the trailing `period` bars:
// (maxHigh - close) / (maxHigh - minLow) * -100. A flat range returns 0.
// The rolling high/low extremes come from monotonic deques, so each update
// is O(1) amortized rather than a full-window rescan.
type WilliamsR struct {
	period int
	highs  *extremaRing
	lows   *extremaRing
	last   float64
	warmed bool
}

func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{
		period: period,
		highs:  newExtremaRing(period, true),
		lows:   newExtremaRing(period, false),
	}
}

func (w *WilliamsR) Update(c Candle) {
	w.highs.push(c.High)
	w.lows.push(c.Low)
	if !w.highs.full() {
		return
	}
	maxHigh := w.highs.value()
	minLow := w.lows.value()
	rng := maxHigh - minLow
	if rng == 0 {
		w.last = 0
	} else {
		w.last = (maxHigh - c.Close) / rng * -100
	}
	w.warmed = true
}

func (w *WilliamsR) Value() (float64, bool) { return w.last, w.warmed }

// Period reports the lookback window length.
func (w *WilliamsR) Period() int { return w.period }

func (w *WilliamsR) Reset() {
	w.highs.reset()
	w.lows.reset()
	w.last, w.warmed = 0, false
}

type williamsState struct {
	Highs, Lows extremaRingState
	Last        float64
	Warmed      bool
}

func (w *WilliamsR) Snapshot() State {
	return williamsState{Highs: w.highs.snapshot(), Lows: w.lows.snapshot(), Last: w.last, Warmed: w.warmed}
}

func (w *WilliamsR) Restore(s State) {
	st, ok := s.(williamsState)
	if !ok {
		return
	}
	w.highs.restore(st.Highs)
	w.lows.restore(st.Lows)
	w.last, w.warmed = st.Last, st.Warmed
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

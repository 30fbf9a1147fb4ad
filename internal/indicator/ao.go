package indicator

// AO is the Awesome Oscillator: SMA(5) - SMA(34) of the median price
// (high+low)/2. Undefined until the slow (34-period) window fills.
type AO struct {
	fast, slow *sumRing
	last       float64
	warmed     bool
}

func NewAO() *AO {
	return &AO{fast: newSumRing(5), slow: newSumRing(34)}
}

func (a *AO) Update(c Candle) {
	median := (c.High + c.Low) / 2
	a.fast.push(median)
	a.slow.push(median)
	if !a.slow.full() {
		return
	}
	a.last = a.fast.mean() - a.slow.mean()
	a.warmed = true
}

func (a *AO) Value() (float64, bool) { return a.last, a.warmed }

// Periods reports the fast and slow SMA window lengths.
func (a *AO) Periods() (fast, slow int) { return a.fast.cap, a.slow.cap }

func (a *AO) Reset() {
	a.fast.reset()
	a.slow.reset()
	a.last, a.warmed = 0, false
}

type aoState struct {
	Fast, Slow sumRingState
	Last       float64
	Warmed     bool
}

func (a *AO) Snapshot() State {
	return aoState{Fast: a.fast.snapshot(), Slow: a.slow.snapshot(), Last: a.last, Warmed: a.warmed}
}

func (a *AO) Restore(s State) {
	st, ok := s.(aoState)
	if !ok {
		return
	}
	a.fast.restore(st.Fast)
	a.slow.restore(st.Slow)
	a.last, a.warmed = st.Last, st.Warmed
}

package indicator

// KDJ computes the stochastic RSV over `period` bars, a Wilder-style
// smoothing of RSV into K (factor kPeriod), an SMA of K into D (window
// dPeriod), and J = 3K - 2D. J may exceed [0,100]. The RSV high/low range
// comes from monotonic deques, O(1) amortized per update.
type KDJ struct {
	period, kPeriod, dPeriod int

	highs, lows *extremaRing
	dWindow     *sumRing

	kWarmed bool
	k       float64
	dWarmed bool
	d       float64
	j       float64
	warmed  bool
}

func NewKDJ(period, kPeriod, dPeriod int) *KDJ {
	return &KDJ{
		period: period, kPeriod: kPeriod, dPeriod: dPeriod,
		highs:   newExtremaRing(period, true),
		lows:    newExtremaRing(period, false),
		dWindow: newSumRing(dPeriod),
	}
}

func (k *KDJ) Update(c Candle) {
	k.highs.push(c.High)
	k.lows.push(c.Low)
	if !k.highs.full() {
		return
	}
	maxHigh := k.highs.value()
	minLow := k.lows.value()
	rng := maxHigh - minLow
	rsv := 50.0
	if rng != 0 {
		rsv = (c.Close - minLow) / rng * 100
	}

	if !k.kWarmed {
		k.k = rsv
		k.kWarmed = true
	} else {
		kp := float64(k.kPeriod)
		k.k = (k.k*(kp-1) + rsv) / kp
	}

	k.dWindow.push(k.k)
	if k.dWindow.full() {
		k.d = k.dWindow.mean()
		k.dWarmed = true
	}

	if k.dWarmed {
		k.j = 3*k.k - 2*k.d
		k.warmed = true
	}
}

// Value returns J, the headline figure used for signal scoring.
func (k *KDJ) Value() (float64, bool) { return k.j, k.warmed }

// Periods reports the RSV lookback, K smoothing factor, and D SMA window.
func (k *KDJ) Periods() (period, kPeriod, dPeriod int) {
	return k.period, k.kPeriod, k.dPeriod
}

func (k *KDJ) K() (float64, bool) { return k.k, k.kWarmed }
func (k *KDJ) D() (float64, bool) { return k.d, k.dWarmed }

func (k *KDJ) Reset() {
	k.highs.reset()
	k.lows.reset()
	k.dWindow.reset()
	k.kWarmed, k.k, k.dWarmed, k.d, k.j, k.warmed = false, 0, false, 0, 0, false
}

type kdjState struct {
	Highs, Lows extremaRingState
	DWindow     sumRingState
	KWarmed     bool
	K           float64
	DWarmed     bool
	D           float64
	J           float64
	Warmed      bool
}

func (k *KDJ) Snapshot() State {
	return kdjState{
		Highs: k.highs.snapshot(), Lows: k.lows.snapshot(), DWindow: k.dWindow.snapshot(),
		KWarmed: k.kWarmed, K: k.k, DWarmed: k.dWarmed, D: k.d, J: k.j, Warmed: k.warmed,
	}
}

func (k *KDJ) Restore(s State) {
	st, ok := s.(kdjState)
	if !ok {
		return
	}
	k.highs.restore(st.Highs)
	k.lows.restore(st.Lows)
	k.dWindow.restore(st.DWindow)
	k.kWarmed, k.k, k.dWarmed, k.d, k.j, k.warmed = st.KWarmed, st.K, st.DWarmed, st.D, st.J, st.Warmed
}

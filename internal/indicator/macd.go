package indicator

// ema is a single exponential moving average with mean-seeded warm-up:
// the first `period` samples are averaged arithmetically to produce the
// initial value, matching standard charting packages rather
// than seeding from the first sample.
type ema struct {
	period int
	alpha  float64

	count  int
	sum    float64
	warmed bool
	value  float64
}

func newEMA(period int) *ema {
	return &ema{period: period, alpha: 2.0 / (float64(period) + 1.0)}
}

func (e *ema) update(x float64) {
	if !e.warmed {
		e.sum += x
		e.count++
		if e.count == e.period {
			e.value = e.sum / float64(e.period)
			e.warmed = true
		}
		return
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
}

type emaState struct {
	Count  int
	Sum    float64
	Warmed bool
	Value  float64
}

func (e *ema) snapshot() emaState {
	return emaState{Count: e.count, Sum: e.sum, Warmed: e.warmed, Value: e.value}
}

func (e *ema) restore(s emaState) {
	e.count, e.sum, e.warmed, e.value = s.Count, s.Sum, s.Warmed, s.Value
}

// MACD computes the fast/slow EMA spread, a signal EMA of that spread, and
// their difference (the histogram).
type MACD struct {
	fastPeriod, slowPeriod, signalPeriod int

	fast   *ema
	slow   *ema
	signal *ema

	haveMACD  bool
	macdLine  float64
	histogram float64
}

// NewMACD constructs a MACD engine, e.g. NewMACD(12, 26, 9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fastPeriod: fastPeriod, slowPeriod: slowPeriod, signalPeriod: signalPeriod,
		fast: newEMA(fastPeriod), slow: newEMA(slowPeriod), signal: newEMA(signalPeriod),
	}
}

func (m *MACD) Update(c Candle) {
	m.fast.update(c.Close)
	m.slow.update(c.Close)
	if !m.fast.warmed || !m.slow.warmed {
		return
	}
	m.macdLine = m.fast.value - m.slow.value
	m.haveMACD = true
	m.signal.update(m.macdLine)
	if m.signal.warmed {
		m.histogram = m.macdLine - m.signal.value
	}
}

// Value returns the histogram (MACD - signal), the composite figure the
// signal generator scores on.
func (m *MACD) Value() (float64, bool) {
	if !m.signal.warmed {
		return 0, false
	}
	return m.histogram, true
}

// MACDLine returns the raw fast-slow spread once both EMAs have warmed, even
// before the signal line itself has warmed.
func (m *MACD) MACDLine() (float64, bool) { return m.macdLine, m.haveMACD }

// SignalLine returns the signal EMA value.
func (m *MACD) SignalLine() (float64, bool) { return m.signal.value, m.signal.warmed }

// Periods reports the fast, slow, and signal EMA periods.
func (m *MACD) Periods() (fast, slow, signalPeriod int) {
	return m.fastPeriod, m.slowPeriod, m.signalPeriod
}

func (m *MACD) Reset() {
	*m = *NewMACD(m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

type macdState struct {
	Fast, Slow, Signal  emaState
	HaveMACD            bool
	MACDLine, Histogram float64
}

func (m *MACD) Snapshot() State {
	return macdState{
		Fast: m.fast.snapshot(), Slow: m.slow.snapshot(), Signal: m.signal.snapshot(),
		HaveMACD: m.haveMACD, MACDLine: m.macdLine, Histogram: m.histogram,
	}
}

func (m *MACD) Restore(s State) {
	st, ok := s.(macdState)
	if !ok {
		return
	}
	m.fast.restore(st.Fast)
	m.slow.restore(st.Slow)
	m.signal.restore(st.Signal)
	m.haveMACD, m.macdLine, m.histogram = st.HaveMACD, st.MACDLine, st.Histogram
}

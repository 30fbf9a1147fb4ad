package indicator

// OBV is On-Balance Volume: cumulative volume signed by close-to-close
// direction (unchanged close contributes no change). Slope is computed over
// a trailing window as a normalized end-to-end difference; an optional EMA
// smooths the raw OBV line.
type OBV struct {
	slopeWindow  int
	smoothPeriod int

	havePrev  bool
	prevClose float64
	obv       float64

	window *ring
	smooth *ema

	slope  float64
	warmed bool
}

// NewOBV constructs an OBV engine. smoothPeriod of 0 disables EMA smoothing.
func NewOBV(slopeWindow, smoothPeriod int) *OBV {
	o := &OBV{slopeWindow: slopeWindow, smoothPeriod: smoothPeriod, window: newRing(slopeWindow)}
	if smoothPeriod > 0 {
		o.smooth = newEMA(smoothPeriod)
	}
	return o
}

func (o *OBV) Update(c Candle) {
	if !o.havePrev {
		o.prevClose = c.Close
		o.havePrev = true
		return
	}
	switch {
	case c.Close > o.prevClose:
		o.obv += c.Volume
	case c.Close < o.prevClose:
		o.obv -= c.Volume
	}
	o.prevClose = c.Close

	if o.smooth != nil {
		o.smooth.update(o.obv)
	}

	o.window.push(o.obv)
	if !o.window.full() {
		return
	}
	oldest, newest := o.window.oldest(), o.window.newest()
	magnitude := absF(newest)
	if magnitude == 0 {
		magnitude = 1e-9
	}
	o.slope = (newest - oldest) / magnitude
	o.warmed = true
}

// Value returns the OBV slope, the headline figure consumed by the signal
// generator.
func (o *OBV) Value() (float64, bool) { return o.slope, o.warmed }

// Period reports the slope lookback window length.
func (o *OBV) Period() int { return o.slopeWindow }

// Level returns the raw (or EMA-smoothed, if configured) OBV line.
func (o *OBV) Level() float64 {
	if o.smooth != nil && o.smooth.warmed {
		return o.smooth.value
	}
	return o.obv
}

func (o *OBV) Reset() {
	*o = *NewOBV(o.slopeWindow, o.smoothPeriod)
}

type obvState struct {
	HavePrev  bool
	PrevClose float64
	OBV       float64
	Window    ringState
	Smooth    *emaState
	Slope     float64
	Warmed    bool
}

func (o *OBV) Snapshot() State {
	st := obvState{
		HavePrev: o.havePrev, PrevClose: o.prevClose, OBV: o.obv,
		Window: o.window.snapshot(), Slope: o.slope, Warmed: o.warmed,
	}
	if o.smooth != nil {
		s := o.smooth.snapshot()
		st.Smooth = &s
	}
	return st
}

func (o *OBV) Restore(s State) {
	st, ok := s.(obvState)
	if !ok {
		return
	}
	o.havePrev, o.prevClose, o.obv = st.HavePrev, st.PrevClose, st.OBV
	o.window.restore(st.Window)
	o.slope, o.warmed = st.Slope, st.Warmed
	if st.Smooth != nil && o.smooth != nil {
		o.smooth.restore(*st.Smooth)
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

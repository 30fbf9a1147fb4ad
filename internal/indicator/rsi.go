package indicator

// RSI is a Wilder-smoothed Relative Strength Index. Warm-up requires
// period+1 closes: the first `period` up/down moves seed avg_gain/avg_loss
// as simple averages; every move thereafter folds in with Wilder smoothing.
type RSI struct {
	period int

	havePrev  bool
	prevClose float64

	movesSeen int
	sumGain   float64
	sumLoss   float64

	warmed  bool
	avgGain float64
	avgLoss float64
	lastRSI float64
}

// NewRSI constructs an RSI engine for the given period (e.g. 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Update(c Candle) {
	if !r.havePrev {
		r.prevClose = c.Close
		r.havePrev = true
		return
	}

	delta := c.Close - r.prevClose
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else if delta < 0 {
		loss = -delta
	}
	r.prevClose = c.Close

	switch {
	case !r.warmed && r.movesSeen < r.period:
		r.sumGain += gain
		r.sumLoss += loss
		r.movesSeen++
		if r.movesSeen == r.period {
			r.avgGain = r.sumGain / float64(r.period)
			r.avgLoss = r.sumLoss / float64(r.period)
			r.warmed = true
			r.lastRSI = r.computeRSI()
		}
	case r.warmed:
		n := float64(r.period)
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
		r.lastRSI = r.computeRSI()
	}
}

func (r *RSI) computeRSI() float64 {
	if r.avgLoss == 0 {
		return 100
	}
	if r.avgGain == 0 {
		return 0
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

func (r *RSI) Value() (float64, bool) {
	if !r.warmed {
		return 0, false
	}
	return r.lastRSI, true
}

// Period reports the configured smoothing period; warm-up needs period+1
// closes.
func (r *RSI) Period() int { return r.period }

func (r *RSI) Reset() { *r = RSI{period: r.period} }

type rsiState struct {
	HavePrev  bool
	PrevClose float64
	MovesSeen int
	SumGain   float64
	SumLoss   float64
	Warmed    bool
	AvgGain   float64
	AvgLoss   float64
	LastRSI   float64
}

func (r *RSI) Snapshot() State {
	return rsiState{
		HavePrev: r.havePrev, PrevClose: r.prevClose,
		MovesSeen: r.movesSeen, SumGain: r.sumGain, SumLoss: r.sumLoss,
		Warmed: r.warmed, AvgGain: r.avgGain, AvgLoss: r.avgLoss, LastRSI: r.lastRSI,
	}
}

func (r *RSI) Restore(s State) {
	st, ok := s.(rsiState)
	if !ok {
		return
	}
	r.havePrev, r.prevClose = st.HavePrev, st.PrevClose
	r.movesSeen, r.sumGain, r.sumLoss = st.MovesSeen, st.SumGain, st.SumLoss
	r.warmed, r.avgGain, r.avgLoss, r.lastRSI = st.Warmed, st.AvgGain, st.AvgLoss, st.LastRSI
}

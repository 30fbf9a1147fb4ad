package indicator

// extremaRing tracks the maximum or minimum of the trailing `period`
// samples in O(1) amortized time per push: a monotonic deque of
// (index, value) pairs whose front is always the current extreme, so the
// windowed engines never rescan their whole window on update.
type extremaRing struct {
	period int
	isMax  bool

	idx  []int64
	vals []float64
	seen int64
}

func newExtremaRing(period int, isMax bool) *extremaRing {
	return &extremaRing{period: period, isMax: isMax}
}

func (e *extremaRing) dominates(candidate, incumbent float64) bool {
	if e.isMax {
		return candidate >= incumbent
	}
	return candidate <= incumbent
}

func (e *extremaRing) push(v float64) {
	for n := len(e.vals); n > 0 && e.dominates(v, e.vals[n-1]); n = len(e.vals) {
		e.idx = e.idx[:n-1]
		e.vals = e.vals[:n-1]
	}
	e.idx = append(e.idx, e.seen)
	e.vals = append(e.vals, v)
	e.seen++
	if e.idx[0] < e.seen-int64(e.period) {
		e.idx = e.idx[1:]
		e.vals = e.vals[1:]
	}
}

func (e *extremaRing) full() bool { return e.seen >= int64(e.period) }

// value returns the extreme of the current window; meaningless before full.
func (e *extremaRing) value() float64 {
	if len(e.vals) == 0 {
		return 0
	}
	return e.vals[0]
}

func (e *extremaRing) reset() {
	e.idx, e.vals, e.seen = nil, nil, 0
}

type extremaRingState struct {
	Idx  []int64
	Vals []float64
	Seen int64
}

func (e *extremaRing) snapshot() extremaRingState {
	idx := make([]int64, len(e.idx))
	copy(idx, e.idx)
	vals := make([]float64, len(e.vals))
	copy(vals, e.vals)
	return extremaRingState{Idx: idx, Vals: vals, Seen: e.seen}
}

func (e *extremaRing) restore(s extremaRingState) {
	e.idx = make([]int64, len(s.Idx))
	copy(e.idx, s.Idx)
	e.vals = make([]float64, len(s.Vals))
	copy(e.vals, s.Vals)
	e.seen = s.Seen
}

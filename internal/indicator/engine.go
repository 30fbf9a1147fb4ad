// Package indicator implements the stateful, O(1)-per-update streaming
// technical indicators whose readings feed the signal generator in both the
// live engine and the simulator. Every engine is deterministic and serializable so that backtest and
// live runs agree bit-for-bit.
package indicator

// Candle is a closed OHLCV bar. TimestampMs is a UTC millisecond timestamp.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Engine is the capability set every indicator implements.
type Engine interface {
	// Update advances state by one closed candle.
	Update(c Candle)
	// Value returns the latest computed output and whether warm-up has
	// completed. Before warm-up, ok is false and value is meaningless.
	Value() (value float64, ok bool)
	// Reset clears all state back to construction-time defaults.
	Reset()
	// Snapshot captures enough state to resume updates without reprocessing
	// history.
	Snapshot() State
	// Restore replaces current state with a previously captured snapshot.
	Restore(State)
}

// State is an opaque, engine-specific serializable record. Each concrete
// engine defines its own concrete state struct; State is the common
// interface{} alias used by the Engine contract.
type State = any

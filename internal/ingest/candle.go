// Package ingest implements market-data ingestion: a reconnecting WebSocket
// candle stream per (symbol, timeframe) with a bounded ring buffer, and a
// TTL+LRU cache over historical OHLC pulls.
package ingest

import "positionguard/internal/indicator"

// Candle is one OHLCV bar for a specific symbol and timeframe. Closed is
// false for the still-forming bar some exchanges stream tick-by-tick;
// indicator engines and the signal generator only ever observe Closed
// candles: exactly one event per closed candle.
type Candle struct {
	Symbol     string
	Timeframe  string
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Closed     bool
}

// ToIndicatorCandle projects a Candle into the shape internal/indicator
// engines consume.
func (c Candle) ToIndicatorCandle() indicator.Candle {
	return indicator.Candle{
		TimestampMs: c.OpenTimeMs,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
	}
}

// Key identifies one (symbol, timeframe) stream.
type Key struct {
	Symbol    string
	Timeframe string
}

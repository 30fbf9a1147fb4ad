package simulator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CandleLoader holds a chronologically-sorted run of candles ready for
// Engine.Run. CSV and JSON are the only replay sources: this module does not
// persist market history beyond the bounded ring buffer internal/ingest
// already provides.
type CandleLoader struct {
	Candles []Candle
}

// LoadFromCSV reads a candle run from a CSV file with a header row
// containing at least timestamp, open, high, low, close, and optionally
// volume. Timestamps are parsed as "2006-01-02 15:04:05" UTC.
func LoadFromCSV(filePath string) (*CandleLoader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}

	var candles []Candle
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		ts, err := time.Parse("2006-01-02 15:04:05", record[idx["timestamp"]])
		if err != nil {
			continue
		}
		candles = append(candles, Candle{
			TimestampMs: ts.UnixMilli(),
			Open:        parseFloatOr(record, idx, "open", 0),
			High:        parseFloatOr(record, idx, "high", 0),
			Low:         parseFloatOr(record, idx, "low", 0),
			Close:       parseFloatOr(record, idx, "close", 0),
			Volume:      parseFloatOr(record, idx, "volume", 0),
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].TimestampMs < candles[j].TimestampMs })
	log.Info().Str("file", filePath).Int("candles", len(candles)).Msg("loaded candle run from CSV")
	return &CandleLoader{Candles: candles}, nil
}

// LoadFromJSON reads a candle run previously written by scripts/collect_historical_data.go.
func LoadFromJSON(filePath string) (*CandleLoader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}
	defer file.Close()

	var candles []Candle
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&candles); err != nil {
		return nil, fmt.Errorf("decode json candle run: %w", err)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].TimestampMs < candles[j].TimestampMs })
	log.Info().Str("file", filePath).Int("candles", len(candles)).Msg("loaded candle run from JSON")
	return &CandleLoader{Candles: candles}, nil
}

func parseFloatOr(record []string, idx map[string]int, col string, def float64) float64 {
	i, ok := idx[col]
	if !ok || i >= len(record) {
		return def
	}
	v, err := strconv.ParseFloat(record[i], 64)
	if err != nil {
		return def
	}
	return v
}

// Command collect_historical_data pulls the most recent OHLC candles from the
// exchange's REST kline endpoint and writes one JSON candle run per symbol
// under the configured data path for internal/simulator to replay later.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"positionguard/internal/cfg"
	"positionguard/internal/exchange"
	"positionguard/internal/metrics"
	"positionguard/internal/ratelimit"
	"positionguard/internal/simulator"
)

func main() {
	var (
		symbols   = flag.String("symbols", "", "Comma-separated symbols to collect (overrides config)")
		days      = flag.Int("days", 30, "Number of days of history to collect")
		interval  = flag.String("interval", "1h", "Kline interval (1m, 5m, 15m, 1h, 4h, 1d)")
		dataPath  = flag.String("data", "", "Output directory for candle run files (overrides config)")
		pageLimit = flag.Int("page-limit", 1000, "Candles requested per page")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	settings, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	symbolList := settings.System.Symbols
	if *symbols != "" {
		symbolList = parseSymbols(*symbols)
	}
	if len(symbolList) == 0 {
		log.Fatal().Msg("no symbols specified")
	}

	outDir := settings.System.DataPath
	if *dataPath != "" {
		outDir = *dataPath
	}
	if outDir == "" {
		outDir = "data"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create output directory")
	}

	budget := ratelimit.New(settings.RateLimitConfig())
	wrapper := metrics.NewWrapper(metrics.New(prometheus.NewRegistry()))
	client := exchange.New(settings.Key, settings.Secret, settings.System.BaseURL, settings.RequestTimeout(), budget, wrapper)

	stepMs := intervalMs(*interval)
	spanMs := int64(*days) * 24 * 60 * 60 * 1000
	wantCandles := int(spanMs / stepMs)

	ctx := context.Background()
	for _, symbol := range symbolList {
		candles, err := collect(ctx, client, symbol, *interval, wantCandles, *pageLimit)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("failed to collect candles")
			continue
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.json", symbol, *interval))
		if err := writeCandleRun(outPath, candles); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("failed to write candle run")
			continue
		}
		log.Info().Str("symbol", symbol).Int("candles", len(candles)).Str("file", outPath).Msg("collected historical candles")
	}
}

// collect requests the latest pageLimit candles until it has accumulated
// wantCandles candles or a request returns no new ones. FetchCandles takes
// no start time, so a repeated request returns the same latest page and the
// loop stops there: history older than one page is not fetched.
func collect(ctx context.Context, client *exchange.Client, symbol, interval string, wantCandles, pageLimit int) ([]simulator.Candle, error) {
	var all []simulator.Candle
	seen := make(map[int64]bool)
	for len(all) < wantCandles {
		batch, err := client.FetchCandles(ctx, symbol, interval, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch candles: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		newCount := 0
		for _, c := range batch {
			if seen[c.OpenTimeMs] {
				continue
			}
			seen[c.OpenTimeMs] = true
			all = append(all, simulator.Candle{
				TimestampMs: c.OpenTimeMs,
				Open:        c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
			})
			newCount++
		}
		if newCount == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
		if len(batch) < pageLimit {
			break
		}
	}
	return all, nil
}

func writeCandleRun(path string, candles []simulator.Candle) error {
	data, err := json.MarshalIndent(candles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal candle run: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func intervalMs(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "5m":
		return 300_000
	case "15m":
		return 900_000
	case "1h":
		return 3_600_000
	case "4h":
		return 14_400_000
	case "1d":
		return 86_400_000
	default:
		return 3_600_000
	}
}

func parseSymbols(symbols string) []string {
	var result []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

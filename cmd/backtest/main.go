// Command backtest replays a stored candle run through internal/simulator's
// Engine and writes the resulting trade log and performance report, using the
// exact sizing, stop/take-profit, and trailing arithmetic the live position
// manager runs so a backtest result and a live run never silently diverge.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/cfg"
	"positionguard/internal/order"
	"positionguard/internal/simulator"
	"positionguard/internal/trailing"
)

func main() {
	var (
		dataPath   = flag.String("data", "", "Path to a candle run file (CSV or JSON)")
		outputPath = flag.String("output", "backtest-output", "Output directory for reports")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		symbol     = flag.String("symbol", "", "Symbol label for the report (overrides config.system.symbols[0])")
		dataFormat = flag.String("format", "auto", "Data format: auto, csv, json")
		balance    = flag.Float64("balance", 10000, "Starting paper balance")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *dataPath == "" {
		log.Fatal().Msg("a -data path is required")
	}

	settings, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	runSymbol := *symbol
	if runSymbol == "" && len(settings.System.Symbols) > 0 {
		runSymbol = settings.System.Symbols[0]
	}
	if runSymbol == "" {
		runSymbol = "UNKNOWN"
	}

	loader, err := loadCandles(*dataFormat, *dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candle run")
	}
	log.Info().Int("candles", len(loader.Candles)).Str("symbol", runSymbol).Msg("starting replay")

	engine := simulator.NewEngine(buildConfig(settings, runSymbol, *balance))
	results := engine.Run(loader.Candles)

	reporter := simulator.NewReporter(results, *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("failed to generate reports")
	}

	fmt.Printf("\n=== REPLAY RESULTS: %s ===\n", runSymbol)
	fmt.Printf("Trades: %d  Win rate: %.2f%%  Profit factor: %.2f\n", results.TotalTrades, results.WinRate*100, results.ProfitFactor)
	fmt.Printf("Total PnL: %s  Final balance: %s\n", results.TotalPnL.StringFixed(2), results.FinalBalance.StringFixed(2))
	fmt.Printf("Max drawdown: %.2f%%  Sharpe: %.2f\n", results.MaxDrawdownPct, results.SharpeRatio)

	log.Info().Str("output", *outputPath).Msg("replay completed")
}

func loadCandles(format, path string) (*simulator.CandleLoader, error) {
	switch format {
	case "csv":
		return simulator.LoadFromCSV(path)
	case "json":
		return simulator.LoadFromJSON(path)
	case "auto":
		if strings.HasSuffix(path, ".json") {
			return simulator.LoadFromJSON(path)
		}
		return simulator.LoadFromCSV(path)
	default:
		return nil, fmt.Errorf("unknown data format %q", format)
	}
}

func buildConfig(s cfg.Settings, symbol string, startingBalance float64) simulator.Config {
	t := s.Trading
	return simulator.Config{
		Symbol:                symbol,
		Leverage:              t.DefaultLeverage,
		PositionSizePercent:   decimal.NewFromFloat(t.PositionSizePercent),
		MakerFee:              decimal.NewFromFloat(t.MakerFee),
		TakerFee:              decimal.NewFromFloat(t.TakerFee),
		SlippageBufferPercent: decimal.NewFromFloat(t.SlippageBufferPercent),
		InitialSLROI:          decimal.NewFromFloat(t.InitialSLROI),
		InitialTPROI:          decimal.NewFromFloat(t.InitialTPROI),
		MaintenanceMarginPct:  decimal.NewFromFloat(t.MaintenanceMarginPercent),
		Trailing: trailing.Config{
			BreakEvenBuffer:     decimal.NewFromFloat(t.BreakEvenBuffer),
			TrailingStepPercent: decimal.NewFromFloat(t.TrailingStepPercent),
			TrailingMovePercent: decimal.NewFromFloat(t.TrailingMovePercent),
			Mode:                trailing.Staircase,
		},
		Spec: order.ContractSpec{
			TickSize: decimal.NewFromFloat(0.01),
			LotSize:  decimal.NewFromFloat(0.001),
			MinQty:   decimal.NewFromFloat(0.001),
		},
		InitialBalance: decimal.NewFromFloat(startingBalance),
		Profile:        s.ActiveSignalProfile(),
	}
}

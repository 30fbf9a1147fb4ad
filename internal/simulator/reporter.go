package simulator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var decimalHundred = decimal.NewFromInt(100)

// Reporter renders a completed Results into the formats an operator or a
// downstream analysis step needs: a human-readable summary, a CSV trade log,
// a JSON dump, and per-day aggregates.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter targets a directory that GenerateReport creates if missing.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{results: results, outputPath: outputPath}
}

// GenerateReport writes the summary, trade log, JSON, and daily metrics
// reports into the reporter's output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateTradeLog(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	if err := r.generateMetricsReport(); err != nil {
		return err
	}
	return nil
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "run_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer file.Close()

	res := r.results
	pnlPct := 0.0
	if !res.InitialBalance.IsZero() {
		p, _ := res.TotalPnL.Div(res.InitialBalance).Mul(decimalHundred).Float64()
		pnlPct = p
	}

	fmt.Fprintf(file, "RUN RESULTS SUMMARY\n")
	fmt.Fprintf(file, "====================\n\n")
	fmt.Fprintf(file, "Time Period: %s to %s\n",
		res.StartTime.Format("2006-01-02 15:04:05"), res.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(file, "Duration: %s\n\n", res.EndTime.Sub(res.StartTime))

	fmt.Fprintf(file, "PERFORMANCE\n-----------\n")
	fmt.Fprintf(file, "Initial Balance: %s\n", res.InitialBalance.StringFixed(2))
	fmt.Fprintf(file, "Final Balance: %s\n", res.FinalBalance.StringFixed(2))
	fmt.Fprintf(file, "Total PnL: %s (%.2f%%)\n", res.TotalPnL.StringFixed(2), pnlPct)
	fmt.Fprintf(file, "Total Fees: %s\n\n", res.TotalFees.StringFixed(2))

	fmt.Fprintf(file, "TRADES\n------\n")
	fmt.Fprintf(file, "Total: %d  Winning: %d  Losing: %d\n", res.TotalTrades, res.WinningTrades, res.LosingTrades)
	fmt.Fprintf(file, "Win Rate: %.2f%%\n", res.WinRate*100)
	fmt.Fprintf(file, "Profit Factor: %.2f\n\n", res.ProfitFactor)

	fmt.Fprintf(file, "RISK\n----\n")
	fmt.Fprintf(file, "Max Drawdown: %.2f%%\n", res.MaxDrawdownPct)
	fmt.Fprintf(file, "Sharpe Ratio: %.2f\n", res.SharpeRatio)

	if stats := r.symbolStats(); len(stats) > 0 {
		fmt.Fprintf(file, "\nBY SYMBOL\n---------\n")
		for symbol, s := range stats {
			fmt.Fprintf(file, "%s: %d trades, %.2f%% win rate, %s PnL\n", symbol, s.Count, s.WinRate*100, s.PnL.StringFixed(2))
		}
	}

	log.Info().Str("file", summaryPath).Msg("run summary written")
	return nil
}

func (r *Reporter) generateTradeLog() error {
	csvPath := filepath.Join(r.outputPath, "trade_log.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create trade log: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"symbol", "side", "entry_time", "exit_time", "entry_price", "exit_price", "quantity", "pnl", "pnl_pct", "fees", "exit_reason"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range r.results.Trades {
		record := []string{
			t.Symbol, string(t.Side),
			t.EntryTime.Format("2006-01-02 15:04:05"), t.ExitTime.Format("2006-01-02 15:04:05"),
			t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity.String(),
			t.PnL.String(), t.PnLPercent.String(), t.Fees.String(), t.ExitReason,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	log.Info().Str("file", csvPath).Msg("trade log written")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "run_results.json")
	res := r.results
	report := map[string]interface{}{
		"summary": map[string]interface{}{
			"start_time":       res.StartTime,
			"end_time":         res.EndTime,
			"initial_balance":  res.InitialBalance,
			"final_balance":    res.FinalBalance,
			"total_pnl":        res.TotalPnL,
			"total_fees":       res.TotalFees,
			"total_trades":     res.TotalTrades,
			"winning_trades":   res.WinningTrades,
			"losing_trades":    res.LosingTrades,
			"win_rate":         res.WinRate,
			"profit_factor":    res.ProfitFactor,
			"max_drawdown_pct": res.MaxDrawdownPct,
			"sharpe_ratio":     res.SharpeRatio,
		},
		"trades": res.Trades,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	log.Info().Str("file", jsonPath).Msg("json report written")
	return nil
}

func (r *Reporter) generateMetricsReport() error {
	metricsPath := filepath.Join(r.outputPath, "daily_metrics.csv")
	file, err := os.Create(metricsPath)
	if err != nil {
		return fmt.Errorf("create metrics report: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"date", "trades", "cumulative_pnl", "balance", "win_rate", "drawdown_pct"}); err != nil {
		return err
	}
	for _, m := range r.dailyMetrics() {
		record := []string{
			m.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", m.Trades),
			fmt.Sprintf("%.2f", m.CumulativePnL),
			fmt.Sprintf("%.2f", m.Balance),
			fmt.Sprintf("%.2f", m.WinRate*100),
			fmt.Sprintf("%.2f", m.DrawdownPct),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	log.Info().Str("file", metricsPath).Msg("daily metrics written")
	return nil
}

// symbolStatView aggregates per-symbol outcomes across a run.
type symbolStatView struct {
	Count   int
	PnL     decimal.Decimal
	WinRate float64
	wins    int
}

func (r *Reporter) symbolStats() map[string]*symbolStatView {
	stats := make(map[string]*symbolStatView)
	for _, t := range r.results.Trades {
		s, ok := stats[t.Symbol]
		if !ok {
			s = &symbolStatView{}
			stats[t.Symbol] = s
		}
		s.Count++
		s.PnL = s.PnL.Add(t.PnL)
		if t.PnL.Sign() > 0 {
			s.wins++
		}
	}
	for _, s := range stats {
		if s.Count > 0 {
			s.WinRate = float64(s.wins) / float64(s.Count)
		}
	}
	return stats
}

type dailyMetric struct {
	Date          time.Time
	Trades        int
	CumulativePnL float64
	Balance       float64
	WinRate       float64
	DrawdownPct   float64
}

func (r *Reporter) dailyMetrics() []dailyMetric {
	if len(r.results.Trades) == 0 {
		return nil
	}
	byDay := make(map[string][]Trade)
	for _, t := range r.results.Trades {
		day := t.ExitTime.Format("2006-01-02")
		byDay[day] = append(byDay[day], t)
	}

	var days []string
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	balance, _ := r.results.InitialBalance.Float64()
	peak := balance
	var cumulative float64
	var totalTrades, totalWins int
	metrics := make([]dailyMetric, 0, len(days))
	for _, d := range days {
		date, _ := time.Parse("2006-01-02", d)
		var dayPnL float64
		for _, t := range byDay[d] {
			pnl, _ := t.PnL.Float64()
			dayPnL += pnl
			totalTrades++
			if pnl > 0 {
				totalWins++
			}
		}
		cumulative += dayPnL
		balance += dayPnL
		if balance > peak {
			peak = balance
		}
		drawdown := 0.0
		if peak != 0 {
			drawdown = (peak - balance) / peak * 100
		}
		metrics = append(metrics, dailyMetric{
			Date: date, Trades: totalTrades, CumulativePnL: cumulative, Balance: balance,
			WinRate: float64(totalWins) / float64(totalTrades), DrawdownPct: drawdown,
		})
	}
	return metrics
}

// Package simulator implements the shared fill/fee/slippage execution model
// used by both the candle-replay backtest harness and demo-mode paper
// trading. It runs the same leverage-aware sizing, ROI-based
// stop/take-profit, and staircase trailing math as the live position
// lifecycle manager, so backtest, paper, and live runs agree on fill
// economics even though they do not share a process.
package simulator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/indicator"
	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/signal"
	"positionguard/internal/trailing"
)

// Candle is one closed OHLCV bar fed into the simulator, the same shape
// internal/indicator.Candle and internal/ingest.Candle use.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Fill is the outcome of one simulated order execution: the price actually
// received after slippage, and the fee charged against notional.
type Fill struct {
	Price decimal.Decimal
	Fee   decimal.Decimal
}

// ExecuteFill applies a flat slippage buffer and a fee rate to a requested
// price and quantity: the single fill model both the candle-replay Engine
// and internal/exchange.DemoClient funnel through, so backtest and
// paper-mode economics never diverge. side is the side of the ORDER being
// filled; slippage is adverse, so a buy fills above the requested price and
// a sell below it.
func ExecuteFill(side money.Side, requestedPrice, quantity, feeRate, slippageBufferPercent decimal.Decimal) (Fill, error) {
	if requestedPrice.Sign() <= 0 {
		return Fill{}, fmt.Errorf("requested price must be positive")
	}
	filled, err := money.CalculateSlippageAdjustedStop(oppositeSide(side), requestedPrice, slippageBufferPercent)
	if err != nil {
		return Fill{}, err
	}
	notional := filled.Mul(quantity)
	fee := notional.Mul(feeRate)
	return Fill{Price: filled, Fee: fee}, nil
}

// Trade is one closed simulated position.
type Trade struct {
	Symbol     string
	Side       money.Side
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        decimal.Decimal
	PnLPercent decimal.Decimal
	Fees       decimal.Decimal
	ExitReason string
}

// Results holds the aggregate outcome of a replay run.
type Results struct {
	Trades         []Trade
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	TotalPnL       decimal.Decimal
	TotalFees      decimal.Decimal
	MaxDrawdownPct float64
	SharpeRatio    float64
	WinRate        float64
	ProfitFactor   float64
	StartTime      time.Time
	EndTime        time.Time
	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	mu             sync.Mutex
}

// Config parameterizes one Engine run, mirroring the trading section of
// internal/cfg.Settings without the Engine depending on internal/cfg.
type Config struct {
	Symbol                string
	Leverage              int
	PositionSizePercent   decimal.Decimal
	MakerFee              decimal.Decimal
	TakerFee              decimal.Decimal
	SlippageBufferPercent decimal.Decimal
	InitialSLROI          decimal.Decimal
	InitialTPROI          decimal.Decimal
	MaintenanceMarginPct  decimal.Decimal
	Trailing              trailing.Config
	Spec                  order.ContractSpec
	InitialBalance        decimal.Decimal
	Profile               *signal.Profile
}

type openPosition struct {
	side           money.Side
	entry          decimal.Decimal
	qty            decimal.Decimal
	stop           decimal.Decimal
	takeProfit     decimal.Decimal
	breakEvenArmed bool
	lastROIStep    int64
	entryTime      time.Time
	entryFee       decimal.Decimal
}

// Engine replays a chronological candle sequence through the indicator
// suite, the signal generator, and the same money/trailing arithmetic the
// live engine uses, opening and managing at most one position at a time for
// a single symbol.
type Engine struct {
	cfg     Config
	gen     *signal.Generator
	engines map[string]indicator.Engine

	balance decimal.Decimal
	pos     *openPosition
	results *Results
}

// NewEngine builds a replay engine with a fresh bank of indicator engines
// seeded to the standard periods the default signal profile expects.
func NewEngine(cfg Config) *Engine {
	profile := cfg.Profile
	if profile == nil {
		profile = signal.DefaultProfile()
	}
	initial := cfg.InitialBalance
	if initial.IsZero() {
		initial = decimal.NewFromInt(10000)
	}
	return &Engine{
		cfg:     cfg,
		gen:     signal.NewGenerator(profile),
		balance: initial,
		engines: map[string]indicator.Engine{
			"rsi":        indicator.NewRSI(14),
			"macd":       indicator.NewMACD(12, 26, 9),
			"williams_r": indicator.NewWilliamsR(14),
			"ao":         indicator.NewAO(),
			"kdj_j":      indicator.NewKDJ(9, 3, 3),
			"obv_slope":  indicator.NewOBV(20, 0),
			"adx":        indicator.NewADX(14),
		},
		results: &Results{InitialBalance: initial},
	}
}

// Run replays candles in order, driving entries from the composite signal
// class and exits from the stop/take-profit levels and the staircase
// trailing policy, and returns the aggregate Results.
func (e *Engine) Run(candles []Candle) *Results {
	if len(candles) > 0 {
		e.results.StartTime = time.UnixMilli(candles[0].TimestampMs)
		e.results.EndTime = time.UnixMilli(candles[len(candles)-1].TimestampMs)
	}

	for _, c := range candles {
		ic := indicator.Candle{TimestampMs: c.TimestampMs, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		readings := make(map[string]float64, len(e.engines))
		for name, eng := range e.engines {
			eng.Update(ic)
			if v, ok := eng.Value(); ok {
				readings[name] = v
			}
		}

		if e.pos != nil {
			e.checkExit(c)
		}
		if e.pos == nil {
			sig := e.gen.Generate(readings)
			e.maybeEnter(sig, c)
		}
	}

	if e.pos != nil && len(candles) > 0 {
		last := candles[len(candles)-1]
		e.closePosition(decimal.NewFromFloat(last.Close), "end_of_data", time.UnixMilli(last.TimestampMs))
	}

	e.calculateMetrics()
	return e.results
}

func (e *Engine) maybeEnter(sig signal.Signal, c Candle) {
	var side money.Side
	switch sig.Class {
	case signal.StrongBuy, signal.Buy:
		side = money.Long
	case signal.StrongSell, signal.Sell:
		side = money.Short
	default:
		return
	}

	price := decimal.NewFromFloat(c.Close)
	margin, err := money.CalculateMarginUsed(e.balance, e.cfg.PositionSizePercent)
	if err != nil {
		return
	}
	notional, err := money.CalculatePositionValue(margin, e.cfg.Leverage)
	if err != nil {
		return
	}
	qty, err := money.CalculateLotSize(notional, price, decimal.NewFromInt(1), e.cfg.Spec.LotSize, e.cfg.Spec.MinQty, e.cfg.Spec.MaxQty)
	if err != nil || qty.Sign() <= 0 {
		return
	}

	fill, err := ExecuteFill(side, price, qty, e.cfg.TakerFee, e.cfg.SlippageBufferPercent)
	if err != nil {
		return
	}

	stopPrice, err := money.CalculateStopLossPrice(side, fill.Price, e.cfg.InitialSLROI, e.cfg.Leverage)
	if err != nil {
		return
	}
	stopPrice = money.RoundToTickAdverse(side, stopPrice, e.cfg.Spec.TickSize)
	tpPrice, err := money.CalculateTakeProfitPrice(side, fill.Price, e.cfg.InitialTPROI, e.cfg.Leverage)
	if err != nil {
		return
	}
	tpPrice = money.RoundToTick(tpPrice, e.cfg.Spec.TickSize)

	e.balance = e.balance.Sub(fill.Fee)
	e.pos = &openPosition{
		side: side, entry: fill.Price, qty: qty,
		stop: stopPrice, takeProfit: tpPrice,
		entryTime: time.UnixMilli(c.TimestampMs), entryFee: fill.Fee,
	}
}

func (e *Engine) checkExit(c Candle) {
	p := e.pos
	low := decimal.NewFromFloat(c.Low)
	high := decimal.NewFromFloat(c.High)

	if p.side == money.Long {
		if low.LessThanOrEqual(p.stop) {
			e.closePosition(p.stop, "stop_loss", time.UnixMilli(c.TimestampMs))
			return
		}
		if high.GreaterThanOrEqual(p.takeProfit) {
			e.closePosition(p.takeProfit, "take_profit", time.UnixMilli(c.TimestampMs))
			return
		}
	} else {
		if high.GreaterThanOrEqual(p.stop) {
			e.closePosition(p.stop, "stop_loss", time.UnixMilli(c.TimestampMs))
			return
		}
		if low.LessThanOrEqual(p.takeProfit) {
			e.closePosition(p.takeProfit, "take_profit", time.UnixMilli(c.TimestampMs))
			return
		}
	}

	e.advanceTrailing(decimal.NewFromFloat(c.Close))
}

func (e *Engine) advanceTrailing(markPrice decimal.Decimal) {
	p := e.pos
	var priceDiff decimal.Decimal
	if p.side == money.Long {
		priceDiff = markPrice.Sub(p.entry)
	} else {
		priceDiff = p.entry.Sub(markPrice)
	}
	pnl, err := money.CalculateUnrealizedPnL(priceDiff, p.qty, decimal.NewFromInt(1))
	if err != nil {
		return
	}
	notional := p.entry.Mul(p.qty)
	marginUsed := notional.Div(decimal.NewFromInt(int64(e.cfg.Leverage)))
	if marginUsed.IsZero() {
		return
	}
	roi, err := money.CalculateROIPercent(pnl, marginUsed)
	if err != nil {
		return
	}

	out := trailing.NextStop(trailing.Input{
		Side: p.side, Entry: p.entry, CurrentStop: p.stop, Leverage: e.cfg.Leverage,
		Fees:           trailing.Fees{EntryFee: e.cfg.TakerFee, ExitFee: e.cfg.TakerFee},
		CurrentROI:     roi,
		LastROIStep:    p.lastROIStep,
		BreakEvenArmed: p.breakEvenArmed,
		TickSize:       e.cfg.Spec.TickSize,
		Config:         e.cfg.Trailing,
	})
	if out.Reason == trailing.NoChange {
		return
	}
	p.stop = out.NewStop
	p.lastROIStep = out.NewLastStep
	p.breakEvenArmed = out.BreakEvenArmed
}

func (e *Engine) closePosition(exitPrice decimal.Decimal, reason string, exitTime time.Time) {
	p := e.pos
	exitFill, err := ExecuteFill(oppositeSide(p.side), exitPrice, p.qty, e.cfg.TakerFee, e.cfg.SlippageBufferPercent)
	if err != nil {
		exitFill = Fill{Price: exitPrice}
	}

	var priceDiff decimal.Decimal
	if p.side == money.Long {
		priceDiff = exitFill.Price.Sub(p.entry)
	} else {
		priceDiff = p.entry.Sub(exitFill.Price)
	}
	grossPnL, _ := money.CalculateUnrealizedPnL(priceDiff, p.qty, decimal.NewFromInt(1))
	totalFees := p.entryFee.Add(exitFill.Fee)
	netPnL := grossPnL.Sub(totalFees)

	// entryFee was already deducted from balance when the position opened;
	// charge only the exit fee here so neither fee is double-counted.
	e.balance = e.balance.Add(grossPnL).Sub(exitFill.Fee)

	notional := p.entry.Mul(p.qty)
	pnlPercent := decimal.Zero
	if !notional.IsZero() {
		pnlPercent = netPnL.Div(notional).Mul(decimal.NewFromInt(100))
	}

	trade := Trade{
		Symbol: e.cfg.Symbol, Side: p.side,
		EntryPrice: p.entry, ExitPrice: exitFill.Price, Quantity: p.qty,
		EntryTime: p.entryTime, ExitTime: exitTime,
		PnL: netPnL, PnLPercent: pnlPercent, Fees: totalFees, ExitReason: reason,
	}

	e.results.mu.Lock()
	e.results.Trades = append(e.results.Trades, trade)
	e.results.mu.Unlock()

	log.Debug().Str("symbol", e.cfg.Symbol).Str("side", string(p.side)).
		Str("entry", p.entry.String()).Str("exit", exitFill.Price.String()).
		Str("pnl", netPnL.String()).Str("reason", reason).Msg("simulated position closed")

	e.pos = nil
}

func oppositeSide(s money.Side) money.Side {
	if s == money.Long {
		return money.Short
	}
	return money.Long
}

func (e *Engine) calculateMetrics() {
	r := e.results
	r.FinalBalance = e.balance
	r.TotalTrades = len(r.Trades)
	if r.TotalTrades == 0 {
		return
	}

	var totalProfit, totalLoss float64
	returns := make([]float64, 0, len(r.Trades))
	for _, t := range r.Trades {
		r.TotalPnL = r.TotalPnL.Add(t.PnL)
		r.TotalFees = r.TotalFees.Add(t.Fees)
		pnlF, _ := t.PnL.Float64()
		if pnlF > 0 {
			r.WinningTrades++
			totalProfit += pnlF
		} else {
			r.LosingTrades++
			totalLoss += math.Abs(pnlF)
		}
		pct, _ := t.PnLPercent.Float64()
		returns = append(returns, pct)
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	if totalLoss > 0 {
		r.ProfitFactor = totalProfit / totalLoss
	}
	r.MaxDrawdownPct = maxDrawdown(r.InitialBalance, r.Trades)
	r.SharpeRatio = sharpeRatio(returns)
}

func maxDrawdown(initial decimal.Decimal, trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	peak, _ := initial.Float64()
	running := peak
	maxDD := 0.0
	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		running += pnl
		if running > peak {
			peak = running
		}
		if peak == 0 {
			continue
		}
		dd := (peak - running) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += math.Pow(r-mean, 2)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(252)
}

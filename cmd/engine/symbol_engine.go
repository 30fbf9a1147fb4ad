package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/cfg"
	"positionguard/internal/exchange"
	"positionguard/internal/indicator"
	"positionguard/internal/ingest"
	"positionguard/internal/metrics"
	"positionguard/internal/money"
	"positionguard/internal/position"
	"positionguard/internal/signal"
)

// symbolState tracks the per-symbol indicator bank and the at-most-one open
// position per symbol this engine maintains.
type symbolState struct {
	engines    map[string]indicator.Engine
	positionID string
}

// symbolEngine drives entries and exits from each closed candle: it updates
// every indicator, generates a composite signal, and either opens a new
// position or feeds the mark price into the existing one's trailing
// monitor. It runs the same indicator/signal logic as
// internal/simulator.Engine, against the live position lifecycle manager
// instead of a synthetic balance.
type symbolEngine struct {
	cfg        cfg.Settings
	ex         exchange.Exchange
	demo       *exchange.DemoClient
	mgr        *position.Manager
	mw         *metrics.Wrapper
	gen        *signal.Generator
	historical *ingest.HistoricalCache

	mu    sync.Mutex
	state map[string]*symbolState
}

func newSymbolEngine(settings cfg.Settings, ex exchange.Exchange, demo *exchange.DemoClient, mgr *position.Manager, mw *metrics.Wrapper) *symbolEngine {
	e := &symbolEngine{
		cfg:   settings,
		ex:    ex,
		demo:  demo,
		mgr:   mgr,
		mw:    mw,
		gen:   signal.NewGenerator(settings.ActiveSignalProfile()),
		state: make(map[string]*symbolState),
	}
	if cache, err := ingest.NewHistoricalCache(ex, 32, 5*time.Minute); err == nil {
		e.historical = cache
	}
	for _, s := range settings.System.Symbols {
		e.state[s] = &symbolState{engines: newIndicatorBank()}
	}
	return e
}

// warmUpCandles covers the slowest warm-up in the bank (AO and MACD(12,26,9)
// need 34 bars, ADX(14) about 2x its period) with margin to spare.
const warmUpCandles = 120

// warmUp seeds every symbol's indicator bank from historical OHLC so the
// signal generator is productive from the first live candle instead of
// waiting out warm-up in real time.
func (e *symbolEngine) warmUp(ctx context.Context) {
	if e.historical == nil {
		return
	}
	for symbol, st := range e.state {
		candles, err := e.historical.Get(ctx, symbol, defaultTimeframe, warmUpCandles)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("historical warm-up fetch failed, indicators warm up live")
			continue
		}
		for _, c := range candles {
			ic := c.ToIndicatorCandle()
			for _, eng := range st.engines {
				eng.Update(ic)
			}
		}
		log.Info().Str("symbol", symbol).Int("candles", len(candles)).Msg("indicator bank warmed from history")
	}
}

func newIndicatorBank() map[string]indicator.Engine {
	return map[string]indicator.Engine{
		"rsi":        indicator.NewRSI(14),
		"macd":       indicator.NewMACD(12, 26, 9),
		"williams_r": indicator.NewWilliamsR(14),
		"ao":         indicator.NewAO(),
		"kdj_j":      indicator.NewKDJ(9, 3, 3),
		"obv_slope":  indicator.NewOBV(20, 0),
		"adx":        indicator.NewADX(14),
	}
}

func (e *symbolEngine) onCandle(ctx context.Context, c ingest.Candle) {
	e.mu.Lock()
	st, ok := e.state[c.Symbol]
	e.mu.Unlock()
	if !ok {
		return
	}

	if e.demo != nil {
		e.demo.SetLastPrice(c.Symbol, decimal.NewFromFloat(c.Close))
	}

	ic := c.ToIndicatorCandle()
	readings := make(map[string]float64, len(st.engines))
	for name, eng := range st.engines {
		eng.Update(ic)
		if v, ok := eng.Value(); ok {
			readings[name] = v
		}
	}

	if st.positionID != "" {
		if _, tracked := e.mgr.Get(st.positionID); !tracked {
			// stop or take-profit filled, or the position was emergency
			// closed; free the slot for a fresh entry
			e.mu.Lock()
			st.positionID = ""
			e.mu.Unlock()
		} else {
			if err := e.mgr.Monitor(ctx, st.positionID, decimal.NewFromFloat(c.Close)); err != nil {
				log.Error().Err(err).Str("symbol", c.Symbol).Str("position", st.positionID).Msg("trailing monitor failed")
			}
			return
		}
	}

	sig := e.gen.Generate(readings)
	var side money.Side
	switch sig.Class {
	case signal.StrongBuy, signal.Buy:
		side = money.Long
	case signal.StrongSell, signal.Sell:
		side = money.Short
	default:
		return
	}

	e.tryEnter(ctx, c.Symbol, side, c.Close)
}

func (e *symbolEngine) tryEnter(ctx context.Context, symbol string, side money.Side, markPrice float64) {
	account, err := e.ex.AccountOverview(ctx)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to fetch account overview, skipping entry")
		return
	}
	spec, err := e.ex.ContractDetail(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to fetch contract detail, skipping entry")
		return
	}

	pos, err := e.mgr.Open(ctx, position.EntryRequest{
		Symbol:           symbol,
		Side:             side,
		Leverage:         e.cfg.Trading.DefaultLeverage,
		AvailableBalance: account.AvailableBalance,
		MarkPrice:        decimal.NewFromFloat(markPrice),
		Spec:             spec,
		IdempotencyKey:   fmt.Sprintf("%s-%d-%d", symbol, time.Now().UnixNano(), rand.Int63()),
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("entry failed")
		return
	}

	e.mu.Lock()
	e.state[symbol].positionID = pos.ID
	e.mu.Unlock()
	log.Info().Str("symbol", symbol).Str("position", pos.ID).Str("side", string(side)).Msg("position opened")
}

// runDemoFeed synthesizes a closed candle per symbol on a fixed tick in demo
// mode, where there is no live exchange stream to subscribe to. Prices
// random-walk around 100 so the signal generator sees varied readings.
func runDemoFeed(ctx context.Context, ex exchange.Exchange, symbols []string, out chan<- ingest.Candle) {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = 100
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range symbols {
				p := prices[s]
				move := (rand.Float64() - 0.5) * p * 0.01
				newPrice := p + move
				if newPrice <= 0 {
					newPrice = p
				}
				prices[s] = newPrice
				high := newPrice
				low := newPrice
				if move > 0 {
					high = newPrice + move/2
				} else {
					low = newPrice + move/2
				}
				candle := ingest.Candle{
					Symbol: s, Timeframe: defaultTimeframe,
					OpenTimeMs: time.Now().UnixMilli(),
					Open:       p, High: high, Low: low, Close: newPrice,
					Volume: 1, Closed: true,
				}
				select {
				case out <- candle:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

package simulator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/signal"
	"positionguard/internal/trailing"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestExecuteFillSlippageIsAdverse(t *testing.T) {
	// A buy fills above the requested price, a sell below it.
	buy, err := ExecuteFill(money.Long, d("100"), d("1"), decimal.Zero, d("1"))
	require.NoError(t, err)
	assert.True(t, buy.Price.Equal(d("101")), "buy fill=%s", buy.Price)

	sell, err := ExecuteFill(money.Short, d("100"), d("1"), decimal.Zero, d("1"))
	require.NoError(t, err)
	assert.True(t, sell.Price.Equal(d("99")), "sell fill=%s", sell.Price)
}

func TestExecuteFillFeeOnSlippedNotional(t *testing.T) {
	fill, err := ExecuteFill(money.Long, d("100"), d("2"), d("0.001"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("100")))
	assert.True(t, fill.Fee.Equal(d("0.2")), "fee=%s", fill.Fee)
}

func TestExecuteFillRejectsNonPositivePrice(t *testing.T) {
	_, err := ExecuteFill(money.Long, decimal.Zero, d("1"), decimal.Zero, decimal.Zero)
	require.Error(t, err)
}

func testConfig() Config {
	return Config{
		Symbol:                "BTCUSDT",
		Leverage:              10,
		PositionSizePercent:   d("0.5"),
		MakerFee:              d("0.0002"),
		TakerFee:              d("0.0006"),
		SlippageBufferPercent: decimal.Zero,
		InitialSLROI:          d("0.5"),
		InitialTPROI:          d("2.0"),
		MaintenanceMarginPct:  d("0.5"),
		Trailing: trailing.Config{
			BreakEvenBuffer:     d("0.1"),
			TrailingStepPercent: d("0.15"),
			TrailingMovePercent: d("0.05"),
			Mode:                trailing.Staircase,
		},
		Spec: order.ContractSpec{
			TickSize: d("0.01"),
			LotSize:  d("0.001"),
			MinQty:   d("0.001"),
		},
		InitialBalance: d("10000"),
		Profile:        signal.DefaultProfile(),
	}
}

// A long run of falling closes pushes the composite signal deep oversold,
// which opens a long; the continued fall then crosses the initial stop, so
// the replay must record exactly the stop-loss exit economics.
func TestRunOpensAndStopsOutOnTrendReversal(t *testing.T) {
	e := NewEngine(testConfig())

	candles := make([]Candle, 0, 160)
	price := 200.0
	for i := 0; i < 160; i++ {
		next := price - 0.5
		candles = append(candles, Candle{
			TimestampMs: int64(i) * 60_000,
			Open:        price,
			High:        price + 0.1,
			Low:         next - 0.1,
			Close:       next,
			Volume:      10,
		})
		price = next
	}

	results := e.Run(candles)
	require.NotNil(t, results)
	require.GreaterOrEqual(t, results.TotalTrades, 1)
	require.NotEmpty(t, results.Trades)
	first := results.Trades[0]
	assert.Equal(t, "stop_loss", first.ExitReason)
	assert.True(t, first.PnL.IsNegative(), "stop-out on a long in a falling run must lose, got %s", first.PnL)

	for _, trade := range results.Trades {
		assert.NotEmpty(t, trade.ExitReason)
		assert.False(t, trade.Fees.IsNegative())
	}
	assert.Equal(t, results.TotalTrades, results.WinningTrades+results.LosingTrades)
}

// With fewer candles than any indicator's warm-up, every reading is absent,
// the composite score is zero, and no position may open.
func TestRunUnderWarmUpProducesNoTrades(t *testing.T) {
	e := NewEngine(testConfig())

	candles := make([]Candle, 0, 8)
	price := 100.0
	for i := 0; i < 8; i++ {
		candles = append(candles, Candle{
			TimestampMs: int64(i) * 60_000,
			Open:        price, High: price + 1, Low: price - 1, Close: price - 0.5,
			Volume: 10,
		})
		price -= 0.5
	}

	results := e.Run(candles)
	assert.Equal(t, 0, results.TotalTrades)
	assert.True(t, results.FinalBalance.Equal(d("10000")))
}

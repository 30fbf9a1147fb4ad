package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/exchange"
	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/stopreplace"
	"positionguard/internal/storage"
	"positionguard/internal/trailing"
	"positionguard/internal/xerr"
)

func testManager(t *testing.T) (*Manager, *exchange.DemoClient) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	demo := exchange.NewDemoClient(d("10000"))
	demo.SetLastPrice("BTCUSDT", d("50000"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := Config{
		InitialSLROI:             d("0.5"),
		InitialTPROI:             d("2.0"),
		PositionSizePercent:      d("0.5"),
		DefaultLeverage:          10,
		MaxPositions:             5,
		MakerFee:                 d("0.0002"),
		TakerFee:                 d("0.0006"),
		MaintenanceMarginPercent: d("0.5"),
		SlippageBufferPercent:    decimal.Zero,
		Trailing: trailing.Config{
			BreakEvenBuffer:     d("0.1"),
			TrailingStepPercent: d("0.15"),
			TrailingMovePercent: d("0.05"),
			Mode:                trailing.Staircase,
		},
		StopReplace: stopreplace.DefaultConfig(),
	}
	mgr := NewManager(ctx, cfg, demo, store, nil, nil)
	return mgr, demo
}

// Balance 10000, position 0.5%, leverage 10, entry 50000 -> margin 50.00,
// notional 500.00, lot 0.01; initial stop entry*(1-0.5/(10*100)).
func TestOpen_SizingAndInitialStop(t *testing.T) {
	mgr, _ := testManager(t)
	pos, err := mgr.Open(context.Background(), EntryRequest{
		Symbol:           "BTCUSDT",
		Side:             money.Long,
		Leverage:         10,
		AvailableBalance: d("10000"),
		MarkPrice:        d("50000"),
		Spec:             order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey:   "test-entry-1",
	})
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.True(t, pos.Quantity.Equal(d("0.01")), "qty=%s", pos.Quantity)
	// entry*(1 - 0.5/(10*100)) = 50000 - 25 = 49975.00
	assert.True(t, pos.StopPrice.Equal(d("49975.00")), "stop=%s", pos.StopPrice)
	assert.False(t, pos.BreakEvenArmed)
	require.NoError(t, pos.CheckInvariants())

	got, ok := mgr.Get(pos.ID)
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
}

func TestOpen_RejectsAtMaxPositions(t *testing.T) {
	mgr, _ := testManager(t)
	mgr.cfg.MaxPositions = 1

	_, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-a",
	})
	require.NoError(t, err)

	_, err = mgr.Open(context.Background(), EntryRequest{
		Symbol: "ETHUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("3000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-b",
	})
	require.Error(t, err)
}

// Break-even arming: long entry 50000, leverage 10, ROI ~1.30% arms the
// stop at entry*(1+1.3/1000).
func TestMonitor_BreakEvenArming(t *testing.T) {
	mgr, demo := testManager(t)
	pos, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-be",
	})
	require.NoError(t, err)

	demo.SetLastPrice("BTCUSDT", d("50065"))
	require.NoError(t, mgr.Monitor(context.Background(), pos.ID, d("50065")))

	// The coordinator's replace runs on its own goroutine; give it a moment
	// to confirm against the demo exchange before asserting.
	require.Eventually(t, func() bool {
		got, _ := mgr.Get(pos.ID)
		return got.BreakEvenArmed
	}, time.Second, 5*time.Millisecond)

	got, _ := mgr.Get(pos.ID)
	assert.True(t, got.StopPrice.GreaterThanOrEqual(got.EntryPrice), "stop=%s entry=%s", got.StopPrice, got.EntryPrice)
	require.NoError(t, got.CheckInvariants())
}

func TestOpen_RefusedAfterDailyLossLimit(t *testing.T) {
	mgr, _ := testManager(t)
	mgr.cfg.DailyLossLimitPercent = d("5")

	// Seed a day of realized losses past 5% of the 10000 balance.
	now := time.Now().UTC()
	mgr.mu.Lock()
	mgr.cbDay = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	mgr.cbDailyRealized = d("-600")
	mgr.mu.Unlock()

	_, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-dll",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.TradingSuspended))
}

func TestOpen_RefusedOnMaxDrawdown(t *testing.T) {
	mgr, _ := testManager(t)
	mgr.cfg.MaxDrawdownPercent = d("20")

	mgr.mu.Lock()
	mgr.cbPeakEquity = d("20000") // current 10000 balance is a 50% drawdown
	mgr.mu.Unlock()

	_, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-dd",
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.TradingSuspended))
}

func TestHandleFill_FeedsDailyLossAccumulator(t *testing.T) {
	mgr, _ := testManager(t)
	pos, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-fill",
	})
	require.NoError(t, err)

	// Stop fills 250 below entry on 0.01 contracts: gross -2.50 plus fees.
	require.NoError(t, mgr.HandleFill(context.Background(), pos.ID, "", d("49750")))

	mgr.mu.Lock()
	realized := mgr.cbDailyRealized
	mgr.mu.Unlock()
	assert.True(t, realized.IsNegative(), "daily realized=%s", realized)
}

func TestClose_ReleasesTrackedPosition(t *testing.T) {
	mgr, _ := testManager(t)
	pos, err := mgr.Open(context.Background(), EntryRequest{
		Symbol: "BTCUSDT", Side: money.Long, Leverage: 10,
		AvailableBalance: d("10000"), MarkPrice: d("50000"),
		Spec:           order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		IdempotencyKey: "entry-close",
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background(), pos.ID, ExitManual))

	_, ok := mgr.Get(pos.ID)
	assert.False(t, ok)
}

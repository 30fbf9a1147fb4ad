package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/money"
	"positionguard/internal/order"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDemoClient_EntryDebitsBalanceAndTracksPosition(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	demo.SetLastPrice("BTCUSDT", d("50000"))

	orderID, err := demo.PlaceEntryOrder(context.Background(), order.Params{
		Symbol: "BTCUSDT", Side: money.Long, Quantity: d("0.01"),
	}, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", orderID)

	overview, err := demo.AccountOverview(context.Background())
	require.NoError(t, err)
	assert.True(t, overview.AvailableBalance.Equal(d("9500")), "balance=%s", overview.AvailableBalance)

	positions, err := demo.ListOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
}

func TestDemoClient_MarketCloseCreditsBalanceAndClearsPosition(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	demo.SetLastPrice("BTCUSDT", d("50000"))
	_, err := demo.PlaceEntryOrder(context.Background(), order.Params{
		Symbol: "BTCUSDT", Side: money.Long, Quantity: d("0.01"),
	}, "entry-1")
	require.NoError(t, err)

	demo.SetLastPrice("BTCUSDT", d("51000"))
	require.NoError(t, demo.MarketCloseReduceOnly(context.Background(), "BTCUSDT", money.Long, d("0.01")))

	overview, err := demo.AccountOverview(context.Background())
	require.NoError(t, err)
	// 9500 (after entry debit) + 51000*0.01 = 9500 + 510 = 10010
	assert.True(t, overview.AvailableBalance.Equal(d("10010")), "balance=%s", overview.AvailableBalance)

	positions, err := demo.ListOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, positions, 0)
}

func TestDemoClient_StopAndCancelRoundTrip(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	id, err := demo.PlaceStopOrder(context.Background(), order.Params{Symbol: "BTCUSDT", Side: money.Long}, "stop-1")
	require.NoError(t, err)
	require.Len(t, demo.Orders(), 1)

	require.NoError(t, demo.CancelOrder(context.Background(), id))
	assert.Len(t, demo.Orders(), 0)
}

func TestDemoClient_PlaceStopOrderGeneratesIdWhenKeyEmpty(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	id, err := demo.PlaceStopOrder(context.Background(), order.Params{Symbol: "BTCUSDT"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestDemoClient_ContractDetailFallsBackToDefault(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	spec, err := demo.ContractDetail(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, spec.TickSize.Equal(d("0.01")))

	override := order.ContractSpec{TickSize: d("0.5"), LotSize: d("1"), MinQty: d("1")}
	demo.SetContractSpec("BTCUSDT", override)
	spec, err = demo.ContractDetail(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, spec.TickSize.Equal(d("0.5")))
}

func TestDemoClient_FetchCandlesReturnsRequestedLengthFlatAroundLastPrice(t *testing.T) {
	demo := NewDemoClient(d("10000"))
	demo.SetLastPrice("BTCUSDT", d("50000"))

	candles, err := demo.FetchCandles(context.Background(), "BTCUSDT", "1m", 20)
	require.NoError(t, err)
	require.Len(t, candles, 20)
	for _, c := range candles {
		assert.Equal(t, 50000.0, c.Close)
		assert.True(t, c.Closed)
	}
}

package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"positionguard/internal/money"
)

func dd(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func spec() ContractSpec {
	return ContractSpec{
		TickSize: dd("0.1"),
		LotSize:  dd("0.01"),
		MinQty:   dd("0.01"),
		MaxQty:   dd("100"),
	}
}

func TestValidateExitOrderRequiresReduceOnly(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.01")}
	err := ValidateExitOrder(p, money.Long, spec())
	require.Error(t, err)
}

func TestValidateExitOrderRejectsSameSide(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Long, Quantity: dd("0.01"), ReduceOnly: true}
	err := ValidateExitOrder(p, money.Long, spec())
	require.Error(t, err)
}

func TestValidateExitOrderRejectsBadLotMultiple(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.015"), ReduceOnly: true}
	err := ValidateExitOrder(p, money.Long, spec())
	require.Error(t, err)
}

func TestValidateExitOrderAccepts(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.02"), ReduceOnly: true}
	require.NoError(t, ValidateExitOrder(p, money.Long, spec()))
}

func TestValidateEntryOrderRejectsReduceOnlyAndBadLot(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Long, Quantity: dd("0.02"), ReduceOnly: true}
	require.Error(t, ValidateEntryOrder(p, spec()))

	p.ReduceOnly = false
	p.Quantity = dd("0.015")
	require.Error(t, ValidateEntryOrder(p, spec()))

	p.Quantity = dd("0.02")
	require.NoError(t, ValidateEntryOrder(p, spec()))
}

func TestValidateStopOrderRequiresTrigger(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.02"), ReduceOnly: true}
	err := ValidateStopOrder(p, money.Long, spec())
	require.Error(t, err)

	p.TriggerPrice = dd("49995.0")
	p.TriggerPriceType = TriggerMark
	require.NoError(t, ValidateStopOrder(p, money.Long, spec()))
}

func TestSanitizeAlwaysForcesReduceOnly(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.02")}
	out := Sanitize(p, RoleExit)
	assert.True(t, out.ReduceOnly)
	assert.False(t, p.ReduceOnly, "original params must not be mutated")
}

func TestSanitizeDefaultsStopTriggerType(t *testing.T) {
	p := Params{Symbol: "BTCUSDT", Side: money.Short, Quantity: dd("0.02"), TriggerPrice: dd("100")}
	out := Sanitize(p, RoleStop)
	assert.Equal(t, TriggerMark, out.TriggerPriceType)
}

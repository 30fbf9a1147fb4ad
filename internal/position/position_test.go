package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/trailing"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func basePosition() Position {
	return Position{
		ID:                       "pos-1",
		Symbol:                   "BTCUSDT",
		Side:                     money.Long,
		Status:                   StatusOpen,
		EntryPrice:               d("50000"),
		Quantity:                 d("0.01"),
		Leverage:                 10,
		Multiplier:               d("1"),
		Spec:                     order.ContractSpec{TickSize: d("0.01"), LotSize: d("0.001"), MinQty: d("0.001")},
		EntryFee:                 d("0.0006"),
		ExitFee:                  d("0.0006"),
		StopPrice:                d("49750"),
		InitialStopPrice:         d("49750"),
		MaintenanceMarginPercent: d("0.5"),
		TrailingConfig: trailing.Config{
			BreakEvenBuffer:     d("0.1"),
			TrailingStepPercent: d("0.15"),
			TrailingMovePercent: d("0.05"),
			Mode:                trailing.Staircase,
		},
	}
}

func TestCheckInvariants_HealthyPositionPasses(t *testing.T) {
	p := basePosition()
	require.NoError(t, p.CheckInvariants())
}

func TestCheckInvariants_MarginNotionalIdentity(t *testing.T) {
	p := basePosition()
	margin, err := p.MarginUsed()
	require.NoError(t, err)
	assert.True(t, margin.Mul(decimal.NewFromInt(int64(p.Leverage))).Equal(p.Quantity.Mul(p.EntryPrice).Mul(p.Multiplier)))
}

func TestCheckInvariants_LongStopAboveEntryBeforeArmingViolates(t *testing.T) {
	p := basePosition()
	p.StopPrice = d("50100") // above entry, not yet armed: invalid for a long
	err := p.CheckInvariants()
	require.Error(t, err)
}

func TestCheckInvariants_ArmedStopAtBreakEvenFloorPasses(t *testing.T) {
	// Long entry 50000, leverage 10; after arming, stop ==
	// entry * (1 + 1.3/(10*100)) = 50065.00.
	p := basePosition()
	p.StopPrice = d("50065.00")
	p.BreakEvenArmed = true
	require.NoError(t, p.CheckInvariants())
}

func TestCheckInvariants_ArmedButBelowBreakEvenViolates(t *testing.T) {
	p := basePosition()
	p.BreakEvenArmed = true
	p.StopPrice = d("49900") // below the fee-adjusted break-even floor
	err := p.CheckInvariants()
	require.Error(t, err)
}

func TestCheckInvariants_TrailingWithoutArmingViolates(t *testing.T) {
	p := basePosition()
	p.LastROIStep = 1
	p.BreakEvenArmed = false
	err := p.CheckInvariants()
	require.Error(t, err)
}

func TestCheckInvariants_LiquidationBeyondInitialStop(t *testing.T) {
	p := basePosition()
	// Liquidation for entry 50000, leverage 10, mm 0.5% is well beyond the
	// 5%-ROI-risk initial stop at 49750 in the adverse (downward) direction.
	require.NoError(t, p.CheckInvariants())

	p.InitialStopPrice = d("1") // pathologically close to zero, beyond liquidation
	err := p.CheckInvariants()
	require.Error(t, err)
}

func TestApplyTrailing_UpdatesStopAndArmState(t *testing.T) {
	p := basePosition()
	out := trailing.Output{NewStop: d("50065.00"), NewLastStep: 0, Reason: trailing.BreakEven, BreakEvenArmed: true}
	p.ApplyTrailing(out)
	assert.True(t, p.StopPrice.Equal(d("50065.00")))
	assert.True(t, p.BreakEvenArmed)
	require.NoError(t, p.CheckInvariants())
}

func TestTrailingInput_ProjectsPositionFields(t *testing.T) {
	p := basePosition()
	in := p.TrailingInput(d("1.30"))
	assert.Equal(t, p.Side, in.Side)
	assert.True(t, in.Entry.Equal(p.EntryPrice))
	assert.True(t, in.CurrentStop.Equal(p.StopPrice))
	assert.Equal(t, p.Leverage, in.Leverage)
	assert.True(t, in.CurrentROI.Equal(d("1.30")))
}

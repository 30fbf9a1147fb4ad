package trailing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/money"
)

func dd(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseInput() Input {
	return Input{
		Side:        money.Long,
		Entry:       dd("50000"),
		CurrentStop: dd("49750"),
		Leverage:    10,
		Fees:        Fees{EntryFee: dd("0.0006"), ExitFee: dd("0.0006")},
		TickSize:    dd("0.01"),
		Config: Config{
			BreakEvenBuffer:     dd("0.1"),
			TrailingStepPercent: dd("0.15"),
			TrailingMovePercent: dd("0.05"),
			Mode:                Staircase,
		},
	}
}

// Break-even arming: long entry 50000, leverage 10, fees 0.0006 each way,
// buffer 0.1 -> arm threshold 1.30% ROI, armed stop 50065.00.
func TestBreakEvenArming(t *testing.T) {
	in := baseInput()
	in.CurrentROI = dd("1.30")
	in.BreakEvenArmed = false

	out := NextStop(in)
	require.Equal(t, BreakEven, out.Reason)
	assert.True(t, out.BreakEvenArmed)
	assert.Equal(t, int64(0), out.NewLastStep)
	assert.True(t, out.NewStop.Equal(dd("50065.00")), "got %s", out.NewStop)
}

func TestBreakEvenDoesNotArmBelowThreshold(t *testing.T) {
	in := baseInput()
	in.CurrentROI = dd("1.29")
	in.BreakEvenArmed = false

	out := NextStop(in)
	assert.Equal(t, NoChange, out.Reason)
	assert.False(t, out.BreakEvenArmed)
}

// Staircase advance: armed at 1.30% ROI, step 0.15, move 0.05. ROI 1.45
// fires exactly one step, locking 1.35% -> stop 50067.50.
func TestTrailingAdvanceFiresOneStep(t *testing.T) {
	in := baseInput()
	in.BreakEvenArmed = true
	in.CurrentStop = dd("50065.00")
	in.LastROIStep = 0
	in.CurrentROI = dd("1.45")

	out := NextStop(in)
	require.Equal(t, TrailingAdvance, out.Reason)
	assert.Equal(t, int64(1), out.NewLastStep)
	assert.True(t, out.NewStop.Equal(dd("50067.50")), "got %s", out.NewStop)
}

// Below the next staircase threshold (baseline 1.45, step 0.15), a smaller
// ROI move must not fire another step.
func TestTrailingAdvanceNoChangeBelowNextThreshold(t *testing.T) {
	in := baseInput()
	in.BreakEvenArmed = true
	in.CurrentStop = dd("50067.50")
	in.LastROIStep = 1
	in.CurrentROI = dd("1.50")

	out := NextStop(in)
	assert.Equal(t, NoChange, out.Reason)
	assert.Equal(t, int64(1), out.NewLastStep)
	assert.True(t, out.NewStop.Equal(in.CurrentStop))
}

// At ROI 1.60 with one step already locked, the baseline is 1.45 and
// floor((1.60-1.45)/0.15) = 1: a second step fires exactly at the boundary,
// locking 1.40% -> stop 50070.00. The step-count formula is authoritative
// here; see DESIGN.md's ambiguity notes on the staircase boundary.
func TestTrailingAdvanceSecondStepAtExactBoundary(t *testing.T) {
	in := baseInput()
	in.BreakEvenArmed = true
	in.CurrentStop = dd("50067.50")
	in.LastROIStep = 1
	in.CurrentROI = dd("1.60")

	out := NextStop(in)
	require.Equal(t, TrailingAdvance, out.Reason)
	assert.Equal(t, int64(2), out.NewLastStep)
	assert.True(t, out.NewStop.Equal(dd("50070.00")), "got %s", out.NewStop)
}

func TestStopNeverMovesBackwardForLong(t *testing.T) {
	in := baseInput()
	in.BreakEvenArmed = true
	in.CurrentStop = dd("50100.00") // already ahead of what the policy would compute
	in.LastROIStep = 1
	in.CurrentROI = dd("1.60")

	out := NextStop(in)
	assert.Equal(t, NoChange, out.Reason)
	assert.True(t, out.NewStop.Equal(in.CurrentStop))
}

func TestShortSideMirrorsArithmetic(t *testing.T) {
	in := baseInput()
	in.Side = money.Short
	in.Entry = dd("50000")
	in.CurrentStop = dd("50250")
	in.CurrentROI = dd("1.30")
	in.BreakEvenArmed = false

	out := NextStop(in)
	require.Equal(t, BreakEven, out.Reason)
	assert.True(t, out.NewStop.LessThan(in.Entry))
	assert.True(t, out.NewStop.Equal(dd("49935.00")), "got %s", out.NewStop)
}

func TestDynamicModeNotImplementedIsNoOp(t *testing.T) {
	in := baseInput()
	in.BreakEvenArmed = true
	in.Config.Mode = Dynamic
	in.CurrentROI = dd("5.00")

	out := NextStop(in)
	assert.Equal(t, NoChange, out.Reason)
}

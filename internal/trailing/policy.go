// Package trailing implements the Trailing-Stop Policy: a pure function
// from (position state, current ROI) to a next stop price and arm state,
// with no I/O and no hidden state.
package trailing

import (
	"github.com/shopspring/decimal"

	"positionguard/internal/money"
)

// Mode selects the trailing algorithm. Only Staircase is implemented; ATR
// and Dynamic are named extension points for future trailing algorithms.
type Mode string

const (
	Staircase Mode = "staircase"
	ATR       Mode = "atr"
	Dynamic   Mode = "dynamic"
)

// Reason classifies why (or why not) the stop moved.
type Reason string

const (
	NoChange        Reason = "no_change"
	BreakEven       Reason = "break_even"
	TrailingAdvance Reason = "trailing_advance"
)

// Config enumerates the trailing policy's tunables.
type Config struct {
	BreakEvenBuffer     decimal.Decimal // ROI %, >= 0, < 10
	TrailingStepPercent decimal.Decimal // ROI %, > 0, < 100
	TrailingMovePercent decimal.Decimal // ROI %, > 0
	Mode                Mode
}

// Fees bundles the rates CalculateFeeAdjustedBreakEven needs.
type Fees struct {
	EntryFee decimal.Decimal
	ExitFee  decimal.Decimal
}

// Input is everything NextStop needs about the position and market.
type Input struct {
	Side           money.Side
	Entry          decimal.Decimal
	CurrentStop    decimal.Decimal
	Leverage       int
	Fees           Fees
	CurrentROI     decimal.Decimal
	LastROIStep    int64 // count of staircase advances fired since arming
	BreakEvenArmed bool
	TickSize       decimal.Decimal
	Config         Config
}

// Output is the result of one NextStop evaluation.
type Output struct {
	NewStop        decimal.Decimal
	NewLastStep    int64
	Reason         Reason
	BreakEvenArmed bool
}

// NextStop computes the next protective stop price. It never returns a stop
// that would violate the monotonic-stop invariant: if the policy's own
// arithmetic would move the stop backward, it returns NoChange instead.
func NextStop(in Input) Output {
	noChange := Output{NewStop: in.CurrentStop, NewLastStep: in.LastROIStep, Reason: NoChange, BreakEvenArmed: in.BreakEvenArmed}

	breakEvenROI, err := money.CalculateFeeAdjustedBreakEven(in.Fees.EntryFee, in.Fees.ExitFee, in.Leverage, in.Config.BreakEvenBuffer)
	if err != nil {
		return noChange
	}

	if !in.BreakEvenArmed {
		if in.CurrentROI.LessThan(breakEvenROI) {
			return noChange
		}
		candidate, err := money.CalculateTakeProfitPrice(in.Side, in.Entry, breakEvenROI, in.Leverage)
		if err != nil {
			return noChange
		}
		candidate = roundProtective(in.Side, candidate, in.TickSize)
		if !isMoreFavorable(in.Side, candidate, in.CurrentStop) {
			return noChange
		}
		return Output{NewStop: candidate, NewLastStep: 0, Reason: BreakEven, BreakEvenArmed: true}
	}

	if in.Config.Mode != Staircase {
		// ATR/dynamic modes are declared extension points, not implemented.
		return noChange
	}

	baselineROI := breakEvenROI.Add(decimal.NewFromInt(in.LastROIStep).Mul(in.Config.TrailingStepPercent))
	steps, err := money.CalculateTrailingSteps(in.CurrentROI, baselineROI, in.Config.TrailingStepPercent)
	if err != nil || steps <= 0 {
		return noChange
	}

	// Each staircase step locks TrailingMovePercent of additional ROI on top
	// of the fee-adjusted break-even floor, so the stop only ever ratchets
	// forward from the armed level.
	newStepCount := in.LastROIStep + steps
	lockedROI := breakEvenROI.Add(decimal.NewFromInt(newStepCount).Mul(in.Config.TrailingMovePercent))
	candidate, err := money.CalculateTakeProfitPrice(in.Side, in.Entry, lockedROI, in.Leverage)
	if err != nil {
		return noChange
	}
	candidate = roundProtective(in.Side, candidate, in.TickSize)
	if !isMoreFavorable(in.Side, candidate, in.CurrentStop) {
		return noChange
	}
	return Output{NewStop: candidate, NewLastStep: newStepCount, Reason: TrailingAdvance, BreakEvenArmed: true}
}

// roundProtective snaps a candidate stop to the tick grid without giving
// back locked ROI: up for a long (the stop sits above entry once armed),
// down for a short.
func roundProtective(side money.Side, price, tickSize decimal.Decimal) decimal.Decimal {
	if side == money.Long {
		return money.CeilToTick(price, tickSize)
	}
	return money.FloorToTick(price, tickSize)
}

// isMoreFavorable reports whether candidate is strictly better than current
// for side: higher for long, lower for short.
func isMoreFavorable(side money.Side, candidate, current decimal.Decimal) bool {
	if current.IsZero() {
		return true
	}
	if side == money.Long {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

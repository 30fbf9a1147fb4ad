// Package money implements the precision-safe arithmetic every other
// component funnels monetary, price, and ROI math through. All inputs and
// outputs are decimal.Decimal; callers reduce to float64 only at display
// boundaries (logs, metrics, dashboard payloads).
package money

import (
	"positionguard/internal/xerr"

	"github.com/shopspring/decimal"
)

// Side is a position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

func invalidInput(context string) error {
	return xerr.New(xerr.InvalidInput, context)
}

// CalculateMarginUsed returns balance * percent / 100.
func CalculateMarginUsed(balance, percent decimal.Decimal) (decimal.Decimal, error) {
	if balance.IsNegative() {
		return decimal.Zero, invalidInput("balance must be non-negative")
	}
	if percent.IsNegative() {
		return decimal.Zero, invalidInput("percent must be non-negative")
	}
	return balance.Mul(percent).Div(hundred), nil
}

// CalculatePositionValue returns margin * leverage.
func CalculatePositionValue(margin decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if margin.IsNegative() {
		return decimal.Zero, invalidInput("margin must be non-negative")
	}
	if leverage <= 0 {
		return decimal.Zero, invalidInput("leverage must be positive")
	}
	return margin.Mul(decimal.NewFromInt(int64(leverage))), nil
}

// CalculateLotSize returns floor(notional / (entryPrice*multiplier)), clamped
// to [minQty, maxQty] and rounded down to the nearest lotSize multiple.
func CalculateLotSize(notional, entryPrice, multiplier, lotSize, minQty, maxQty decimal.Decimal) (decimal.Decimal, error) {
	if notional.IsNegative() {
		return decimal.Zero, invalidInput("notional must be non-negative")
	}
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, invalidInput("entry price must be positive")
	}
	if multiplier.Sign() <= 0 {
		return decimal.Zero, invalidInput("multiplier must be positive")
	}
	if lotSize.Sign() <= 0 {
		return decimal.Zero, invalidInput("lot size must be positive")
	}
	raw := notional.Div(entryPrice.Mul(multiplier))
	lot := RoundToLot(raw, lotSize)
	if lot.LessThan(minQty) {
		lot = minQty
	}
	if !maxQty.IsZero() && lot.GreaterThan(maxQty) {
		lot = maxQty
	}
	return lot, nil
}

// CalculateStopLossPrice returns entry*(1 - r/(L*100)) for long,
// entry*(1 + r/(L*100)) for short.
func CalculateStopLossPrice(side Side, entry, roiRiskPercent decimal.Decimal, leverage int) (decimal.Decimal, error) {
	offset, err := roiOffset(entry, roiRiskPercent, leverage)
	if err != nil {
		return decimal.Zero, err
	}
	if side == Long {
		return entry.Sub(offset), nil
	}
	return entry.Add(offset), nil
}

// CalculateTakeProfitPrice is symmetric to CalculateStopLossPrice, opposite direction.
func CalculateTakeProfitPrice(side Side, entry, roiRewardPercent decimal.Decimal, leverage int) (decimal.Decimal, error) {
	offset, err := roiOffset(entry, roiRewardPercent, leverage)
	if err != nil {
		return decimal.Zero, err
	}
	if side == Long {
		return entry.Add(offset), nil
	}
	return entry.Sub(offset), nil
}

func roiOffset(entry, roiPercent decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if entry.Sign() <= 0 {
		return decimal.Zero, invalidInput("entry price must be positive")
	}
	if leverage <= 0 {
		return decimal.Zero, invalidInput("leverage must be positive")
	}
	if roiPercent.IsNegative() {
		return decimal.Zero, invalidInput("roi percent must be non-negative")
	}
	denom := decimal.NewFromInt(int64(leverage)).Mul(hundred)
	frac := roiPercent.Div(denom)
	return entry.Mul(frac), nil
}

// CalculateFeeAdjustedBreakEven returns (entryFee+exitFee)*leverage*100 + bufferPercent,
// expressed as an ROI percent.
func CalculateFeeAdjustedBreakEven(entryFee, exitFee decimal.Decimal, leverage int, bufferPercent decimal.Decimal) (decimal.Decimal, error) {
	if entryFee.IsNegative() || exitFee.IsNegative() {
		return decimal.Zero, invalidInput("fee rates must be non-negative")
	}
	if leverage <= 0 {
		return decimal.Zero, invalidInput("leverage must be positive")
	}
	if bufferPercent.IsNegative() {
		return decimal.Zero, invalidInput("buffer percent must be non-negative")
	}
	sum := entryFee.Add(exitFee)
	roi := sum.Mul(decimal.NewFromInt(int64(leverage))).Mul(hundred)
	return roi.Add(bufferPercent), nil
}

// CalculateLiquidationPrice returns entry*(1 - (1/L)*(1+mm/100)) for long,
// symmetric for short.
func CalculateLiquidationPrice(side Side, entry decimal.Decimal, leverage int, maintenanceMarginPercent decimal.Decimal) (decimal.Decimal, error) {
	if entry.Sign() <= 0 {
		return decimal.Zero, invalidInput("entry price must be positive")
	}
	if leverage <= 0 {
		return decimal.Zero, invalidInput("leverage must be positive")
	}
	if maintenanceMarginPercent.IsNegative() {
		return decimal.Zero, invalidInput("maintenance margin percent must be non-negative")
	}
	factor := one.Div(decimal.NewFromInt(int64(leverage))).Mul(one.Add(maintenanceMarginPercent.Div(hundred)))
	offset := entry.Mul(factor)
	if side == Long {
		return entry.Sub(offset), nil
	}
	return entry.Add(offset), nil
}

// CalculateSlippageAdjustedStop widens the stop in the adverse direction by
// slippageBufferPercent.
func CalculateSlippageAdjustedStop(side Side, stopPrice, slippageBufferPercent decimal.Decimal) (decimal.Decimal, error) {
	if stopPrice.Sign() <= 0 {
		return decimal.Zero, invalidInput("stop price must be positive")
	}
	if slippageBufferPercent.IsNegative() {
		return decimal.Zero, invalidInput("slippage buffer percent must be non-negative")
	}
	offset := stopPrice.Mul(slippageBufferPercent).Div(hundred)
	if side == Long {
		return stopPrice.Sub(offset), nil
	}
	return stopPrice.Add(offset), nil
}

// CalculateTrailingSteps returns max(0, floor((current-last)/step)).
func CalculateTrailingSteps(currentROI, lastTrailedROI, stepPercent decimal.Decimal) (int64, error) {
	if stepPercent.Sign() <= 0 {
		return 0, invalidInput("step percent must be positive")
	}
	diff := currentROI.Sub(lastTrailedROI)
	if diff.Sign() <= 0 {
		return 0, nil
	}
	steps := diff.Div(stepPercent).Floor()
	if steps.IsNegative() {
		return 0, nil
	}
	return steps.IntPart(), nil
}

// CalculateUnrealizedPnL returns priceDiff*size*multiplier.
func CalculateUnrealizedPnL(priceDiff, size, multiplier decimal.Decimal) (decimal.Decimal, error) {
	if size.IsNegative() {
		return decimal.Zero, invalidInput("size must be non-negative")
	}
	if multiplier.Sign() <= 0 {
		return decimal.Zero, invalidInput("multiplier must be positive")
	}
	return priceDiff.Mul(size).Mul(multiplier), nil
}

// CalculateROIPercent returns unrealizedPnL/marginUsed*100.
func CalculateROIPercent(unrealizedPnL, marginUsed decimal.Decimal) (decimal.Decimal, error) {
	if marginUsed.Sign() <= 0 {
		return decimal.Zero, invalidInput("margin used must be positive")
	}
	return unrealizedPnL.Div(marginUsed).Mul(hundred), nil
}

// RoundToTick rounds price to the nearest multiple of tickSize.
func RoundToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}
	units := price.Div(tickSize).Round(0)
	return units.Mul(tickSize)
}

// CeilToTick rounds price up to the next multiple of tickSize.
func CeilToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}
	units := price.Div(tickSize).Ceil()
	return units.Mul(tickSize)
}

// FloorToTick rounds price down to the previous multiple of tickSize.
func FloorToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}
	units := price.Div(tickSize).Floor()
	return units.Mul(tickSize)
}

// RoundToLot rounds size down to the nearest multiple of lotSize (floor, never
// rounds up past what was requested).
func RoundToLot(size, lotSize decimal.Decimal) decimal.Decimal {
	if lotSize.Sign() <= 0 {
		return size
	}
	units := size.Div(lotSize).Floor()
	return units.Mul(lotSize)
}

// RoundToTickAdverse rounds price to the nearest tick, with ties broken away
// from the trader's favor: for a stop-loss, that means rounding a long's stop
// down and a short's stop up when price sits exactly between two ticks.
func RoundToTickAdverse(side Side, price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}
	units := price.Div(tickSize)
	floor := units.Floor()
	frac := units.Sub(floor)
	half := decimal.NewFromFloat(0.5)
	var rounded decimal.Decimal
	switch {
	case frac.LessThan(half):
		rounded = floor
	case frac.GreaterThan(half):
		rounded = floor.Add(one)
	default:
		if side == Long {
			rounded = floor
		} else {
			rounded = floor.Add(one)
		}
	}
	return rounded.Mul(tickSize)
}

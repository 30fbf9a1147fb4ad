// Package position implements the Position data model and the Position
// Lifecycle Manager: entry sizing and submission, break-even/trailing
// monitoring, exit detection, and startup reconciliation against exchange
// state.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/trailing"
	"positionguard/internal/xerr"
)

// Status is the coarse lifecycle state of a Position.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// ExitReason records why a position left StatusOpen.
type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitStopFilled     ExitReason = "stop_filled"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitManual         ExitReason = "manual"
	ExitEmergencyClose ExitReason = "emergency_close"
	ExitReconciled     ExitReason = "reconciled_missing"
)

// Position is the durable record of one open or recently-closed protected
// position. Every field that feeds trailing.Input or order validation is
// decimal.Decimal; nothing here is recomputed from floats.
type Position struct {
	ID     string
	Symbol string
	Side   money.Side
	Status Status

	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	Leverage   int
	Multiplier decimal.Decimal
	Spec       order.ContractSpec

	EntryFee decimal.Decimal
	ExitFee  decimal.Decimal

	StopOrderID string
	StopPrice   decimal.Decimal
	// InitialStopPrice is the stop price computed at entry, before any
	// break-even or trailing advancement. It never changes after Open and
	// exists only so CheckInvariants can measure liquidation distance
	// against the position's original risk, not its (more favorable)
	// current stop.
	InitialStopPrice  decimal.Decimal
	TakeProfitOrderID string
	TakeProfitPrice   decimal.Decimal
	BreakEvenArmed    bool
	LastROIStep       int64

	// MaintenanceMarginPercent is copied from configuration at entry so
	// invariant checks do not need to reach back into the lifecycle
	// manager's config.
	MaintenanceMarginPercent decimal.Decimal

	TrailingConfig trailing.Config

	ExitReason  ExitReason
	RealizedPnL decimal.Decimal

	OpenedAt  time.Time
	ClosedAt  time.Time
	UpdatedAt time.Time
}

// TrailingInput projects a Position plus the current ROI reading into a
// trailing.Input, the seam between the durable position record and the
// pure trailing-stop policy function.
func (p Position) TrailingInput(currentROI decimal.Decimal) trailing.Input {
	return trailing.Input{
		Side:           p.Side,
		Entry:          p.EntryPrice,
		CurrentStop:    p.StopPrice,
		Leverage:       p.Leverage,
		Fees:           trailing.Fees{EntryFee: p.EntryFee, ExitFee: p.ExitFee},
		CurrentROI:     currentROI,
		LastROIStep:    p.LastROIStep,
		BreakEvenArmed: p.BreakEvenArmed,
		TickSize:       p.Spec.TickSize,
		Config:         p.TrailingConfig,
	}
}

// ApplyTrailing updates the position's stop bookkeeping from a
// trailing.Output; it does not itself touch the exchange or the stop-replace
// coordinator.
func (p *Position) ApplyTrailing(out trailing.Output) {
	p.StopPrice = out.NewStop
	p.LastROIStep = out.NewLastStep
	p.BreakEvenArmed = out.BreakEvenArmed
	p.UpdatedAt = time.Now()
}

// MarginUsed returns the margin backing this position (notional/leverage).
func (p Position) MarginUsed() (decimal.Decimal, error) {
	if p.Leverage <= 0 {
		return decimal.Zero, nil
	}
	notional := p.EntryPrice.Mul(p.Quantity)
	return notional.Div(decimal.NewFromInt(int64(p.Leverage))), nil
}

// invariantTolerance bounds the "within one unit in the last decimal place"
// slack invariant 1 allows for margin/notional identity checks.
var invariantTolerance = decimal.New(1, -8)

// CheckInvariants re-validates a Position against the data model's
// invariants. It is called after every mutation that touches price, margin,
// or arm state (entry, break-even arming, trailing advance) and returns an
// InvariantViolation error the moment any one of them is found to not hold;
// that error kind is never observable from a healthy system.
func (p Position) CheckInvariants() error {
	if p.Leverage <= 0 {
		return xerr.New(xerr.InvariantViolation, "leverage must be positive")
	}

	// 1. margin_used * leverage = size * entry_price * multiplier, within
	// one unit in the last decimal place.
	margin, err := p.MarginUsed()
	if err != nil {
		return xerr.Wrap(xerr.InvariantViolation, "margin_used computation failed", err)
	}
	lhs := margin.Mul(decimal.NewFromInt(int64(p.Leverage)))
	rhs := p.Quantity.Mul(p.EntryPrice).Mul(p.Multiplier)
	if lhs.Sub(rhs).Abs().GreaterThan(invariantTolerance) {
		return xerr.New(xerr.InvariantViolation, "margin_used * leverage does not equal size * entry_price * multiplier")
	}

	// 2. stop-loss side relative to entry, before/after break-even arming.
	if !p.StopPrice.IsZero() {
		if !p.BreakEvenArmed {
			if p.Side == money.Long && p.StopPrice.GreaterThan(p.EntryPrice) {
				return xerr.New(xerr.InvariantViolation, "long stop-loss above entry price before break-even armed")
			}
			if p.Side == money.Short && p.StopPrice.LessThan(p.EntryPrice) {
				return xerr.New(xerr.InvariantViolation, "short stop-loss below entry price before break-even armed")
			}
		} else {
			breakEvenROI, beErr := money.CalculateFeeAdjustedBreakEven(p.EntryFee, p.ExitFee, p.Leverage, p.TrailingConfig.BreakEvenBuffer)
			if beErr == nil {
				floor, fErr := money.CalculateTakeProfitPrice(p.Side, p.EntryPrice, breakEvenROI, p.Leverage)
				if fErr == nil {
					if p.Side == money.Long && p.StopPrice.LessThan(floor) {
						return xerr.New(xerr.InvariantViolation, "long stop-loss below fee-adjusted break-even after arming")
					}
					if p.Side == money.Short && p.StopPrice.GreaterThan(floor) {
						return xerr.New(xerr.InvariantViolation, "short stop-loss above fee-adjusted break-even after arming")
					}
				}
			}
		}
	}

	// 4. trailing advancement only ever occurs once break-even is armed.
	if !p.BreakEvenArmed && p.LastROIStep != 0 {
		return xerr.New(xerr.InvariantViolation, "trailing advanced without break-even armed")
	}

	// 5. liquidation price strictly beyond the initial stop-loss price in
	// the adverse direction.
	if !p.InitialStopPrice.IsZero() && !p.MaintenanceMarginPercent.IsZero() {
		liq, lErr := money.CalculateLiquidationPrice(p.Side, p.EntryPrice, p.Leverage, p.MaintenanceMarginPercent)
		if lErr == nil {
			if p.Side == money.Long && !liq.LessThan(p.InitialStopPrice) {
				return xerr.New(xerr.InvariantViolation, "liquidation price is not strictly beyond the initial stop-loss for a long")
			}
			if p.Side == money.Short && !liq.GreaterThan(p.InitialStopPrice) {
				return xerr.New(xerr.InvariantViolation, "liquidation price is not strictly beyond the initial stop-loss for a short")
			}
		}
	}

	// 3. monotonic stop-in-favorable-direction is enforced structurally by
	// trailing.NextStop (which refuses any candidate that is not strictly
	// more favorable than the current stop) and is not re-derivable from a
	// single Position snapshot without history; it is covered by
	// internal/trailing's own tests instead.
	return nil
}

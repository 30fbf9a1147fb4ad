// Package order enforces the reduce-only / stop-order shape invariants
// every submission must satisfy before it reaches the rate-limit budget and
// the exchange client.
package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"positionguard/internal/money"
	"positionguard/internal/xerr"
)

// TriggerPriceType selects which exchange price feed triggers a stop.
type TriggerPriceType string

const (
	TriggerMark TriggerPriceType = "mark"
	TriggerLast TriggerPriceType = "last"
)

// Side mirrors money.Side for order-facing code.
type Side = money.Side

// Params is the order shape every validator entry point operates on.
type Params struct {
	Symbol           string
	Side             Side // side of the order itself, not the position
	Quantity         decimal.Decimal
	Price            decimal.Decimal // limit price; zero for market
	ReduceOnly       bool
	TriggerPrice     decimal.Decimal
	TriggerPriceType TriggerPriceType
}

// ContractSpec carries the per-symbol granularity validation needs.
type ContractSpec struct {
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
}

func invalidOrder(field, reason string) error {
	return xerr.Wrap(xerr.InvalidOrder, fmt.Sprintf("field=%s", field), errors.New(reason))
}

func isPositiveMultiple(v, step decimal.Decimal) bool {
	if v.Sign() <= 0 || step.Sign() <= 0 {
		return false
	}
	return v.Div(step).Mod(decimal.NewFromInt(1)).IsZero()
}

// ValidateExitOrder checks a reduce-only closing order (market or limit,
// no trigger) against the contract spec and the position's side.
func ValidateExitOrder(p Params, positionSide Side, spec ContractSpec) error {
	if !p.ReduceOnly {
		return invalidOrder("reduce_only", "exit order must carry reduce_only=true")
	}
	if p.Side == positionSide {
		return invalidOrder("side", "exit order side must be opposite the position side")
	}
	if !isPositiveMultiple(p.Quantity, spec.LotSize) {
		return invalidOrder("quantity", "quantity must be a positive multiple of lot size")
	}
	if p.Quantity.LessThan(spec.MinQty) {
		return invalidOrder("quantity", "quantity below contract minimum")
	}
	if !spec.MaxQty.IsZero() && p.Quantity.GreaterThan(spec.MaxQty) {
		return invalidOrder("quantity", "quantity above contract maximum")
	}
	if !p.Price.IsZero() && !isPositiveMultiple(p.Price, spec.TickSize) {
		return invalidOrder("price", "price must be a positive multiple of tick size")
	}
	return nil
}

// ValidateEntryOrder checks a position-opening order: entries are never
// reduce-only, but quantity and price granularity still apply.
func ValidateEntryOrder(p Params, spec ContractSpec) error {
	if p.ReduceOnly {
		return invalidOrder("reduce_only", "entry order must not carry reduce_only")
	}
	if !isPositiveMultiple(p.Quantity, spec.LotSize) {
		return invalidOrder("quantity", "quantity must be a positive multiple of lot size")
	}
	if p.Quantity.LessThan(spec.MinQty) {
		return invalidOrder("quantity", "quantity below contract minimum")
	}
	if !spec.MaxQty.IsZero() && p.Quantity.GreaterThan(spec.MaxQty) {
		return invalidOrder("quantity", "quantity above contract maximum")
	}
	if !p.Price.IsZero() && !isPositiveMultiple(p.Price, spec.TickSize) {
		return invalidOrder("price", "price must be a positive multiple of tick size")
	}
	return nil
}

// ValidateStopOrder additionally requires a trigger price and type.
func ValidateStopOrder(p Params, positionSide Side, spec ContractSpec) error {
	if err := ValidateExitOrder(p, positionSide, spec); err != nil {
		return err
	}
	if p.TriggerPrice.Sign() <= 0 {
		return invalidOrder("trigger_price", "stop order must carry a positive trigger price")
	}
	if p.TriggerPriceType != TriggerMark && p.TriggerPriceType != TriggerLast {
		return invalidOrder("trigger_price_type", "stop order must carry a trigger price type of mark or last")
	}
	if !isPositiveMultiple(p.TriggerPrice, spec.TickSize) {
		return invalidOrder("trigger_price", "trigger price must be a positive multiple of tick size")
	}
	return nil
}

// Role distinguishes the two sanitize call sites.
type Role string

const (
	RoleExit Role = "exit"
	RoleStop Role = "stop"
)

// Sanitize returns a new Params with reduce_only forced true for exits, and
// (for stops) a mark-price trigger type defaulted when unset. It never
// returns the input unchanged.
func Sanitize(p Params, role Role) Params {
	out := p
	out.ReduceOnly = true
	if role == RoleStop && out.TriggerPriceType == "" {
		out.TriggerPriceType = TriggerMark
	}
	return out
}

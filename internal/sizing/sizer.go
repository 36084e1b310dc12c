// Package sizing converts a fiat risk budget into a venue-legal order quantity.
//
// The quantity is driven only by the loss the trader accepts if the stop is hit:
//
//	quantity = riskAmount / (|entry - stop| + entry*feeBuffer)
//
// Leverage never enters that formula. It only decides how much margin the
// position ties up, which CheckMargin validates as a separate step.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

var (
	ErrInvalidRisk        = errors.New("invalid risk parameters")
	ErrStopWrongSide      = errors.New("stop loss on the wrong side of entry")
	ErrBelowMinSize       = errors.New("quantity below venue minimum order size")
	ErrInsufficientMargin = errors.New("insufficient margin")
)

// divPrecision is the number of decimal places kept by divisions.
const divPrecision = 18

// RiskBudget is the trader's intent before sizing.
type RiskBudget struct {
	Side       exchange.Side
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.NullDecimal
	RiskAmount decimal.Decimal
	Leverage   int
}

// SizedOrder is a budget resolved into a quantity the venue will accept.
type SizedOrder struct {
	Symbol     string
	Side       exchange.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.NullDecimal
}

// Validate rejects budgets that must never reach the venue.
func (b RiskBudget) Validate() error {
	if !b.RiskAmount.IsPositive() {
		return fmt.Errorf("%w: risk amount must be positive, got %s", ErrInvalidRisk, b.RiskAmount)
	}
	if b.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be >= 1, got %d", ErrInvalidRisk, b.Leverage)
	}
	if !b.EntryPrice.IsPositive() || !b.StopLoss.IsPositive() {
		return fmt.Errorf("%w: entry and stop must be positive", ErrInvalidRisk)
	}
	switch b.Side {
	case exchange.Long:
		if !b.StopLoss.LessThan(b.EntryPrice) {
			return fmt.Errorf("%w: long stop %s must be below entry %s", ErrStopWrongSide, b.StopLoss, b.EntryPrice)
		}
		if b.TakeProfit.Valid && !b.TakeProfit.Decimal.GreaterThan(b.EntryPrice) {
			return fmt.Errorf("%w: long take profit %s must be above entry %s", ErrInvalidRisk, b.TakeProfit.Decimal, b.EntryPrice)
		}
	case exchange.Short:
		if !b.StopLoss.GreaterThan(b.EntryPrice) {
			return fmt.Errorf("%w: short stop %s must be above entry %s", ErrStopWrongSide, b.StopLoss, b.EntryPrice)
		}
		if b.TakeProfit.Valid && !b.TakeProfit.Decimal.LessThan(b.EntryPrice) {
			return fmt.Errorf("%w: short take profit %s must be below entry %s", ErrInvalidRisk, b.TakeProfit.Decimal, b.EntryPrice)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidRisk, b.Side)
	}
	return nil
}

// RiskPerUnit is the loss per unit of quantity if the stop is hit.
func (b RiskBudget) RiskPerUnit() decimal.Decimal {
	return b.EntryPrice.Sub(b.StopLoss).Abs()
}

// Size computes the quantity for budget under the symbol's constraints.
// feeBuffer is a ratio of entry price added to the per-unit loss to leave
// room for fees and slippage; zero disables it.
func Size(budget RiskBudget, spec exchange.SymbolSpec, feeBuffer decimal.Decimal) (SizedOrder, error) {
	budget, err := onPriceGrid(budget, spec)
	if err != nil {
		return SizedOrder{}, err
	}
	if feeBuffer.IsNegative() {
		return SizedOrder{}, fmt.Errorf("%w: fee buffer must not be negative", ErrInvalidRisk)
	}
	if spec.MaxLeverage > 0 && budget.Leverage > spec.MaxLeverage {
		return SizedOrder{}, fmt.Errorf("%w: leverage %d exceeds venue max %d for %s",
			ErrInvalidRisk, budget.Leverage, spec.MaxLeverage, spec.Symbol)
	}

	perUnit := budget.RiskPerUnit().Add(budget.EntryPrice.Mul(feeBuffer))
	raw := budget.RiskAmount.DivRound(perUnit, divPrecision)

	qty := spec.FloorSize(raw)
	if qty.LessThan(spec.MinOrderSize) || !qty.IsPositive() {
		return SizedOrder{}, fmt.Errorf("%w: %s < %s for %s", ErrBelowMinSize, qty, spec.MinOrderSize, spec.Symbol)
	}

	return SizedOrder{
		Symbol:     spec.Symbol,
		Side:       budget.Side,
		Quantity:   qty,
		EntryPrice: budget.EntryPrice,
		StopLoss:   budget.StopLoss,
		TakeProfit: budget.TakeProfit,
	}, nil
}

// onPriceGrid rounds the stop and take profit to the venue's price precision.
// The budget must be valid both before and after rounding.
func onPriceGrid(budget RiskBudget, spec exchange.SymbolSpec) (RiskBudget, error) {
	if err := budget.Validate(); err != nil {
		return RiskBudget{}, err
	}
	rounded := budget
	rounded.StopLoss = spec.RoundPrice(budget.StopLoss)
	if budget.TakeProfit.Valid {
		rounded.TakeProfit = decimal.NewNullDecimal(spec.RoundPrice(budget.TakeProfit.Decimal))
	}
	if err := rounded.Validate(); err != nil {
		return RiskBudget{}, fmt.Errorf("at %d price decimals: %w", spec.PriceDecimals, err)
	}
	return rounded, nil
}

// Adjustment is the outcome of VerifyAndAdjustPnl.
type Adjustment struct {
	Quantity     decimal.Decimal
	Adjusted     bool
	ExpectedLoss decimal.Decimal // Quantity * riskPerUnit
	Deviation    decimal.Decimal // |ExpectedLoss - riskAmount| / riskAmount
}

// VerifyAndAdjustPnl checks that qty loses about the budgeted amount at the
// stop as placed on the venue.
// A quantity that is off the venue step or outside tolerance is replaced with
// the venue-legal size closest to riskAmount/riskPerUnit. The replacement only
// depends on the budget, so applying the function twice yields the same result.
func VerifyAndAdjustPnl(qty decimal.Decimal, budget RiskBudget, spec exchange.SymbolSpec, tolerance decimal.Decimal) (Adjustment, error) {
	budget, err := onPriceGrid(budget, spec)
	if err != nil {
		return Adjustment{}, err
	}
	perUnit := budget.RiskPerUnit()

	snapped := spec.FloorSize(qty)
	if snapped.GreaterThanOrEqual(spec.MinOrderSize) && snapped.IsPositive() {
		if dev := deviation(snapped, perUnit, budget.RiskAmount); dev.LessThanOrEqual(tolerance) {
			return Adjustment{
				Quantity:     snapped,
				Adjusted:     !snapped.Equal(qty),
				ExpectedLoss: snapped.Mul(perUnit),
				Deviation:    dev,
			}, nil
		}
	}

	target := budget.RiskAmount.DivRound(perUnit, divPrecision)
	lower := spec.FloorSize(target)
	upper := lower.Add(spec.SizeStep())
	candidate := lower
	if upper.Sub(target).LessThan(target.Sub(lower)) {
		candidate = upper
	}
	if candidate.LessThan(spec.MinOrderSize) || !candidate.IsPositive() {
		return Adjustment{}, fmt.Errorf("%w: closest legal size %s < %s for %s",
			ErrBelowMinSize, candidate, spec.MinOrderSize, spec.Symbol)
	}

	return Adjustment{
		Quantity:     candidate,
		Adjusted:     !candidate.Equal(qty),
		ExpectedLoss: candidate.Mul(perUnit),
		Deviation:    deviation(candidate, perUnit, budget.RiskAmount),
	}, nil
}

func deviation(qty, perUnit, riskAmount decimal.Decimal) decimal.Decimal {
	return qty.Mul(perUnit).Sub(riskAmount).Abs().DivRound(riskAmount, divPrecision)
}

// RequiredMargin is the collateral a position of qty at entry ties up under leverage.
func RequiredMargin(qty, entry decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return qty.Mul(entry).DivRound(decimal.NewFromInt(int64(leverage)), divPrecision)
}

// CheckMargin fails when available collateral cannot carry the order.
func CheckMargin(order SizedOrder, leverage int, available decimal.Decimal) error {
	need := RequiredMargin(order.Quantity, order.EntryPrice, leverage)
	if need.GreaterThan(available) {
		return fmt.Errorf("%w: need %s, available %s (leverage %dx)",
			ErrInsufficientMargin, need.StringFixed(2), available.StringFixed(2), leverage)
	}
	return nil
}

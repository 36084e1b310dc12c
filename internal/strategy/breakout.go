package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

// BreakoutParams configures Breakout. Unset bands are placed BreakoutPct
// away from the reference price.
type BreakoutParams struct {
	Resistance    decimal.NullDecimal `json:"resistance"`
	Support       decimal.NullDecimal `json:"support"`
	BreakoutPct   decimal.Decimal     `json:"breakout_pct"`
	StopLossPct   decimal.Decimal     `json:"stop_loss_pct"`
	TakeProfitPct decimal.Decimal     `json:"take_profit_pct"`
}

func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{
		BreakoutPct:   decimal.NewFromInt(1),
		StopLossPct:   decimal.NewFromInt(2),
		TakeProfitPct: decimal.NewFromInt(4),
	}
}

func (p BreakoutParams) Validate() error {
	if !p.BreakoutPct.IsPositive() {
		return errors.New("breakout: breakout_pct must be positive")
	}
	if !p.StopLossPct.IsPositive() || p.StopLossPct.GreaterThanOrEqual(hundred) {
		return errors.New("breakout: stop_loss_pct must be in (0, 100)")
	}
	if !p.TakeProfitPct.IsPositive() {
		return errors.New("breakout: take_profit_pct must be positive")
	}
	if p.Resistance.Valid && p.Support.Valid && !p.Resistance.Decimal.GreaterThan(p.Support.Decimal) {
		return fmt.Errorf("breakout: resistance %s must be above support %s", p.Resistance.Decimal, p.Support.Decimal)
	}
	return nil
}

// Breakout enters in the direction of a band break and exits an open position
// once its floating PnL reaches the stop-loss or take-profit percentage.
type Breakout struct {
	Params BreakoutParams
}

func (b *Breakout) Type() Type { return TypeBreakout }

// Bands returns the resistance and support levels for snap.
func (b *Breakout) Bands(snap Snapshot) (resistance, support decimal.Decimal) {
	ref := reference(snap)
	width := pct(b.Params.BreakoutPct)
	resistance = ref.Mul(decimal.NewFromInt(1).Add(width))
	support = ref.Mul(decimal.NewFromInt(1).Sub(width))
	if b.Params.Resistance.Valid {
		resistance = b.Params.Resistance.Decimal
	}
	if b.Params.Support.Valid {
		support = b.Params.Support.Decimal
	}
	return resistance, support
}

func (b *Breakout) Evaluate(_ context.Context, snap Snapshot, pos *exchange.Position) (Signal, error) {
	if !snap.Price.IsPositive() {
		return Signal{}, fmt.Errorf("breakout: no price for %s", snap.Symbol)
	}

	if pos != nil {
		pnl := pnlPct(pos, snap.Price)
		switch {
		case pnl.LessThanOrEqual(b.Params.StopLossPct.Neg()):
			return ExitSignal(fmt.Sprintf("stop loss: pnl %s%%", pnl.StringFixed(2))), nil
		case pnl.GreaterThanOrEqual(b.Params.TakeProfitPct):
			return ExitSignal(fmt.Sprintf("take profit: pnl %s%%", pnl.StringFixed(2))), nil
		}
		return NoSignal(fmt.Sprintf("holding %s, pnl %s%%", pos.Side, pnl.StringFixed(2))), nil
	}

	resistance, support := b.Bands(snap)
	one := decimal.NewFromInt(1)
	sl, tp := pct(b.Params.StopLossPct), pct(b.Params.TakeProfitPct)

	switch {
	case snap.Price.GreaterThan(resistance):
		return Signal{
			Kind:       EnterLong,
			StopLoss:   snap.Price.Mul(one.Sub(sl)),
			TakeProfit: decimal.NewNullDecimal(snap.Price.Mul(one.Add(tp))),
			Reason:     fmt.Sprintf("price %s above resistance %s", snap.Price, resistance),
		}, nil
	case snap.Price.LessThan(support):
		return Signal{
			Kind:       EnterShort,
			StopLoss:   snap.Price.Mul(one.Add(sl)),
			TakeProfit: decimal.NewNullDecimal(snap.Price.Mul(one.Sub(tp))),
			Reason:     fmt.Sprintf("price %s below support %s", snap.Price, support),
		}, nil
	}
	return NoSignal("inside band"), nil
}

package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

// MeanReversionParams configures MeanReversion. An unset Average follows the
// reference price.
type MeanReversionParams struct {
	Average      decimal.NullDecimal `json:"average"`
	DeviationPct decimal.Decimal     `json:"deviation_pct"`
	StopLossPct  decimal.Decimal     `json:"stop_loss_pct"`
}

func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		DeviationPct: decimal.NewFromInt(2),
		StopLossPct:  decimal.NewFromInt(3),
	}
}

func (p MeanReversionParams) Validate() error {
	if !p.DeviationPct.IsPositive() || p.DeviationPct.GreaterThanOrEqual(hundred) {
		return errors.New("mean_reversion: deviation_pct must be in (0, 100)")
	}
	if !p.StopLossPct.IsPositive() || p.StopLossPct.GreaterThanOrEqual(hundred) {
		return errors.New("mean_reversion: stop_loss_pct must be in (0, 100)")
	}
	if p.Average.Valid && !p.Average.Decimal.IsPositive() {
		return errors.New("mean_reversion: average must be positive")
	}
	return nil
}

// MeanReversion fades a breach of the deviation band and targets the average.
// It never signals an exit; the stop placed at entry covers the downside.
type MeanReversion struct {
	Params MeanReversionParams
}

func (m *MeanReversion) Type() Type { return TypeMeanReversion }

func (m *MeanReversion) Average(snap Snapshot) decimal.Decimal {
	if m.Params.Average.Valid {
		return m.Params.Average.Decimal
	}
	return reference(snap)
}

func (m *MeanReversion) Evaluate(_ context.Context, snap Snapshot, pos *exchange.Position) (Signal, error) {
	if !snap.Price.IsPositive() {
		return Signal{}, fmt.Errorf("mean_reversion: no price for %s", snap.Symbol)
	}
	if pos != nil {
		return NoSignal(fmt.Sprintf("holding %s", pos.Side)), nil
	}

	one := decimal.NewFromInt(1)
	avg := m.Average(snap)
	dev := pct(m.Params.DeviationPct)
	sl := pct(m.Params.StopLossPct)
	upper := avg.Mul(one.Add(dev))
	lower := avg.Mul(one.Sub(dev))

	switch {
	case snap.Price.GreaterThan(upper):
		return Signal{
			Kind:       EnterShort,
			StopLoss:   snap.Price.Mul(one.Add(sl)),
			TakeProfit: decimal.NewNullDecimal(avg),
			Reason:     fmt.Sprintf("price %s above band %s", snap.Price, upper),
		}, nil
	case snap.Price.LessThan(lower):
		return Signal{
			Kind:       EnterLong,
			StopLoss:   snap.Price.Mul(one.Sub(sl)),
			TakeProfit: decimal.NewNullDecimal(avg),
			Reason:     fmt.Sprintf("price %s below band %s", snap.Price, lower),
		}, nil
	}
	return NoSignal("inside band"), nil
}

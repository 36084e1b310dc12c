package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/ai"
	"github.com/camuig/riskbot/internal/exchange"
)

// Advisor is satisfied by *ai.DeepSeekClient.
type Advisor interface {
	Advise(ctx context.Context, req *ai.Request) (*ai.Decision, error)
}

type AdvisorParams struct {
	MinConfidence int             `json:"min_confidence"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
}

func DefaultAdvisorParams() AdvisorParams {
	return AdvisorParams{
		MinConfidence: 70,
		StopLossPct:   decimal.NewFromInt(2),
		TakeProfitPct: decimal.NewFromInt(4),
	}
}

func (p AdvisorParams) Validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 100 {
		return errors.New("ai_advisor: min_confidence must be in [0, 100]")
	}
	if !p.StopLossPct.IsPositive() || p.StopLossPct.GreaterThanOrEqual(hundred) {
		return errors.New("ai_advisor: stop_loss_pct must be in (0, 100)")
	}
	if !p.TakeProfitPct.IsPositive() {
		return errors.New("ai_advisor: take_profit_pct must be positive")
	}
	return nil
}

// AIAdvisor asks the model for a decision each tick. Levels the model returns
// on the wrong side of the price are replaced with the configured percentages.
type AIAdvisor struct {
	Params  AdvisorParams
	Advisor Advisor
}

func (a *AIAdvisor) Type() Type { return TypeAIAdvisor }

func (a *AIAdvisor) Evaluate(ctx context.Context, snap Snapshot, pos *exchange.Position) (Signal, error) {
	if !snap.Price.IsPositive() {
		return Signal{}, fmt.Errorf("ai_advisor: no price for %s", snap.Symbol)
	}

	req := &ai.Request{
		Symbol:         snap.Symbol,
		Price:          snap.Price.InexactFloat64(),
		ReferencePrice: reference(snap).InexactFloat64(),
		Balance:        snap.Account.Balance.InexactFloat64(),
		Available:      snap.Account.Available.InexactFloat64(),
	}
	if pos != nil {
		req.Position = &ai.PositionView{
			Side:       string(pos.Side),
			Size:       pos.Size.InexactFloat64(),
			EntryPrice: pos.EntryPrice.InexactFloat64(),
			PnlPct:     pnlPct(pos, snap.Price).InexactFloat64(),
		}
	}

	d, err := a.Advisor.Advise(ctx, req)
	if err != nil {
		return Signal{}, fmt.Errorf("ai_advisor: %w", err)
	}

	if pos != nil {
		if d.Action == ai.ActionExit {
			return ExitSignal("advisor: " + d.Reasoning), nil
		}
		return NoSignal(fmt.Sprintf("advisor %s while holding", d.Action)), nil
	}

	if d.Action != ai.ActionLong && d.Action != ai.ActionShort {
		return NoSignal("advisor " + d.Action), nil
	}
	if d.Confidence < a.Params.MinConfidence {
		return NoSignal(fmt.Sprintf("advisor %s confidence %d below %d", d.Action, d.Confidence, a.Params.MinConfidence)), nil
	}

	one := decimal.NewFromInt(1)
	sl, tp := pct(a.Params.StopLossPct), pct(a.Params.TakeProfitPct)
	stop := decimal.NewFromFloat(d.StopLoss)
	target := decimal.NewFromFloat(d.TakeProfit)
	sig := Signal{Reason: fmt.Sprintf("advisor %s (%d%%): %s", d.Action, d.Confidence, d.Reasoning)}

	if d.Action == ai.ActionLong {
		sig.Kind = EnterLong
		if !stop.IsPositive() || !stop.LessThan(snap.Price) {
			stop = snap.Price.Mul(one.Sub(sl))
		}
		if !target.GreaterThan(snap.Price) {
			target = snap.Price.Mul(one.Add(tp))
		}
	} else {
		sig.Kind = EnterShort
		if !stop.GreaterThan(snap.Price) {
			stop = snap.Price.Mul(one.Add(sl))
		}
		if !target.IsPositive() || !target.LessThan(snap.Price) {
			target = snap.Price.Mul(one.Sub(tp))
		}
	}
	sig.StopLoss = stop
	sig.TakeProfit = decimal.NewNullDecimal(target)
	return sig, nil
}

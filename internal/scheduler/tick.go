package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/executor"
	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/risk"
	"github.com/camuig/riskbot/internal/sizing"
	"github.com/camuig/riskbot/internal/storage"
	"github.com/camuig/riskbot/internal/strategy"
)

// Outcome classifies a finished tick.
type Outcome string

const (
	OutcomeNoSignal     Outcome = "no_signal"
	OutcomeOpened       Outcome = "opened"
	OutcomeClosed       Outcome = "closed"
	OutcomeRejected     Outcome = "rejected" // risk limits or sizing refused the entry
	OutcomeFailed       Outcome = "failed"
	OutcomeUnregistered Outcome = "unregistered"
)

// TickResult is what one tick did. Fatal failures stop the bot; other
// failures are retried on the next tick.
type TickResult struct {
	Outcome   Outcome
	Signal    string
	Price     decimal.Decimal
	Available decimal.Decimal
	Detail    string
	Err       error
	Fatal     bool
}

func failed(err error) TickResult {
	return TickResult{Outcome: OutcomeFailed, Err: err, Fatal: errors.Is(err, exchange.ErrPermanent)}
}

func fatal(err error) TickResult {
	return TickResult{Outcome: OutcomeFailed, Err: err, Fatal: true}
}

// TickStats reports how many ticks ran and how many were skipped because the
// previous one was still in flight.
func (s *Scheduler) TickStats(botID uint) (ticks, skipped int64, ok bool) {
	s.mu.Lock()
	h, ok := s.bots[botID]
	s.mu.Unlock()
	if !ok {
		return 0, 0, false
	}
	return h.ticks.Load(), h.skipped.Load(), true
}

func (s *Scheduler) tick(ctx context.Context, h *handle) TickResult {
	bot, err := s.store.LoadBotConfig(ctx, h.botID)
	if errors.Is(err, storage.ErrNotFound) {
		return TickResult{Outcome: OutcomeUnregistered, Detail: "bot deleted"}
	}
	if err != nil {
		return fatal(fmt.Errorf("load bot: %w", err))
	}
	if bot.Status != storage.BotRunning {
		return TickResult{Outcome: OutcomeUnregistered, Detail: "status " + bot.Status}
	}

	var res TickResult
	err = s.keys.WithKey(ctx, bot.WalletID, h.secret, func(key *keystore.Key) error {
		client, err := s.factory.New(ctx, exchange.Wallet{ID: key.WalletID, Venue: key.Venue, Address: key.Address}, key.Bytes)
		if err != nil {
			res = failed(fmt.Errorf("connect %s: %w", key.Venue, err))
			return nil
		}
		if c, ok := client.(io.Closer); ok {
			defer c.Close()
		}
		client = exchange.WithTimeouts(client, s.config.CallTimeout(), s.config.EntryTimeout())
		res = s.trade(ctx, h, bot, client)
		return nil
	})
	if err != nil {
		return fatal(fmt.Errorf("unlock wallet %d: %w", bot.WalletID, err))
	}
	return res
}

// trade runs one evaluation against a tick-scoped client.
func (s *Scheduler) trade(ctx context.Context, h *handle, bot *storage.BotConfig, client exchange.Client) TickResult {
	// rows written outside CreateBot may carry any case
	bot.Symbol = exchange.NormalizeSymbol(bot.Symbol)

	strat, err := strategy.New(bot.StrategyType, bot.Parameters, s.advisor)
	if err != nil {
		return fatal(fmt.Errorf("strategy: %w", err))
	}
	limits := risk.Limits{
		RiskPerTradePct: bot.RiskPerTradePct,
		MaxDailyLossPct: bot.MaxDailyLossPct,
		MaxPositions:    bot.MaxPositions,
	}
	if err := limits.Validate(); err != nil {
		return fatal(err)
	}

	acct, err := client.GetAccountInfo(ctx)
	if err != nil {
		return failed(fmt.Errorf("account: %w", err))
	}
	positions, err := client.GetPositions(ctx)
	if err != nil {
		return failed(fmt.Errorf("positions: %w", err))
	}
	price, err := client.GetPrice(ctx, bot.Symbol)
	if err != nil {
		return failed(fmt.Errorf("price %s: %w", bot.Symbol, err))
	}

	ref := h.lastPrice
	if !ref.IsPositive() {
		ref = price
	}
	h.lastPrice = price

	res := TickResult{Price: price, Available: acct.Available}
	pos := exchange.FindPosition(positions, bot.Symbol)

	open, err := s.store.OpenTradeForBot(ctx, bot.ID, bot.Symbol)
	if err != nil {
		return fatal(fmt.Errorf("load open trade: %w", err))
	}
	if open != nil && pos == nil {
		if err := s.executor.ReconcileClosed(ctx, client, open, price); err != nil {
			return fatal(err)
		}
		res.Outcome = OutcomeClosed
		res.Detail = executor.ReasonClosedOnVenue
		return res
	}

	snap := strategy.Snapshot{
		Symbol:         bot.Symbol,
		Account:        *acct,
		Positions:      positions,
		Price:          price,
		ReferencePrice: ref,
		At:             time.Now().UTC(),
	}
	sig, err := strat.Evaluate(ctx, snap, pos)
	if err != nil {
		r := failed(fmt.Errorf("evaluate: %w", err))
		r.Price, r.Available = price, acct.Available
		return r
	}
	res.Signal = sig.String()

	switch {
	case sig.Kind == strategy.Exit && pos != nil:
		if _, err := s.executor.ClosePosition(ctx, client, bot.Symbol, open, executor.ReasonSignal); err != nil {
			r := failed(err)
			r.Price, r.Available, r.Signal = price, acct.Available, res.Signal
			return r
		}
		res.Outcome = OutcomeClosed
		return res

	case sig.IsEntry() && pos == nil:
		return s.enter(ctx, client, bot, limits, acct, positions, sig, res)
	}

	res.Outcome = OutcomeNoSignal
	res.Detail = sig.Reason
	return res
}

func (s *Scheduler) enter(ctx context.Context, client exchange.Client, bot *storage.BotConfig, limits risk.Limits,
	acct *exchange.AccountInfo, positions []exchange.Position, sig strategy.Signal, res TickResult) TickResult {

	daily, err := s.store.BotDailyPnl(ctx, bot.ID, risk.DayStart(time.Now()))
	if err != nil {
		return fatal(fmt.Errorf("daily pnl: %w", err))
	}
	if ok, reason := risk.CanOpen(limits, acct.Balance, daily, len(positions)); !ok {
		res.Outcome = OutcomeRejected
		res.Detail = reason
		return res
	}

	leverage := bot.Leverage
	if leverage < 1 {
		leverage = s.config.Trading.DefaultLeverage
	}
	botID := bot.ID

	rec, err := s.executor.Open(ctx, client, executor.OpenRequest{
		WalletID:   bot.WalletID,
		BotID:      &botID,
		Symbol:     bot.Symbol,
		Side:       sig.Side(),
		EntryPrice: res.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		RiskAmount: risk.RiskAmount(acct.Balance, limits.RiskPerTradePct),
		Leverage:   leverage,
		Available:  acct.Available,
	})
	switch {
	case err == nil:
		res.Outcome = OutcomeOpened
		res.Detail = fmt.Sprintf("trade %d size %s at %s", rec.ID, rec.Size, rec.EntryPrice)
		if rec.ProtectionMissing() {
			res.Detail += ", protection missing"
		}
		return res
	case isRejection(err):
		res.Outcome = OutcomeRejected
		res.Detail = err.Error()
		return res
	case errors.Is(err, executor.ErrEntryFailed):
		r := failed(err)
		r.Signal, r.Price, r.Available = res.Signal, res.Price, res.Available
		return r
	default:
		// the position may be open without a record or stats
		return fatal(err)
	}
}

// isRejection reports input rejected before any venue call.
func isRejection(err error) bool {
	return errors.Is(err, sizing.ErrInvalidRisk) ||
		errors.Is(err, sizing.ErrStopWrongSide) ||
		errors.Is(err, sizing.ErrBelowMinSize) ||
		errors.Is(err, sizing.ErrInsufficientMargin)
}

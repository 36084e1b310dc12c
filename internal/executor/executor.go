package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/sizing"
	"github.com/camuig/riskbot/internal/storage"
)

// ErrEntryFailed wraps the venue error when the entry order is not placed.
// Nothing is persisted and no protective order is attempted.
var ErrEntryFailed = errors.New("entry order failed")

// Close reasons stored on trade records.
const (
	ReasonSignal        = "signal"
	ReasonManual        = "manual"
	ReasonClosedOnVenue = "closed_on_venue"
)

// TradeStore is the persistence the executor writes to.
type TradeStore interface {
	CreateTradeRecord(ctx context.Context, t *storage.TradeRecord) error
	UpdateTradeRecord(ctx context.Context, id uint, patch storage.TradePatch) error
	IncrementBotStats(ctx context.Context, id uint, delta storage.StatsDelta) error
}

type Notifier interface {
	NotifyOpen(t *storage.TradeRecord)
	NotifyProtectionMissing(t *storage.TradeRecord)
	NotifyClose(t *storage.TradeRecord)
}

type Executor struct {
	trades    TradeStore
	notifier  Notifier
	symbols   *exchange.SymbolBook
	feeBuffer decimal.Decimal
	tolerance decimal.Decimal
	logger    *logger.Logger
}

func NewExecutor(trades TradeStore, notifier Notifier, cfg *config.Config, log *logger.Logger) *Executor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Executor{
		trades:    trades,
		notifier:  notifier,
		symbols:   cfg.SymbolBook(),
		feeBuffer: cfg.FeeBuffer(),
		tolerance: cfg.PnlTolerance(),
		logger:    log,
	}
}

// Symbols exposes the venue constraints the executor sizes against.
func (e *Executor) Symbols() *exchange.SymbolBook { return e.symbols }

// OpenRequest is an entry signal resolved against the account.
type OpenRequest struct {
	WalletID   uint
	BotID      *uint
	Symbol     string
	Side       exchange.Side
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.NullDecimal
	RiskAmount decimal.Decimal
	Leverage   int
	Available  decimal.Decimal
}

// Size turns req into a venue-legal order and checks it fits the margin.
// Every failure here happens before any venue call.
func (e *Executor) Size(req OpenRequest) (sizing.SizedOrder, error) {
	spec := e.symbols.Get(req.Symbol)
	budget := sizing.RiskBudget{
		Side:       req.Side,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		RiskAmount: req.RiskAmount,
		Leverage:   req.Leverage,
	}

	order, err := sizing.Size(budget, spec, e.feeBuffer)
	if err != nil {
		return sizing.SizedOrder{}, err
	}

	adj, err := sizing.VerifyAndAdjustPnl(order.Quantity, budget, spec, e.tolerance)
	if err != nil {
		return sizing.SizedOrder{}, err
	}
	if adj.Adjusted {
		e.logger.Info("quantity adjusted to venue step",
			"symbol", spec.Symbol, "from", order.Quantity, "to", adj.Quantity, "deviation", adj.Deviation)
		order.Quantity = adj.Quantity
	}

	if err := sizing.CheckMargin(order, req.Leverage, req.Available); err != nil {
		return sizing.SizedOrder{}, err
	}
	return order, nil
}

// Open sizes req and places it.
func (e *Executor) Open(ctx context.Context, client exchange.Client, req OpenRequest) (*storage.TradeRecord, error) {
	order, err := e.Size(req)
	if err != nil {
		return nil, err
	}
	return e.OpenPosition(ctx, client, req.WalletID, req.BotID, order, req.Leverage)
}

// OpenPosition runs entry, stop loss, take profit and persist, strictly in
// that order. Only the entry is fatal; a failed protective order is recorded
// on the trade and reported, never retried here.
func (e *Executor) OpenPosition(ctx context.Context, client exchange.Client, walletID uint, botID *uint,
	order sizing.SizedOrder, leverage int) (*storage.TradeRecord, error) {

	log := e.logger.With("symbol", order.Symbol, "side", order.Side)

	if leverage > 0 {
		if err := client.SetLeverage(ctx, order.Symbol, leverage); err != nil {
			log.Warn("set leverage failed, using venue default", "leverage", leverage, "error", err)
		}
	}

	entry, err := client.PlaceMarketOrder(ctx, order.Symbol, order.Side.IsBuy(), order.Quantity)
	if err != nil {
		log.Error("entry order failed", "qty", order.Quantity, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrEntryFailed, order.Side, order.Symbol, err)
	}

	price := order.EntryPrice
	if entry.AvgPrice.IsPositive() {
		price = entry.AvgPrice
	}
	size := order.Quantity
	if entry.FilledSize.IsPositive() {
		size = entry.FilledSize
	}

	rec := &storage.TradeRecord{
		WalletID:     walletID,
		BotID:        botID,
		Symbol:       order.Symbol,
		Side:         string(order.Side),
		Size:         size,
		Leverage:     leverage,
		EntryPrice:   price,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		EntryOrderID: entry.OrderID,
		Status:       storage.TradeOpen,
	}

	closeIsBuy := order.Side.Opposite().IsBuy()

	sl, err := client.PlaceStopLoss(ctx, order.Symbol, closeIsBuy, size, order.StopLoss)
	if err != nil {
		rec.StopLossMissing = true
		log.Warn("stop loss not placed, position unprotected", "trigger", order.StopLoss, "error", err)
	} else {
		rec.StopLossOrderID = sl.OrderID
	}

	if order.TakeProfit.Valid {
		tp, err := client.PlaceTakeProfit(ctx, order.Symbol, closeIsBuy, size, order.TakeProfit.Decimal)
		if err != nil {
			rec.TakeProfitMissing = true
			log.Warn("take profit not placed", "trigger", order.TakeProfit.Decimal, "error", err)
		} else {
			rec.TakeProfitOrderID = tp.OrderID
		}
	}

	if err := e.trades.CreateTradeRecord(ctx, rec); err != nil {
		log.Error("position opened but trade record not saved", "entry_order", entry.OrderID, "error", err)
		return nil, fmt.Errorf("save trade record: %w", err)
	}

	if botID != nil {
		if err := e.trades.IncrementBotStats(ctx, *botID, storage.StatsDelta{Trades: 1}); err != nil {
			return rec, fmt.Errorf("update bot stats: %w", err)
		}
	}

	log.Info("position opened",
		"trade", rec.ID, "price", price, "size", size, "sl", order.StopLoss, "tp", order.TakeProfit,
		"protection_missing", rec.ProtectionMissing())
	e.notifier.NotifyOpen(rec)
	if rec.ProtectionMissing() {
		e.notifier.NotifyProtectionMissing(rec)
	}
	return rec, nil
}

// CloseResult describes a flattened position.
type CloseResult struct {
	Order          *exchange.OrderResult
	ExitPrice      decimal.NullDecimal
	Pnl            decimal.NullDecimal
	CancelFailures int
}

// ClosePosition cancels the symbol's open orders, then flattens the position.
// Cancel failures are logged and never block the close. The trade record, when
// given, is marked closed only after the venue accepted the closing order.
func (e *Executor) ClosePosition(ctx context.Context, client exchange.Client, symbol string,
	trade *storage.TradeRecord, reason string) (*CloseResult, error) {

	log := e.logger.With("symbol", symbol)
	res := &CloseResult{}

	res.CancelFailures = e.cancelOrders(ctx, client, symbol)

	order, err := client.ClosePosition(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("close %s: %w", symbol, err)
	}
	res.Order = order

	exit := order.AvgPrice
	if !exit.IsPositive() {
		if px, err := client.GetPrice(ctx, symbol); err == nil {
			exit = px
		} else {
			log.Warn("exit price unknown", "error", err)
		}
	}
	if exit.IsPositive() {
		res.ExitPrice = decimal.NewNullDecimal(exit)
	}

	if trade != nil {
		if err := e.markClosed(ctx, trade, res.ExitPrice, reason); err != nil {
			return res, err
		}
		res.Pnl = trade.Pnl
	}

	log.Info("position closed", "order", order.OrderID, "exit", exit, "reason", reason,
		"cancel_failures", res.CancelFailures)
	return res, nil
}

// ReconcileClosed closes a trade record whose position the venue no longer
// holds, typically because its stop loss or take profit fired. The remaining
// protective order is cancelled and the price is used as exit estimate.
func (e *Executor) ReconcileClosed(ctx context.Context, client exchange.Client, trade *storage.TradeRecord,
	price decimal.Decimal) error {

	e.cancelOrders(ctx, client, trade.Symbol)

	var exit decimal.NullDecimal
	if price.IsPositive() {
		exit = decimal.NewNullDecimal(price)
	}
	if err := e.markClosed(ctx, trade, exit, ReasonClosedOnVenue); err != nil {
		return err
	}
	e.logger.Info("trade closed on venue", "trade", trade.ID, "symbol", trade.Symbol, "exit", price)
	return nil
}

// cancelOrders cancels each open order on symbol and returns the number of
// failed cancels. When the orders cannot be listed it falls back to CancelAllOrders.
func (e *Executor) cancelOrders(ctx context.Context, client exchange.Client, symbol string) int {
	orders, err := client.GetOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.Warn("list open orders failed, cancelling all", "symbol", symbol, "error", err)
		if err := client.CancelAllOrders(ctx, symbol); err != nil {
			e.logger.Warn("cancel all orders failed", "symbol", symbol, "error", err)
			return 1
		}
		return 0
	}

	failed := 0
	for _, o := range orders {
		if err := client.CancelOrder(ctx, symbol, o.ID); err != nil {
			failed++
			e.logger.Warn("cancel order failed", "symbol", symbol, "order", o.ID, "error", err)
		}
	}
	return failed
}

func (e *Executor) markClosed(ctx context.Context, trade *storage.TradeRecord, exit decimal.NullDecimal, reason string) error {
	var pnl decimal.NullDecimal
	if exit.Valid {
		pnl = decimal.NewNullDecimal(RealizedPnl(exchange.Side(trade.Side), trade.EntryPrice, exit.Decimal, trade.Size))
	}
	closed := storage.TradeClosed
	at := time.Now().UTC()

	if err := e.trades.UpdateTradeRecord(ctx, trade.ID, storage.TradePatch{
		ExitPrice:   exit,
		Pnl:         pnl,
		Status:      &closed,
		CloseReason: &reason,
		ClosedAt:    &at,
	}); err != nil {
		return fmt.Errorf("mark trade %d closed: %w", trade.ID, err)
	}

	trade.ExitPrice = exit
	trade.Pnl = pnl
	trade.Status = closed
	trade.CloseReason = reason
	trade.ClosedAt = &at

	if trade.BotID != nil && pnl.Valid {
		delta := storage.StatsDelta{PnlDelta: pnl.Decimal}
		if pnl.Decimal.IsPositive() {
			delta.Wins = 1
		} else {
			delta.Losses = 1
		}
		if err := e.trades.IncrementBotStats(ctx, *trade.BotID, delta); err != nil {
			return fmt.Errorf("update bot stats: %w", err)
		}
	}

	e.notifier.NotifyClose(trade)
	return nil
}

// RealizedPnl is the profit of size units opened at entry and closed at exit.
func RealizedPnl(side exchange.Side, entry, exit, size decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(entry).Mul(size)
	if side == exchange.Short {
		return pnl.Neg()
	}
	return pnl
}

type nopNotifier struct{}

func (nopNotifier) NotifyOpen(*storage.TradeRecord)              {}
func (nopNotifier) NotifyProtectionMissing(*storage.TradeRecord) {}
func (nopNotifier) NotifyClose(*storage.TradeRecord)             {}

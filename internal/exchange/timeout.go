package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// timeoutClient bounds every call with a deadline. Entry placement gets its own budget.
type timeoutClient struct {
	next  Client
	call  time.Duration
	entry time.Duration
}

// WithTimeouts decorates c so that no call outlives its deadline, even when the
// underlying adapter ignores context cancellation.
func WithTimeouts(c Client, call, entry time.Duration) Client {
	if entry <= 0 {
		entry = call
	}
	return &timeoutClient{next: c, call: call, entry: entry}
}

type outcome[T any] struct {
	val       T
	err       error
	recovered any
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		// re-raised on the caller's goroutine so its recover sees it
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{recovered: r}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		if o.recovered != nil {
			panic(o.recovered)
		}
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.val, fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s after %s: %w", op, d, ErrTimeout)
		}
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func boundedErr(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	_, err := bounded(ctx, d, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (t *timeoutClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	return bounded(ctx, t.call, "get account info", t.next.GetAccountInfo)
}

func (t *timeoutClient) GetPositions(ctx context.Context) ([]Position, error) {
	return bounded(ctx, t.call, "get positions", t.next.GetPositions)
}

func (t *timeoutClient) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	return bounded(ctx, t.call, "get open orders", func(ctx context.Context) ([]OpenOrder, error) {
		return t.next.GetOpenOrders(ctx, symbol)
	})
}

func (t *timeoutClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return bounded(ctx, t.call, "get price", func(ctx context.Context) (decimal.Decimal, error) {
		return t.next.GetPrice(ctx, symbol)
	})
}

func (t *timeoutClient) PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*OrderResult, error) {
	return bounded(ctx, t.entry, "place market order", func(ctx context.Context) (*OrderResult, error) {
		return t.next.PlaceMarketOrder(ctx, symbol, isBuy, qty)
	})
}

func (t *timeoutClient) PlaceStopLoss(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*OrderResult, error) {
	return bounded(ctx, t.call, "place stop loss", func(ctx context.Context) (*OrderResult, error) {
		return t.next.PlaceStopLoss(ctx, symbol, isBuy, qty, triggerPrice)
	})
}

func (t *timeoutClient) PlaceTakeProfit(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*OrderResult, error) {
	return bounded(ctx, t.call, "place take profit", func(ctx context.Context) (*OrderResult, error) {
		return t.next.PlaceTakeProfit(ctx, symbol, isBuy, qty, triggerPrice)
	})
}

func (t *timeoutClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return boundedErr(ctx, t.call, "cancel order", func(ctx context.Context) error {
		return t.next.CancelOrder(ctx, symbol, orderID)
	})
}

func (t *timeoutClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return boundedErr(ctx, t.call, "cancel all orders", func(ctx context.Context) error {
		return t.next.CancelAllOrders(ctx, symbol)
	})
}

func (t *timeoutClient) ClosePosition(ctx context.Context, symbol string) (*OrderResult, error) {
	return bounded(ctx, t.entry, "close position", func(ctx context.Context) (*OrderResult, error) {
		return t.next.ClosePosition(ctx, symbol)
	})
}

func (t *timeoutClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return boundedErr(ctx, t.call, "set leverage", func(ctx context.Context) error {
		return t.next.SetLeverage(ctx, symbol, leverage)
	})
}

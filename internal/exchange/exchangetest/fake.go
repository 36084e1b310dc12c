// Package exchangetest provides a scriptable in-memory exchange.Client for tests.
package exchangetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

// Method names used as keys for Fail and Calls.
const (
	MethodAccount     = "GetAccountInfo"
	MethodPositions   = "GetPositions"
	MethodOpenOrders  = "GetOpenOrders"
	MethodPrice       = "GetPrice"
	MethodMarket      = "PlaceMarketOrder"
	MethodStopLoss    = "PlaceStopLoss"
	MethodTakeProfit  = "PlaceTakeProfit"
	MethodCancel      = "CancelOrder"
	MethodCancelAll   = "CancelAllOrders"
	MethodClose       = "ClosePosition"
	MethodSetLeverage = "SetLeverage"
)

var ErrInjected = errors.New("injected failure")

// Client is a fake venue. Zero value is not usable; use New.
type Client struct {
	mu sync.Mutex

	Account   exchange.AccountInfo
	Positions map[string]exchange.Position
	Orders    []exchange.OpenOrder
	Prices    map[string]decimal.Decimal
	Leverage  map[string]int

	// Fail makes the named method return the error.
	Fail map[string]error
	// CancelFail makes CancelOrder fail for the given order ids.
	CancelFail map[string]error
	// Delay is applied to every call, honouring ctx cancellation unless IgnoreContext is set.
	Delay         time.Duration
	IgnoreContext bool
	// Panic makes every call panic with this value when non-nil.
	Panic any

	calls  []string
	seq    int
	active atomic.Int32
	peak   atomic.Int32
}

func New() *Client {
	return &Client{
		Account: exchange.AccountInfo{
			Balance:   decimal.NewFromInt(10000),
			Available: decimal.NewFromInt(10000),
		},
		Positions:  make(map[string]exchange.Position),
		Prices:     make(map[string]decimal.Decimal),
		Leverage:   make(map[string]int),
		Fail:       make(map[string]error),
		CancelFail: make(map[string]error),
	}
}

// SetPrice is a convenience for tests.
func (c *Client) SetPrice(symbol string, px float64) {
	c.mu.Lock()
	c.Prices[symbol] = decimal.NewFromFloat(px)
	c.mu.Unlock()
}

// ClearPosition drops the position as if a trigger order had filled.
func (c *Client) ClearPosition(symbol string) {
	c.mu.Lock()
	delete(c.Positions, symbol)
	c.mu.Unlock()
}

func (c *Client) SetFail(method string, err error) {
	c.mu.Lock()
	c.Fail[method] = err
	c.mu.Unlock()
}

// Calls returns the ordered list of method names invoked.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how often method was invoked.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.calls {
		if m == method {
			n++
		}
	}
	return n
}

// PeakConcurrency is the highest number of calls observed in flight at once.
func (c *Client) PeakConcurrency() int {
	return int(c.peak.Load())
}

func (c *Client) enter(ctx context.Context, method string) (func(), error) {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	done := func() { c.active.Add(-1) }

	c.mu.Lock()
	c.calls = append(c.calls, method)
	delay := c.Delay
	ignore := c.IgnoreContext
	p := c.Panic
	err := c.Fail[method]
	c.mu.Unlock()

	if p != nil {
		done()
		panic(p)
	}

	if delay > 0 {
		if ignore {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				done()
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		done()
		return nil, err
	}
	return done, nil
}

func (c *Client) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

func (c *Client) GetAccountInfo(ctx context.Context) (*exchange.AccountInfo, error) {
	done, err := c.enter(ctx, MethodAccount)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := c.Account
	return &acc, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	done, err := c.enter(ctx, MethodPositions)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]exchange.Position, 0, len(c.Positions))
	for _, p := range c.Positions {
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	done, err := c.enter(ctx, MethodOpenOrders)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []exchange.OpenOrder
	for _, o := range c.Orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	done, err := c.enter(ctx, MethodPrice)
	if err != nil {
		return decimal.Zero, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	px, ok := c.Prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return px, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*exchange.OrderResult, error) {
	done, err := c.enter(ctx, MethodMarket)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()

	px := c.Prices[symbol]
	side := exchange.Short
	if isBuy {
		side = exchange.Long
	}
	c.Positions[symbol] = exchange.Position{Symbol: symbol, Size: qty, EntryPrice: px, Side: side}
	return &exchange.OrderResult{OrderID: c.nextID("entry"), AvgPrice: px, FilledSize: qty}, nil
}

func (c *Client) placeTrigger(ctx context.Context, method, symbol string, isBuy bool, qty, trigger decimal.Decimal) (*exchange.OrderResult, error) {
	done, err := c.enter(ctx, method)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID("trigger")
	c.Orders = append(c.Orders, exchange.OpenOrder{
		ID: id, Symbol: symbol, IsBuy: isBuy, Size: qty, Price: trigger, IsTrigger: true,
	})
	return &exchange.OrderResult{OrderID: id}, nil
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.placeTrigger(ctx, MethodStopLoss, symbol, isBuy, qty, triggerPrice)
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.placeTrigger(ctx, MethodTakeProfit, symbol, isBuy, qty, triggerPrice)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	done, err := c.enter(ctx, MethodCancel)
	if err != nil {
		return err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.CancelFail[orderID]; err != nil {
		return err
	}
	for i, o := range c.Orders {
		if o.ID == orderID {
			c.Orders = append(c.Orders[:i], c.Orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("order %s not found", orderID)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	done, err := c.enter(ctx, MethodCancelAll)
	if err != nil {
		return err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.Orders[:0]
	for _, o := range c.Orders {
		if symbol != "" && o.Symbol != symbol {
			kept = append(kept, o)
		}
	}
	c.Orders = kept
	return nil
}

func (c *Client) ClosePosition(ctx context.Context, symbol string) (*exchange.OrderResult, error) {
	done, err := c.enter(ctx, MethodClose)
	if err != nil {
		return nil, err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.Positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w on %s", exchange.ErrNoPosition, symbol)
	}
	delete(c.Positions, symbol)
	return &exchange.OrderResult{OrderID: c.nextID("close"), AvgPrice: c.Prices[symbol], FilledSize: pos.Size}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	done, err := c.enter(ctx, MethodSetLeverage)
	if err != nil {
		return err
	}
	defer done()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Leverage[symbol] = leverage
	return nil
}

// Factory hands out clients by wallet id; a missing wallet id gets Default.
type Factory struct {
	mu       sync.Mutex
	Default  *Client
	ByWallet map[uint]*Client
	Err      error
	keys     [][]byte
}

func NewFactory(def *Client) *Factory {
	return &Factory{Default: def, ByWallet: make(map[uint]*Client)}
}

func (f *Factory) New(_ context.Context, wallet exchange.Wallet, key []byte) (exchange.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.Err != nil {
		return nil, f.Err
	}
	if c, ok := f.ByWallet[wallet.ID]; ok {
		return c, nil
	}
	return f.Default, nil
}

// Keys returns the key slices handed to New, to check they were wiped after use.
func (f *Factory) Keys() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.keys...)
}

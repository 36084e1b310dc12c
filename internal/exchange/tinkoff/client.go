// Package tinkoff adapts the T-Invest brokerage API to exchange.Client.
// Sizes are in lots and prices are per lot, so risk arithmetic in the
// engine stays in account currency.
package tinkoff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/logger"
)

var (
	errNotFound     = errors.New("instrument not found")
	errSandboxStops = errors.New("stop orders are not supported in sandbox")
	errLeverage     = errors.New("leverage is set by the broker margin profile")
)

// State outlives tick-scoped clients: the instrument cache and the stop
// orders placed per account, which the broker API cannot list back by ticker.
type State struct {
	byTicker sync.Map // ticker -> *instrument
	byUID    sync.Map // uid -> *instrument
	books    sync.Map // accountID -> *stopBook
}

func NewState() *State {
	return &State{}
}

type stopBook struct {
	mu     sync.Mutex
	orders map[string]exchange.OpenOrder
}

type Options struct {
	Sandbox bool
	// State is shared by clients of the same process; nil gives the client its own.
	State *State
	Log   *logger.Logger
}

type Client struct {
	api       api
	accountID string
	state     *State
	log       *logger.Logger
}

var _ exchange.Client = (*Client)(nil)

// New connects with an API token; accountID is the wallet's address.
func New(ctx context.Context, opts Options, accountID string, token []byte) (*Client, error) {
	if accountID == "" {
		return nil, exchange.Permanent(errors.New("tinkoff wallet has no account id"))
	}
	if len(token) == 0 {
		return nil, exchange.Permanent(errors.New("empty api token"))
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	s, err := dial(ctx, string(token), accountID, opts.Sandbox, opts.Log)
	if err != nil {
		return nil, err
	}
	return newClient(s, accountID, opts.State, opts.Log), nil
}

func newClient(a api, accountID string, state *State, log *logger.Logger) *Client {
	if state == nil {
		state = NewState()
	}
	return &Client{api: a, accountID: accountID, state: state, log: log}
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	return c.api.stop()
}

func (c *Client) GetAccountInfo(_ context.Context) (*exchange.AccountInfo, error) {
	p, err := c.api.portfolio(c.accountID)
	if err != nil {
		return nil, err
	}
	return &exchange.AccountInfo{Balance: p.total, Available: p.available}, nil
}

func (c *Client) GetPositions(_ context.Context) ([]exchange.Position, error) {
	p, err := c.api.portfolio(c.accountID)
	if err != nil {
		return nil, err
	}
	var positions []exchange.Position
	for _, h := range p.holdings {
		if h.quantity.IsZero() {
			continue
		}
		inst, err := c.byUID(h.uid)
		if err != nil {
			c.log.Error("resolve holding", "uid", h.uid, "error", err)
			continue
		}
		lot := decimal.NewFromInt(inst.lot)
		side := exchange.Long
		if h.quantity.IsNegative() {
			side = exchange.Short
		}
		positions = append(positions, exchange.Position{
			Symbol:     inst.ticker,
			Size:       h.quantity.Abs().Div(lot).Floor(),
			EntryPrice: h.avgPrice.Mul(lot),
			Side:       side,
		})
	}
	return positions, nil
}

// GetOpenOrders returns the stop orders this process placed and has not
// cancelled. Market orders fill immediately and never rest.
func (c *Client) GetOpenOrders(_ context.Context, symbol string) ([]exchange.OpenOrder, error) {
	book := c.book()
	book.mu.Lock()
	defer book.mu.Unlock()

	orders := make([]exchange.OpenOrder, 0, len(book.orders))
	for _, o := range book.orders {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// GetPrice returns the last price of one lot.
func (c *Client) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	inst, err := c.byTicker(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	px, err := c.api.lastPrice(inst.uid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", symbol, err)
	}
	return px.Mul(decimal.NewFromInt(inst.lot)), nil
}

func (c *Client) PlaceMarketOrder(_ context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*exchange.OrderResult, error) {
	inst, err := c.byTicker(symbol)
	if err != nil {
		return nil, err
	}
	lots, err := wholeLots(qty)
	if err != nil {
		return nil, err
	}
	f, err := c.api.postOrder(c.accountID, inst.uid, lots, isBuy)
	if err != nil {
		return nil, fmt.Errorf("market order %s: %w", symbol, err)
	}
	return &exchange.OrderResult{
		OrderID:    f.orderID,
		AvgPrice:   f.avgPrice.Mul(decimal.NewFromInt(inst.lot)),
		FilledSize: decimal.NewFromInt(f.lots),
	}, nil
}

func (c *Client) PlaceStopLoss(_ context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.placeStop(symbol, isBuy, qty, triggerPrice, false)
}

func (c *Client) PlaceTakeProfit(_ context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.placeStop(symbol, isBuy, qty, triggerPrice, true)
}

func (c *Client) placeStop(symbol string, isBuy bool, qty, triggerPrice decimal.Decimal, takeProfit bool) (*exchange.OrderResult, error) {
	inst, err := c.byTicker(symbol)
	if err != nil {
		return nil, err
	}
	lots, err := wholeLots(qty)
	if err != nil {
		return nil, err
	}
	perShare := triggerPrice.Div(decimal.NewFromInt(inst.lot))
	id, err := c.api.postStopOrder(c.accountID, inst.uid, lots, isBuy, perShare, takeProfit)
	if err != nil {
		return nil, fmt.Errorf("stop order %s: %w", symbol, err)
	}

	book := c.book()
	book.mu.Lock()
	book.orders[id] = exchange.OpenOrder{
		ID:        id,
		Symbol:    inst.ticker,
		IsBuy:     isBuy,
		Size:      decimal.NewFromInt(lots),
		Price:     triggerPrice,
		IsTrigger: true,
	}
	book.mu.Unlock()
	return &exchange.OrderResult{OrderID: id}, nil
}

func (c *Client) CancelOrder(_ context.Context, _ string, orderID string) error {
	if err := c.api.cancelStopOrder(c.accountID, orderID); err != nil {
		return err
	}
	book := c.book()
	book.mu.Lock()
	delete(book.orders, orderID)
	book.mu.Unlock()
	return nil
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	orders, _ := c.GetOpenOrders(ctx, symbol)
	var errs []error
	for _, o := range orders {
		if err := c.CancelOrder(ctx, o.Symbol, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) ClosePosition(ctx context.Context, symbol string) (*exchange.OrderResult, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	pos := exchange.FindPosition(positions, strings.ToUpper(symbol))
	if pos == nil {
		return nil, fmt.Errorf("%w on %s", exchange.ErrNoPosition, symbol)
	}
	return c.PlaceMarketOrder(ctx, symbol, !pos.Side.IsBuy(), pos.Size)
}

func (c *Client) SetLeverage(context.Context, string, int) error {
	return errLeverage
}

func (c *Client) book() *stopBook {
	b, _ := c.state.books.LoadOrStore(c.accountID, &stopBook{orders: make(map[string]exchange.OpenOrder)})
	return b.(*stopBook)
}

func (c *Client) byTicker(ticker string) (*instrument, error) {
	ticker = strings.ToUpper(ticker)
	if cached, ok := c.state.byTicker.Load(ticker); ok {
		return cached.(*instrument), nil
	}
	inst, err := c.api.findInstrument(ticker)
	if errors.Is(err, errNotFound) {
		return nil, exchange.Permanent(fmt.Errorf("%w: %s", errNotFound, ticker))
	}
	if err != nil {
		return nil, err
	}
	c.state.remember(inst)
	return inst, nil
}

func (c *Client) byUID(uid string) (*instrument, error) {
	if cached, ok := c.state.byUID.Load(uid); ok {
		return cached.(*instrument), nil
	}
	inst, err := c.api.instrumentByUID(uid)
	if err != nil {
		return nil, err
	}
	c.state.remember(inst)
	return inst, nil
}

func (s *State) remember(inst *instrument) {
	if inst.lot < 1 {
		inst.lot = 1
	}
	inst.ticker = strings.ToUpper(inst.ticker)
	s.byTicker.Store(inst.ticker, inst)
	s.byUID.Store(inst.uid, inst)
}

func wholeLots(qty decimal.Decimal) (int64, error) {
	if !qty.Equal(qty.Floor()) || !qty.IsPositive() {
		return 0, fmt.Errorf("quantity %s is not a whole number of lots", qty)
	}
	return qty.IntPart(), nil
}

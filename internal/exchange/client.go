package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPermanent marks a venue rejection that will not succeed on retry
	// (bad credentials, unknown symbol, account disabled).
	ErrPermanent = errors.New("permanent venue rejection")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("venue call timed out")
	// ErrNoPosition is returned by ClosePosition when there is nothing to close.
	ErrNoPosition = errors.New("no open position")
)

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// IsBuy reports whether opening this side requires a buy order.
func (s Side) IsBuy() bool { return s == Long }

func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

type AccountInfo struct {
	Balance   decimal.Decimal
	Available decimal.Decimal
}

type Position struct {
	Symbol     string
	Size       decimal.Decimal // always positive
	EntryPrice decimal.Decimal
	Side       Side
}

type OpenOrder struct {
	ID        string
	Symbol    string
	IsBuy     bool
	Size      decimal.Decimal
	Price     decimal.Decimal
	IsTrigger bool
}

// OrderResult is what the venue reports back for an accepted order.
type OrderResult struct {
	OrderID    string
	AvgPrice   decimal.Decimal // zero when the venue did not report a fill price
	FilledSize decimal.Decimal // zero when the venue did not report a fill size
}

// Client is the capability set the engine needs from a trading venue.
// Every adapter implements it identically; callers never branch on the venue.
type Client interface {
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*OrderResult, error)
	PlaceStopLoss(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*OrderResult, error)
	PlaceTakeProfit(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*OrderResult, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error
	// CancelAllOrders cancels every open order, or only those of symbol when it is non-empty.
	CancelAllOrders(ctx context.Context, symbol string) error
	// ClosePosition flattens the position with a reduce-only market order.
	ClosePosition(ctx context.Context, symbol string) (*OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Wallet is the venue-facing identity a client is built for.
type Wallet struct {
	ID      uint
	Venue   string
	Address string
}

// Factory builds a tick-scoped client from a decrypted key.
type Factory interface {
	New(ctx context.Context, wallet Wallet, key []byte) (Client, error)
}

// FindPosition returns the position on symbol, or nil.
func FindPosition(positions []Position, symbol string) *Position {
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, symbol) && positions[i].Size.IsPositive() {
			return &positions[i]
		}
	}
	return nil
}

// Package strategy holds the signal evaluators a bot can run.
package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

var ErrUnknownStrategy = errors.New("unknown strategy type")

// Type tags a strategy variant.
type Type string

const (
	TypeBreakout      Type = "breakout"
	TypeMeanReversion Type = "mean_reversion"
	TypeAIAdvisor     Type = "ai_advisor"
)

type Kind int

const (
	None Kind = iota
	EnterLong
	EnterShort
	Exit
)

func (k Kind) String() string {
	switch k {
	case EnterLong:
		return "enter_long"
	case EnterShort:
		return "enter_short"
	case Exit:
		return "exit"
	default:
		return "none"
	}
}

// Signal is the decision of one evaluation.
type Signal struct {
	Kind       Kind
	StopLoss   decimal.Decimal     // entries only
	TakeProfit decimal.NullDecimal // entries only
	Reason     string
}

func NoSignal(reason string) Signal { return Signal{Kind: None, Reason: reason} }

func ExitSignal(reason string) Signal { return Signal{Kind: Exit, Reason: reason} }

// IsEntry reports whether the signal opens a position.
func (s Signal) IsEntry() bool { return s.Kind == EnterLong || s.Kind == EnterShort }

// Side is the position side an entry signal opens.
func (s Signal) Side() exchange.Side {
	if s.Kind == EnterShort {
		return exchange.Short
	}
	return exchange.Long
}

func (s Signal) String() string {
	if s.Reason == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ": " + s.Reason
}

// Snapshot is the market state a bot fetched for this tick.
type Snapshot struct {
	Symbol         string
	Account        exchange.AccountInfo
	Positions      []exchange.Position
	Price          decimal.Decimal
	ReferencePrice decimal.Decimal // previous tick's price, Price on the first tick
	At             time.Time
}

// Strategy evaluates a snapshot. Implementations must not open a position
// while pos is non-nil; an exit always wins over an entry.
type Strategy interface {
	Type() Type
	Evaluate(ctx context.Context, snap Snapshot, pos *exchange.Position) (Signal, error)
}

// New decodes the stored parameters for the tagged variant. Missing fields take
// the variant's defaults.
func New(typ string, params string, advisor Advisor) (Strategy, error) {
	raw := []byte(strings.TrimSpace(params))
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch Type(typ) {
	case TypeBreakout:
		p := DefaultBreakoutParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &Breakout{Params: p}, nil
	case TypeMeanReversion:
		p := DefaultMeanReversionParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &MeanReversion{Params: p}, nil
	case TypeAIAdvisor:
		if advisor == nil {
			return nil, fmt.Errorf("%s: no advisor configured", TypeAIAdvisor)
		}
		p := DefaultAdvisorParams()
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return &AIAdvisor{Params: p, Advisor: advisor}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, typ)
	}
}

func decodeParams(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode strategy parameters: %w", err)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

func pct(p decimal.Decimal) decimal.Decimal { return p.Div(hundred) }

// pnlPct is the floating PnL of pos at price, in percent of entry.
func pnlPct(pos *exchange.Position, price decimal.Decimal) decimal.Decimal {
	if !pos.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	move := price.Sub(pos.EntryPrice)
	if pos.Side == exchange.Short {
		move = move.Neg()
	}
	return move.Div(pos.EntryPrice).Mul(hundred)
}

func reference(snap Snapshot) decimal.Decimal {
	if snap.ReferencePrice.IsPositive() {
		return snap.ReferencePrice
	}
	return snap.Price
}

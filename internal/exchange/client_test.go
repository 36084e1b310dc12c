package exchange_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

func TestPermanent(t *testing.T) {
	if exchange.Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	base := errors.New("unknown symbol")
	err := exchange.Permanent(base)
	if !errors.Is(err, exchange.ErrPermanent) || !errors.Is(err, base) {
		t.Errorf("err = %v", err)
	}
}

func TestSideAndFindPosition(t *testing.T) {
	if !exchange.Long.IsBuy() || exchange.Short.IsBuy() || exchange.Long.Opposite() != exchange.Short {
		t.Error("side helpers")
	}
	one := decimal.NewFromInt(1)
	positions := []exchange.Position{{Symbol: "BTC", Size: one}, {Symbol: "ETH", Size: one}, {Symbol: "SOL"}}
	if p := exchange.FindPosition(positions, "ETH"); p == nil || p.Symbol != "ETH" {
		t.Errorf("found %+v", p)
	}
	if p := exchange.FindPosition(positions, "btc"); p == nil || p.Symbol != "BTC" {
		t.Errorf("case-insensitive lookup found %+v", p)
	}
	if exchange.FindPosition(positions, "SOL") != nil || exchange.FindPosition(positions, "DOGE") != nil {
		t.Error("found flat or missing position")
	}
}

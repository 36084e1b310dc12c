package exchange

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// SymbolSpec holds venue constraints for one symbol.
type SymbolSpec struct {
	Symbol        string
	MinOrderSize  decimal.Decimal
	SizeDecimals  int32
	PriceDecimals int32
	MaxLeverage   int // 0 means unlimited
}

func DefaultSymbolSpec() SymbolSpec {
	return SymbolSpec{
		MinOrderSize:  decimal.RequireFromString("0.001"),
		SizeDecimals:  3,
		PriceDecimals: 2,
		MaxLeverage:   50,
	}
}

// SizeStep is the smallest size increment the venue accepts.
func (s SymbolSpec) SizeStep() decimal.Decimal {
	return decimal.New(1, -s.SizeDecimals)
}

// FloorSize truncates qty to the size precision.
func (s SymbolSpec) FloorSize(qty decimal.Decimal) decimal.Decimal {
	return qty.RoundFloor(s.SizeDecimals)
}

func (s SymbolSpec) RoundPrice(px decimal.Decimal) decimal.Decimal {
	return px.Round(s.PriceDecimals)
}

// NormalizeSymbol is the form venues and the symbol book key symbols by.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SymbolBook resolves symbol constraints with a fallback for unknown symbols.
type SymbolBook struct {
	mu       sync.RWMutex
	fallback SymbolSpec
	specs    map[string]SymbolSpec
}

func NewSymbolBook(fallback SymbolSpec, specs ...SymbolSpec) *SymbolBook {
	b := &SymbolBook{
		fallback: fallback,
		specs:    make(map[string]SymbolSpec, len(specs)),
	}
	for _, s := range specs {
		b.Set(s)
	}
	return b
}

func (b *SymbolBook) Set(spec SymbolSpec) {
	spec.Symbol = NormalizeSymbol(spec.Symbol)
	b.mu.Lock()
	b.specs[spec.Symbol] = spec
	b.mu.Unlock()
}

func (b *SymbolBook) Get(symbol string) SymbolSpec {
	symbol = NormalizeSymbol(symbol)
	b.mu.RLock()
	spec, ok := b.specs[symbol]
	b.mu.RUnlock()
	if !ok {
		spec = b.fallback
		spec.Symbol = symbol
	}
	return spec
}

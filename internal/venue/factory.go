// Package venue builds exchange clients for stored wallets.
package venue

import (
	"context"
	"fmt"
	"net/http"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/exchange/hyperliquid"
	"github.com/camuig/riskbot/internal/exchange/proxy"
	"github.com/camuig/riskbot/internal/exchange/tinkoff"
	"github.com/camuig/riskbot/internal/logger"
)

const (
	Hyperliquid = "hyperliquid"
	Proxy       = "proxy"
	Tinkoff     = "tinkoff"
)

// Names lists the venues a wallet may be created for.
var Names = []string{Hyperliquid, Proxy, Tinkoff}

// Supported reports whether a client can be built for the venue.
func Supported(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

type Factory struct {
	cfg     *config.Config
	symbols *exchange.SymbolBook
	http    *http.Client
	tinkoff *tinkoff.State
	log     *logger.Logger
}

var _ exchange.Factory = (*Factory)(nil)

func NewFactory(cfg *config.Config, log *logger.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		symbols: cfg.SymbolBook(),
		// per-call deadlines come from exchange.WithTimeouts
		http:    &http.Client{Timeout: 2 * cfg.EntryTimeout()},
		tinkoff: tinkoff.NewState(),
		log:     log,
	}
}

func (f *Factory) New(ctx context.Context, w exchange.Wallet, key []byte) (exchange.Client, error) {
	log := f.log.With("wallet_id", w.ID, "venue", w.Venue)
	switch w.Venue {
	case Hyperliquid:
		c, err := hyperliquid.New(hyperliquid.Options{
			BaseURL:    f.cfg.Exchange.HyperliquidURL,
			Slippage:   f.cfg.SlippageRatio(),
			Symbols:    f.symbols,
			HTTPClient: f.http,
		}, key)
		if err != nil {
			return nil, err
		}
		return c, nil
	case Proxy:
		c, err := proxy.New(proxy.Options{
			BaseURL:    f.cfg.Exchange.ProxyURL,
			HTTPClient: f.http,
			Log:        log,
		}, key)
		if err != nil {
			return nil, err
		}
		return c, nil
	case Tinkoff:
		// the SDK binds its calls to ctx, so the client lives as long as the tick
		c, err := tinkoff.New(ctx, tinkoff.Options{
			Sandbox: f.cfg.Exchange.TinkoffSandbox,
			State:   f.tinkoff,
			Log:     log,
		}, w.Address, key)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, exchange.Permanent(fmt.Errorf("unsupported venue %q", w.Venue))
}

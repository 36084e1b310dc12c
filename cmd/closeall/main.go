package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/executor"
	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/storage"
	"github.com/camuig/riskbot/internal/telegram"
	"github.com/camuig/riskbot/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	walletID := flag.Uint("wallet", 0, "wallet id whose positions are closed")
	secret := flag.String("secret", "", "wallet secret (default $RISKBOT_WALLET_SECRET)")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	if *walletID == 0 {
		fmt.Fprintln(os.Stderr, "-wallet is required")
		os.Exit(2)
	}
	if *secret == "" {
		*secret = os.Getenv("RISKBOT_WALLET_SECRET")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx := context.Background()
	w, err := repo.GetWallet(ctx, uint(*walletID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load wallet: %v\n", err)
		os.Exit(1)
	}
	trades, err := repo.OpenTradesForWallet(ctx, w.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load open trades: %v\n", err)
		os.Exit(1)
	}

	exec := executor.NewExecutor(repo, telegram.NewNotifier(cfg, log), cfg, log)
	factory := venue.NewFactory(cfg, log)

	var failed int
	err = keystore.New(repo.KeystoreWallets()).WithKey(ctx, w.ID, *secret, func(key *keystore.Key) error {
		client, err := factory.New(ctx, exchange.Wallet{ID: w.ID, Venue: w.Venue, Address: w.Address}, key.Bytes)
		if err != nil {
			return fmt.Errorf("connect %s: %w", w.Venue, err)
		}
		if c, ok := client.(io.Closer); ok {
			defer c.Close()
		}

		positions, err := client.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("get positions: %w", err)
		}
		if len(positions) == 0 {
			fmt.Println("No open positions.")
			return nil
		}

		fmt.Printf("Found %d position(s) on %s wallet %q:\n\n", len(positions), w.Venue, w.Name)
		for _, p := range positions {
			fmt.Printf("  %s: %s %s @ %s\n", p.Symbol, p.Side, p.Size, p.EntryPrice)
		}
		fmt.Println()

		if *dryRun {
			fmt.Println("Dry run, no orders placed.")
			return nil
		}

		var closed int
		for _, p := range positions {
			res, err := exec.ClosePosition(ctx, client, p.Symbol, tradeFor(trades, p.Symbol), executor.ReasonManual)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  [FAIL] %s: %v\n", p.Symbol, err)
				failed++
				continue
			}
			exit := "n/a"
			if res.ExitPrice.Valid {
				exit = res.ExitPrice.Decimal.String()
			}
			fmt.Printf("  [OK]   %s: closed %s @ %s\n", p.Symbol, p.Size, exit)
			closed++
		}
		fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "close all: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func tradeFor(trades []storage.TradeRecord, symbol string) *storage.TradeRecord {
	for i := range trades {
		if strings.EqualFold(trades[i].Symbol, symbol) {
			return &trades[i]
		}
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return NewRepository(db)
}

func seedBot(t *testing.T, repo *Repository) (*Wallet, *BotConfig) {
	t.Helper()
	ctx := context.Background()
	w := &Wallet{Name: "main", Venue: "hyperliquid", Address: "0xabc", EncryptedKey: "v1:16:xx"}
	if err := repo.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}
	b := &BotConfig{
		Name:            "btc-breakout",
		WalletID:        w.ID,
		Symbol:          "BTC",
		StrategyType:    "breakout",
		Parameters:      `{"breakout_pct": 1}`,
		RiskPerTradePct: decimal.RequireFromString("1"),
		MaxDailyLossPct: decimal.RequireFromString("5"),
		Leverage:        3,
		MaxPositions:    1,
	}
	if err := repo.CreateBot(ctx, b); err != nil {
		t.Fatal(err)
	}
	return w, b
}

func TestCreateBotDefaultsToStopped(t *testing.T) {
	repo := newTestRepo(t)
	_, b := seedBot(t, repo)

	got, err := repo.LoadBotConfig(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != BotStopped {
		t.Fatalf("status = %q, want stopped", got.Status)
	}
	if !got.RiskPerTradePct.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("risk pct = %s", got.RiskPerTradePct)
	}
}

func TestCreateBotNormalizesSymbol(t *testing.T) {
	repo := newTestRepo(t)
	w, _ := seedBot(t, repo)
	ctx := context.Background()

	b := &BotConfig{WalletID: w.ID, Symbol: " eth ", StrategyType: "breakout", MaxPositions: 1, Leverage: 1}
	if err := repo.CreateBot(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err := repo.LoadBotConfig(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Symbol != "ETH" {
		t.Fatalf("symbol = %q, want ETH", got.Symbol)
	}
}

func TestLoadBotConfigNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.LoadBotConfig(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBotConfigPatch(t *testing.T) {
	repo := newTestRepo(t)
	_, b := seedBot(t, repo)
	ctx := context.Background()

	status, msg := BotError, "decrypt failed"
	now := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateBotConfig(ctx, b.ID, BotPatch{Status: &status, StatusMessage: &msg, LastRunAt: &now}); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.LoadBotConfig(ctx, b.ID)
	if got.Status != BotError || got.StatusMessage != msg {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Fatalf("last run = %v, want %v", got.LastRunAt, now)
	}
	if got.Symbol != "BTC" {
		t.Fatalf("untouched field changed: %q", got.Symbol)
	}

	if err := repo.UpdateBotConfig(ctx, 999, BotPatch{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementBotStatsKeepsDecimalExact(t *testing.T) {
	repo := newTestRepo(t)
	_, b := seedBot(t, repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.IncrementBotStats(ctx, b.ID, StatsDelta{
				Trades: 1, Wins: 1, PnlDelta: decimal.RequireFromString("0.1"),
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, _ := repo.LoadBotConfig(ctx, b.ID)
	if got.TotalTrades != 10 || got.WinningTrades != 10 || got.LosingTrades != 0 {
		t.Fatalf("counters = %d/%d/%d", got.TotalTrades, got.WinningTrades, got.LosingTrades)
	}
	if !got.TotalPnl.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("total pnl = %s, want exactly 1", got.TotalPnl)
	}
}

func TestTradeRecordLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	w, b := seedBot(t, repo)
	ctx := context.Background()

	botID := b.ID
	tr := &TradeRecord{
		WalletID:        w.ID,
		BotID:           &botID,
		Symbol:          "BTC",
		Side:            "long",
		Size:            decimal.RequireFromString("0.25"),
		Leverage:        3,
		EntryPrice:      decimal.RequireFromString("100"),
		StopLoss:        decimal.RequireFromString("98"),
		StopLossMissing: true,
	}
	if err := repo.CreateTradeRecord(ctx, tr); err != nil {
		t.Fatal(err)
	}

	open, err := repo.OpenTradeForBot(ctx, b.ID, "BTC")
	if err != nil || open == nil {
		t.Fatalf("open trade lookup: %v %v", open, err)
	}
	if !open.ProtectionMissing() || open.TakeProfit.Valid {
		t.Fatalf("unexpected protection flags: %+v", open)
	}

	closed := TradeClosed
	reason := "take_profit"
	at := time.Now().UTC()
	if err := repo.UpdateTradeRecord(ctx, tr.ID, TradePatch{
		ExitPrice:   decimal.NewNullDecimal(decimal.RequireFromString("104")),
		Pnl:         decimal.NewNullDecimal(decimal.RequireFromString("1")),
		Status:      &closed,
		CloseReason: &reason,
		ClosedAt:    &at,
	}); err != nil {
		t.Fatal(err)
	}

	if open, _ := repo.OpenTradeForBot(ctx, b.ID, "BTC"); open != nil {
		t.Fatalf("trade still open: %+v", open)
	}

	// closed records only accept a pnl backfill
	reopen := TradeOpen
	if err := repo.UpdateTradeRecord(ctx, tr.ID, TradePatch{Status: &reopen}); err == nil {
		t.Fatal("expected error when reopening a closed trade")
	}
	if err := repo.UpdateTradeRecord(ctx, tr.ID, TradePatch{
		Pnl:    decimal.NewNullDecimal(decimal.RequireFromString("0.95")),
		Status: &reopen,
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetTradeRecord(ctx, tr.ID)
	if got.Status != TradeClosed {
		t.Fatalf("status = %q, want closed", got.Status)
	}
	if !got.Pnl.Decimal.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("pnl = %s, want 0.95", got.Pnl.Decimal)
	}

	daily, err := repo.BotDailyPnl(ctx, b.ID, at.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !daily.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("daily pnl = %s", daily)
	}
}

func TestDeleteWalletRefusedWhileBotRunning(t *testing.T) {
	repo := newTestRepo(t)
	w, b := seedBot(t, repo)
	ctx := context.Background()

	running := BotRunning
	if err := repo.UpdateBotConfig(ctx, b.ID, BotPatch{Status: &running}); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteWallet(ctx, w.ID); !errors.Is(err, ErrWalletInUse) {
		t.Fatalf("expected ErrWalletInUse, got %v", err)
	}

	stopped := BotStopped
	_ = repo.UpdateBotConfig(ctx, b.ID, BotPatch{Status: &stopped})
	if err := repo.DeleteWallet(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
}

func TestKeystoreWalletsAdapter(t *testing.T) {
	repo := newTestRepo(t)
	w, _ := seedBot(t, repo)

	src := repo.KeystoreWallets()
	got, err := src.GetWallet(context.Background(), w.ID)
	if err != nil || got == nil {
		t.Fatalf("GetWallet: %v %v", got, err)
	}
	if got.EncryptedKey != w.EncryptedKey || got.Venue != "hyperliquid" {
		t.Fatalf("unexpected wallet: %+v", got)
	}
	missing, err := src.GetWallet(context.Background(), 999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing wallet, got %v %v", missing, err)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrWalletInUse = errors.New("wallet is referenced by a running bot")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Wallets

func (r *Repository) CreateWallet(ctx context.Context, w *Wallet) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *Repository) GetWallet(ctx context.Context, id uint) (*Wallet, error) {
	var w Wallet
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// DeleteWallet refuses while a running bot still references the wallet.
func (r *Repository) DeleteWallet(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&BotConfig{}).
			Where("wallet_id = ? AND status = ?", id, BotRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return ErrWalletInUse
		}
		res := tx.Delete(&Wallet{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Bots

func (r *Repository) CreateBot(ctx context.Context, b *BotConfig) error {
	if b.Status == "" {
		b.Status = BotStopped
	}
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repository) LoadBotConfig(ctx context.Context, id uint) (*BotConfig, error) {
	var b BotConfig
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *Repository) ListBots(ctx context.Context) ([]BotConfig, error) {
	var bots []BotConfig
	err := r.db.WithContext(ctx).Order("id").Find(&bots).Error
	return bots, err
}

func (r *Repository) ListBotsByStatus(ctx context.Context, status string) ([]BotConfig, error) {
	var bots []BotConfig
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("id").Find(&bots).Error
	return bots, err
}

func (r *Repository) DeleteBot(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&BotConfig{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BotPatch lists the bot fields the engine may change. Nil fields are left untouched.
type BotPatch struct {
	Status        *string
	StatusMessage *string
	LastRunAt     *time.Time
}

func (p BotPatch) columns() map[string]any {
	cols := make(map[string]any, 3)
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.StatusMessage != nil {
		cols["status_message"] = *p.StatusMessage
	}
	if p.LastRunAt != nil {
		cols["last_run_at"] = *p.LastRunAt
	}
	return cols
}

func (r *Repository) UpdateBotConfig(ctx context.Context, id uint, patch BotPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&BotConfig{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StatsDelta is added to a bot's running statistics.
type StatsDelta struct {
	Trades   int
	Wins     int
	Losses   int
	PnlDelta decimal.Decimal
}

// IncrementBotStats applies delta in one transaction. PnL is summed in decimal
// rather than in SQL so the stored text value never goes through a float.
func (r *Repository) IncrementBotStats(ctx context.Context, id uint, delta StatsDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b BotConfig
		if err := tx.Select("id", "total_pnl").First(&b, id).Error; err != nil {
			return notFound(err)
		}
		return tx.Model(&BotConfig{}).Where("id = ?", id).Updates(map[string]any{
			"total_trades":   gorm.Expr("total_trades + ?", delta.Trades),
			"winning_trades": gorm.Expr("winning_trades + ?", delta.Wins),
			"losing_trades":  gorm.Expr("losing_trades + ?", delta.Losses),
			"total_pnl":      b.TotalPnl.Add(delta.PnlDelta),
		}).Error
	})
}

// Trades

func (r *Repository) CreateTradeRecord(ctx context.Context, t *TradeRecord) error {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repository) GetTradeRecord(ctx context.Context, id uint) (*TradeRecord, error) {
	var t TradeRecord
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// TradePatch lists the trade fields that may change after creation.
type TradePatch struct {
	ExitPrice   decimal.NullDecimal
	Pnl         decimal.NullDecimal
	Status      *string
	CloseReason *string
	ClosedAt    *time.Time
}

// UpdateTradeRecord applies patch. A closed record only accepts a pnl backfill.
func (r *Repository) UpdateTradeRecord(ctx context.Context, id uint, patch TradePatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t TradeRecord
		if err := tx.Select("id", "status").First(&t, id).Error; err != nil {
			return notFound(err)
		}

		cols := map[string]any{}
		if patch.Pnl.Valid {
			cols["pnl"] = patch.Pnl
		}
		if t.Status != TradeClosed {
			if patch.ExitPrice.Valid {
				cols["exit_price"] = patch.ExitPrice
			}
			if patch.Status != nil {
				cols["status"] = *patch.Status
			}
			if patch.CloseReason != nil {
				cols["close_reason"] = *patch.CloseReason
			}
			if patch.ClosedAt != nil {
				cols["closed_at"] = *patch.ClosedAt
			}
		} else if len(cols) == 0 {
			return fmt.Errorf("trade %d is closed", id)
		}
		if len(cols) == 0 {
			return nil
		}
		return tx.Model(&TradeRecord{}).Where("id = ?", id).Updates(cols).Error
	})
}

// OpenTradeForBot returns the bot's open trade on symbol, or nil when there is none.
func (r *Repository) OpenTradeForBot(ctx context.Context, botID uint, symbol string) (*TradeRecord, error) {
	var t TradeRecord
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND symbol = ? AND status = ?", botID, strings.ToUpper(symbol), TradeOpen).
		Order("created_at DESC").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) OpenTradesForWallet(ctx context.Context, walletID uint) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND status = ?", walletID, TradeOpen).
		Order("created_at").Find(&trades).Error
	return trades, err
}

func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// BotDailyPnl sums realised pnl of the bot's trades closed since the given time.
func (r *Repository) BotDailyPnl(ctx context.Context, botID uint, since time.Time) (decimal.Decimal, error) {
	var pnls []decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&TradeRecord{}).
		Where("bot_id = ? AND status = ? AND closed_at >= ?", botID, TradeClosed, since).
		Pluck("pnl", &pnls).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range pnls {
		if p.Valid {
			total = total.Add(p.Decimal)
		}
	}
	return total, nil
}

// Bot runs

func (r *Repository) SaveBotRun(ctx context.Context, run *BotRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) RecentBotRuns(ctx context.Context, botID uint, limit int) ([]BotRun, error) {
	var runs []BotRun
	err := r.db.WithContext(ctx).Where("bot_id = ?", botID).
		Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bot statuses.
const (
	BotStopped = "stopped"
	BotRunning = "running"
	BotError   = "error"
)

// Trade statuses.
const (
	TradeOpen   = "open"
	TradeClosed = "closed"
)

type Wallet struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name         string `gorm:"not null" json:"name"`
	Venue        string `gorm:"not null" json:"venue"` // hyperliquid, proxy, tinkoff
	Address      string `gorm:"index" json:"address"`
	EncryptedKey string `gorm:"type:text;not null" json:"-"`
}

type BotConfig struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name         string `json:"name"`
	WalletID     uint   `gorm:"index;not null" json:"wallet_id"`
	Symbol       string `gorm:"not null" json:"symbol"`
	StrategyType string `gorm:"not null" json:"strategy_type"`
	Parameters   string `gorm:"type:text" json:"parameters"` // JSON object

	RiskPerTradePct decimal.Decimal `gorm:"type:text;not null" json:"risk_per_trade_pct"`
	MaxDailyLossPct decimal.Decimal `gorm:"type:text;not null" json:"max_daily_loss_pct"`
	Leverage        int             `gorm:"not null;default:1" json:"leverage"`
	MaxPositions    int             `gorm:"not null;default:1" json:"max_positions"`

	Status        string     `gorm:"index;not null;default:'stopped'" json:"status"`
	StatusMessage string     `json:"status_message"`
	LastRunAt     *time.Time `json:"last_run_at"`

	TotalTrades   int             `gorm:"not null;default:0" json:"total_trades"`
	WinningTrades int             `gorm:"not null;default:0" json:"winning_trades"`
	LosingTrades  int             `gorm:"not null;default:0" json:"losing_trades"`
	TotalPnl      decimal.Decimal `gorm:"type:text;not null" json:"total_pnl"`
}

type TradeRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	WalletID uint  `gorm:"index;not null" json:"wallet_id"`
	BotID    *uint `gorm:"index" json:"bot_id"`

	Symbol     string              `gorm:"index;not null" json:"symbol"`
	Side       string              `gorm:"not null" json:"side"` // long, short
	Size       decimal.Decimal     `gorm:"type:text;not null" json:"size"`
	Leverage   int                 `gorm:"not null" json:"leverage"`
	EntryPrice decimal.Decimal     `gorm:"type:text;not null" json:"entry_price"`
	ExitPrice  decimal.NullDecimal `gorm:"type:text" json:"exit_price"`
	StopLoss   decimal.Decimal     `gorm:"type:text;not null" json:"stop_loss"`
	TakeProfit decimal.NullDecimal `gorm:"type:text" json:"take_profit"`
	Pnl        decimal.NullDecimal `gorm:"type:text" json:"pnl"`

	EntryOrderID      string `json:"entry_order_id"`
	StopLossOrderID   string `json:"stop_loss_order_id"`
	TakeProfitOrderID string `json:"take_profit_order_id"`
	StopLossMissing   bool   `gorm:"not null;default:false" json:"stop_loss_missing"`
	TakeProfitMissing bool   `gorm:"not null;default:false" json:"take_profit_missing"`

	Status      string     `gorm:"index;not null;default:'open'" json:"status"`
	CloseReason string     `json:"close_reason"`
	ClosedAt    *time.Time `json:"closed_at"`
}

// ProtectionMissing reports whether any requested protective order failed.
func (t *TradeRecord) ProtectionMissing() bool {
	return t.StopLossMissing || t.TakeProfitMissing
}

// BotRun is one scheduler tick.
type BotRun struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	BotID     uint            `gorm:"index;not null" json:"bot_id"`
	Outcome   string          `gorm:"not null" json:"outcome"`
	Signal    string          `json:"signal"`
	Price     decimal.Decimal `gorm:"type:text" json:"price"`
	Available decimal.Decimal `gorm:"type:text" json:"available"`
	Detail    string          `gorm:"type:text" json:"detail"`
	Error     string          `json:"error"`
}

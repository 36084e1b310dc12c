package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/storage"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyOpen(t *storage.TradeRecord) {
	emoji := "🟢"
	if t.Side == "short" {
		emoji = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\nEntry: %s\nSize: %s x%d\nSL: %s",
		emoji, strings.ToUpper(t.Side), esc(t.Symbol), t.EntryPrice, t.Size, t.Leverage, t.StopLoss)
	if t.TakeProfit.Valid {
		fmt.Fprintf(&b, "\nTP: %s", t.TakeProfit.Decimal)
	}
	n.send(b.String())
}

func (n *Notifier) NotifyProtectionMissing(t *storage.TradeRecord) {
	var missing []string
	if t.StopLossMissing {
		missing = append(missing, "stop-loss")
	}
	if t.TakeProfitMissing {
		missing = append(missing, "take-profit")
	}
	n.send(fmt.Sprintf("⚠️ *Unprotected position* %s (trade %d)\nMissing: %s\nPlace it manually or close the position.",
		esc(t.Symbol), t.ID, strings.Join(missing, ", ")))
}

func (n *Notifier) NotifyClose(t *storage.TradeRecord) {
	emoji := "🔴"
	if t.Pnl.Valid && t.Pnl.Decimal.IsPositive() {
		emoji = "💰"
	}
	exit, pnl := "n/a", "n/a"
	if t.ExitPrice.Valid {
		exit = t.ExitPrice.Decimal.String()
	}
	if t.Pnl.Valid {
		pnl = t.Pnl.Decimal.StringFixed(2)
	}
	n.send(fmt.Sprintf("%s *CLOSE* %s %s\nExit: %s\nP&L: %s\nReason: %s",
		emoji, strings.ToUpper(t.Side), esc(t.Symbol), exit, pnl, esc(t.CloseReason)))
}

func (n *Notifier) NotifyBotError(bot string, err error) {
	n.send(fmt.Sprintf("⚠️ *Bot stopped* [%s]\n%s", esc(bot), esc(err.Error())))
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(esc(message))
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}

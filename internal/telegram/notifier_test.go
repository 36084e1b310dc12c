package telegram

import (
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/storage"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func newTestNotifier() (*Notifier, *fakeSender) {
	f := &fakeSender{}
	return &Notifier{bot: f, chatID: 42, enabled: true, logger: logger.Nop()}, f
}

func trade() *storage.TradeRecord {
	return &storage.TradeRecord{
		ID:         7,
		Symbol:     "BTC",
		Side:       "long",
		Size:       decimal.RequireFromString("0.5"),
		Leverage:   3,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
	}
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	cfg := &config.Config{}
	n := NewNotifier(cfg, logger.Nop())
	n.NotifyStatus("hello") // must not panic with a nil bot
}

func TestNotifyOpen(t *testing.T) {
	n, f := newTestNotifier()
	tr := trade()
	tr.TakeProfit = decimal.NewNullDecimal(decimal.NewFromInt(104))
	n.NotifyOpen(tr)

	if len(f.sent) != 1 {
		t.Fatalf("sent = %d", len(f.sent))
	}
	m := f.sent[0]
	if m.ChatID != 42 || m.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("message = %+v", m)
	}
	for _, want := range []string{"*LONG* BTC", "Entry: 100", "Size: 0.5 x3", "SL: 98", "TP: 104"} {
		if !strings.Contains(m.Text, want) {
			t.Errorf("text %q lacks %q", m.Text, want)
		}
	}
}

func TestNotifyProtectionMissing(t *testing.T) {
	n, f := newTestNotifier()
	tr := trade()
	tr.StopLossMissing = true
	n.NotifyProtectionMissing(tr)
	if !strings.Contains(f.sent[0].Text, "Missing: stop-loss") || strings.Contains(f.sent[0].Text, "take-profit") {
		t.Errorf("text = %q", f.sent[0].Text)
	}
}

func TestNotifyClose(t *testing.T) {
	n, f := newTestNotifier()
	tr := trade()
	tr.ExitPrice = decimal.NewNullDecimal(decimal.NewFromInt(110))
	tr.Pnl = decimal.NewNullDecimal(decimal.NewFromInt(5))
	tr.CloseReason = "closed_on_venue"
	n.NotifyClose(tr)

	text := f.sent[0].Text
	for _, want := range []string{"💰", "Exit: 110", "P&L: 5.00", `closed\_on\_venue`} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q lacks %q", text, want)
		}
	}
}

func TestNotifyBotErrorEscapes(t *testing.T) {
	n, f := newTestNotifier()
	f.err = errors.New("telegram down")
	n.NotifyBotError("my_bot", errors.New("bad *thing*"))
	text := f.sent[0].Text
	if !strings.Contains(text, `my\_bot`) || !strings.Contains(text, `bad \*thing\*`) {
		t.Errorf("text = %q", text)
	}
}

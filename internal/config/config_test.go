package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("RISKBOT_DB_PATH", "")
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval() != time.Minute {
		t.Errorf("interval = %s", cfg.TickInterval())
	}
	if cfg.CallTimeout() != 10*time.Second || cfg.EntryTimeout() != 15*time.Second {
		t.Errorf("timeouts = %s, %s", cfg.CallTimeout(), cfg.EntryTimeout())
	}
	if !cfg.PnlTolerance().Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("tolerance = %s", cfg.PnlTolerance())
	}
	if !cfg.SlippageRatio().Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("slippage = %s", cfg.SlippageRatio())
	}
	if !cfg.FeeBuffer().IsZero() {
		t.Errorf("fee buffer = %s", cfg.FeeBuffer())
	}
	if cfg.Keystore.ScryptN != 1<<15 || cfg.Web.Port != 8080 || cfg.Database.Path != "data/riskbot.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseSymbols(t *testing.T) {
	cfg, err := Parse([]byte(`
trading:
  interval: 5m
  fee_buffer_pct: 0.5
symbols:
  btc:
    min_order_size: 0.0001
    size_decimals: 4
    price_decimals: 0
    max_leverage: 20
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval() != 5*time.Minute {
		t.Errorf("interval = %s", cfg.TickInterval())
	}
	if !cfg.FeeBuffer().Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("fee buffer = %s", cfg.FeeBuffer())
	}

	book := cfg.SymbolBook()
	btc := book.Get("BTC")
	if btc.SizeDecimals != 4 || btc.MaxLeverage != 20 || !btc.MinOrderSize.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("btc = %+v", btc)
	}
	if other := book.Get("DOGE"); other.SizeDecimals != 3 || other.Symbol != "DOGE" {
		t.Errorf("fallback = %+v", other)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("DEEPSEEK_API_KEY", "env-key")
	t.Setenv("RISKBOT_DB_PATH", "/tmp/env.db")

	cfg, err := Parse([]byte(`
telegram:
  enabled: true
  bot_token: file-token
  chat_id: 42
deepseek:
  api_key: file-key
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.BotToken != "env-token" || cfg.DeepSeek.APIKey != "env-key" || cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad interval", "trading:\n  interval: soon\n", "trading.interval"},
		{"negative interval", "trading:\n  interval: -1s\n", "must be positive"},
		{"fee buffer", "trading:\n  fee_buffer_pct: 100\n", "fee_buffer_pct"},
		{"tolerance", "trading:\n  pnl_tolerance_pct: -1\n", "pnl_tolerance_pct"},
		{"leverage", "trading:\n  default_leverage: -2\n", "default_leverage"},
		{"symbol size", "symbols:\n  eth:\n    min_order_size: -1\n", "symbols.eth"},
		{"telegram token", "telegram:\n  enabled: true\n  chat_id: 1\n", "bot_token"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"yaml", "trading: [", "parse config"},
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("web:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("port = %d", cfg.Web.Port)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

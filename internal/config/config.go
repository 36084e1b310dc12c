package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/camuig/riskbot/internal/exchange"
)

type Config struct {
	Exchange ExchangeConfig          `yaml:"exchange"`
	Trading  TradingConfig           `yaml:"trading"`
	Symbols  map[string]SymbolConfig `yaml:"symbols"`
	Keystore KeystoreConfig          `yaml:"keystore"`
	DeepSeek DeepSeekConfig          `yaml:"deepseek"`
	Telegram TelegramConfig          `yaml:"telegram"`
	Web      WebConfig               `yaml:"web"`
	Logging  LoggingConfig           `yaml:"logging"`
	Database DatabaseConfig          `yaml:"database"`
}

type ExchangeConfig struct {
	HyperliquidURL      string  `yaml:"hyperliquid_url"`
	ProxyURL            string  `yaml:"proxy_url"`
	TinkoffSandbox      bool    `yaml:"tinkoff_sandbox"`
	CallTimeoutSeconds  int     `yaml:"call_timeout_seconds"`
	EntryTimeoutSeconds int     `yaml:"entry_timeout_seconds"`
	SlippagePct         float64 `yaml:"slippage_pct"`
}

type TradingConfig struct {
	Interval               string  `yaml:"interval"`
	FeeBufferPct           float64 `yaml:"fee_buffer_pct"`
	PnlTolerancePct        float64 `yaml:"pnl_tolerance_pct"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	DefaultLeverage        int     `yaml:"default_leverage"`
}

// SymbolConfig carries the venue constraints for one symbol.
type SymbolConfig struct {
	MinOrderSize  float64 `yaml:"min_order_size"`
	SizeDecimals  int32   `yaml:"size_decimals"`
	PriceDecimals int32   `yaml:"price_decimals"`
	MaxLeverage   int     `yaml:"max_leverage"`
}

type KeystoreConfig struct {
	ScryptN int `yaml:"scrypt_n"`
}

type DeepSeekConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config at path. Variables from a .env file next to the
// working directory are loaded first and override secrets in the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.DeepSeek.APIKey = v
	}
	if v := os.Getenv("RISKBOT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Exchange.HyperliquidURL == "" {
		cfg.Exchange.HyperliquidURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Exchange.CallTimeoutSeconds == 0 {
		cfg.Exchange.CallTimeoutSeconds = 10
	}
	if cfg.Exchange.EntryTimeoutSeconds == 0 {
		cfg.Exchange.EntryTimeoutSeconds = 15
	}
	if cfg.Exchange.SlippagePct == 0 {
		cfg.Exchange.SlippagePct = 5
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "60s"
	}
	if cfg.Trading.PnlTolerancePct == 0 {
		cfg.Trading.PnlTolerancePct = 10
	}
	if cfg.Trading.MaxConsecutiveFailures == 0 {
		cfg.Trading.MaxConsecutiveFailures = 5
	}
	if cfg.Trading.DefaultLeverage == 0 {
		cfg.Trading.DefaultLeverage = 1
	}
	if cfg.Keystore.ScryptN == 0 {
		cfg.Keystore.ScryptN = 1 << 15
	}
	if cfg.DeepSeek.Model == "" {
		cfg.DeepSeek.Model = "deepseek-chat"
	}
	if cfg.DeepSeek.BaseURL == "" {
		cfg.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.DeepSeek.TimeoutSeconds == 0 {
		cfg.DeepSeek.TimeoutSeconds = 60
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/riskbot.db"
	}
}

func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.Trading.Interval)
	if err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if d <= 0 {
		return fmt.Errorf("trading.interval must be positive")
	}
	if c.Trading.FeeBufferPct < 0 || c.Trading.FeeBufferPct >= 100 {
		return fmt.Errorf("trading.fee_buffer_pct must be in [0, 100)")
	}
	if c.Trading.PnlTolerancePct <= 0 {
		return fmt.Errorf("trading.pnl_tolerance_pct must be positive")
	}
	if c.Trading.DefaultLeverage < 1 {
		return fmt.Errorf("trading.default_leverage must be >= 1")
	}
	for name, s := range c.Symbols {
		if s.MinOrderSize < 0 {
			return fmt.Errorf("symbols.%s.min_order_size must not be negative", name)
		}
		if s.SizeDecimals < 0 || s.PriceDecimals < 0 {
			return fmt.Errorf("symbols.%s: decimals must not be negative", name)
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) TickInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Exchange.CallTimeoutSeconds) * time.Second
}

func (c *Config) EntryTimeout() time.Duration {
	return time.Duration(c.Exchange.EntryTimeoutSeconds) * time.Second
}

func (c *Config) DeepSeekTimeout() time.Duration {
	return time.Duration(c.DeepSeek.TimeoutSeconds) * time.Second
}

// FeeBuffer returns the fee/slippage buffer as a ratio.
func (c *Config) FeeBuffer() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.FeeBufferPct).Div(decimal.NewFromInt(100))
}

// PnlTolerance returns the sizing verification tolerance as a ratio.
func (c *Config) PnlTolerance() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.PnlTolerancePct).Div(decimal.NewFromInt(100))
}

func (c *Config) SlippageRatio() decimal.Decimal {
	return decimal.NewFromFloat(c.Exchange.SlippagePct).Div(decimal.NewFromInt(100))
}

// SymbolBook converts the symbols section into venue constraints.
func (c *Config) SymbolBook() *exchange.SymbolBook {
	specs := make([]exchange.SymbolSpec, 0, len(c.Symbols))
	for name, s := range c.Symbols {
		specs = append(specs, exchange.SymbolSpec{
			Symbol:        strings.ToUpper(name),
			MinOrderSize:  decimal.NewFromFloat(s.MinOrderSize),
			SizeDecimals:  s.SizeDecimals,
			PriceDecimals: s.PriceDecimals,
			MaxLeverage:   s.MaxLeverage,
		})
	}
	return exchange.NewSymbolBook(exchange.DefaultSymbolSpec(), specs...)
}

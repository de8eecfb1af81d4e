package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/pyramid"
	"github.com/ducminhle1904/pyramid-bot/internal/risk"
)

// Config is the complete configuration for the pyramid bot.
type Config struct {
	Trading       TradingConfig       `json:"trading"`
	Exchange      ExchangeConfig      `json:"exchange"`
	Risk          RiskConfig          `json:"risk"`
	Sync          SyncConfig          `json:"sync"`
	Server        ServerConfig        `json:"server"`
	Paths         PathsConfig         `json:"paths"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// TradingConfig holds the pyramid strategy parameters. A preset fills
// the ladders; explicit values override it ("custom" requires them all).
type TradingConfig struct {
	Preset              string    `json:"preset"`
	Symbols             []string  `json:"symbols"`
	MarginPercentages   []float64 `json:"margin_percentages"`
	ExitPercentages     []float64 `json:"exit_percentages"`
	MaxPyramidLevels    int       `json:"max_pyramid_levels"`
	BaseLeverage        float64   `json:"base_leverage"`
	MinLeverage         float64   `json:"min_leverage"`
	MaxLeverage         float64   `json:"max_leverage"`
	VolatilityBound     float64   `json:"volatility_bound"`
	MaxAccountExposure  float64   `json:"max_account_exposure"`
	EntryPolicy         string    `json:"entry_policy"`
	PriceImprovementPct float64   `json:"price_improvement_pct"`
	EntryCooldownSec    int       `json:"entry_cooldown_sec"`

	// SlippagePct is the allowance above the signal price for entry
	// limit orders, in percent of price.
	SlippagePct float64 `json:"slippage_pct"`
}

// ExchangeConfig selects the trading venue. Credentials come from the
// environment, never from the config file.
type ExchangeConfig struct {
	Name     string `json:"name"`
	Demo     bool   `json:"demo"`
	Category string `json:"category"`
}

// RiskConfig holds the risk monitor thresholds.
type RiskConfig struct {
	// StopLossPct is margin-relative, not a price percentage: the price
	// move times leverage. At 10x, a 3% adverse move is a 30% loss.
	StopLossPct float64 `json:"stop_loss_pct"`
	TrailingStopPct     float64 `json:"trailing_stop_pct"`
	MaxNotionalMultiple float64 `json:"max_notional_multiple"`
	CheckIntervalSec    int     `json:"check_interval_sec"`
}

// SyncConfig holds the reconciliation loop settings.
type SyncConfig struct {
	IntervalSec  int     `json:"interval_sec"`
	TolerancePct float64 `json:"tolerance_pct"`
}

// ServerConfig holds the HTTP surface ports.
type ServerConfig struct {
	MetricsPort int `json:"metrics_port"`
	HealthPort  int `json:"health_port"`
	SignalPort  int `json:"signal_port"`
}

// PathsConfig holds output directories.
type PathsConfig struct {
	LogDir     string `json:"log_dir"`
	StateDir   string `json:"state_dir"`
	JournalDir string `json:"journal_dir"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// Load reads a config file, applies the preset and defaults, and
// validates the result. A bare name is resolved under configs/ with a
// .json extension.
func Load(configFile string) (*Config, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Trading.MaxPyramidLevels == 0 {
		c.Trading.MaxPyramidLevels = len(c.Trading.MarginPercentages)
	}
	if c.Trading.MinLeverage == 0 {
		c.Trading.MinLeverage = 1
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = 25
	}
	if c.Trading.VolatilityBound == 0 {
		c.Trading.VolatilityBound = 0.10
	}
	if c.Trading.EntryPolicy == "" {
		c.Trading.EntryPolicy = string(pyramid.EntryAlways)
	}
	if c.Trading.SlippagePct == 0 {
		c.Trading.SlippagePct = 0.05
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "linear"
	}

	if c.Risk.CheckIntervalSec == 0 {
		c.Risk.CheckIntervalSec = 15
	}
	if c.Sync.IntervalSec == 0 {
		c.Sync.IntervalSec = 30
	}
	if c.Sync.TolerancePct == 0 {
		c.Sync.TolerancePct = 0.5
	}

	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = 8081
	}
	if c.Server.SignalPort == 0 {
		c.Server.SignalPort = 8080
	}

	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "logs"
	}
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = "state"
	}
	if c.Paths.JournalDir == "" {
		c.Paths.JournalDir = "journal"
	}
}

// Validate checks the assembled configuration. Failures are fatal
// configuration errors.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return errors.NewConfigError("config", "at least one trading symbol is required")
	}
	for _, s := range c.Trading.Symbols {
		if strings.TrimSpace(s) == "" {
			return errors.NewConfigError("config", "trading symbols must not be blank")
		}
	}

	if len(c.Trading.MarginPercentages) == 0 {
		return errors.NewConfigError("config", "margin percentage ladder is empty")
	}
	for i, pct := range c.Trading.MarginPercentages {
		if pct <= 0 || pct > 100 {
			return errors.NewConfigError("config", "margin percentage %d must be in (0,100], got %.2f", i+1, pct)
		}
	}

	if len(c.Trading.ExitPercentages) == 0 {
		return errors.NewConfigError("config", "exit percentage ladder is empty")
	}
	for i, pct := range c.Trading.ExitPercentages {
		if pct <= 0 || pct > 100 {
			return errors.NewConfigError("config", "exit percentage %d must be in (0,100], got %.2f", i+1, pct)
		}
	}
	if last := c.Trading.ExitPercentages[len(c.Trading.ExitPercentages)-1]; last != 100 {
		return errors.NewConfigError("config", "final exit percentage must be 100, got %.2f", last)
	}

	if c.Trading.BaseLeverage <= 0 {
		return errors.NewConfigError("config", "base leverage must be positive, got %.2f", c.Trading.BaseLeverage)
	}
	if c.Trading.MinLeverage < 1 || c.Trading.MaxLeverage < c.Trading.MinLeverage {
		return errors.NewConfigError("config", "leverage clamps invalid: min %.2f max %.2f",
			c.Trading.MinLeverage, c.Trading.MaxLeverage)
	}
	if c.Trading.MaxAccountExposure <= 0 || c.Trading.MaxAccountExposure > 1 {
		return errors.NewConfigError("config", "max account exposure must be in (0,1], got %.2f", c.Trading.MaxAccountExposure)
	}
	if c.Trading.MaxPyramidLevels <= 0 {
		return errors.NewConfigError("config", "max pyramid levels must be positive, got %d", c.Trading.MaxPyramidLevels)
	}

	switch pyramid.EntryPolicy(c.Trading.EntryPolicy) {
	case pyramid.EntryAlways, pyramid.EntryPriceImprovement, pyramid.EntryCooldown:
	default:
		return errors.NewConfigError("config", "unknown entry policy %q", c.Trading.EntryPolicy)
	}
	if c.Trading.EntryPolicy == string(pyramid.EntryPriceImprovement) && c.Trading.PriceImprovementPct <= 0 {
		return errors.NewConfigError("config", "price improvement policy requires a positive price_improvement_pct")
	}
	if c.Trading.EntryPolicy == string(pyramid.EntryCooldown) && c.Trading.EntryCooldownSec <= 0 {
		return errors.NewConfigError("config", "cooldown policy requires a positive entry_cooldown_sec")
	}

	if c.Trading.SlippagePct < 0 || c.Trading.SlippagePct > 5 {
		return errors.NewConfigError("config", "slippage percentage must be in [0,5], got %.4f", c.Trading.SlippagePct)
	}

	if strings.ToLower(c.Exchange.Name) != "bybit" {
		return errors.NewConfigError("config", "unsupported exchange %q", c.Exchange.Name)
	}

	if c.Risk.StopLossPct < 0 || c.Risk.TrailingStopPct < 0 || c.Risk.MaxNotionalMultiple < 0 {
		return errors.NewConfigError("config", "risk thresholds must not be negative")
	}

	return nil
}

// EngineSettings maps the configuration onto engine settings.
func (c *Config) EngineSettings() pyramid.Settings {
	symbols := make([]string, len(c.Trading.Symbols))
	for i, s := range c.Trading.Symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return pyramid.Settings{
		Symbols:             symbols,
		MarginPercentages:   c.Trading.MarginPercentages,
		ExitPercentages:     c.Trading.ExitPercentages,
		MaxPyramidLevels:    c.Trading.MaxPyramidLevels,
		BaseLeverage:        c.Trading.BaseLeverage,
		MaxAccountExposure:  c.Trading.MaxAccountExposure,
		EntryPolicy:         pyramid.EntryPolicy(c.Trading.EntryPolicy),
		PriceImprovementPct: c.Trading.PriceImprovementPct,
		EntryCooldown:       time.Duration(c.Trading.EntryCooldownSec) * time.Second,
		SlippagePct:         c.Trading.SlippagePct,
		SyncTolerancePct:    c.Sync.TolerancePct,
	}
}

// RiskSettings maps the configuration onto risk monitor settings.
func (c *Config) RiskSettings() risk.Settings {
	return risk.Settings{
		StopLossPct:         c.Risk.StopLossPct,
		TrailingStopPct:     c.Risk.TrailingStopPct,
		MaxNotionalMultiple: c.Risk.MaxNotionalMultiple,
		Interval:            time.Duration(c.Risk.CheckIntervalSec) * time.Second,
	}
}

// SyncInterval returns the reconciliation loop period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSec) * time.Second
}

// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/stamford_condor/internal/allocator"
	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
)

const (
	// defaultMarginFraction gates orders whose projected initial margin
	// exceeds this fraction of available funds.
	defaultMarginFraction = 0.5
	// defaultMaxOpenPositions counts broker (symbol, expiry) groups.
	defaultMaxOpenPositions = 10
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Allocator   AllocatorConfig   `yaml:"allocator"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"`
	AccountID      string  `yaml:"account_id"`
	RequestTimeout string  `yaml:"request_timeout"`
	OrderTimeout   string  `yaml:"order_timeout"`
	PollInterval   string  `yaml:"poll_interval"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	// CircuitBreaker wraps the gateway in a trip-on-transport-failure
	// breaker when enabled.
	CircuitBreaker bool `yaml:"circuit_breaker"`
}

// ExecutionConfig defines pipeline gate parameters.
type ExecutionConfig struct {
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MarginFraction   float64 `yaml:"margin_fraction"`
	CloseLimit       float64 `yaml:"close_limit"`
	Tick             float64 `yaml:"tick"`
}

// AllocatorConfig defines the capital partition and risk limits.
type AllocatorConfig struct {
	Capital           float64             `yaml:"capital"`
	Tiers             map[string]float64  `yaml:"tiers"`
	MaxPortfolioDelta float64             `yaml:"max_portfolio_delta"`
	MaxPortfolioVega  float64             `yaml:"max_portfolio_vega"`
	BaseRiskPct       float64             `yaml:"base_risk_pct"`
	MaxRiskPct        float64             `yaml:"max_risk_pct"`
	MaxDailyRiskPct   float64             `yaml:"max_daily_risk_pct"`
	Multipliers       map[int]float64     `yaml:"multipliers"`
}

// ScheduleConfig defines trading schedule and market hours.
type ScheduleConfig struct {
	ScanInterval      string `yaml:"scan_interval"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	Timezone          string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart      string `yaml:"trading_start"` // "HH:MM"
	TradingEnd        string `yaml:"trading_end"`   // "HH:MM"
}

// StorageConfig defines storage settings for the position ledger.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only HTTP dashboard settings.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.Token == "" {
		return fmt.Errorf("broker.token is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	for _, d := range []struct {
		name, value string
	}{
		{"broker.request_timeout", c.Broker.RequestTimeout},
		{"broker.order_timeout", c.Broker.OrderTimeout},
		{"broker.poll_interval", c.Broker.PollInterval},
	} {
		if d.value == "" {
			continue // client defaults apply
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}

	c.normalizeExecution()
	if c.Execution.MarginFraction <= 0 || c.Execution.MarginFraction > 1 {
		return fmt.Errorf("execution.margin_fraction must be in (0,1]")
	}
	if c.Execution.MaxOpenPositions <= 0 {
		return fmt.Errorf("execution.max_open_positions must be > 0")
	}

	if c.Allocator.Capital <= 0 {
		return fmt.Errorf("allocator.capital must be > 0")
	}
	total := 0.0
	for tier, pct := range c.Allocator.Tiers {
		if pct < 0 || pct > 1 {
			return fmt.Errorf("allocator.tiers.%s must be in [0,1]", tier)
		}
		total += pct
	}
	if total > 1+1e-9 {
		return fmt.Errorf("allocator.tiers sum to %.3f, must not exceed 1", total)
	}
	if c.Allocator.BaseRiskPct <= 0 || c.Allocator.BaseRiskPct > 1 {
		return fmt.Errorf("allocator.base_risk_pct must be in (0,1]")
	}
	if c.Allocator.MaxRiskPct < c.Allocator.BaseRiskPct {
		return fmt.Errorf("allocator.max_risk_pct (%.3f) must be >= base_risk_pct (%.3f)",
			c.Allocator.MaxRiskPct, c.Allocator.BaseRiskPct)
	}
	if c.Allocator.MaxDailyRiskPct <= 0 || c.Allocator.MaxDailyRiskPct > 1 {
		return fmt.Errorf("allocator.max_daily_risk_pct must be in (0,1]")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr is required when dashboard is enabled")
	}

	for _, d := range []struct {
		name, value string
	}{
		{"schedule.scan_interval", c.Schedule.ScanInterval},
		{"schedule.reconcile_interval", c.Schedule.ReconcileInterval},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		loc = time.FixedZone("ET", -5*60*60)
	}
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ScanInterval returns the configured scan interval duration.
func (c *Config) ScanInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.ScanInterval)
	if err != nil || d <= 0 {
		return 15 * time.Minute // default
	}
	return d
}

// ReconcileInterval returns the configured reconciliation interval duration.
func (c *Config) ReconcileInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.ReconcileInterval)
	if err != nil || d <= 0 {
		return time.Hour // default
	}
	return d
}

// IsWithinTradingHours checks if the given time falls within configured trading hours.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if fallbackLoc, err2 := time.LoadLocation("America/New_York"); err2 == nil {
			loc = fallbackLoc
		} else {
			// Final fallback to DST-agnostic FixedZone
			loc = time.FixedZone("ET", -5*60*60)
		}
	}
	today := now.In(loc)

	// Only allow Monday–Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 45, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 15, 45, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

// BrokerClientConfig maps the broker section onto the gateway client config.
func (c *Config) BrokerClientConfig() broker.ClientConfig {
	cfg := broker.ClientConfig{
		BaseURL:      c.Broker.BaseURL,
		SessionToken: c.Broker.Token,
		AccountID:    c.Broker.AccountID,
	}
	if d, err := time.ParseDuration(c.Broker.RequestTimeout); err == nil {
		cfg.CallTimeout = d
	}
	if d, err := time.ParseDuration(c.Broker.OrderTimeout); err == nil {
		cfg.OrderTimeout = d
	}
	if d, err := time.ParseDuration(c.Broker.PollInterval); err == nil {
		cfg.PollInterval = d
	}
	if c.Broker.RatePerSec > 0 {
		cfg.RequestsPerSec = c.Broker.RatePerSec
	}
	return cfg
}

// PipelineConfig maps the execution section onto the pipeline config.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxOpenPositions: c.Execution.MaxOpenPositions,
		MarginFraction:   c.Execution.MarginFraction,
		CloseLimit:       c.Execution.CloseLimit,
		Tick:             c.Execution.Tick,
	}
}

// AllocatorCoreConfig maps the allocator section onto the allocator config.
func (c *Config) AllocatorCoreConfig() allocator.Config {
	tiers := make(map[allocator.Tier]float64, len(c.Allocator.Tiers))
	for name, pct := range c.Allocator.Tiers {
		tiers[allocator.Tier(name)] = pct
	}
	return allocator.Config{
		Capital:           c.Allocator.Capital,
		TierPcts:          tiers,
		MaxPortfolioDelta: c.Allocator.MaxPortfolioDelta,
		MaxPortfolioVega:  c.Allocator.MaxPortfolioVega,
		BaseRiskPct:       c.Allocator.BaseRiskPct,
		MaxRiskPct:        c.Allocator.MaxRiskPct,
		MaxDailyRiskPct:   c.Allocator.MaxDailyRiskPct,
		Multipliers:       c.Allocator.Multipliers,
	}
}

// normalizeExecution sets default values for the execution section.
func (c *Config) normalizeExecution() {
	if c.Execution.MaxOpenPositions == 0 {
		c.Execution.MaxOpenPositions = defaultMaxOpenPositions
	}
	if c.Execution.MarginFraction == 0 {
		c.Execution.MarginFraction = defaultMarginFraction
	}
	if c.Execution.CloseLimit == 0 {
		c.Execution.CloseLimit = pipeline.DefaultConfig.CloseLimit
	}
	if c.Execution.Tick == 0 {
		c.Execution.Tick = pipeline.DefaultConfig.Tick
	}
}

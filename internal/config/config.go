// Package config provides configuration management for the policy engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Engines       EnginesConfig      `mapstructure:"engines"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Priority      PriorityConfig     `mapstructure:"priority"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Store         StoreConfig        `mapstructure:"store"`
	Server        ServerConfig       `mapstructure:"server"`
}

// PipelineConfig holds coordinator-level configuration.
type PipelineConfig struct {
	FreshnessWindow  time.Duration `mapstructure:"freshness_window"`
	HardCeiling      time.Duration `mapstructure:"hard_ceiling"`
	ValidateBudget   time.Duration `mapstructure:"validate_budget"`
	RouteBudget      time.Duration `mapstructure:"route_budget"`
	EvaluateBudget   time.Duration `mapstructure:"evaluate_budget"`
	RiskBudget       time.Duration `mapstructure:"risk_budget"`
	ClassifyBudget   time.Duration `mapstructure:"classify_budget"`
	DispatchBudget   time.Duration `mapstructure:"dispatch_budget"`
	ShedCPUPercent   float64       `mapstructure:"shed_cpu_percent"`
	ShedInflight     int           `mapstructure:"shed_inflight"`
	LatencyWindow    int           `mapstructure:"latency_window"`
}

// EnginesConfig holds per-scenario engine configuration.
type EnginesConfig struct {
	Replacement   ReplacementConfig   `mapstructure:"replacement"`
	Strengthening StrengtheningConfig `mapstructure:"strengthening"`
	NewPosition   NewPositionConfig   `mapstructure:"new_position"`
	Ignore        IgnoreConfig        `mapstructure:"ignore"`
}

// ReplacementConfig configures the replacement decision engine.
type ReplacementConfig struct {
	MinConfidenceImprovement float64       `mapstructure:"min_confidence_improvement"`
	MinPositionAge           time.Duration `mapstructure:"min_position_age"`
	MinScore                 float64       `mapstructure:"min_score"`
	MaxUnrealizedLoss        float64       `mapstructure:"max_unrealized_loss"`
	MaxVolatility            float64       `mapstructure:"max_volatility"`
	MaxSizeRatio             float64       `mapstructure:"max_size_ratio"`
}

// StrengtheningConfig configures the strengthening decision engine.
type StrengtheningConfig struct {
	MinConfidenceImprovement float64 `mapstructure:"min_confidence_improvement"`
	MinScore                 float64 `mapstructure:"min_score"`
	MaxVolatility            float64 `mapstructure:"max_volatility"`
	MaxAdditionalRatio       float64 `mapstructure:"max_additional_ratio"`
	HighVolatility           float64 `mapstructure:"high_volatility"`
	MaxTotalExposure         float64 `mapstructure:"max_total_exposure"`
}

// NewPositionConfig configures the new-position decision engine.
type NewPositionConfig struct {
	MinQuality       float64 `mapstructure:"min_quality"`
	MaxPositions     int     `mapstructure:"max_positions"`
	MinScore         float64 `mapstructure:"min_score"`
	MinLiquidity     float64 `mapstructure:"min_liquidity"`
	KellyFloor       float64 `mapstructure:"kelly_floor"`
	KellyCap         float64 `mapstructure:"kelly_cap"`
	StopLossATR      float64 `mapstructure:"stop_loss_atr"`
	TakeProfitATR    float64 `mapstructure:"take_profit_atr"`
	TargetVolatility float64 `mapstructure:"target_volatility"`
	VolatilityBand   float64 `mapstructure:"volatility_band"`
}

// IgnoreConfig configures the ignore referee engine.
type IgnoreConfig struct {
	OverrideThreshold float64 `mapstructure:"override_threshold"`
	QualityWeight     float64 `mapstructure:"quality_weight"`
	RedundancyWeight  float64 `mapstructure:"redundancy_weight"`
	TimingWeight      float64 `mapstructure:"timing_weight"`
	RiskWeight        float64 `mapstructure:"risk_weight"`
	ExtremeVolatility float64 `mapstructure:"extreme_volatility"`
	ThinLiquidity     float64 `mapstructure:"thin_liquidity"`
}

// RiskConfig holds risk management framework configuration.
type RiskConfig struct {
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MaxCorrelation         float64 `mapstructure:"max_correlation"`
	MaxSectorConcentration float64 `mapstructure:"max_sector_concentration"`
	MaxDailyVaR            float64 `mapstructure:"max_daily_var"`
	MaxPositionPercent     float64 `mapstructure:"max_position_percent"`
	TrailingStopGain       float64 `mapstructure:"trailing_stop_gain"`
}

// PriorityConfig holds priority classifier configuration.
type PriorityConfig struct {
	QualityWeight    float64        `mapstructure:"quality_weight"`
	UrgencyWeight    float64        `mapstructure:"urgency_weight"`
	ConfidenceWeight float64        `mapstructure:"confidence_weight"`
	RiskRewardWeight float64        `mapstructure:"risk_reward_weight"`
	Classes          []ClassConfig  `mapstructure:"classes"`
}

// ClassConfig defines one priority class threshold pair.
type ClassConfig struct {
	Name                   string  `mapstructure:"name"`
	Threshold              float64 `mapstructure:"threshold"`
	MinExecutionConfidence float64 `mapstructure:"min_execution_confidence"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	QueueSize   int            `mapstructure:"queue_size"`
	HighDelay   time.Duration  `mapstructure:"high_delay"`
	MediumDelay time.Duration  `mapstructure:"medium_delay"`
	DigestCron  string         `mapstructure:"digest_cron"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Terminal    TerminalConfig `mapstructure:"terminal"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Primary bool   `mapstructure:"primary"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Primary  bool   `mapstructure:"primary"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig holds audit store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/epl-engine"
	}
	return filepath.Join(home, ".config", "epl-engine")
}

// Default returns the built-in default configuration.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	// Defaults only, unmarshalling cannot fail on them.
	_ = v.Unmarshal(cfg)
	cfg.Priority.Classes = defaultClasses()
	return cfg
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. A missing config file is
// replaced by a generated template plus built-in defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if terr := createTemplateConfig(configDir); terr != nil {
				return nil, fmt.Errorf("writing config template: %w", terr)
			}
		} else {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Priority.Classes) == 0 {
		cfg.Priority.Classes = defaultClasses()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.freshness_window", "5m")
	v.SetDefault("pipeline.hard_ceiling", "800ms")
	v.SetDefault("pipeline.validate_budget", "50ms")
	v.SetDefault("pipeline.route_budget", "30ms")
	v.SetDefault("pipeline.evaluate_budget", "150ms")
	v.SetDefault("pipeline.risk_budget", "80ms")
	v.SetDefault("pipeline.classify_budget", "40ms")
	v.SetDefault("pipeline.dispatch_budget", "100ms")
	v.SetDefault("pipeline.shed_cpu_percent", 85.0)
	v.SetDefault("pipeline.shed_inflight", 256)
	v.SetDefault("pipeline.latency_window", 512)

	v.SetDefault("engines.replacement.min_confidence_improvement", 0.15)
	v.SetDefault("engines.replacement.min_position_age", "5m")
	v.SetDefault("engines.replacement.min_score", 0.75)
	v.SetDefault("engines.replacement.max_unrealized_loss", 0.05)
	v.SetDefault("engines.replacement.max_volatility", 0.08)
	v.SetDefault("engines.replacement.max_size_ratio", 1.5)

	v.SetDefault("engines.strengthening.min_confidence_improvement", 0.08)
	v.SetDefault("engines.strengthening.min_score", 0.70)
	v.SetDefault("engines.strengthening.max_volatility", 0.06)
	v.SetDefault("engines.strengthening.max_additional_ratio", 0.5)
	v.SetDefault("engines.strengthening.high_volatility", 0.04)
	v.SetDefault("engines.strengthening.max_total_exposure", 0.30)

	v.SetDefault("engines.new_position.min_quality", 0.80)
	v.SetDefault("engines.new_position.max_positions", 8)
	v.SetDefault("engines.new_position.min_score", 0.70)
	v.SetDefault("engines.new_position.min_liquidity", 0.6)
	v.SetDefault("engines.new_position.kelly_floor", 0.005)
	v.SetDefault("engines.new_position.kelly_cap", 0.05)
	v.SetDefault("engines.new_position.stop_loss_atr", 2.0)
	v.SetDefault("engines.new_position.take_profit_atr", 4.0)
	v.SetDefault("engines.new_position.target_volatility", 0.03)
	v.SetDefault("engines.new_position.volatility_band", 0.02)

	v.SetDefault("engines.ignore.override_threshold", 0.5)
	v.SetDefault("engines.ignore.quality_weight", 0.30)
	v.SetDefault("engines.ignore.redundancy_weight", 0.25)
	v.SetDefault("engines.ignore.timing_weight", 0.25)
	v.SetDefault("engines.ignore.risk_weight", 0.20)
	v.SetDefault("engines.ignore.extreme_volatility", 0.08)
	v.SetDefault("engines.ignore.thin_liquidity", 0.3)

	v.SetDefault("risk.max_concurrent_positions", 8)
	v.SetDefault("risk.max_correlation", 0.70)
	v.SetDefault("risk.max_sector_concentration", 0.40)
	v.SetDefault("risk.max_daily_var", 0.05)
	v.SetDefault("risk.max_position_percent", 0.15)
	v.SetDefault("risk.trailing_stop_gain", 0.015)

	v.SetDefault("priority.quality_weight", 0.30)
	v.SetDefault("priority.urgency_weight", 0.25)
	v.SetDefault("priority.confidence_weight", 0.25)
	v.SetDefault("priority.risk_reward_weight", 0.20)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.queue_size", 1024)
	v.SetDefault("notifications.high_delay", "300s")
	v.SetDefault("notifications.medium_delay", "1800s")
	v.SetDefault("notifications.digest_cron", "30 17 * * *")
	v.SetDefault("notifications.terminal.enabled", true)

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "epl.db"))

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8870")
}

func defaultClasses() []ClassConfig {
	return []ClassConfig{
		{Name: "CRITICAL", Threshold: 0.85, MinExecutionConfidence: 0.80},
		{Name: "HIGH", Threshold: 0.70, MinExecutionConfidence: 0.60},
		{Name: "MEDIUM", Threshold: 0.50, MinExecutionConfidence: 0.40},
		{Name: "LOW", Threshold: 0.0, MinExecutionConfidence: 0.0},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EPL_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("EPL_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv("EPL_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("EPL_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.HardCeiling <= 0 {
		return fmt.Errorf("pipeline hard_ceiling must be positive")
	}
	if c.Pipeline.FreshnessWindow <= 0 {
		return fmt.Errorf("pipeline freshness_window must be positive")
	}

	for name, score := range map[string]float64{
		"replacement min_score":    c.Engines.Replacement.MinScore,
		"strengthening min_score":  c.Engines.Strengthening.MinScore,
		"new_position min_score":   c.Engines.NewPosition.MinScore,
		"new_position min_quality": c.Engines.NewPosition.MinQuality,
	} {
		if score < 0 || score > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}

	if c.Engines.NewPosition.KellyFloor > c.Engines.NewPosition.KellyCap {
		return fmt.Errorf("kelly_floor must not exceed kelly_cap")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive")
	}
	if c.Risk.MaxPositionPercent <= 0 || c.Risk.MaxPositionPercent > 1 {
		return fmt.Errorf("max_position_percent must be in (0, 1]")
	}

	sum := c.Priority.QualityWeight + c.Priority.UrgencyWeight +
		c.Priority.ConfidenceWeight + c.Priority.RiskRewardWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("priority weights must sum to 1, got %.2f", sum)
	}

	if len(c.Priority.Classes) == 0 {
		return fmt.Errorf("at least one priority class is required")
	}
	prev := 1.01
	for _, cl := range c.Priority.Classes {
		if cl.Threshold > prev {
			return fmt.Errorf("priority classes must be ordered by descending threshold")
		}
		prev = cl.Threshold
	}

	return nil
}

// Package config defines all configuration for the prediction trader.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PREDICTOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Live     bool           `mapstructure:"live"` // false = paper trading
	API      APIConfig      `mapstructure:"api"`
	LM       LMConfig       `mapstructure:"lm"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Tier1    TierConfig     `mapstructure:"tier1"`
	Tier2    TierConfig     `mapstructure:"tier2"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// APIConfig holds Polymarket endpoints and optional L2 credentials for live
// order placement. Paper mode needs only the read endpoints.
type APIConfig struct {
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// LMConfig holds the language-model endpoint used for probability
// estimation. Any OpenAI-compatible chat-completions server works.
type LMConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InputCostPer1M  float64       `mapstructure:"input_cost_per_1m"`  // USD per 1M input tokens
	OutputCostPer1M float64       `mapstructure:"output_cost_per_1m"` // USD per 1M output tokens
	DailyBudgetUSD  float64       `mapstructure:"daily_budget_usd"`
}

// TradingConfig sets bankroll and position sizing limits.
//
//   - InitialBankroll: starting cash for a fresh portfolio.
//   - KellyFraction: fraction of full Kelly to bet (0.25 = quarter Kelly).
//   - MaxPositionPct: single position cap as fraction of bankroll.
//   - MaxTotalExposurePct: total open exposure cap as fraction of bankroll.
//   - MaxClusterExposurePct: per-cluster cap (correlated markets).
type TradingConfig struct {
	InitialBankroll       float64 `mapstructure:"initial_bankroll"`
	KellyFraction         float64 `mapstructure:"kelly_fraction"`
	MaxPositionPct        float64 `mapstructure:"max_position_pct"`
	MaxTotalExposurePct   float64 `mapstructure:"max_total_exposure_pct"`
	MaxClusterExposurePct float64 `mapstructure:"max_cluster_exposure_pct"`
	MinPositionUSD        float64 `mapstructure:"min_position_usd"`
}

// TierConfig parameterizes one scan tier. Tier 1 is the broad scheduled
// scan; tier 2 is the burst-activated crypto fast lane.
type TierConfig struct {
	ScanInterval       time.Duration `mapstructure:"scan_interval"`
	FeeRate            float64       `mapstructure:"fee_rate"`
	MinEdge            float64       `mapstructure:"min_edge"`
	DailyTradeCap      int           `mapstructure:"daily_trade_cap"`
	MinLiquidity       float64       `mapstructure:"min_liquidity"`
	MinResolutionHours float64       `mapstructure:"min_resolution_hours"`
	MaxResolutionHours float64       `mapstructure:"max_resolution_hours"`
	MaxMarketsPerScan  int           `mapstructure:"max_markets_per_scan"`
}

// RiskConfig sets the circuit-breaker thresholds checked before every trade.
//
//   - DailyLossLimitPct / WeeklyLossLimitPct: fraction of bankroll lost
//     (realized, today / trailing 7 days) that halts trading.
//   - ConsecutiveAdverse: open positions moved >10% against entry within
//     CooldownWindow that trigger a cooldown.
//   - MaxExposurePct: mirror of trading.max_total_exposure_pct, checked as a
//     hard gate.
type RiskConfig struct {
	DailyLossLimitPct  float64       `mapstructure:"daily_loss_limit_pct"`
	WeeklyLossLimitPct float64       `mapstructure:"weekly_loss_limit_pct"`
	ConsecutiveAdverse int           `mapstructure:"consecutive_adverse"`
	CooldownWindow     time.Duration `mapstructure:"cooldown_window"`
	AdverseMovePct     float64       `mapstructure:"adverse_move_pct"`
}

// SignalsConfig controls signal collection.
type SignalsConfig struct {
	SourcesPath     string        `mapstructure:"sources_path"` // known_sources.yaml
	FeedsPath       string        `mapstructure:"feeds_path"`   // rss_feeds.yaml
	SocialBaseURL   string        `mapstructure:"social_base_url"`
	SocialAPIKey    string        `mapstructure:"social_api_key"`
	MaxPerMarket    int           `mapstructure:"max_per_market"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	Tier2Window     time.Duration `mapstructure:"tier2_window"`
	Tier2MinSignals int           `mapstructure:"tier2_min_signals"`
}

// StoreConfig sets where the SQLite database lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig controls the health/status HTTP server.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ScheduleConfig holds the periodic job intervals. The daily summary always
// runs at 00:00 UTC.
type ScheduleConfig struct {
	ResolutionPoll time.Duration `mapstructure:"resolution_poll"`
	AdverseSweep   time.Duration `mapstructure:"adverse_sweep"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PREDICTOR_API_KEY, PREDICTOR_API_SECRET,
// PREDICTOR_PASSPHRASE, PREDICTOR_LM_API_KEY, PREDICTOR_SOCIAL_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PREDICTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("PREDICTOR_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("PREDICTOR_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("PREDICTOR_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("PREDICTOR_LM_API_KEY"); key != "" {
		cfg.LM.APIKey = key
	}
	if key := os.Getenv("PREDICTOR_SOCIAL_API_KEY"); key != "" {
		cfg.Signals.SocialAPIKey = key
	}
	if os.Getenv("PREDICTOR_LIVE") == "true" || os.Getenv("PREDICTOR_LIVE") == "1" {
		cfg.Live = true
	}

	return &cfg, nil
}

// setDefaults installs the documented defaults so a minimal YAML file works.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")

	v.SetDefault("lm.temperature", 0.1)
	v.SetDefault("lm.max_tokens", 2048)
	v.SetDefault("lm.timeout", "60s")
	v.SetDefault("lm.max_attempts", 3)
	v.SetDefault("lm.daily_budget_usd", 8.0)

	v.SetDefault("trading.initial_bankroll", 2000.0)
	v.SetDefault("trading.kelly_fraction", 0.25)
	v.SetDefault("trading.max_position_pct", 0.08)
	v.SetDefault("trading.max_total_exposure_pct", 0.30)
	v.SetDefault("trading.max_cluster_exposure_pct", 0.12)
	v.SetDefault("trading.min_position_usd", 1.0)

	v.SetDefault("tier1.scan_interval", "15m")
	v.SetDefault("tier1.fee_rate", 0.02)
	v.SetDefault("tier1.min_edge", 0.04)
	v.SetDefault("tier1.daily_trade_cap", 5)
	v.SetDefault("tier1.min_liquidity", 5000.0)
	v.SetDefault("tier1.min_resolution_hours", 0.25)
	v.SetDefault("tier1.max_resolution_hours", 168.0)
	v.SetDefault("tier1.max_markets_per_scan", 20)

	v.SetDefault("tier2.scan_interval", "3m")
	v.SetDefault("tier2.fee_rate", 0.04)
	v.SetDefault("tier2.min_edge", 0.05)
	v.SetDefault("tier2.daily_trade_cap", 3)
	v.SetDefault("tier2.min_liquidity", 1000.0)
	v.SetDefault("tier2.min_resolution_hours", 0.1)
	v.SetDefault("tier2.max_resolution_hours", 1.0)
	v.SetDefault("tier2.max_markets_per_scan", 10)

	v.SetDefault("risk.daily_loss_limit_pct", 0.05)
	v.SetDefault("risk.weekly_loss_limit_pct", 0.10)
	v.SetDefault("risk.consecutive_adverse", 3)
	v.SetDefault("risk.cooldown_window", "2h")
	v.SetDefault("risk.adverse_move_pct", 0.10)

	v.SetDefault("signals.sources_path", "configs/known_sources.yaml")
	v.SetDefault("signals.feeds_path", "configs/rss_feeds.yaml")
	v.SetDefault("signals.max_per_market", 12)
	v.SetDefault("signals.fetch_timeout", "15s")
	v.SetDefault("signals.tier2_window", "30m")
	v.SetDefault("signals.tier2_min_signals", 2)

	v.SetDefault("store.path", "predictor.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8080)

	v.SetDefault("schedule.resolution_poll", "5m")
	v.SetDefault("schedule.adverse_sweep", "10m")
	v.SetDefault("schedule.stale_after", "30m")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Live && (c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "") {
		return fmt.Errorf("live mode requires api.api_key, api.secret, api.passphrase (set PREDICTOR_API_KEY etc)")
	}
	if c.LM.BaseURL == "" {
		return fmt.Errorf("lm.base_url is required")
	}
	if c.LM.Model == "" {
		return fmt.Errorf("lm.model is required")
	}
	if c.LM.MaxAttempts < 1 {
		return fmt.Errorf("lm.max_attempts must be >= 1")
	}
	if c.Trading.InitialBankroll <= 0 {
		return fmt.Errorf("trading.initial_bankroll must be > 0")
	}
	if c.Trading.KellyFraction <= 0 || c.Trading.KellyFraction > 1 {
		return fmt.Errorf("trading.kelly_fraction must be in (0, 1]")
	}
	if c.Trading.MaxPositionPct <= 0 || c.Trading.MaxPositionPct > 1 {
		return fmt.Errorf("trading.max_position_pct must be in (0, 1]")
	}
	if c.Trading.MaxClusterExposurePct < c.Trading.MaxPositionPct {
		return fmt.Errorf("trading.max_cluster_exposure_pct must be >= trading.max_position_pct")
	}
	if c.Trading.MaxTotalExposurePct < c.Trading.MaxClusterExposurePct {
		return fmt.Errorf("trading.max_total_exposure_pct must be >= trading.max_cluster_exposure_pct")
	}
	for name, tier := range map[string]TierConfig{"tier1": c.Tier1, "tier2": c.Tier2} {
		if tier.FeeRate < 0 || tier.FeeRate >= 1 {
			return fmt.Errorf("%s.fee_rate must be in [0, 1)", name)
		}
		if tier.MinEdge <= 0 {
			return fmt.Errorf("%s.min_edge must be > 0", name)
		}
		if tier.DailyTradeCap <= 0 {
			return fmt.Errorf("%s.daily_trade_cap must be > 0", name)
		}
		if tier.MinResolutionHours >= tier.MaxResolutionHours {
			return fmt.Errorf("%s resolution window is empty", name)
		}
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.WeeklyLossLimitPct <= 0 {
		return fmt.Errorf("risk loss limits must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

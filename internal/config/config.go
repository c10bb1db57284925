// Package config defines the top-level configuration for the Gate futures
// trading engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GATEBOT_* environment variables.
type Config struct {
	Gate     GateConfig                 `toml:"gate"`
	Engine   EngineConfig               `toml:"engine"`
	Profiles map[string]SettingsProfile `toml:"profiles"`
	Postgres PostgresConfig             `toml:"postgres"`
	Redis    RedisConfig                `toml:"redis"`
	S3       S3Config                   `toml:"s3"`
	Server   ServerConfig               `toml:"server"`
	Notify   NotifyConfig               `toml:"notify"`
	Mode     string                     `toml:"mode"`
	LogLevel string                     `toml:"log_level"`
	LogJSON  bool                       `toml:"log_json"`
}

// GateConfig holds Gate.io futures API credentials and transport settings.
type GateConfig struct {
	BaseURL             string   `toml:"base_url"`
	WsURL               string   `toml:"ws_url"`
	PingURL             string   `toml:"ping_url"`
	Settle              string   `toml:"settle"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestTimeout      duration `toml:"request_timeout"`
	RetryDelay          duration `toml:"retry_delay"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	Burst               int      `toml:"burst"`
	PingInterval        duration `toml:"ping_interval"`
	StreamTickers       bool     `toml:"stream_tickers"`
}

// EngineConfig holds timing and safety knobs for the execution engine.
type EngineConfig struct {
	PositionsInterval  duration `toml:"positions_interval"`
	InstrumentsCron    string   `toml:"instruments_cron"`
	ArchiveCron        string   `toml:"archive_cron"`
	TriggerDelay       duration `toml:"trigger_delay"`
	CloseConfirmWait   duration `toml:"close_confirm_wait"`
	FillPollInterval   duration `toml:"fill_poll_interval"`
	RiskEpsilonPct     float64  `toml:"risk_epsilon_pct"`
	DefaultMaxLeverage int      `toml:"default_max_leverage"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	DedupCapacity      int      `toml:"dedup_capacity"`
	DedupTTL           duration `toml:"dedup_ttl"`
	SignalLockTTL      duration `toml:"signal_lock_ttl"`
	PnLRetries         int      `toml:"pnl_retries"`
	BlackSymbols       []string `toml:"black_symbols"`
}

// SettingsProfile is the per-signal-class trading configuration selected by
// the signal's settings tag.
type SettingsProfile struct {
	MarginSize       float64 `toml:"margin_size"`
	MarginMode       string  `toml:"margin_mode"`        // "isolated" | "cross"
	OrderType        string  `toml:"order_type"`         // "limit" | "market"
	TriggerOrderType string  `toml:"trigger_order_type"` // "limit" | "market"
	Leverage         int     `toml:"leverage"`           // 0 takes the leverage from the signal
	ExtraTPPct       float64 `toml:"extra_tp_pct"`
	OrderTimeout     int     `toml:"order_timeout"` // seconds
}

// Timeout returns the limit-order timeout as a time.Duration.
func (p SettingsProfile) Timeout() time.Duration {
	return time.Duration(p.OrderTimeout) * time.Second
}

// Trade resolves the profile into its typed form.
func (p SettingsProfile) Trade(tag string) domain.TradeProfile {
	return domain.TradeProfile{
		Tag:              NormalizeTag(tag),
		MarginSize:       p.MarginSize,
		MarginMode:       domain.ParseMarginMode(p.MarginMode),
		OrderType:        domain.ParseOrderType(p.OrderType),
		TriggerOrderType: domain.ParseOrderType(p.TriggerOrderType),
		Leverage:         p.Leverage,
		ExtraTPPct:       p.ExtraTPPct,
		OrderTimeout:     p.Timeout(),
	}
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the closed-trade
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	RetentionDays  int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit"`
	RateLimitEvery duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // alert events to forward; empty forwards all
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Gate: GateConfig{
			BaseURL:           "https://fx-api.gateio.ws/api/v4",
			WsURL:             "wss://fx-ws.gateio.ws/v4/ws/usdt",
			PingURL:           "https://api.gateio.ws/api/v4/spot/time",
			Settle:            "usdt",
			RequestTimeout:    duration{10 * time.Second},
			RetryDelay:        duration{time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
			PingInterval:      duration{10 * time.Second},
			StreamTickers:     false,
		},
		Engine: EngineConfig{
			PositionsInterval:  duration{time.Second},
			InstrumentsCron:    "@every 50m",
			ArchiveCron:        "0 3 * * *",
			TriggerDelay:       duration{500 * time.Millisecond},
			CloseConfirmWait:   duration{2 * time.Second},
			FillPollInterval:   duration{100 * time.Millisecond},
			RiskEpsilonPct:     0.05,
			DefaultMaxLeverage: 20,
			MaxConcurrent:      10,
			DedupCapacity:      512,
			DedupTTL:           duration{24 * time.Hour},
			SignalLockTTL:      duration{5 * time.Minute},
			PnLRetries:         7,
		},
		Profiles: map[string]SettingsProfile{
			"trading pair": DefaultProfile(),
			"soft":         DefaultProfile(),
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "gatebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gatebot-archive",
			ForcePathStyle: true,
			Prefix:         "closed-trades",
			RetentionDays:  30,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimit:      120,
			RateLimitEvery: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
		LogJSON:  true,
	}
}

// DefaultProfile mirrors the factory settings shipped for every signal tag.
func DefaultProfile() SettingsProfile {
	return SettingsProfile{
		MarginSize:       1,
		MarginMode:       "cross",
		OrderType:        "market",
		TriggerOrderType: "market",
		Leverage:         15,
		OrderTimeout:     60,
	}
}

// Profile returns the settings profile for tag. Tags are matched case
// insensitively with any leading '#' stripped.
func (c *Config) Profile(tag string) (SettingsProfile, bool) {
	p, ok := c.Profiles[NormalizeTag(tag)]
	return p, ok
}

// TradeProfile returns the typed profile for tag.
func (c *Config) TradeProfile(tag string) (domain.TradeProfile, bool) {
	p, ok := c.Profile(tag)
	if !ok {
		return domain.TradeProfile{}, false
	}
	return p.Trade(tag), true
}

// NormalizeTag lower-cases a settings tag and strips a leading '#'.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var (
	validMarginModes = map[string]bool{"isolated": true, "cross": true}
	validOrderTypes  = map[string]bool{"limit": true, "market": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Gate credentials are needed for anything that trades.
	needsKeys := c.Mode == "trade" || c.Mode == "full"
	if needsKeys {
		if c.Gate.ApiKey == "" {
			errs = append(errs, "gate: api_key must be set for mode "+c.Mode)
		}
		if c.Gate.ApiSecret == "" && c.Gate.EncryptedSecretPath == "" {
			errs = append(errs, "gate: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Gate.EncryptedSecretPath != "" && c.Gate.SecretPassword == "" {
			errs = append(errs, "gate: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Gate.BaseURL == "" {
		errs = append(errs, "gate: base_url must not be empty")
	}
	if c.Gate.Settle == "" {
		errs = append(errs, "gate: settle must not be empty")
	}
	if c.Gate.RetryDelay.Duration <= 0 {
		errs = append(errs, "gate: retry_delay must be > 0")
	}
	if c.Gate.RequestsPerSecond <= 0 {
		errs = append(errs, "gate: requests_per_second must be > 0")
	}
	if c.Gate.StreamTickers && c.Gate.WsURL == "" {
		errs = append(errs, "gate: ws_url must be set when stream_tickers is enabled")
	}

	// Engine
	if c.Engine.PositionsInterval.Duration <= 0 {
		errs = append(errs, "engine: positions_interval must be > 0")
	}
	if c.Engine.RiskEpsilonPct < 0 {
		errs = append(errs, "engine: risk_epsilon_pct must be >= 0")
	}
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, "engine: max_concurrent must be >= 1")
	}
	if c.Engine.DedupCapacity < 1 {
		errs = append(errs, "engine: dedup_capacity must be >= 1")
	}
	if c.Engine.PnLRetries < 1 {
		errs = append(errs, "engine: pnl_retries must be >= 1")
	}
	if c.Engine.InstrumentsCron == "" {
		errs = append(errs, "engine: instruments_cron must not be empty")
	}

	// Profiles
	if len(c.Profiles) == 0 {
		errs = append(errs, "profiles: at least one settings profile is required")
	}
	for tag, p := range c.Profiles {
		if p.MarginSize <= 0 {
			errs = append(errs, fmt.Sprintf("profiles.%s: margin_size must be > 0", tag))
		}
		if !validMarginModes[strings.ToLower(p.MarginMode)] {
			errs = append(errs, fmt.Sprintf("profiles.%s: margin_mode must be isolated or cross, got %q", tag, p.MarginMode))
		}
		if !validOrderTypes[strings.ToLower(p.OrderType)] {
			errs = append(errs, fmt.Sprintf("profiles.%s: order_type must be limit or market, got %q", tag, p.OrderType))
		}
		if !validOrderTypes[strings.ToLower(p.TriggerOrderType)] {
			errs = append(errs, fmt.Sprintf("profiles.%s: trigger_order_type must be limit or market, got %q", tag, p.TriggerOrderType))
		}
		if p.Leverage < 0 {
			errs = append(errs, fmt.Sprintf("profiles.%s: leverage must be >= 0", tag))
		}
		if p.ExtraTPPct < 0 || p.ExtraTPPct > 100 {
			errs = append(errs, fmt.Sprintf("profiles.%s: extra_tp_pct must be within 0-100", tag))
		}
		if p.OrderTimeout <= 0 {
			errs = append(errs, fmt.Sprintf("profiles.%s: order_timeout must be > 0", tag))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archive requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GATEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalizeProfiles(&cfg)

	return &cfg, nil
}

// normalizeProfiles rekeys profiles by their normalized tag so lookups from
// signal tags such as "#Soft" hit the "soft" profile.
func normalizeProfiles(cfg *Config) {
	if len(cfg.Profiles) == 0 {
		return
	}
	out := make(map[string]SettingsProfile, len(cfg.Profiles))
	for tag, p := range cfg.Profiles {
		p.MarginMode = strings.ToLower(p.MarginMode)
		p.OrderType = strings.ToLower(p.OrderType)
		p.TriggerOrderType = strings.ToLower(p.TriggerOrderType)
		out[NormalizeTag(tag)] = p
	}
	cfg.Profiles = out
}

// applyEnvOverrides reads well-known GATEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Gate ──
	setStr(&cfg.Gate.ApiKey, "GATE_API_KEY")
	setStr(&cfg.Gate.ApiSecret, "GATE_API_SECRET")
	setStr(&cfg.Gate.ApiKey, "GATEBOT_GATE_API_KEY")
	setStr(&cfg.Gate.ApiSecret, "GATEBOT_GATE_API_SECRET")
	setStr(&cfg.Gate.EncryptedSecretPath, "GATEBOT_GATE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Gate.SecretPassword, "GATEBOT_GATE_SECRET_PASSWORD")
	setStr(&cfg.Gate.BaseURL, "GATEBOT_GATE_BASE_URL")
	setStr(&cfg.Gate.WsURL, "GATEBOT_GATE_WS_URL")
	setStr(&cfg.Gate.Settle, "GATEBOT_GATE_SETTLE")
	setDuration(&cfg.Gate.RequestTimeout, "GATEBOT_GATE_REQUEST_TIMEOUT")
	setDuration(&cfg.Gate.RetryDelay, "GATEBOT_GATE_RETRY_DELAY")
	setFloat64(&cfg.Gate.RequestsPerSecond, "GATEBOT_GATE_REQUESTS_PER_SECOND")
	setBool(&cfg.Gate.StreamTickers, "GATEBOT_GATE_STREAM_TICKERS")

	// ── Engine ──
	setDuration(&cfg.Engine.PositionsInterval, "GATEBOT_ENGINE_POSITIONS_INTERVAL")
	setStr(&cfg.Engine.InstrumentsCron, "GATEBOT_ENGINE_INSTRUMENTS_CRON")
	setStr(&cfg.Engine.ArchiveCron, "GATEBOT_ENGINE_ARCHIVE_CRON")
	setFloat64(&cfg.Engine.RiskEpsilonPct, "GATEBOT_ENGINE_RISK_EPSILON_PCT")
	setInt(&cfg.Engine.MaxConcurrent, "GATEBOT_ENGINE_MAX_CONCURRENT")
	setStringSlice(&cfg.Engine.BlackSymbols, "GATEBOT_ENGINE_BLACK_SYMBOLS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GATEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GATEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "GATEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GATEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GATEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GATEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GATEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GATEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GATEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GATEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GATEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GATEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GATEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GATEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GATEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GATEBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "GATEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GATEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GATEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GATEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GATEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GATEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GATEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GATEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GATEBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GATEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GATEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GATEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GATEBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GATEBOT_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "GATEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GATEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GATEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GATEBOT_MODE")
	setStr(&cfg.LogLevel, "GATEBOT_LOG_LEVEL")
	setBool(&cfg.LogJSON, "GATEBOT_LOG_JSON")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

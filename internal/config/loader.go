package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies QMTBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known QMTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are normally injected this way rather than written to the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "QMTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "QMTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QMTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QMTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QMTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QMTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QMTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QMTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QMTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QMTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "QMTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QMTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QMTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QMTBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "QMTBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QMTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QMTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QMTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "QMTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QMTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QMTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QMTBOT_S3_USE_SSL")
	setStr(&cfg.S3.ArchiveTime, "QMTBOT_S3_ARCHIVE_TIME")

	// ── Longport ──
	setBool(&cfg.Longport.Enabled, "QMTBOT_LONGPORT_ENABLED")
	setStr(&cfg.Longport.AppKey, "QMTBOT_LONGPORT_APP_KEY")
	setStr(&cfg.Longport.AppSecret, "QMTBOT_LONGPORT_APP_SECRET")
	setStr(&cfg.Longport.AccessToken, "QMTBOT_LONGPORT_ACCESS_TOKEN")
	// The SDK's own variable names are accepted as well.
	setStr(&cfg.Longport.AppKey, "LONGPORT_APP_KEY")
	setStr(&cfg.Longport.AppSecret, "LONGPORT_APP_SECRET")
	setStr(&cfg.Longport.AccessToken, "LONGPORT_ACCESS_TOKEN")

	// ── Broker ──
	setStr(&cfg.Broker.Kind, "QMTBOT_BROKER_KIND")
	setFloat64(&cfg.Broker.Cash, "QMTBOT_BROKER_CASH")

	// ── Monitor / executor ──
	setDuration(&cfg.Monitor.Interval, "QMTBOT_MONITOR_INTERVAL")
	setStr(&cfg.Monitor.LockKey, "QMTBOT_MONITOR_LOCK_KEY")
	setInt(&cfg.Executor.RateLimit, "QMTBOT_EXECUTOR_RATE_LIMIT")
	setBool(&cfg.Grid.Enabled, "QMTBOT_GRID_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "QMTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "QMTBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "QMTBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "QMTBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.PushPlusToken, "QMTBOT_NOTIFY_PUSHPLUS_TOKEN")
	setStr(&cfg.Notify.PushPlusChannel, "QMTBOT_NOTIFY_PUSHPLUS_CHANNEL")
	setStr(&cfg.Notify.PushPlusWebhook, "QMTBOT_NOTIFY_PUSHPLUS_WEBHOOK")
	setStr(&cfg.Notify.WeComKey, "QMTBOT_NOTIFY_WECOM_KEY")
	setStringSlice(&cfg.Notify.Events, "QMTBOT_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "QMTBOT_LOG_FILE")
	setStr(&cfg.Log.Format, "QMTBOT_LOG_FORMAT")

	// ── Top-level ──
	setStr(&cfg.Mode, "QMTBOT_MODE")
	setStr(&cfg.LogLevel, "QMTBOT_LOG_LEVEL")
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

package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GOLDSPREAD_* environment variable overrides, and
// returns the final Config. A missing file is not an error so the monitor can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GOLDSPREAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The short TG_* and TICKS_ONLY_MODE names used by earlier
// deployments are honored as aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.APIURL, "GOLDSPREAD_MARKET_API_URL")
	setStr(&cfg.Market.APIURL, "API_URL") // compatibility alias
	setStr(&cfg.Market.Pair, "GOLDSPREAD_MARKET_PAIR")
	setStr(&cfg.Market.PaxgTicker, "GOLDSPREAD_MARKET_PAXG_TICKER")
	setStr(&cfg.Market.XautTicker, "GOLDSPREAD_MARKET_XAUT_TICKER")
	setStr(&cfg.Market.QuoteSize, "GOLDSPREAD_MARKET_QUOTE_SIZE")
	setDuration(&cfg.Market.Timeout, "GOLDSPREAD_MARKET_TIMEOUT")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.OpenThreshold, "GOLDSPREAD_STRATEGY_OPEN_THRESHOLD")
	setFloat64(&cfg.Strategy.OpenThreshold, "THRESHOLD_OPEN") // compatibility alias
	setFloat64(&cfg.Strategy.CloseBuffer, "GOLDSPREAD_STRATEGY_CLOSE_BUFFER")
	setFloat64(&cfg.Strategy.CloseBuffer, "CLOSE_BUFFER") // compatibility alias
	setFloat64(&cfg.Strategy.AnnualFactor, "GOLDSPREAD_STRATEGY_ANNUAL_FACTOR")
	setFloat64(&cfg.Strategy.AnnualFactor, "ANNUAL_FACTOR") // compatibility alias
	setInt(&cfg.Strategy.PollSeconds, "GOLDSPREAD_STRATEGY_POLL_SECONDS")
	setInt(&cfg.Strategy.RepeatSeconds, "GOLDSPREAD_STRATEGY_REPEAT_SECONDS")
	setInt(&cfg.Strategy.RepeatSeconds, "REPEAT_ALERT_SEC") // compatibility alias
	setStr(&cfg.Strategy.OpenSignalPolicy, "GOLDSPREAD_STRATEGY_OPEN_SIGNAL_POLICY")

	// ── Fetch ──
	setInt(&cfg.Fetch.MaxAttempts, "GOLDSPREAD_FETCH_MAX_ATTEMPTS")
	setDuration(&cfg.Fetch.InitialBackoff, "GOLDSPREAD_FETCH_INITIAL_BACKOFF")
	setDuration(&cfg.Fetch.MaxBackoff, "GOLDSPREAD_FETCH_MAX_BACKOFF")

	// ── Alerts ──
	setInt(&cfg.Alerts.APIFailureThreshold, "GOLDSPREAD_ALERTS_API_FAILURE_THRESHOLD")
	setInt(&cfg.Alerts.APIFailureThreshold, "API_FAILURE_ALERT_THRESHOLD") // compatibility alias
	setDuration(&cfg.Alerts.APIFailureCooldown, "GOLDSPREAD_ALERTS_API_FAILURE_COOLDOWN")
	setInt(&cfg.Alerts.EffectAttempts, "GOLDSPREAD_ALERTS_EFFECT_ATTEMPTS")
	setDuration(&cfg.Alerts.EffectBackoff, "GOLDSPREAD_ALERTS_EFFECT_BACKOFF")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "GOLDSPREAD_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "GOLDSPREAD_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "GOLDSPREAD_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "GOLDSPREAD_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "GOLDSPREAD_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "GOLDSPREAD_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "GOLDSPREAD_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "GOLDSPREAD_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "GOLDSPREAD_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "GOLDSPREAD_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "GOLDSPREAD_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GOLDSPREAD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GOLDSPREAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GOLDSPREAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GOLDSPREAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GOLDSPREAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GOLDSPREAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GOLDSPREAD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.LockKey, "GOLDSPREAD_REDIS_LOCK_KEY")
	setStr(&cfg.Redis.KeyPrefix, "GOLDSPREAD_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GOLDSPREAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GOLDSPREAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GOLDSPREAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "GOLDSPREAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GOLDSPREAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GOLDSPREAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GOLDSPREAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GOLDSPREAD_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.DataTTLDays, "GOLDSPREAD_PIPELINE_DATA_TTL_DAYS")
	setInt(&cfg.Pipeline.DataTTLDays, "DATA_TTL_DAYS") // compatibility alias
	setBool(&cfg.Pipeline.ArchiveEnabled, "GOLDSPREAD_PIPELINE_ARCHIVE_ENABLED")
	setStr(&cfg.Pipeline.ArchiveCron, "GOLDSPREAD_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GOLDSPREAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GOLDSPREAD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GOLDSPREAD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GOLDSPREAD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "GOLDSPREAD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GOLDSPREAD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TG_BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "GOLDSPREAD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "TG_CHAT_ID") // compatibility alias
	setStringSlice(&cfg.Notify.TelegramAllowedChatIDs, "GOLDSPREAD_NOTIFY_TELEGRAM_ALLOWED_CHAT_IDS")
	setStringSlice(&cfg.Notify.TelegramAllowedChatIDs, "TG_ALLOWED_CHAT_IDS") // compatibility alias
	setDuration(&cfg.Notify.TelegramPollTimeout, "GOLDSPREAD_NOTIFY_TELEGRAM_POLL_TIMEOUT")
	setInt(&cfg.Notify.CommandRateLimit, "GOLDSPREAD_NOTIFY_COMMAND_RATE_LIMIT")
	setStr(&cfg.Notify.DiscordWebhookURL, "GOLDSPREAD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GOLDSPREAD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GOLDSPREAD_MODE")
	setStr(&cfg.LogLevel, "GOLDSPREAD_LOG_LEVEL")
	setFlag(&cfg.TicksOnlyMode, "GOLDSPREAD_TICKS_ONLY_MODE")
	setFlag(&cfg.TicksOnlyMode, "TICKS_ONLY_MODE")
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

// setFlag accepts the looser truthy spellings operators type by hand:
// 1, true, yes, on. Anything else set explicitly turns the flag off.
func setFlag(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		default:
			*dst = false
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

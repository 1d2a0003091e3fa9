// Package config defines the top-level configuration for the gold spread
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GOLDSPREAD_* environment variables.
type Config struct {
	Market        MarketConfig   `toml:"market"`
	Strategy      StrategyConfig `toml:"strategy"`
	Fetch         FetchConfig    `toml:"fetch"`
	Alerts        AlertsConfig   `toml:"alerts"`
	Supabase      SupabaseConfig `toml:"supabase"`
	Redis         RedisConfig    `toml:"redis"`
	S3            S3Config       `toml:"s3"`
	Pipeline      PipelineConfig `toml:"pipeline"`
	Server        ServerConfig   `toml:"server"`
	Notify        NotifyConfig   `toml:"notify"`
	Mode          string         `toml:"mode"`
	LogLevel      string         `toml:"log_level"`
	TicksOnlyMode bool           `toml:"ticks_only_mode"`
}

// MarketConfig describes where quotes come from.
type MarketConfig struct {
	APIURL     string   `toml:"api_url"`
	Pair       string   `toml:"pair"`
	PaxgTicker string   `toml:"paxg_ticker"`
	XautTicker string   `toml:"xaut_ticker"`
	QuoteSize  string   `toml:"quote_size"`
	Timeout    duration `toml:"timeout"`
}

// StrategyConfig holds the startup values of the runtime parameters. Values
// persisted by /set take precedence once the monitor has run.
type StrategyConfig struct {
	OpenThreshold    float64 `toml:"open_threshold"`
	CloseBuffer      float64 `toml:"close_buffer"`
	AnnualFactor     float64 `toml:"annual_factor"`
	PollSeconds      int     `toml:"poll_seconds"`
	RepeatSeconds    int     `toml:"repeat_seconds"`
	OpenSignalPolicy string  `toml:"open_signal_policy"`
}

// FetchConfig bounds quote fetch retries within one cycle.
type FetchConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
}

// AlertsConfig controls operational alerts that are not trade signals.
type AlertsConfig struct {
	APIFailureThreshold int      `toml:"api_failure_threshold"`
	APIFailureCooldown  duration `toml:"api_failure_cooldown"`
	EffectAttempts      int      `toml:"effect_attempts"`
	EffectBackoff       duration `toml:"effect_backoff"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
	LockKey         string `toml:"lock_key"`
	KeyPrefix       string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds tick retention parameters.
type PipelineConfig struct {
	DataTTLDays    int    `toml:"data_ttl_days"`
	ArchiveEnabled bool   `toml:"archive_enabled"`
	ArchiveCron    string `toml:"archive_cron"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials. TelegramChatID is
// the primary operator chat; TelegramAllowedChatIDs adds further chats that
// may issue commands and receive alerts.
type NotifyConfig struct {
	TelegramToken          string   `toml:"telegram_token"`
	TelegramChatID         string   `toml:"telegram_chat_id"`
	TelegramAllowedChatIDs []string `toml:"telegram_allowed_chat_ids"`
	TelegramPollTimeout    duration `toml:"telegram_poll_timeout"`
	CommandRateLimit       int      `toml:"command_rate_limit"`
	DiscordWebhookURL      string   `toml:"discord_webhook_url"`
	Events                 []string `toml:"events"`
}

// ChatIDs returns the primary chat followed by every additional allowed chat,
// without duplicates.
func (n NotifyConfig) ChatIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append([]string{n.TelegramChatID}, n.TelegramAllowedChatIDs...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			APIURL:     "https://omni-client-api.prod.ap-northeast-1.variational.io/metadata/stats",
			Pair:       "PAXG-XAUT",
			PaxgTicker: "PAXG",
			XautTicker: "XAUT",
			QuoteSize:  "size_100k",
			Timeout:    duration{10 * time.Second},
		},
		Strategy: StrategyConfig{
			OpenThreshold:    40,
			CloseBuffer:      0,
			AnnualFactor:     365,
			PollSeconds:      2,
			RepeatSeconds:    300,
			OpenSignalPolicy: "single_pending",
		},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			InitialBackoff: duration{250 * time.Millisecond},
			MaxBackoff:     duration{2 * time.Second},
		},
		Alerts: AlertsConfig{
			APIFailureThreshold: 3,
			APIFailureCooldown:  duration{5 * time.Minute},
			EffectAttempts:      3,
			EffectBackoff:       duration{200 * time.Millisecond},
		},
		Supabase: SupabaseConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:         false,
			Addr:            "localhost:6379",
			PoolSize:        10,
			MaxRetries:      3,
			CacheTTLMinutes: 10,
			StreamMaxLen:    10000,
			LockKey:         "instance",
			KeyPrefix:       "goldspread:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "goldspread-archive",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			DataTTLDays:    90,
			ArchiveEnabled: true,
			ArchiveCron:    "30 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			TelegramPollTimeout: duration{30 * time.Second},
			CommandRateLimit:    20,
			Events: []string{
				domain.EventOpenSignal, domain.EventOpenSignalReminder,
				domain.EventCloseSignal, domain.EventCloseSignalReminder,
				domain.EventAPIFailure,
			},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// RuntimeDefaults converts the strategy section into the engine's startup
// RuntimeConfig.
func (c *Config) RuntimeDefaults() domain.RuntimeConfig {
	return domain.RuntimeConfig{
		OpenThreshold:         decimal.NewFromFloat(c.Strategy.OpenThreshold),
		CloseBuffer:           decimal.NewFromFloat(c.Strategy.CloseBuffer),
		AnnualFactor:          decimal.NewFromFloat(c.Strategy.AnnualFactor),
		PollIntervalSeconds:   c.Strategy.PollSeconds,
		RepeatIntervalSeconds: c.Strategy.RepeatSeconds,
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.APIURL == "" {
		errs = append(errs, "market: api_url must not be empty")
	}
	if c.Market.PaxgTicker == "" || c.Market.XautTicker == "" {
		errs = append(errs, "market: paxg_ticker and xaut_ticker must be set")
	}
	if c.Market.Timeout.Duration <= 0 {
		errs = append(errs, "market: timeout must be > 0")
	}

	// Strategy
	if err := c.RuntimeDefaults().Validate(); err != nil {
		errs = append(errs, "strategy: "+err.Error())
	}
	switch c.Strategy.OpenSignalPolicy {
	case "", "single_pending", "single_live":
	default:
		errs = append(errs, fmt.Sprintf("strategy: unknown open_signal_policy %q (valid: single_pending, single_live)", c.Strategy.OpenSignalPolicy))
	}

	// Fetch
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, "fetch: max_attempts must be >= 1")
	}
	if c.Fetch.MaxBackoff.Duration < c.Fetch.InitialBackoff.Duration {
		errs = append(errs, "fetch: max_backoff must not be less than initial_backoff")
	}

	// Alerts
	if c.Alerts.APIFailureThreshold < 1 {
		errs = append(errs, "alerts: api_failure_threshold must be >= 1")
	}
	if c.Alerts.EffectAttempts < 1 {
		errs = append(errs, "alerts: effect_attempts must be >= 1")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
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
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Pipeline
	if c.Pipeline.DataTTLDays < 1 {
		errs = append(errs, "pipeline: data_ttl_days must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && len(c.Notify.ChatIDs()) == 0 {
		errs = append(errs, "notify: telegram_chat_id or telegram_allowed_chat_ids is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

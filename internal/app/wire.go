package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/goldspread/internal/alert"
	s3blob "github.com/alanyoungcy/goldspread/internal/blob/s3"
	"github.com/alanyoungcy/goldspread/internal/cache/redis"
	"github.com/alanyoungcy/goldspread/internal/config"
	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/notify"
	"github.com/alanyoungcy/goldspread/internal/platform/telegram"
	"github.com/alanyoungcy/goldspread/internal/server/handler"
	"github.com/alanyoungcy/goldspread/internal/store"
	"github.com/alanyoungcy/goldspread/internal/store/postgres"
)

// instanceLockTTL bounds how long a crashed process can hold the instance
// lock before another one may take over.
const instanceLockTTL = 30 * time.Second

// Dependencies bundles the backends and clients shared by every mode. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence. Store is the memory store when Supabase is disabled and
	// is wrapped by the ticks-only decorator when that mode is on.
	Store domain.Store

	// Redis backed. All nil when Redis is disabled.
	TickCache   domain.TickCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// TickArchiver exports expired ticks to S3. Nil unless S3 is enabled.
	TickArchiver domain.TickArchiver

	// Telegram is nil when no bot token is configured.
	Telegram   *telegram.Client
	Notifier   *notify.Notifier
	Dispatcher *alert.Dispatcher

	// Checks are the backend probes served by /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	tickTTL := time.Duration(cfg.Pipeline.DataTTLDays) * 24 * time.Hour

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = pgClient.Stores(tickTTL)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "supabase disabled, state is kept in memory and lost on restart")
		deps.Store = store.NewMemory()
	}
	if cfg.TicksOnlyMode {
		logger.InfoContext(ctx, "ticks-only mode: positions, runtime config and audit are not persisted")
		deps.Store = store.TicksOnly(deps.Store)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		cacheTTL := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
		deps.TickCache = redis.NewTickCache(redisClient, cacheTTL)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.TickArchiver = s3blob.NewTickArchiver(
			deps.Store.Ticks(),
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store.Audit(),
			0,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		deps.Telegram = telegram.NewClient(telegram.DefaultBaseURL, cfg.Notify.TelegramToken, cfg.Notify.TelegramPollTimeout.Duration)
		if chats := cfg.Notify.ChatIDs(); len(chats) > 0 {
			senders = append(senders, notify.NewTelegramSender(deps.Telegram, chats))
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		logger.WarnContext(ctx, "no notification channel configured, signals are only logged")
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Dispatcher = alert.NewDispatcher(deps.Notifier, deps.SignalBus, logger)

	return deps, cleanup, nil
}

// acquireInstanceLock takes the named Redis lock so two monitors never
// alert on the same positions. Without Redis it is a no-op.
func acquireInstanceLock(ctx context.Context, deps *Dependencies, key string) (func(), error) {
	if deps.LockManager == nil {
		return func() {}, nil
	}
	unlock, err := deps.LockManager.Acquire(ctx, key, instanceLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock %q: %w", key, err)
	}
	return unlock, nil
}

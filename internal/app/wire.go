package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Sonnik9/gate-bob-deploy/internal/blob/s3"
	"github.com/Sonnik9/gate-bob-deploy/internal/cache/local"
	"github.com/Sonnik9/gate-bob-deploy/internal/cache/redis"
	"github.com/Sonnik9/gate-bob-deploy/internal/config"
	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
	"github.com/Sonnik9/gate-bob-deploy/internal/notify"
	"github.com/Sonnik9/gate-bob-deploy/internal/server/handler"
	"github.com/Sonnik9/gate-bob-deploy/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Every store and
// cache is optional: a nil field means the backing service is disabled and
// the engine falls back to in-process state.
type Dependencies struct {
	// Stores
	Snapshots     domain.PositionSnapshotStore
	StatusHistory domain.StatusStore
	Journal       domain.TradeJournal
	AuditStore    domain.AuditStore

	// Caches
	PriceCache    domain.PriceCache
	ContractCache domain.ContractCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus // never nil; in-process without Redis

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Channels []notify.Channel
	Telegram *notify.TelegramChannel

	// Health probes by dependency name.
	Checks map[string]handler.Pinger
}

// Wire constructs the enabled infrastructure and returns it with a cleanup
// function to run on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Snapshots = postgres.NewPositionSnapshotStore(pool)
		deps.StatusHistory = postgres.NewStatusStore(pool)
		deps.Journal = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.ContractCache = redis.NewContractCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = local.NewBus()
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled && deps.Journal != nil {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Journal,
			cfg.S3.Prefix,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramChannel(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		deps.Telegram = tg
		deps.Channels = append(deps.Channels, tg)
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		dc := notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL)
		deps.Channels = append(deps.Channels, dc)
		senders = append(senders, dc)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

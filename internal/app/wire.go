package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/spotbot/internal/blob/s3"
	"github.com/alanyoungcy/spotbot/internal/cache/redis"
	"github.com/alanyoungcy/spotbot/internal/config"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/metrics"
	"github.com/alanyoungcy/spotbot/internal/notify"
	"github.com/alanyoungcy/spotbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Redis *redis.Client

	// Position state and its supporting caches.
	PositionStore domain.PositionStateStore
	OrderContexts domain.OrderContextStore
	PriceCache    *redis.PriceCache
	LockManager   domain.LockManager
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus
	Cursor        *redis.StreamCursor

	// Postgres; nil when disabled.
	Postgres     *postgres.Client
	HistoryStore domain.PositionHistoryStore
	AuditStore   domain.AuditStore

	// S3; nil unless archiving is enabled.
	S3       *s3blob.Client
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// needsS3 reports whether the mode runs the archiver.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	switch strings.ToLower(cfg.Mode) {
	case "ingest", "full":
		return true
	default:
		return false
	}
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

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PositionStore = redis.NewPositionStateStore(redisClient)
	deps.OrderContexts = redis.NewOrderContextStore(redisClient, cfg.Trading.OrderContextTTL.Duration)
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Paper.PriceTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.Cursor = redis.NewStreamCursor(redisClient)

	// --- PostgreSQL (history and audit are optional) ---
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
		deps.Postgres = pgClient
		deps.HistoryStore = postgres.NewPositionHistoryStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		logger.InfoContext(ctx, "postgres connected", slog.Bool("migrations", cfg.Postgres.RunMigrations))
	}

	// --- S3 (archive only) ---
	if needsS3(cfg) {
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
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewStat(s3Client),
			deps.HistoryStore,
			deps.AuditStore,
		)
		logger.InfoContext(ctx, "s3 archive configured", slog.String("bucket", cfg.S3.Bucket))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithThrottle(redis.NewRateLimiter(redisClient, cfg.Notify.RatePerMinute, time.Minute))

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Registry = reg
	deps.Metrics = metrics.New(reg)

	return deps, cleanup, nil
}

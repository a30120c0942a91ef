package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/lmsrd/internal/blob/s3"
	"github.com/alanyoungcy/lmsrd/internal/cache/redis"
	"github.com/alanyoungcy/lmsrd/internal/chain"
	"github.com/alanyoungcy/lmsrd/internal/config"
	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/notify"
	"github.com/alanyoungcy/lmsrd/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the operating modes need.
// Fields are nil when the mode does not wire them: memory mode carries no
// stores or caches at all.
type Dependencies struct {
	// Persistence (server and full modes).
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	EventStore    domain.EventStore
	Journal       domain.Journal

	// Redis (server and full modes).
	MarketCache domain.MarketCache
	MarketLock  domain.MarketLock
	RateLimiter domain.RateLimiter
	EventStream *redis.EventStream

	// Health probes for wired backends, keyed by component name.
	HealthChecks map[string]func(ctx context.Context) error

	// Cold storage (full mode with S3 enabled).
	Archiver domain.EventArchiver

	// Settlement (full mode with chain enabled).
	ChainAsset *chain.ERC20Asset

	// Notifications.
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode persists state.
func needsPostgres(mode string) bool {
	return mode == "server" || mode == "full"
}

// needsRedis reports whether the mode uses the cache/lock/stream layer.
func needsRedis(mode string) bool {
	return mode == "server" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]func(ctx context.Context) error),
	}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
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
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.Journal = postgres.NewJournal(pool)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error {
			return pool.Ping(ctx)
		}
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
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

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.MarketLock = redis.NewMarketLock(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.EventStream = redis.NewEventStream(redisClient, cfg.Redis.Stream, logger)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 cold storage ---
	if cfg.Mode == "full" && cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3Client, deps.MarketStore, deps.EventStore, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- On-chain settlement asset ---
	if cfg.Mode == "full" && cfg.Chain.Enabled {
		asset, err := chain.New(ctx, chain.Config{
			RPCURL:       cfg.Chain.RPCURL,
			ChainID:      cfg.Chain.ChainID,
			TokenAddress: cfg.Chain.TokenAddress,
			Key: chain.KeySource{
				RawPrivateKey:    cfg.Chain.PrivateKey,
				EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
				KeyPassword:      cfg.Chain.KeyPassword,
			},
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, asset.Close)
		deps.ChainAsset = asset
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

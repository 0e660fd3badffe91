package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/qmtbot/internal/blob/s3"
	"github.com/alanyoungcy/qmtbot/internal/broker/paper"
	"github.com/alanyoungcy/qmtbot/internal/cache/redis"
	"github.com/alanyoungcy/qmtbot/internal/config"
	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/notify"
	"github.com/alanyoungcy/qmtbot/internal/quote/longport"
	"github.com/alanyoungcy/qmtbot/internal/server/handler"
	"github.com/alanyoungcy/qmtbot/internal/service"
	"github.com/alanyoungcy/qmtbot/internal/store/postgres"
)

// Dependencies bundles the adapters the modes run on. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	GridStore     domain.GridStore
	AuditStore    domain.AuditStore
	Trades        *service.TradeService

	// Caches and coordination
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Market and account
	Quotes *service.QuoteService
	Broker domain.BrokerGateway

	Notifier *notify.Notifier

	// HealthChecks probe every external dependency for /api/health.
	HealthChecks []handler.Check
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.GridStore = postgres.NewGridStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	deps.AuditStore = auditStore
	tradeStore := postgres.NewTradeStore(pool)
	deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "postgres", Ping: pgClient.Ping})

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
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "redis", Ping: redisClient.Ping})

	// --- S3 trade archive (optional) ---
	var archiver domain.Archiver
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
		archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), tradeStore, auditStore)
		deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "s3", Ping: s3Client.Health})
	}
	deps.Trades = service.NewTradeService(tradeStore, deps.SignalBus, archiver, logger)

	// --- Quotes: live feed (optional) backed by the Redis quote cache ---
	var live domain.QuoteSource
	if cfg.Longport.Enabled {
		src, err := longport.New(longport.Config{
			AppKey:      cfg.Longport.AppKey,
			AppSecret:   cfg.Longport.AppSecret,
			AccessToken: cfg.Longport.AccessToken,
			Depth:       cfg.Longport.Depth,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: longport: %w", err))
		}
		closers = append(closers, func() { _ = src.Close() })
		live = src
	} else {
		logger.WarnContext(ctx, "wire: longport disabled, quotes come from the redis cache only")
	}
	deps.Quotes = service.NewQuoteService(live, deps.QuoteCache, logger)

	// --- Broker ---
	holdings := make([]paper.Holding, 0, len(cfg.Broker.Holdings))
	for _, h := range cfg.Broker.Holdings {
		holdings = append(holdings, paper.Holding{
			Symbol:   h.Symbol,
			Name:     h.Name,
			Quantity: h.Quantity,
			Cost:     h.Cost,
		})
	}
	deps.Broker = paper.New(deps.Quotes, cfg.Broker.Cash, holdings, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.PushPlusToken != "" {
		senders = append(senders, notify.NewPushPlusSender(
			cfg.Notify.PushPlusURL,
			cfg.Notify.PushPlusToken,
			cfg.Notify.PushPlusChannel,
			cfg.Notify.PushPlusWebhook,
		))
	}
	if cfg.Notify.WeComKey != "" {
		senders = append(senders, notify.NewWeComSender(cfg.Notify.WeComURL, cfg.Notify.WeComKey))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

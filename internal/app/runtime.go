// Package app wires configuration into the store, lock and archive backends
// shared by every binary.
package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/api"
	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/config"
	"github.com/hackgods/clinic-opd/internal/db"
	"github.com/hackgods/clinic-opd/internal/invoice"
	"github.com/hackgods/clinic-opd/internal/metrics"
	redisclient "github.com/hackgods/clinic-opd/internal/redis"
	"github.com/hackgods/clinic-opd/internal/store"
)

// Runtime holds the opened backends. Close releases them in reverse order.
type Runtime struct {
	Store        store.Store
	Locker       redisclient.Locker
	Archiver     *invoice.Archiver
	Dependencies []api.Dependency

	closers []func()
}

// Open connects the configured store driver, the optional redis lock and the
// optional invoice archive.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{}

	if err := rt.openStore(ctx, cfg, logger); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		rt.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		rt.Dependencies = append(rt.Dependencies, api.Dependency{
			Name:     "redis",
			Pinger:   api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			Optional: true,
		})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		rt.Locker = redisclient.NewLocalLocker()
		logger.Warn().Msg("REDIS_ADDR not set, using in-process locks")
	}

	if cfg.InvoiceBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("aws config: %w", err)
		}
		rt.Archiver = invoice.NewArchiver(s3.NewFromConfig(awsCfg), cfg.InvoiceBucket, logger)
		logger.Info().Str("bucket", cfg.InvoiceBucket).Msg("invoice archive enabled")
	}

	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		pg := store.NewPostgres(pool)
		rt.Store = pg
		rt.Dependencies = append(rt.Dependencies, api.Dependency{Name: "postgres", Pinger: pg})
		logger.Info().Msg("connected to Postgres")

	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		rt.closers = append(rt.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error().Err(err).Msg("error disconnecting mongo")
			}
		})
		m := store.NewMongo(client, cfg.MongoDatabase)
		if err := m.EnsureIndexes(ctx); err != nil {
			return err
		}
		rt.Store = m
		rt.Dependencies = append(rt.Dependencies, api.Dependency{Name: "mongo", Pinger: m})
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to MongoDB")

	default:
		mem := store.NewMemory()
		rt.Store = mem
		rt.Dependencies = append(rt.Dependencies, api.Dependency{Name: "memory", Pinger: mem})
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	}
	return nil
}

// Service builds the clinic service on top of the runtime backends.
func (rt *Runtime) Service(logger zerolog.Logger, m *metrics.ClinicMetrics) *clinic.Service {
	svc := clinic.NewService(clinic.NewStoreRepository(rt.Store), rt.Locker, logger, m)
	if rt.Archiver.Enabled() {
		svc.SetArchiver(rt.Archiver)
	}
	return svc
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

package main

import (
	"context"
	"fmt"

	"eval_harness/internal/cache"
	"eval_harness/internal/config"
	"eval_harness/internal/logging"
	"eval_harness/internal/metrics"
	"eval_harness/internal/pipeline"
	"eval_harness/internal/pricing"
	"eval_harness/internal/providers"
	"eval_harness/internal/queue"
	"eval_harness/internal/session"
	"eval_harness/internal/storage"

	"github.com/redis/go-redis/v9"
)

// app holds the wired service graph shared by the run and serve commands.
type app struct {
	cfg      *config.Config
	registry *providers.Registry
	engine   *pipeline.Engine
	store    cache.Store
	sessions *session.Manager
	metrics  *metrics.Metrics
	sink     logging.Sink
	db       *storage.DB
	worker   *storage.ResultQueueWorker
	logger   *logging.Logger
}

// buildApp wires the full pipeline from service configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logLevel := logging.Warning
	if verbose {
		logLevel = logging.Debug
	}
	logger := logging.NewLogger("evalharness", logLevel)

	registry := providers.NewRegistry(providers.NewFactory())

	store, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	pricingTable, err := pricing.LoadTable(cfg.PricingFile)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(cfg.Sessions.PoolSize)
	m := metrics.New()

	resolver := &config.Resolver{
		Defaults:    config.DefaultDefaults(),
		RequiresKey: registry.RequiresKey,
	}

	engine := pipeline.NewEngine(pipeline.Options{
		Registry: registry,
		Resolver: resolver,
		Store:    store,
		Pricing:  pricingTable,
		Sessions: sessions,
		Metrics:  m,
		Sink:     sink,
		Logger:   logger,
	})

	a := &app{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		store:    store,
		sessions: sessions,
		metrics:  m,
		sink:     sink,
		logger:   logger,
	}

	if cfg.Database.URL != "" {
		db, err := storage.NewDB(cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db

		qCfg := queue.DefaultConfig("results")
		var q queue.Queue
		var dlq queue.DeadLetterQueue
		if cfg.Cache.Backend == "redis" {
			qCfg.UseRedis = true
			qCfg.RedisAddr = cfg.Redis.Address
			qCfg.RedisPassword = cfg.Redis.Password
			qCfg.RedisDB = cfg.Redis.DB
			rq, err := queue.NewRedisQueue(qCfg)
			if err != nil {
				a.Close()
				return nil, err
			}
			rdlq, err := queue.NewRedisDeadLetterQueue(qCfg)
			if err != nil {
				a.Close()
				return nil, err
			}
			q, dlq = rq, rdlq
		} else {
			q = queue.NewMemoryQueue(qCfg)
			dlq = queue.NewMemoryDeadLetterQueue()
		}

		a.worker = storage.NewResultQueueWorker(q, dlq, db, qCfg)
		a.worker.Start(ctx)
	}

	return a, nil
}

// loadProviders reads the providers file and installs it on the engine.
func (a *app) loadProviders(path string) error {
	pf, err := config.LoadProviders(path)
	if err != nil {
		return err
	}
	return a.engine.SetProviders(pf)
}

// Close releases everything in reverse dependency order.
func (a *app) Close() {
	if a.worker != nil {
		_ = a.worker.Stop()
	}
	if a.sink != nil {
		_ = a.sink.Close()
	}
	if a.sessions != nil {
		_ = a.sessions.Close()
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildCache(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return cache.NewMemoryStore(cfg.Cache.Size, cfg.Cache.TTL), nil
	case "sqlite":
		return cache.NewSQLiteStore(cfg.Cache.SQLitePath, cfg.Cache.TTL)
	case "redis":
		return cache.NewRedisStore(cache.RedisStoreConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Cache.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// buildSink selects the result sink: S3 (Redis-buffered) when enabled, the
// local JSONL log when a path template is set, otherwise a no-op.
func buildSink(ctx context.Context, cfg *config.Config) (logging.Sink, error) {
	if cfg.S3Sink.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for the S3 sink: %w", err)
		}
		buffer := logging.NewRedisBuffer(client, logging.RedisBufferConfig{
			MaxSize:   int64(cfg.S3Sink.BufferSize),
			BatchSize: cfg.S3Sink.FlushSize,
		})
		return logging.NewS3Sink(ctx, logging.S3SinkConfig{
			FlushSize:     cfg.S3Sink.FlushSize,
			FlushInterval: cfg.S3Sink.FlushInterval,
			Bucket:        cfg.S3Sink.Bucket,
			Region:        cfg.S3Sink.Region,
			Prefix:        cfg.S3Sink.Prefix,
			WorkerID:      cfg.S3Sink.WriterName,
		}, buffer)
	}
	if cfg.Results.FilePathTemplate != "" {
		return logging.NewResultLogger(
			cfg.Results.FilePathTemplate,
			cfg.Results.MaxSize,
			cfg.Results.MaxFiles,
			1024,
			cfg.Results.FlushInterval,
		)
	}
	return logging.NewNoopSink(), nil
}

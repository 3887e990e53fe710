package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/shrinkpic/internal/api"
	"github.com/dunamismax/shrinkpic/internal/config"
	"github.com/dunamismax/shrinkpic/internal/logging"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
	"github.com/dunamismax/shrinkpic/internal/queue"
	"github.com/dunamismax/shrinkpic/internal/ratelimit"
	"github.com/dunamismax/shrinkpic/internal/storage"
	"github.com/dunamismax/shrinkpic/internal/store"
	"github.com/dunamismax/shrinkpic/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, "api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "shrinkpic-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	transformer, err := pipeline.NewTransformer(pipeline.CompressOptions{
		MaxIteration:       cfg.Compress.MaxIteration,
		AlreadySmallerThan: cfg.Compress.AlreadySmallerThan,
		MaxBytes:           cfg.Compress.MaxBytes,
	})
	if err != nil {
		return fmt.Errorf("initialize transformer: %w", err)
	}

	policy, err := ratePolicy(cfg.RateLimit)
	if err != nil {
		return err
	}
	opts := api.Options{
		Logger:      logger,
		Processor:   transformer,
		Concurrency: cfg.API.Concurrency,
		RatePolicy:  policy,
		TrustProxy:  cfg.API.TrustProxy,
		CORSOrigins: cfg.API.CORSOrigins,
		PresignTTL:  cfg.API.PresignExpiry,
	}

	if cfg.RateLimit.Enabled {
		limiter, closeLimiter, err := newLimiter(cfg, policy)
		if err != nil {
			return err
		}
		defer closeLimiter()
		opts.RateLimiter = limiter
		logger.Info("rate limiting enabled",
			zap.String("backend", cfg.RateLimit.Backend),
			zap.Int("max", policy.Limit),
			zap.String("window", policy.Describe()),
		)
	}

	if cfg.API.AsyncJobs {
		objects, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}

		jobs, closeJobs, err := openJobStore(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return err
		}
		defer closeJobs()

		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.Options{
			Queue:    cfg.Queue.Name,
			MaxRetry: cfg.Queue.MaxRetry,
			Timeout:  cfg.Queue.TaskTimeout,
		})
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("queue client close failed", zap.Error(err))
			}
		}()

		opts.Storage = objects
		opts.Jobs = jobs
		opts.Queue = queueClient
		logger.Info("async jobs enabled", zap.String("queue", queueClient.Queue()), zap.String("bucket", objects.Bucket()))
	}

	app, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.API.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// ratePolicy resolves the configured preset; explicit limit and window
// settings override it.
func ratePolicy(cfg config.RateLimitConfig) (ratelimit.Policy, error) {
	policy, err := ratelimit.PresetByName(cfg.Preset)
	if err != nil {
		return ratelimit.Policy{}, err
	}
	if cfg.Limit > 0 {
		policy.Limit = cfg.Limit
	}
	if cfg.Window > 0 {
		policy.Window = cfg.Window
	}
	return policy, policy.Validate()
}

func newLimiter(cfg config.Config, policy ratelimit.Policy) (ratelimit.Limiter, func(), error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err := ratelimit.NewRedisFixedWindow(client, policy, "")
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return limiter, func() { client.Close() }, nil
	case "", "memory":
		limiter, err := ratelimit.NewMemoryFixedWindow(policy)
		return limiter, func() {}, err
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

func openJobStore(ctx context.Context, dsn string, logger *zap.Logger) (store.JobStore, func(), error) {
	if dsn == "" {
		logger.Warn("POSTGRES_DSN not set; jobs are kept in memory and are invisible to workers in other processes")
		return store.NewMemoryJobStore(), func() {}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ensure job schema: %w", err)
	}
	return pg, func() { pg.Close() }, nil
}

// Command mqsd runs the Mini Queue Service broker: an HTTP server over a
// PostgreSQL-backed queue/message store, configured entirely from the
// environment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kyrosq/mqs/internal/api"
	"github.com/kyrosq/mqs/internal/cache"
	"github.com/kyrosq/mqs/internal/config"
	"github.com/kyrosq/mqs/internal/logging"
	"github.com/kyrosq/mqs/internal/metrics"
	"github.com/kyrosq/mqs/internal/notify"
	"github.com/kyrosq/mqs/internal/observability"
	"github.com/kyrosq/mqs/internal/service"
	"github.com/kyrosq/mqs/internal/store"
)

// sweepInterval is how often the retention sweep runs.
const sweepInterval = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "mqsd",
		Short: "Mini Queue Service broker",
		Long:  "mqsd is the message broker daemon: HTTP API over a PostgreSQL-backed queue store",
		RunE:  run,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)

	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	ctx := context.Background()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MinPoolSize, cfg.Postgres.MaxPoolSize)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pg.Close()

	var st store.Store = pg
	var hub notify.Hub = notify.NewChannelHub()
	var redisClient *redis.Client

	if cfg.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logging.Op().Warn("redis unreachable, falling back to in-process cache and notification", "error", err)
			redisClient = nil
		}
	}

	var invalidator *cache.CacheInvalidator
	if redisClient != nil {
		hub = notify.NewRedisHub(redisClient)
		l1 := cache.NewInMemoryCache()
		l2 := cache.NewRedisCacheFromClient(redisClient, "mqs:cache:")
		tiered := cache.NewTieredCache(l1, l2, 5*time.Second)

		invalidator = cache.NewCacheInvalidator(l1, redisClient)
		go invalidator.Start(ctx)

		st = store.NewCachedStoreWithInvalidator(pg, tiered, invalidator)
		logging.Op().Info("redis-backed notification hub and tiered cache enabled", "addr", cfg.Cache.RedisAddr)
	} else {
		st = store.NewCachedStore(pg, cache.NewInMemoryCache())
	}
	defer hub.Close()
	defer func() {
		if invalidator != nil {
			_ = invalidator.Close()
		}
	}()

	svc := service.New(st, hub)

	httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
		Service:        svc,
		Store:          st,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	logging.Op().Info("mqsd started", "addr", cfg.Daemon.HTTPAddr, "env", cfg.Daemon.Env)

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			logging.Op().Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			cancel()
			return nil
		case <-sweepTicker.C:
			if _, err := svc.Sweep(ctx); err != nil {
				logging.Op().Error("retention sweep failed", "error", err)
			}
		}
	}
}

// Package main provides the crawler worker entry point. Each process is
// pinned to one priority tier and subscribes to that tier's queues only.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mousehunter-quant/crawler-worker/internal/adapter/cache"
	"github.com/mousehunter-quant/crawler-worker/internal/adapter/observability"
	"github.com/mousehunter-quant/crawler-worker/internal/adapter/provider"
	"github.com/mousehunter-quant/crawler-worker/internal/adapter/stream"
	"github.com/mousehunter-quant/crawler-worker/internal/adapter/upstream"
	"github.com/mousehunter-quant/crawler-worker/internal/config"
	"github.com/mousehunter-quant/crawler-worker/internal/gate"
	"github.com/mousehunter-quant/crawler-worker/internal/supervisor"
	"github.com/mousehunter-quant/crawler-worker/internal/task"
)

// tierQueues maps a priority tier to its subscribed queues, priority
// descending, per the broker subscription table.
var tierQueues = map[string][]string{
	"CRITICAL": {"crawler_backfill_critical", "crawler_realtime_critical"},
	"HIGH":     {"crawler_backfill_high", "crawler_realtime_high", "crawler_backfill_normal"},
	"NORMAL":   {"crawler_backfill_normal", "crawler_realtime_normal"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(2)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	tier := strings.ToUpper(cfg.PriorityLevel)
	queues, ok := tierQueues[tier]
	if !ok {
		slog.Error("unknown priority tier", slog.String("tier", tier))
		os.Exit(2)
	}

	slog.Info("starting crawler worker",
		slog.String("worker_id", workerID), slog.String("tier", tier),
		slog.Any("queues", queues), slog.String("env", cfg.AppEnv))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(observability.Registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	rdb, err := dialDragonfly(cfg)
	if err != nil {
		slog.Error("dragonfly dial failed", slog.Any("error", err))
		os.Exit(2)
	}
	defer func() { _ = rdb.Close() }()

	cacheClient := cache.New(rdb, cfg.CookieCacheTTL, cfg.ProxyCacheTTL)

	concurrencyGate := gate.New(cfg.GateNoProxyPermits, cfg.GateProxyPermits)

	router, err := provider.NewRouter()
	if err != nil {
		slog.Error("provider router init failed", slog.Any("error", err))
		os.Exit(2)
	}

	requestExecutor := upstream.New(provider.ValidatorFor)

	taskMetrics := &observability.TaskMetrics{}
	executor := task.New(cacheClient, router, concurrencyGate, requestExecutor, taskMetrics, workerID,
		cfg.EnableProxyInjection, cfg.EnableCookieInjection)

	consumerGroup := "crawler_" + strings.ToLower(tier)
	consumer := stream.New(rdb, consumerGroup, workerID, queues, cfg.StreamBlockInterval, cfg.StreamClaimMinIdle, int64(cfg.MaxConcurrentTasks))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.EnsureGroups(ctx); err != nil {
		slog.Error("ensure consumer groups failed", slog.Any("error", err))
		os.Exit(2)
	}
	if err := consumer.RecoverPending(ctx); err != nil {
		slog.Warn("recover pending entries failed, continuing", slog.Any("error", err))
	}

	sup := supervisor.New(executor, cfg.MaxConcurrentTasks, cfg.GracefulShutdownTimeout, workerID)

	envelopes := make(chan stream.Envelope, cfg.MaxConcurrentTasks)
	consumeErrCh := make(chan error, 1)
	go func() {
		consumeErrCh <- consumer.Run(ctx, envelopes)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("signal received, draining", slog.String("signal", sig.String()))
		cancel()
	}()

	forced, runErr := sup.Run(ctx, envelopes)
	if runErr != nil {
		slog.Error("supervisor run error", slog.Any("error", runErr))
		os.Exit(1)
	}
	if consumeErr := <-consumeErrCh; consumeErr != nil {
		slog.Error("stream consumer error", slog.Any("error", consumeErr))
	}

	if forced {
		slog.Warn("worker stopped after forced cancellation of in-flight tasks")
		os.Exit(1)
	}
	slog.Info("worker stopped cleanly")
}

// dialDragonfly connects to the Redis-compatible broker/cache with a bounded
// startup backoff, so a worker starting slightly ahead of its broker doesn't
// crash-loop.
func dialDragonfly(cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.DragonflyAddr(),
		DB:   cfg.DragonflyDB,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.StartupBackoffInitialInterval
	bo.MaxInterval = cfg.StartupBackoffMaxInterval
	bo.MaxElapsedTime = cfg.StartupBackoffMaxElapsedTime

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping dragonfly: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(ping, bo); err != nil {
		_ = rdb.Close()
		return nil, errors.Join(errors.New("dragonfly unreachable at startup"), err)
	}
	return rdb, nil
}

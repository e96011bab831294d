// Package main provides the worker process entry point: it starts the
// upload and DLQ consumer pools against a shared Redis-backed queue and
// exposes a Prometheus /metrics endpoint until a termination signal
// arrives.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/lock"
	"github.com/ventodeco/submission-intake/internal/queue"
	"github.com/ventodeco/submission-intake/internal/supervisor"
	"github.com/ventodeco/submission-intake/internal/uploadworker"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

func setupLogger(cfg config.WorkerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", "submission-intake-worker"),
		slog.String("env", cfg.AppEnv),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	metrics := workermetrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(workermetrics.NewCollector(metrics))
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := ":" + cfg.MetricsPort
		logger.Info("metrics server starting", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // internal metrics endpoint, no external exposure.
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("redis close failed", slog.Any("error", err))
		}
	}()

	q := queue.New(rdb)
	locker := lock.New(rdb, cfg.LockTimeout)
	uploader := uploadworker.NewHTTPUploader(cfg.UploadHTTPTimeout)

	sup := supervisor.New(cfg, q, locker, metrics, uploader, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting worker", slog.String("env", cfg.AppEnv),
		slog.Int("main_threads", cfg.MainThreadCount),
		slog.Int("dlq_threads", cfg.DLQThreadCount))
	sup.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	logger.Info("signal received, shutting down", slog.String("signal", sig.String()))

	// Setting the shutdown flag, not cancelling ctx, stops new work: ctx
	// stays live for whatever process() calls are already in flight, so
	// their lock acquisition and upload I/O run to completion instead of
	// being aborted mid-flight. ctx is only cancelled below, once those
	// calls have drained or the graceful deadline has passed.
	sup.SignalShutdown()

	if err := sup.AwaitShutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown did not complete cleanly", slog.Any("error", err))
		cancel()
		os.Exit(1)
	}
	cancel()
	logger.Info("worker stopped")
}

// redisAddr strips a redis:// scheme down to a host:port address, the
// form redis.Options expects.
func redisAddr(url string) string {
	const schemePrefix = "redis://"
	if len(url) > len(schemePrefix) && url[:len(schemePrefix)] == schemePrefix {
		return url[len(schemePrefix):]
	}
	return url
}

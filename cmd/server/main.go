// Package main provides the HTTP intake surface entry point: it accepts
// submissions over HTTP and enqueues them for the worker process to pick
// up. It never runs the consumer pools itself.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/httpapi"
	"github.com/ventodeco/submission-intake/internal/queue"
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
		slog.String("service", "submission-intake-server"),
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

	if cfg.IsWorkerMode() {
		logger.Error("APP_MODE=worker starts no HTTP surface; run cmd/worker instead")
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("redis close failed", slog.Any("error", err))
		}
	}()

	q := queue.New(rdb)
	handler := httpapi.NewRouter(cfg, q, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("error", err))
	}
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

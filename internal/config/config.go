// Package config parses the environment-variable configuration surface
// for both the background file-upload job system and the thin HTTP
// intake surface that hosts it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// WorkerConfig is the immutable configuration loaded once at process
// startup and passed by value into every task; there is no process-wide
// mutable singleton (per the "global configuration" design note).
type WorkerConfig struct {
	// Process mode: "api" runs the HTTP intake surface only; "worker" force-
	// enables both consumer pools and starts no HTTP surface.
	AppMode string `env:"APP_MODE" envDefault:"worker"`
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`

	// Upload (main) consumer pool. The *Ms/*Seconds fields are the raw wire
	// values the environment variable names promise (plain integers); Load
	// converts them into the time.Duration fields consumer code uses.
	MainEnabled        bool          `env:"BACKGROUND_WORKER_THREAD_ENABLED" envDefault:"true"`
	MainThreadCount    int           `env:"BACKGROUND_WORKER_CONSUMER_THREAD_COUNT" envDefault:"4"`
	MainWaitIntervalMs int           `env:"WORKER_CONSUMER_WAIT_INTERVAL_IN_MILLISECONDS" envDefault:"5000"`
	MaxRetry           int           `env:"WORKER_CONSUMER_MAX_RETRY" envDefault:"3"`
	MainWaitInterval   time.Duration `env:"-"`

	// DLQ consumer pool.
	DLQEnabled        bool          `env:"FILE_UPLOAD_WORKER_DLQ_THREAD_ENABLED" envDefault:"true"`
	DLQThreadCount    int           `env:"FILE_UPLOAD_WORKER_DLQ_THREAD_COUNT" envDefault:"2"`
	DLQWaitIntervalMs int           `env:"FILE_UPLOAD_WORKER_DLQ_WAIT_INTERVAL_IN_MILLISECONDS" envDefault:"10000"`
	DLQWaitInterval   time.Duration `env:"-"`

	// Broker addressing.
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	MainQueueName string `env:"WORKER_UPLOAD_FILE_QUEUE" envDefault:"upload_file_queue"`
	DLQQueueName  string `env:"WORKER_UPLOAD_FILE_DLQ" envDefault:"upload_file_dlq"`

	// Distributed lock tuning.
	LockTimeoutSeconds  int           `env:"WORKER_LOCK_TIMEOUT_SECONDS" envDefault:"300"`
	LockRetryIntervalMs int           `env:"WORKER_LOCK_RETRY_INTERVAL_MILLISECONDS" envDefault:"100"`
	LockTimeout         time.Duration `env:"-"`
	LockRetryInterval   time.Duration `env:"-"`

	// Shutdown.
	GracefulShutdownTimeoutSeconds int           `env:"WORKER_GRACEFUL_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`
	GracefulShutdownTimeout        time.Duration `env:"-"`

	// Upload side-effect.
	UploadHTTPTimeout time.Duration `env:"UPLOAD_HTTP_TIMEOUT" envDefault:"30s"`

	// Ambient: logging.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Ambient: HTTP intake surface (APP_MODE=api).
	Port               string        `env:"PORT" envDefault:"8080"`
	IntakeSharedSecret string        `env:"INTAKE_SHARED_SECRET" envDefault:""`
	CORSAllowOrigins   string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin    int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	HTTPReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Ambient: metrics endpoint.
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
}

// Load parses WorkerConfig from the environment. The environment variable
// names promise plain integers (milliseconds or seconds, per their
// suffixes); Load derives the time.Duration fields consumer code uses from
// those raw values.
func Load() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("op=config.Load: %w", err)
	}
	cfg.MainWaitInterval = time.Duration(cfg.MainWaitIntervalMs) * time.Millisecond
	cfg.DLQWaitInterval = time.Duration(cfg.DLQWaitIntervalMs) * time.Millisecond
	cfg.LockTimeout = time.Duration(cfg.LockTimeoutSeconds) * time.Second
	cfg.LockRetryInterval = time.Duration(cfg.LockRetryIntervalMs) * time.Millisecond
	cfg.GracefulShutdownTimeout = time.Duration(cfg.GracefulShutdownTimeoutSeconds) * time.Second
	return cfg, nil
}

// IsDev reports whether the process is running in a development
// environment (used to select the slog debug level).
func (c WorkerConfig) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsWorkerMode reports whether APP_MODE forces both consumer pools on and
// starts no HTTP surface.
func (c WorkerConfig) IsWorkerMode() bool { return strings.ToLower(c.AppMode) == "worker" }

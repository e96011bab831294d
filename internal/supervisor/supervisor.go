// Package supervisor owns the worker process lifecycle: configuration,
// both consumer pools, the periodic metrics logger, and bounded graceful
// shutdown.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/dlqworker"
	"github.com/ventodeco/submission-intake/internal/lock"
	"github.com/ventodeco/submission-intake/internal/queue"
	"github.com/ventodeco/submission-intake/internal/uploadworker"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

// metricsLogPeriod matches spec §4.6's "metrics logger (period: 300 s)".
const metricsLogPeriod = 300 * time.Second

// ErrShutdownTimeout is returned by AwaitShutdown when in-flight jobs do
// not drain within GracefulShutdownTimeout.
var ErrShutdownTimeout = errors.New("supervisor: graceful shutdown timed out")

// Supervisor owns lifecycle: it constructs the enabled pools, runs the
// metrics logger, and coordinates shutdown across both.
type Supervisor struct {
	cfg     config.WorkerConfig
	metrics *workermetrics.Registry
	logger  *slog.Logger

	uploadPool *uploadworker.Pool
	dlqPool    *dlqworker.Pool

	shuttingDown atomic.Bool
	metricsDone  chan struct{}
}

// New constructs a Supervisor, building whichever pools are enabled in
// cfg (or force-enabled, per spec §6, when cfg.AppMode == "worker").
func New(cfg config.WorkerConfig, q *queue.Queue, locker *lock.Locker, metrics *workermetrics.Registry, uploader uploadworker.Uploader, recovery dlqworker.RecoveryHandler, logger *slog.Logger) *Supervisor {
	mainEnabled := cfg.MainEnabled || cfg.IsWorkerMode()
	dlqEnabled := cfg.DLQEnabled || cfg.IsWorkerMode()

	s := &Supervisor{
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		metricsDone: make(chan struct{}),
	}

	if mainEnabled {
		s.uploadPool = uploadworker.New(cfg, q, locker, metrics, uploader, logger)
	}
	if dlqEnabled {
		s.dlqPool = dlqworker.New(cfg, q, metrics, recovery, logger)
	}

	return s
}

// Start runs the metrics logger and starts every constructed pool.
func (s *Supervisor) Start(ctx context.Context) {
	go func() {
		defer close(s.metricsDone)
		s.metrics.RunLogger(ctx, metricsLogPeriod, s.logger)
	}()

	if s.uploadPool != nil {
		s.uploadPool.Start(ctx)
	}
	if s.dlqPool != nil {
		s.dlqPool.Start(ctx)
	}
}

// SignalShutdown sets the shared shutdown flag observed by every consumer
// loop. Idempotent.
func (s *Supervisor) SignalShutdown() {
	if s.shuttingDown.Swap(true) {
		return
	}
	if s.uploadPool != nil {
		s.uploadPool.SignalShutdown()
	}
	if s.dlqPool != nil {
		s.dlqPool.SignalShutdown()
	}
}

// AwaitShutdown waits up to GracefulShutdownTimeout for in-flight jobs to
// drain. It returns ErrShutdownTimeout if the deadline elapses; otherwise
// it logs final metrics and returns nil.
func (s *Supervisor) AwaitShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if s.uploadPool != nil {
			s.uploadPool.Wait()
		}
		if s.dlqPool != nil {
			s.dlqPool.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.metrics.LogSnapshot(s.logger)
		return nil
	case <-time.After(s.cfg.GracefulShutdownTimeout):
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

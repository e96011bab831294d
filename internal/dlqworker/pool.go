// Package dlqworker implements the DLQ consumer pool: M tasks pulling from
// the dead-letter queue, classifying failures, attempting bounded recovery
// or flagging the job for manual intervention.
package dlqworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/jobs"
	"github.com/ventodeco/submission-intake/internal/queue"
	"github.com/ventodeco/submission-intake/internal/uploadworker"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

// depthSamplePeriod mirrors the upload pool's sampler cadence.
const depthSamplePeriod = 60 * time.Second

// recoverableErrorTypes are the metadata["error_type"] values the spec
// marks recoverable, distinct from a URL-expiry classification.
var recoverableErrorTypes = map[string]bool{
	"temporary_network_error": true,
	"rate_limited":            true,
	"service_unavailable":     true,
}

// RecoveryHandler attempts to recover a DLQ job (e.g. requesting a fresh
// URL for an expired document). A nil error means recovery succeeded.
type RecoveryHandler interface {
	Recover(ctx context.Context, job jobs.Job) error
}

// DefaultRecoveryHandler attempts a URL refresh for expired documents and
// has no strategy for any other error kind, matching the original's
// single implemented recovery path.
type DefaultRecoveryHandler struct {
	ExpiryPredicate uploadworker.URLExpiryPredicate
	Refresh         func(ctx context.Context, job jobs.Job) error
}

// Recover implements RecoveryHandler.
func (h *DefaultRecoveryHandler) Recover(ctx context.Context, job jobs.Job) error {
	predicate := h.ExpiryPredicate
	if predicate == nil {
		predicate = uploadworker.DefaultURLExpiryPredicate
	}
	if !predicate(job.DocumentURL) {
		return errors.New("dlqworker: no recovery strategy available for this error")
	}
	if h.Refresh == nil {
		return errors.New("dlqworker: no recovery strategy available for this error")
	}
	return h.Refresh(ctx, job)
}

// Pool is the DLQ consumer pool.
type Pool struct {
	cfg     config.WorkerConfig
	queue   *queue.Queue
	metrics *workermetrics.Registry
	handler RecoveryHandler
	logger  *slog.Logger
	expiry  uploadworker.URLExpiryPredicate

	shuttingDown atomic.Bool
	quit         chan struct{}
	wg           sync.WaitGroup
}

// New constructs the DLQ pool. handler defaults to DefaultRecoveryHandler
// when nil.
func New(cfg config.WorkerConfig, q *queue.Queue, metrics *workermetrics.Registry, handler RecoveryHandler, logger *slog.Logger) *Pool {
	if handler == nil {
		handler = &DefaultRecoveryHandler{}
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		metrics: metrics,
		handler: handler,
		logger:  logger,
		expiry:  uploadworker.DefaultURLExpiryPredicate,
		quit:    make(chan struct{}),
	}
}

// Start spawns DLQThreadCount consumer goroutines and one depth-sampler
// goroutine, then returns.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.DLQThreadCount; i++ {
		p.wg.Add(1)
		go p.runConsumer(ctx, i)
	}
	p.wg.Add(1)
	go p.runDepthSampler(ctx)
}

// SignalShutdown is polled at the top of every consumer loop iteration and
// also closes quit, which the depth sampler selects on so it does not wait
// out its full 60s tick before Wait() can unblock.
func (p *Pool) SignalShutdown() {
	if !p.shuttingDown.Swap(true) {
		close(p.quit)
	}
}

// Wait blocks until every spawned goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runConsumer(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("consumer_id", id), slog.String("pool", "dlq"))

	for {
		if p.shuttingDown.Load() {
			logger.Info("shutdown flag observed, exiting dlq consumer loop")
			return
		}

		job, err := p.queue.Dequeue(ctx, p.cfg.DLQQueueName, p.cfg.DLQWaitInterval)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			logger.Error("dlq dequeue error", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		p.processDLQJob(ctx, *job, logger)
	}
}

// isRecoverable implements spec §4.5's classification: URL-expiry is
// marked recoverable here even though the upload worker treats it as
// terminal, and metadata["error_type"] membership in a fixed set is also
// recoverable.
func (p *Pool) isRecoverable(job jobs.Job) bool {
	if p.expiry(job.DocumentURL) {
		return true
	}
	return recoverableErrorTypes[job.ErrorType()]
}

// processDLQJob implements spec §4.5: classify, attempt recovery if
// recoverable, and always log-and-drop (never requeue automatically; a
// production deployment persists these for operator review).
func (p *Pool) processDLQJob(ctx context.Context, job jobs.Job, logger *slog.Logger) {
	p.metrics.IncJobsProcessed()

	if p.isRecoverable(job) {
		err := p.handler.Recover(ctx, job)
		if err == nil {
			p.metrics.IncJobsSucceeded()
			logger.Info("dlq job recovered", slog.String("job_id", job.ID), slog.String("entity_key", job.EntityKey))
			return
		}
		p.metrics.IncGeneralErrors()
		logger.Error("dlq job requires manual intervention: recovery failed",
			slog.String("job_id", job.ID), slog.Any("job", job), slog.Any("error", err))
		return
	}

	p.metrics.IncGeneralErrors()
	logger.Error("dlq job has non-recoverable error, flagged for manual intervention",
		slog.String("job_id", job.ID), slog.Any("job", job))
}

func (p *Pool) runDepthSampler(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(depthSamplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			n, err := p.queue.Length(ctx, p.cfg.DLQQueueName)
			if err != nil {
				p.logger.Error("failed to sample dlq depth", slog.Any("error", err))
				continue
			}
			p.metrics.SetDLQDepth(n)
		}
	}
}

// Package uploadworker implements the upload consumer pool: N cooperating
// goroutines pulling jobs from the main queue, acquiring the per-entity
// lock, invoking the upload side effect, and deciding commit/retry/DLQ.
package uploadworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/jobs"
	"github.com/ventodeco/submission-intake/internal/lock"
	"github.com/ventodeco/submission-intake/internal/queue"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

// depthSamplePeriod matches spec §4.4's "queue-depth-sampler task (period:
// 60 s)".
const depthSamplePeriod = 60 * time.Second

// Pool is the upload consumer pool.
type Pool struct {
	cfg      config.WorkerConfig
	queue    *queue.Queue
	locker   *lock.Locker
	metrics  *workermetrics.Registry
	uploader Uploader
	logger   *slog.Logger

	shuttingDown atomic.Bool
	quit         chan struct{}
	wg           sync.WaitGroup
}

// New constructs the upload pool. uploader defaults to an HTTPUploader
// built from cfg.UploadHTTPTimeout when nil.
func New(cfg config.WorkerConfig, q *queue.Queue, locker *lock.Locker, metrics *workermetrics.Registry, uploader Uploader, logger *slog.Logger) *Pool {
	if uploader == nil {
		uploader = NewHTTPUploader(cfg.UploadHTTPTimeout)
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		locker:   locker,
		metrics:  metrics,
		uploader: uploader,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Start spawns MainThreadCount consumer goroutines and one depth-sampler
// goroutine, then returns.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MainThreadCount; i++ {
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
	logger := p.logger.With(slog.Int("consumer_id", id), slog.String("pool", "upload"))

	for {
		if p.shuttingDown.Load() {
			logger.Info("shutdown flag observed, exiting consumer loop")
			return
		}

		job, err := p.queue.Dequeue(ctx, p.cfg.MainQueueName, p.cfg.MainWaitInterval)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			logger.Error("dequeue error", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		p.process(ctx, *job, logger)
	}
}

// process implements spec §4.4's process(job) state machine, including
// the mandated redesign: re-enqueue on lock-miss instead of the source's
// silent drop.
func (p *Pool) process(ctx context.Context, job jobs.Job, logger *slog.Logger) {
	timer := p.metrics.StartTimer()
	defer timer.Stop()
	p.metrics.IncJobsProcessed()

	guard, err := p.locker.Acquire(ctx, job.EntityKey, p.cfg.LockRetryInterval, p.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			logger.Warn("lock acquire timed out, re-enqueueing job to preserve at-least-once",
				slog.String("job_id", job.ID), slog.String("entity_key", job.EntityKey))
			if reErr := p.queue.Enqueue(ctx, p.cfg.MainQueueName, job); reErr != nil {
				logger.Error("failed to re-enqueue job after lock-miss", slog.String("job_id", job.ID), slog.Any("error", reErr))
			}
			return
		}
		logger.Error("lock acquire broker error", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	defer func() {
		if _, relErr := guard.Release(ctx); relErr != nil {
			logger.Error("lock release error", slog.String("job_id", job.ID), slog.Any("error", relErr))
		}
	}()

	uploadErr := p.uploader.Upload(ctx, job)

	switch {
	case uploadErr == nil:
		p.metrics.IncJobsSucceeded()
		logger.Info("job succeeded", slog.String("job_id", job.ID), slog.String("entity_key", job.EntityKey))

	case errors.Is(uploadErr, ErrURLExpired):
		p.metrics.IncURLExpiredErrors()
		p.metrics.IncJobsMovedToDLQ()
		if err := p.queue.Enqueue(ctx, p.cfg.DLQQueueName, job); err != nil {
			logger.Error("failed to move expired job to dlq", slog.String("job_id", job.ID), slog.Any("error", err))
			return
		}
		logger.Warn("job url expired, moved to dlq", slog.String("job_id", job.ID), slog.String("entity_key", job.EntityKey))

	default:
		p.metrics.IncJobsFailed()
		p.metrics.IncGeneralErrors()
		job.IncrementRetry()
		if job.RetryCount < p.cfg.MaxRetry {
			if err := p.queue.Enqueue(ctx, p.cfg.MainQueueName, job); err != nil {
				logger.Error("failed to re-enqueue job after failure", slog.String("job_id", job.ID), slog.Any("error", err))
				return
			}
			logger.Warn("job failed, re-enqueued for retry",
				slog.String("job_id", job.ID), slog.Int("retry_count", job.RetryCount), slog.Any("error", uploadErr))
		} else {
			p.metrics.IncJobsMovedToDLQ()
			if job.Metadata == nil {
				job.Metadata = map[string]any{}
			}
			job.Metadata["error_type"] = "general_error"
			if err := p.queue.Enqueue(ctx, p.cfg.DLQQueueName, job); err != nil {
				logger.Error("failed to move exhausted job to dlq", slog.String("job_id", job.ID), slog.Any("error", err))
				return
			}
			logger.Error("job exhausted retries, moved to dlq",
				slog.String("job_id", job.ID), slog.Int("retry_count", job.RetryCount), slog.Any("error", uploadErr))
		}
	}
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
			n, err := p.queue.Length(ctx, p.cfg.MainQueueName)
			if err != nil {
				p.logger.Error("failed to sample main queue depth", slog.Any("error", err))
				continue
			}
			p.metrics.SetMainQueueDepth(n)
		}
	}
}

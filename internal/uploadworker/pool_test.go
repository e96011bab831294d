package uploadworker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/jobs"
	"github.com/ventodeco/submission-intake/internal/lock"
	"github.com/ventodeco/submission-intake/internal/queue"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

// stubUploader lets tests script upload outcomes per call.
type stubUploader struct {
	calls   atomic.Int64
	results []error
}

func (s *stubUploader) Upload(ctx context.Context, job jobs.Job) error {
	i := s.calls.Add(1) - 1
	if int(i) >= len(s.results) {
		return s.results[len(s.results)-1]
	}
	return s.results[i]
}

func testEnv(t *testing.T, maxRetry int) (*Pool, *queue.Queue, *workermetrics.Registry, *stubUploader, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.WorkerConfig{
		MainThreadCount:   1,
		MainWaitInterval:  50 * time.Millisecond,
		MaxRetry:          maxRetry,
		MainQueueName:     "main",
		DLQQueueName:      "dlq",
		LockTimeout:       time.Minute,
		LockRetryInterval: 5 * time.Millisecond,
	}
	q := queue.New(rdb)
	locker := lock.New(rdb, cfg.LockTimeout)
	metrics := workermetrics.New()
	uploader := &stubUploader{}
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	pool := New(cfg, q, locker, metrics, uploader, logger)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return pool, q, metrics, uploader, cleanup
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// S1 happy path.
func TestProcess_HappyPath(t *testing.T) {
	pool, _, metrics, uploader, cleanup := testEnv(t, 3)
	defer cleanup()
	uploader.results = []error{nil}

	job := jobs.New("E1", "http://ok/1", "doc.pdf", "application/pdf", nil)
	pool.process(context.Background(), job, pool.logger)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsProcessed)
	assert.Equal(t, int64(1), snap.JobsSucceeded)
	assert.Equal(t, int64(0), snap.DLQDepth)
}

// S2 transient failure then success.
func TestProcess_TransientFailureThenSuccess(t *testing.T) {
	pool, q, metrics, uploader, cleanup := testEnv(t, 3)
	defer cleanup()
	uploader.results = []error{&ErrUploadFailed{Msg: "boom"}, &ErrUploadFailed{Msg: "boom"}, nil}
	ctx := context.Background()

	job := jobs.New("E2", "http://ok/flaky", "doc.pdf", "application/pdf", nil)
	for i := 0; i < 3; i++ {
		pool.process(ctx, job, pool.logger)
		if i < 2 {
			got, err := q.Dequeue(ctx, "main", time.Second)
			require.NoError(t, err)
			require.NotNil(t, got)
			job = *got
		}
	}

	snap := metrics.Snapshot()
	assert.Equal(t, int64(3), snap.JobsProcessed)
	assert.Equal(t, int64(1), snap.JobsSucceeded)
	assert.Equal(t, int64(2), snap.GeneralErrors)
	assert.Equal(t, 2, job.RetryCount)

	dlqLen, err := q.Length(ctx, "dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqLen)
}

// S3 exhausted retries.
func TestProcess_ExhaustedRetriesMovesToDLQ(t *testing.T) {
	pool, q, metrics, uploader, cleanup := testEnv(t, 3)
	defer cleanup()
	ctx := context.Background()
	always := &ErrUploadFailed{Msg: "always fails"}
	uploader.results = []error{always, always, always}

	job := jobs.New("E3", "http://ok/always-fails", "doc.pdf", "application/pdf", nil)
	for i := 0; i < 3; i++ {
		pool.process(ctx, job, pool.logger)
		if job.RetryCount < 3 {
			if got, err := q.Dequeue(ctx, "main", 200*time.Millisecond); err == nil && got != nil {
				job = *got
			}
		}
	}

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsMovedToDLQ)
	assert.Equal(t, int64(3), snap.GeneralErrors)

	dlqLen, err := q.Length(ctx, "dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqLen)
}

// S4 expired URL.
func TestProcess_ExpiredURLMovesToDLQImmediately(t *testing.T) {
	pool, q, metrics, uploader, cleanup := testEnv(t, 3)
	defer cleanup()
	ctx := context.Background()
	// The expiry classification belongs to the upload side effect, so the
	// stub reports it the way HTTPUploader does for an "expired" URL.
	uploader.results = []error{ErrURLExpired}

	job := jobs.New("E4", "http://host/expired/doc", "doc.pdf", "application/pdf", nil)
	pool.process(ctx, job, pool.logger)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.URLExpiredErrors)
	assert.Equal(t, int64(1), snap.JobsMovedToDLQ)
	assert.Equal(t, 0, job.RetryCount)

	dlqLen, err := q.Length(ctx, "dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqLen)
}

// Lock-miss redesign: a job whose lock cannot be acquired is re-enqueued,
// not dropped.
func TestProcess_LockMissReEnqueues(t *testing.T) {
	pool, q, _, _, cleanup := testEnv(t, 3)
	defer cleanup()
	ctx := context.Background()

	// Hold the lock ourselves so the pool's Acquire times out quickly.
	_, err := pool.locker.Acquire(ctx, "E6", 5*time.Millisecond, time.Minute)
	require.NoError(t, err)

	// process uses cfg.LockTimeout as Acquire's maxWait; it is a minute in
	// testEnv, so shrink it for this test to get a near-immediate timeout.
	pool.cfg.LockTimeout = 20 * time.Millisecond

	job := jobs.New("E6", "http://ok/1", "doc.pdf", "application/pdf", nil)
	pool.process(ctx, job, pool.logger)

	got, err := q.Dequeue(ctx, "main", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

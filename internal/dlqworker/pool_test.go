package dlqworker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ventodeco/submission-intake/internal/config"
	"github.com/ventodeco/submission-intake/internal/jobs"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testPool(t *testing.T, handler RecoveryHandler) (*Pool, *workermetrics.Registry) {
	cfg := config.WorkerConfig{DLQThreadCount: 1, DLQWaitInterval: 50 * time.Millisecond, DLQQueueName: "dlq"}
	metrics := workermetrics.New()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	return New(cfg, nil, metrics, handler, logger), metrics
}

func TestIsRecoverable_ExpiredURL(t *testing.T) {
	pool, _ := testPool(t, nil)
	job := jobs.New("E1", "http://host/expired/doc", "d", "t", nil)
	assert.True(t, pool.isRecoverable(job))
}

func TestIsRecoverable_KnownErrorTypes(t *testing.T) {
	pool, _ := testPool(t, nil)
	for _, et := range []string{"temporary_network_error", "rate_limited", "service_unavailable"} {
		job := jobs.New("E1", "http://ok/1", "d", "t", map[string]any{"error_type": et})
		assert.True(t, pool.isRecoverable(job), et)
	}
}

func TestIsRecoverable_UnknownErrorTypeIsNonRecoverable(t *testing.T) {
	pool, _ := testPool(t, nil)
	job := jobs.New("E1", "http://ok/1", "d", "t", map[string]any{"error_type": "some_other_thing"})
	assert.False(t, pool.isRecoverable(job))
}

type stubHandler struct {
	err error
}

func (h *stubHandler) Recover(ctx context.Context, job jobs.Job) error { return h.err }

func TestProcessDLQJob_RecoverableSuccessIncrementsSucceeded(t *testing.T) {
	pool, metrics := testPool(t, &stubHandler{err: nil})
	job := jobs.New("E1", "http://host/expired/doc", "d", "t", nil)
	pool.processDLQJob(context.Background(), job, pool.logger)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsProcessed)
	assert.Equal(t, int64(1), snap.JobsSucceeded)
	assert.Equal(t, int64(0), snap.GeneralErrors)
}

func TestProcessDLQJob_RecoverableFailureLogsAndDrops(t *testing.T) {
	pool, metrics := testPool(t, &stubHandler{err: errors.New("refresh failed")})
	job := jobs.New("E1", "http://host/expired/doc", "d", "t", nil)
	pool.processDLQJob(context.Background(), job, pool.logger)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsProcessed)
	assert.Equal(t, int64(0), snap.JobsSucceeded)
	assert.Equal(t, int64(1), snap.GeneralErrors)
}

func TestProcessDLQJob_NonRecoverableLogsAndDrops(t *testing.T) {
	pool, metrics := testPool(t, nil)
	job := jobs.New("E1", "http://ok/1", "d", "t", nil)
	pool.processDLQJob(context.Background(), job, pool.logger)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.JobsProcessed)
	assert.Equal(t, int64(0), snap.JobsSucceeded)
	assert.Equal(t, int64(1), snap.GeneralErrors)
}

func TestDefaultRecoveryHandler_NoStrategyForNonExpired(t *testing.T) {
	h := &DefaultRecoveryHandler{}
	job := jobs.New("E1", "http://ok/1", "d", "t", nil)
	err := h.Recover(context.Background(), job)
	assert.Error(t, err)
}

func TestDefaultRecoveryHandler_RefreshSucceedsForExpired(t *testing.T) {
	called := false
	h := &DefaultRecoveryHandler{
		Refresh: func(ctx context.Context, job jobs.Job) error {
			called = true
			return nil
		},
	}
	job := jobs.New("E1", "http://host/expired/doc", "d", "t", nil)
	err := h.Recover(context.Background(), job)
	assert.NoError(t, err)
	assert.True(t, called)
}

package supervisor

import (
	"context"
	"log/slog"
	"sync"
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
	"github.com/ventodeco/submission-intake/internal/uploadworker"
	"github.com/ventodeco/submission-intake/internal/workermetrics"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// trackingUploader lets S5/S6 tests observe overlap and hold
// in-flight work open until released.
type trackingUploader struct {
	mu       sync.Mutex
	active   int
	maxSeen  int
	hold     chan struct{}
}

func (u *trackingUploader) Upload(ctx context.Context, job jobs.Job) error {
	u.mu.Lock()
	u.active++
	if u.active > u.maxSeen {
		u.maxSeen = u.active
	}
	u.mu.Unlock()

	if u.hold != nil {
		select {
		case <-u.hold:
		case <-ctx.Done():
		}
	} else {
		time.Sleep(20 * time.Millisecond)
	}

	u.mu.Lock()
	u.active--
	u.mu.Unlock()
	return nil
}

func newTestSupervisor(t *testing.T, uploader uploadworker.Uploader) (*Supervisor, *queue.Queue, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.WorkerConfig{
		AppMode:                 "worker",
		MainThreadCount:         2,
		MainWaitInterval:        30 * time.Millisecond,
		MaxRetry:                3,
		DLQThreadCount:          1,
		DLQWaitInterval:         30 * time.Millisecond,
		MainQueueName:           "main",
		DLQQueueName:            "dlq",
		LockTimeout:             time.Minute,
		LockRetryInterval:       5 * time.Millisecond,
		GracefulShutdownTimeout: time.Second,
	}
	q := queue.New(rdb)
	locker := lock.New(rdb, cfg.LockTimeout)
	metrics := workermetrics.New()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	sup := New(cfg, q, locker, metrics, uploader, nil, logger)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return sup, q, cleanup
}

// S5 mutual exclusion: two jobs sharing an entity key never upload
// concurrently.
func TestSupervisor_MutualExclusionAcrossConsumers(t *testing.T) {
	uploader := &trackingUploader{}
	sup, q, cleanup := newTestSupervisor(t, uploader)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j1 := jobs.New("E5", "http://ok/1", "d", "t", nil)
	j2 := jobs.New("E5", "http://ok/2", "d", "t", nil)
	require.NoError(t, q.Enqueue(ctx, "main", j1))
	require.NoError(t, q.Enqueue(ctx, "main", j2))

	sup.Start(ctx)

	assert.Eventually(t, func() bool {
		uploader.mu.Lock()
		defer uploader.mu.Unlock()
		return uploader.maxSeen >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	uploader.mu.Lock()
	maxSeen := uploader.maxSeen
	uploader.mu.Unlock()
	assert.Equal(t, 1, maxSeen)

	sup.SignalShutdown()
	cancel()
}

// S6 graceful shutdown: in-flight jobs complete and AwaitShutdown returns
// success within the deadline.
func TestSupervisor_GracefulShutdownDrainsInFlightJobs(t *testing.T) {
	uploader := &trackingUploader{hold: make(chan struct{})}
	sup, q, cleanup := newTestSupervisor(t, uploader)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j1 := jobs.New("E6a", "http://ok/1", "d", "t", nil)
	j2 := jobs.New("E6b", "http://ok/2", "d", "t", nil)
	require.NoError(t, q.Enqueue(ctx, "main", j1))
	require.NoError(t, q.Enqueue(ctx, "main", j2))

	sup.Start(ctx)

	assert.Eventually(t, func() bool {
		uploader.mu.Lock()
		defer uploader.mu.Unlock()
		return uploader.active == 2
	}, 2*time.Second, 10*time.Millisecond)

	sup.SignalShutdown()

	// Let in-flight uploads finish shortly after shutdown is signaled.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(uploader.hold)
	}()

	err := sup.AwaitShutdown(ctx)
	assert.NoError(t, err)
}

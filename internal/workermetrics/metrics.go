// Package workermetrics is the process-wide metrics registry for the
// background file-upload job system: lock-free atomic counters and
// gauges, a timer handle, a periodic logger, and a thin Prometheus bridge.
package workermetrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter and gauge named in the spec. All
// increment/set operations are lock-free.
type Registry struct {
	jobsProcessed         atomic.Int64
	jobsSucceeded         atomic.Int64
	jobsFailed            atomic.Int64
	jobsMovedToDLQ        atomic.Int64
	urlExpiredErrors      atomic.Int64
	generalErrors         atomic.Int64
	totalProcessingTimeMs atomic.Int64

	mainQueueDepth atomic.Int64
	dlqDepth       atomic.Int64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Timer records elapsed wall-clock time into TotalProcessingTimeMs when
// Stop is called. Acquired at the start of process and disposed (via
// defer) on every exit path.
type Timer struct {
	reg   *Registry
	start time.Time
}

// StartTimer begins timing a process() call.
func (r *Registry) StartTimer() *Timer {
	return &Timer{reg: r, start: time.Now()}
}

// Stop records the elapsed duration. Safe to call at most once; calling it
// multiple times would double-count, so callers should invoke it via a
// single defer.
func (t *Timer) Stop() {
	t.reg.totalProcessingTimeMs.Add(time.Since(t.start).Milliseconds())
}

func (r *Registry) IncJobsProcessed()    { r.jobsProcessed.Add(1) }
func (r *Registry) IncJobsSucceeded()    { r.jobsSucceeded.Add(1) }
func (r *Registry) IncJobsFailed()       { r.jobsFailed.Add(1) }
func (r *Registry) IncJobsMovedToDLQ()   { r.jobsMovedToDLQ.Add(1) }
func (r *Registry) IncURLExpiredErrors() { r.urlExpiredErrors.Add(1) }
func (r *Registry) IncGeneralErrors()    { r.generalErrors.Add(1) }

// SetMainQueueDepth and SetDLQDepth are called by the depth samplers.
func (r *Registry) SetMainQueueDepth(n int64) { r.mainQueueDepth.Store(n) }
func (r *Registry) SetDLQDepth(n int64)       { r.dlqDepth.Store(n) }

// Snapshot is an immutable read of every counter/gauge at one instant.
type Snapshot struct {
	JobsProcessed         int64
	JobsSucceeded         int64
	JobsFailed            int64
	JobsMovedToDLQ        int64
	URLExpiredErrors      int64
	GeneralErrors         int64
	TotalProcessingTimeMs int64
	MainQueueDepth        int64
	DLQDepth              int64
}

// Snapshot reads every counter/gauge without blocking concurrent writers.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		JobsProcessed:         r.jobsProcessed.Load(),
		JobsSucceeded:         r.jobsSucceeded.Load(),
		JobsFailed:            r.jobsFailed.Load(),
		JobsMovedToDLQ:        r.jobsMovedToDLQ.Load(),
		URLExpiredErrors:      r.urlExpiredErrors.Load(),
		GeneralErrors:         r.generalErrors.Load(),
		TotalProcessingTimeMs: r.totalProcessingTimeMs.Load(),
		MainQueueDepth:        r.mainQueueDepth.Load(),
		DLQDepth:              r.dlqDepth.Load(),
	}
}

// AvgTimeMs and ErrorRate derive from a Snapshot as specced: avg_time_ms =
// total_processing_time_ms / max(1, jobs_processed); error_rate =
// jobs_failed / max(1, jobs_processed).
func (s Snapshot) AvgTimeMs() float64 {
	return float64(s.TotalProcessingTimeMs) / float64(max64(1, s.JobsProcessed))
}

func (s Snapshot) ErrorRate() float64 {
	return float64(s.JobsFailed) / float64(max64(1, s.JobsProcessed))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// dlqDepthWarnThreshold and errorRateWarnThreshold are the spec's fixed
// warning thresholds (DLQ depth > 10, error rate > 10%).
const (
	dlqDepthWarnThreshold  = 10
	errorRateWarnThreshold = 0.10
)

// LogSnapshot emits a single structured log record summarizing the
// current counters, warning at error severity when DLQ depth or error
// rate crosses its fixed threshold.
func (r *Registry) LogSnapshot(logger *slog.Logger) {
	snap := r.Snapshot()
	attrs := []any{
		slog.Int64("jobs_processed", snap.JobsProcessed),
		slog.Int64("jobs_succeeded", snap.JobsSucceeded),
		slog.Int64("jobs_failed", snap.JobsFailed),
		slog.Int64("jobs_moved_to_dlq", snap.JobsMovedToDLQ),
		slog.Int64("url_expired_errors", snap.URLExpiredErrors),
		slog.Int64("general_errors", snap.GeneralErrors),
		slog.Float64("avg_time_ms", snap.AvgTimeMs()),
		slog.Float64("error_rate", snap.ErrorRate()),
		slog.Int64("main_queue_depth", snap.MainQueueDepth),
		slog.Int64("dlq_depth", snap.DLQDepth),
	}
	logger.Info("worker metrics snapshot", attrs...)

	if snap.DLQDepth > dlqDepthWarnThreshold {
		logger.Error("dlq depth exceeds threshold", slog.Int64("dlq_depth", snap.DLQDepth), slog.Int("threshold", dlqDepthWarnThreshold))
	}
	if snap.ErrorRate() > errorRateWarnThreshold {
		logger.Error("error rate exceeds threshold", slog.Float64("error_rate", snap.ErrorRate()), slog.Float64("threshold", errorRateWarnThreshold))
	}
}

// RunLogger runs LogSnapshot every period until ctx is done. Intended to
// be launched as the supervisor's metrics logger goroutine.
func (r *Registry) RunLogger(ctx context.Context, period time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.LogSnapshot(logger)
		}
	}
}

// Collector bridges the atomic counters to Prometheus for scrape-ability.
// The atomics remain the source of truth (spec requires lock-free
// increments); this collector only reads them on each scrape.
type Collector struct {
	reg *Registry

	jobsProcessed    *prometheus.Desc
	jobsSucceeded    *prometheus.Desc
	jobsFailed       *prometheus.Desc
	jobsMovedToDLQ   *prometheus.Desc
	urlExpiredErrors *prometheus.Desc
	generalErrors    *prometheus.Desc
	processingTimeMs *prometheus.Desc
	mainQueueDepth   *prometheus.Desc
	dlqDepth         *prometheus.Desc
}

// NewCollector wraps reg as a prometheus.Collector.
func NewCollector(reg *Registry) *Collector {
	return &Collector{
		reg:              reg,
		jobsProcessed:    prometheus.NewDesc("upload_worker_jobs_processed_total", "Total jobs processed", nil, nil),
		jobsSucceeded:    prometheus.NewDesc("upload_worker_jobs_succeeded_total", "Total jobs succeeded", nil, nil),
		jobsFailed:       prometheus.NewDesc("upload_worker_jobs_failed_total", "Total jobs failed", nil, nil),
		jobsMovedToDLQ:   prometheus.NewDesc("upload_worker_jobs_moved_to_dlq_total", "Total jobs moved to the DLQ", nil, nil),
		urlExpiredErrors: prometheus.NewDesc("upload_worker_url_expired_errors_total", "Total URL-expired errors", nil, nil),
		generalErrors:    prometheus.NewDesc("upload_worker_general_errors_total", "Total general errors", nil, nil),
		processingTimeMs: prometheus.NewDesc("upload_worker_processing_time_ms_total", "Total processing time across all jobs, in milliseconds", nil, nil),
		mainQueueDepth:   prometheus.NewDesc("upload_worker_main_queue_depth", "Current main queue depth", nil, nil),
		dlqDepth:         prometheus.NewDesc("upload_worker_dlq_depth", "Current DLQ depth", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsProcessed
	ch <- c.jobsSucceeded
	ch <- c.jobsFailed
	ch <- c.jobsMovedToDLQ
	ch <- c.urlExpiredErrors
	ch <- c.generalErrors
	ch <- c.processingTimeMs
	ch <- c.mainQueueDepth
	ch <- c.dlqDepth
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reg.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.jobsProcessed, prometheus.CounterValue, float64(snap.JobsProcessed))
	ch <- prometheus.MustNewConstMetric(c.jobsSucceeded, prometheus.CounterValue, float64(snap.JobsSucceeded))
	ch <- prometheus.MustNewConstMetric(c.jobsFailed, prometheus.CounterValue, float64(snap.JobsFailed))
	ch <- prometheus.MustNewConstMetric(c.jobsMovedToDLQ, prometheus.CounterValue, float64(snap.JobsMovedToDLQ))
	ch <- prometheus.MustNewConstMetric(c.urlExpiredErrors, prometheus.CounterValue, float64(snap.URLExpiredErrors))
	ch <- prometheus.MustNewConstMetric(c.generalErrors, prometheus.CounterValue, float64(snap.GeneralErrors))
	ch <- prometheus.MustNewConstMetric(c.processingTimeMs, prometheus.CounterValue, float64(snap.TotalProcessingTimeMs))
	ch <- prometheus.MustNewConstMetric(c.mainQueueDepth, prometheus.GaugeValue, float64(snap.MainQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.dlqDepth, prometheus.GaugeValue, float64(snap.DLQDepth))
}

// Package metrics exposes Prometheus collectors for sync runs and an HTTP
// router serving them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ytsheets/pipeline"
	"ytsheets/quota"
)

const namespace = "ytsheets"

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	QuotaUnits          prometheus.Counter
	QuotaStatus         prometheus.Gauge
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	DuplicatesPrevented prometheus.Counter
	VideosWritten       prometheus.Counter
	VideosProcessed     prometheus.Counter
	ChannelErrors       prometheus.Counter
	Runs                *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	LastRunTimestamp    prometheus.Gauge

	mu      sync.RWMutex
	lastRun *pipeline.RunResult
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		QuotaUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_units_total",
			Help:      "YouTube Data API quota units consumed.",
		}),
		QuotaStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_status",
			Help:      "Quota health: 0 healthy, 1 warning, 2 critical, 3 exhausted.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "API responses revalidated as not modified.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "API responses fetched fresh.",
		}),
		DuplicatesPrevented: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_prevented_total",
			Help:      "Videos skipped because they were already written.",
		}),
		VideosWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_written_total",
			Help:      "Rows appended to the destination sheet.",
		}),
		VideosProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_processed_total",
			Help:      "Hydrated videos fetched from channels.",
		}),
		ChannelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Channels that failed during a run.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs, by status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.registry.MustRegister(
		m.QuotaUnits,
		m.QuotaStatus,
		m.CacheHits,
		m.CacheMisses,
		m.DuplicatesPrevented,
		m.VideosWritten,
		m.VideosProcessed,
		m.ChannelErrors,
		m.Runs,
		m.RunDuration,
		m.LastRunTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TrackQuota exports the tracker's remaining units as a live gauge.
func (m *Metrics) TrackQuota(t *quota.Tracker) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_remaining_units",
			Help:      "Quota units left in today's budget.",
		},
		func() float64 {
			return float64(t.Snapshot().Remaining())
		},
	))
}

// QuotaObserver returns a hook for quota.WithObserver.
func (m *Metrics) QuotaObserver() func(units int, status quota.Status) {
	return func(units int, status quota.Status) {
		m.QuotaUnits.Add(float64(units))
		m.QuotaStatus.Set(float64(status))
	}
}

// CacheHooks returns the hit and miss hooks for cache.WithHooks.
func (m *Metrics) CacheHooks() (onHit, onMiss func()) {
	return m.CacheHits.Inc, m.CacheMisses.Inc
}

// PreventedHook returns a hook for dedup.WithPreventedHook.
func (m *Metrics) PreventedHook() func(n int) {
	return func(n int) { m.DuplicatesPrevented.Add(float64(n)) }
}

// ObserveRun records a finished run. It fits pipeline.WithRunObserver.
func (m *Metrics) ObserveRun(res *pipeline.RunResult) {
	m.Runs.WithLabelValues(string(res.Status)).Inc()
	m.RunDuration.Observe(res.DurationSeconds)
	m.VideosWritten.Add(float64(res.VideosWritten))
	m.VideosProcessed.Add(float64(res.VideosProcessed))
	m.ChannelErrors.Add(float64(res.ChannelErrors()))
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	m.LastRunTimestamp.Set(float64(finished.Unix()))

	m.mu.Lock()
	m.lastRun = res
	m.mu.Unlock()
}

// LastRun returns the most recently observed run, or nil.
func (m *Metrics) LastRun() *pipeline.RunResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun
}

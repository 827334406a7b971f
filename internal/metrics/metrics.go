// Package metrics exposes Prometheus instrumentation for the intake and
// analysis pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelscout"

// Metrics holds every pipeline collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SearchTasks        *prometheus.CounterVec
	CandidatesFetched  prometheus.Counter
	VideosSaved        prometheus.Counter
	CandidatesSkipped  *prometheus.CounterVec
	SearchFallbacks    prometheus.Counter
	AcquisitionRuns    *prometheus.CounterVec
	AcquisitionSeconds prometheus.Histogram
	CleanupFailures    prometheus.Counter
	QueueJobs          *prometheus.CounterVec
	MetricsRefreshes   *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPSeconds        *prometheus.HistogramVec
}

// New registers the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SearchTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "tasks_total",
			Help:      "Search task runs by terminal status.",
		}, []string{"status"}),
		CandidatesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "candidates_fetched_total",
			Help:      "Video candidates retained after filtering.",
		}),
		VideosSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "videos_saved_total",
			Help:      "Candidates persisted as videos.",
		}),
		CandidatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "candidates_skipped_total",
			Help:      "Candidates skipped by reason.",
		}, []string{"reason"}),
		SearchFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "general_fallbacks_total",
			Help:      "Times the general keyword search replaced the hashtag search.",
		}),
		AcquisitionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "runs_total",
			Help:      "Video acquisition runs by outcome.",
		}, []string{"outcome"}),
		AcquisitionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "duration_seconds",
			Help:      "Wall time of a full acquisition run.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		CleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "cleanup_failures_total",
			Help:      "Temporary files that could not be removed.",
		}),
		QueueJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Queue jobs handled by queue and outcome.",
		}, []string{"queue", "outcome"}),
		MetricsRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "videos_total",
			Help:      "Metrics refresh attempts by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskFinished counts a search task by its terminal status.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.SearchTasks.WithLabelValues(status).Inc()
}

// Fetched adds retained candidates.
func (m *Metrics) Fetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CandidatesFetched.Add(float64(n))
}

// Saved counts one persisted video.
func (m *Metrics) Saved() {
	if m == nil {
		return
	}
	m.VideosSaved.Inc()
}

// Skipped counts a rejected candidate.
func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.CandidatesSkipped.WithLabelValues(reason).Inc()
}

// Fallback counts a general-search fallback.
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.SearchFallbacks.Inc()
}

// Acquisition records one acquisition run.
func (m *Metrics) Acquisition(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AcquisitionRuns.WithLabelValues(outcome).Inc()
	m.AcquisitionSeconds.Observe(elapsed.Seconds())
}

// CleanupFailed counts files left behind by an acquisition run.
func (m *Metrics) CleanupFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanupFailures.Add(float64(n))
}

// Job counts one queue job.
func (m *Metrics) Job(queue, outcome string) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(queue, outcome).Inc()
}

// Refreshed counts one metrics refresh.
func (m *Metrics) Refreshed(outcome string) {
	if m == nil {
		return
	}
	m.MetricsRefreshes.WithLabelValues(outcome).Inc()
}

// Request records one served HTTP request.
func (m *Metrics) Request(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Package metrics provides Prometheus metrics for backup jobs, volumes and
// the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pibackup/internal/backup"
)

const namespace = "pibackup"

// Collector holds the collectors of one registry. It implements
// backup.Metrics.
type Collector struct {
	registry *prometheus.Registry

	// Job metrics
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobRunning   prometheus.Gauge
	runsRefused  *prometheus.CounterVec

	// Volume metrics
	volumesConnected prometheus.Gauge
	volumeBytes      *prometheus.GaugeVec

	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Collector on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of backup jobs started",
		}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of backup jobs finished, by status and hash verification",
		}, []string{"status", "hash_match"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Backup job duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		jobRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a backup job is running",
		}),
		runsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_refused_total",
			Help:      "Backup requests that did not start a job, by outcome",
		}, []string{"outcome"}),

		volumesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volumes_connected",
			Help:      "Number of volumes under the mount base",
		}),
		volumeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volume_bytes",
			Help:      "Volume capacity in bytes, by volume and kind (total, used, free)",
		}, []string{"volume", "kind"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// JobStarted records the start of a job.
func (c *Collector) JobStarted() {
	c.jobsStarted.Inc()
	c.jobRunning.Set(1)
}

// JobFinished records a finished job.
func (c *Collector) JobFinished(result *backup.JobResult) {
	c.jobRunning.Set(0)
	if result == nil {
		return
	}
	c.jobsFinished.WithLabelValues(result.Status, strconv.FormatBool(result.HashMatch)).Inc()
	if !result.StartTime.IsZero() && !result.EndTime.IsZero() {
		c.jobDuration.Observe(result.EndTime.Sub(result.StartTime).Seconds())
	}
}

// RunRejected records a backup request that did not start a job.
func (c *Collector) RunRejected(outcome backup.RunOutcome) {
	c.runsRefused.WithLabelValues(string(outcome)).Inc()
}

// VolumesObserved replaces the volume gauges with the given listing.
func (c *Collector) VolumesObserved(volumes []*backup.Volume) {
	c.volumesConnected.Set(float64(len(volumes)))
	c.volumeBytes.Reset()
	for _, v := range volumes {
		c.volumeBytes.WithLabelValues(v.Name, "total").Set(float64(v.Capacity.Total))
		c.volumeBytes.WithLabelValues(v.Name, "used").Set(float64(v.Capacity.Used))
		c.volumeBytes.WithLabelValues(v.Name, "free").Set(float64(v.Capacity.Free))
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled with the matched chi route pattern to keep cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		c.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}

var _ backup.Metrics = (*Collector)(nil)

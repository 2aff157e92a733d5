package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of optimization jobs enqueued",
		},
		[]string{"algorithm"},
	)
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently in STARTED state",
		},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs reaching SUCCESS",
		},
		[]string{"algorithm"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs reaching FAILURE, by error kind",
		},
		[]string{"algorithm", "kind"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall-clock duration of one optimization job",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
		[]string{"algorithm"},
	)

	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_streams_active",
			Help: "Open progress stream connections",
		},
	)
	StreamOverflowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sse_stream_overflows_total",
			Help: "Subscribers disconnected because their buffer overflowed",
		},
	)

	SandboxRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_runs_total",
			Help: "Sandbox executions by outcome kind (ok or error kind)",
		},
		[]string{"outcome"},
	)
	SandboxRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandbox_run_duration_seconds",
			Help:    "Wall-clock duration of one sandbox execution",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(StreamsActive)
	prometheus.MustRegister(StreamOverflowsTotal)
	prometheus.MustRegister(SandboxRunsTotal)
	prometheus.MustRegister(SandboxRunDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob records a submission accepted onto the queue.
func EnqueueJob(algorithm string) {
	JobsEnqueuedTotal.WithLabelValues(algorithm).Inc()
}

// StartJob marks a job entering STARTED.
func StartJob() { JobsRunning.Inc() }

// CompleteJob marks a terminal SUCCESS.
func CompleteJob(algorithm string, dur time.Duration) {
	JobsRunning.Dec()
	JobsCompletedTotal.WithLabelValues(algorithm).Inc()
	JobDuration.WithLabelValues(algorithm).Observe(dur.Seconds())
}

// FailJob marks a terminal FAILURE with its error kind.
func FailJob(algorithm, kind string, dur time.Duration) {
	JobsRunning.Dec()
	JobsFailedTotal.WithLabelValues(algorithm, kind).Inc()
	JobDuration.WithLabelValues(algorithm).Observe(dur.Seconds())
}

// ObserveSandboxRun records one sandbox execution outcome.
func ObserveSandboxRun(outcome string, dur time.Duration) {
	SandboxRunsTotal.WithLabelValues(outcome).Inc()
	SandboxRunDuration.Observe(dur.Seconds())
}

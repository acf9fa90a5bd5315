// Copyright 2025 James Ross
package obs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rivergate/jobqueue/internal/config"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by queue and class",
	}, []string{"queue", "class"})

	JobsDequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_jobs_dequeued_total",
		Help: "Total number of jobs claimed by a worker, by queue and class",
	}, []string{"queue", "class"})

	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_jobs_completed_total",
		Help: "Total number of jobs that completed successfully, by queue and class",
	}, []string{"queue", "class"})

	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_jobs_failed_total",
		Help: "Total number of jobs that failed, by queue and class",
	}, []string{"queue", "class"})

	JobsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_jobs_cancelled_total",
		Help: "Total number of jobs cancelled by class",
	}, []string{"class"})

	JobsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobqueue_jobs_requeued_total",
		Help: "Total number of stalled or failed jobs moved back to queued",
	})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobqueue_job_duration_seconds",
		Help:    "Time spent executing a job handler",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "class"})

	HandlerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobqueue_handler_panics_total",
		Help: "Total number of handler invocations that recovered from a panic",
	}, []string{"class"})

	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobqueue_workers_active",
		Help: "Number of worker goroutines currently running",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsDequeued, JobsCompleted, JobsFailed, JobsCancelled,
		JobsRequeued, JobDuration, HandlerPanics, WorkersActive,
	)
}

// StartMetricsServer exposes /metrics, /healthz, and /readyz on
// cfg.Observability.MetricsPort and returns the server for the caller
// to shut down on exit. readiness, when non-nil, gates /readyz on a
// caller-supplied liveness check (e.g. backend.Ping).
func StartMetricsServer(cfg *config.Config, readiness func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness != nil {
			if err := readiness(r.Context()); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Copyright 2025 James Ross

// Package adminapi exposes the admin package's operations over HTTP
// using gorilla/mux, for deployments that want to drive stats, job
// listing, cancellation, requeues, and purges from a dashboard instead of
// the jobqueue-admin CLI. Dump and import are not exposed over HTTP.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rivergate/jobqueue/internal/admin"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
)

var errRateLimited = errors.New("adminapi: rate limit exceeded, retry later")

// Server wraps a queue.Backend with an HTTP admin surface.
type Server struct {
	backend queue.Backend
	log     *zap.Logger
	router  *mux.Router
	limiter *rate.Limiter
}

// NewServer builds the admin HTTP router. Call Handler to mount it or
// ListenAndServe to run it standalone. The mutating routes (cancel,
// requeue, purge) are rate limited to requestsPerSecond (with a matching
// burst) to keep a misbehaving dashboard client from hammering them; the
// read-only routes are not limited. Pass 0 to disable limiting.
func NewServer(backend queue.Backend, log *zap.Logger, requestsPerSecond int) *Server {
	s := &Server{backend: backend, log: log, router: mux.NewRouter()}
	if requestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
	s.routes()
	return s
}

func (s *Server) requestID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	return id
}

func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.requestID(w, r)
			s.writeError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next(w, r)
	}
}

func (s *Server) routes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.requestID(w, r)
			next.ServeHTTP(w, r)
		})
	})
	s.router.HandleFunc("/healthz", s.handlePing).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/peek/{queue}", s.handlePeek).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs", s.handleGetJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/cancel/{name}", s.rateLimit(s.handleCancel)).Methods(http.MethodPost)
	s.router.HandleFunc("/requeue", s.rateLimit(s.handleRequeue)).Methods(http.MethodPost)
	s.router.HandleFunc("/purge", s.rateLimit(s.handlePurge)).Methods(http.MethodPost)
}

// Handler returns the mux router so callers can mount it under their
// own *http.Server alongside other routes.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the admin API standalone on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("admin api: encode response failed", obs.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := admin.Ping(r.Context(), s.backend); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := admin.Stats(r.Context(), s.backend)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	jobs, err := admin.Peek(r.Context(), s.backend, queueName, n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	var filter queue.JobFilter
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Statuses = []queue.Status{queue.Status(v)}
	}
	if v := r.URL.Query().Get("age_days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.AgeDays = parsed
		}
	}
	jobs, err := admin.GetJobs(r.Context(), s.backend, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if glob := r.URL.Query().Get("name_glob"); glob != "" {
		jobs, err = admin.FilterByNameGlob(jobs, glob)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	track := r.URL.Query().Get("track_cancelled") == "true"
	if err := admin.CancelJobsByName(r.Context(), s.backend, name, queue.CancelOptions{TrackCancelled: track}); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	ageMinutes := 5
	if v := r.URL.Query().Get("age_minutes"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			ageMinutes = parsed
		}
	}
	if err := admin.Requeue(r.Context(), s.backend, ageMinutes); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := admin.PurgeAll(r.Context(), s.backend); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

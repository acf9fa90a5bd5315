// Copyright 2025 James Ross
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/backend/memqueue"
	"github.com/rivergate/jobqueue/internal/queue"
)

func newTestServer(t *testing.T) (*Server, *memqueue.Backend) {
	t.Helper()
	b := memqueue.New()
	return NewServer(b, zap.NewNop(), 0), b
}

func TestHandlePingReturnsOKAndRequestID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}

func TestHandlePingEchoesInboundRequestID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestHandleStatsReportsEnqueuedJob(t *testing.T) {
	s, b := newTestServer(t)
	if _, err := b.Enqueue(context.Background(), "SendReport", "default", nil, nil); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected 1 total job, got %d", stats.Total)
	}
}

func TestHandleGetJobsFiltersByNameGlob(t *testing.T) {
	s, b := newTestServer(t)
	ctx := context.Background()
	if _, err := b.Enqueue(ctx, "DeliverEmail", "default", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Enqueue(ctx, "Cleanup", "default", nil, nil); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs?name_glob=Deliver*", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var jobs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Name != "DeliverEmail" {
		t.Fatalf("expected only DeliverEmail to match, got %v", jobs)
	}
}

func TestHandlePurgeClearsBackend(t *testing.T) {
	s, b := newTestServer(t)
	ctx := context.Background()
	if _, err := b.Enqueue(ctx, "SendReport", "default", nil, nil); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/purge", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	jobs, err := b.GetJobs(ctx, queue.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty backend after purge, got %v", jobs)
	}
}

func TestRateLimitRejectsBurstOverLimit(t *testing.T) {
	b := memqueue.New()
	s := NewServer(b, zap.NewNop(), 1)

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/purge", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		lastCode = rec.Code
		if rec.Code == http.StatusTooManyRequests {
			break
		}
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected a 429 within the burst, last code was %d", lastCode)
	}
}

// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/backend/memqueue"
	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/queue"
	"github.com/rivergate/jobqueue/internal/registry"
)

type pingArgs struct {
	Fail bool `json:"fail"`
}

type pingHandler struct {
	calls chan string
}

func (h pingHandler) Perform(ctx context.Context, args pingArgs) error {
	if args.Fail {
		return fmt.Errorf("ping: told to fail")
	}
	h.calls <- "ok"
	return nil
}

func testConfig(queues []string) *config.Config {
	cfg := &config.Config{}
	cfg.Worker.Count = 1
	cfg.Worker.Queues = queues
	cfg.Worker.PollInterval = 5 * time.Millisecond
	cfg.Worker.ShutdownTimeout = 500 * time.Millisecond
	return cfg
}

func TestPoolDispatchesAndCompletes(t *testing.T) {
	backend := memqueue.New()
	reg := registry.New()
	calls := make(chan string, 1)
	if err := registry.Register[pingArgs](reg, "Ping", pingHandler{calls: calls}); err != nil {
		t.Fatal(err)
	}

	job, err := backend.Enqueue(context.Background(), "Ping", "default", []byte(`{"fail":false}`), nil)
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	pool := New(testConfig([]string{"default"}), backend, reg, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	jobs, err := backend.GetJobs(context.Background(), queue.JobFilter{Statuses: []queue.Status{queue.StatusCompleted}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected job %s marked completed, got %v", job.ID, jobs)
	}
}

func TestPoolFailsJobOnHandlerError(t *testing.T) {
	backend := memqueue.New()
	reg := registry.New()
	calls := make(chan string, 1)
	if err := registry.Register[pingArgs](reg, "Ping", pingHandler{calls: calls}); err != nil {
		t.Fatal(err)
	}

	job, err := backend.Enqueue(context.Background(), "Ping", "default", []byte(`{"fail":true}`), nil)
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	pool := New(testConfig([]string{"default"}), backend, reg, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		jobs, err := backend.GetJobs(context.Background(), queue.JobFilter{Statuses: []queue.Status{queue.StatusFailed}})
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) == 1 && jobs[0].ID == job.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was never marked failed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPoolFailsJobWithNoRegisteredHandler(t *testing.T) {
	backend := memqueue.New()
	reg := registry.New()

	job, err := backend.Enqueue(context.Background(), "Unknown", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	pool := New(testConfig([]string{"default"}), backend, reg, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		jobs, err := backend.GetJobs(context.Background(), queue.JobFilter{Statuses: []queue.Status{queue.StatusFailed}})
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) == 1 && jobs[0].ID == job.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatal("orphaned job was never failed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

type panicHandler struct{}

func (panicHandler) Perform(ctx context.Context, args pingArgs) error {
	panic("boom")
}

func TestPoolIsolatesHandlerPanic(t *testing.T) {
	backend := memqueue.New()
	reg := registry.New()
	if err := registry.Register[pingArgs](reg, "Boom", panicHandler{}); err != nil {
		t.Fatal(err)
	}

	job, err := backend.Enqueue(context.Background(), "Boom", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	pool := New(testConfig([]string{"default"}), backend, reg, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		jobs, err := backend.GetJobs(context.Background(), queue.JobFilter{Statuses: []queue.Status{queue.StatusFailed}})
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) == 1 && jobs[0].ID == job.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatal("panicking handler never resulted in a failed job")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPoolSealsRegistryOnRun(t *testing.T) {
	backend := memqueue.New()
	reg := registry.New()
	log := zap.NewNop()
	pool := New(testConfig([]string{"default"}), backend, reg, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// Give Run a moment to seal the registry before we probe it.
	time.Sleep(20 * time.Millisecond)
	if err := registry.Register[pingArgs](reg, "Late", pingHandler{calls: make(chan string, 1)}); err == nil {
		t.Fatal("expected registration after Run to fail")
	}

	cancel()
	<-done
}

// Copyright 2025 James Ross
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
	"github.com/rivergate/jobqueue/internal/registry"
)

// Pool runs cfg.Worker.Count goroutines, each polling backend for jobs
// whose tags match its own and dispatching them through reg.
type Pool struct {
	cfg      *config.Config
	backend  queue.Backend
	reg      *registry.Registry
	log      *zap.Logger
	queues   []string
	tags     []string
}

// New builds a worker pool over a single backend. tags is this pool's
// worker tag set; per spec.md's affinity rule an empty set only matches
// untagged jobs, while a non-empty set matches any job sharing a tag.
func New(cfg *config.Config, backend queue.Backend, reg *registry.Registry, log *zap.Logger, tags []string) *Pool {
	return &Pool{
		cfg:     cfg,
		backend: backend,
		reg:     reg,
		log:     log,
		queues:  queue.UnionQueues(cfg.Worker.Queues),
		tags:    tags,
	}
}

// Run seals the registry and blocks until ctx is cancelled and every
// worker goroutine has drained its current job, or cfg.Worker.ShutdownTimeout
// elapses first.
func (p *Pool) Run(ctx context.Context) error {
	p.reg.Seal()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Worker.Count; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			obs.WorkersActive.Inc()
			defer obs.WorkersActive.Dec()
			p.runOne(ctx, workerID)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		case <-time.After(p.cfg.Worker.ShutdownTimeout):
			return fmt.Errorf("jobqueue: %d-worker pool still draining after shutdown_timeout", p.cfg.Worker.Count)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, workerID string) {
	idle := time.NewTicker(p.cfg.Worker.PollInterval)
	defer idle.Stop()

	for {
		// Biased toward cancellation: never start new work once ctx is
		// done, mirroring the original's CancellationToken check.
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, ok, err := p.backend.Dequeue(ctx, p.queues, p.tags)
		if err != nil {
			p.log.Warn("dequeue error", obs.Err(err), obs.String("worker_id", workerID))
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		p.process(ctx, workerID, result)
	}
}

func (p *Pool) process(ctx context.Context, workerID string, result queue.DequeueResult) {
	job := result.Job
	obs.JobsDequeued.WithLabelValues(result.Queue, job.Name).Inc()
	p.log.Info("job claimed", obs.String("id", job.ID), obs.String("class", job.Name), obs.String("queue", result.Queue), obs.String("worker_id", workerID))

	start := time.Now()
	err := p.reg.Dispatch(ctx, job)
	obs.JobDuration.WithLabelValues(result.Queue, job.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		if cErr := p.backend.Complete(ctx, job.ID, result.Queue, job.Interval); cErr != nil {
			p.log.Error("complete failed", obs.Err(cErr), obs.String("id", job.ID))
			return
		}
		obs.JobsCompleted.WithLabelValues(result.Queue, job.Name).Inc()
		p.log.Info("job completed", obs.String("id", job.ID), obs.String("class", job.Name), obs.String("worker_id", workerID))
		return
	}

	if registry.IsPanic(err) {
		obs.HandlerPanics.WithLabelValues(job.Name).Inc()
		p.log.Error("handler panicked", obs.Err(err), obs.String("id", job.ID), obs.String("class", job.Name))
	} else if errors.Is(err, queue.ErrHandlerNotFound) {
		p.log.Error("no handler registered", obs.String("id", job.ID), obs.String("class", job.Name))
	} else {
		p.log.Warn("handler returned error", obs.Err(err), obs.String("id", job.ID), obs.String("class", job.Name))
	}

	if fErr := p.backend.Fail(ctx, job.ID, result.Queue, err.Error()); fErr != nil {
		p.log.Error("fail failed", obs.Err(fErr), obs.String("id", job.ID))
		return
	}
	obs.JobsFailed.WithLabelValues(result.Queue, job.Name).Inc()
}

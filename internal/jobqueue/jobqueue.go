// Copyright 2025 James Ross

// Package jobqueue is the facade applications embed: it owns exactly one
// queue.Backend variant selected by configuration, and exposes the
// operations a producer or admin tool needs without depending on any
// backend package directly.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/backend/memqueue"
	"github.com/rivergate/jobqueue/internal/backend/nullqueue"
	"github.com/rivergate/jobqueue/internal/backend/redisqueue"
	"github.com/rivergate/jobqueue/internal/backend/sqlqueue"
	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
	"github.com/rivergate/jobqueue/internal/registry"
)

// Variant names the concrete backend a Queue wraps. This is the tagged
// union the design notes call for: construction picks one variant
// explicitly (NewRedis, NewPostgres, NewSQLite, NewMemory, NewNull)
// while dispatch stays dynamic through queue.Backend underneath.
type Variant string

const (
	VariantRedis    Variant = "redis"
	VariantPostgres Variant = "postgres"
	VariantSQLite   Variant = "sqlite"
	VariantMemory   Variant = "memory"
	VariantNull     Variant = "null"
)

// Queue wraps a single concrete queue.Backend. Callers never branch on
// variant; they call Queue's methods and the embedded backend dispatches.
type Queue struct {
	backend  queue.Backend
	variant  Variant
	mode     config.Mode
	registry *registry.Registry
}

// SetRegistry attaches the handler registry Enqueue dispatches into when
// mode is foreground_blocking or background_async. It must be called
// after handlers are registered and before the first Enqueue call made
// in either of those modes; background_queue mode never needs it.
func (q *Queue) SetRegistry(r *registry.Registry) {
	q.registry = r
}

// NewRedis connects to the Redis backend variant with default pooling.
func NewRedis(uri string, log *zap.Logger) (*Queue, error) {
	b, err := redisqueue.Connect(uri, log)
	if err != nil {
		return nil, fmt.Errorf("new redis queue: %w", err)
	}
	return &Queue{backend: b, variant: VariantRedis}, nil
}

// NewRedisWithPool connects to the Redis backend variant, honoring
// config.RedisConfig's pool sizing and dial timeout.
func NewRedisWithPool(cfg config.RedisConfig, log *zap.Logger) (*Queue, error) {
	b, err := redisqueue.ConnectWithPool(cfg.URI, cfg.PoolSize, cfg.MinIdleConns, cfg.DialTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("new redis queue: %w", err)
	}
	return &Queue{backend: b, variant: VariantRedis}, nil
}

// NewPostgres connects to the Postgres backend variant.
func NewPostgres(ctx context.Context, dsn string, maxOpen, maxIdle int, enableSkipLocked bool) (*Queue, error) {
	b, err := sqlqueue.ConnectPostgres(ctx, dsn, maxOpen, maxIdle, enableSkipLocked)
	if err != nil {
		return nil, fmt.Errorf("new postgres queue: %w", err)
	}
	return &Queue{backend: b, variant: VariantPostgres}, nil
}

// NewSQLite connects to the SQLite backend variant.
func NewSQLite(ctx context.Context, path string) (*Queue, error) {
	b, err := sqlqueue.ConnectSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("new sqlite queue: %w", err)
	}
	return &Queue{backend: b, variant: VariantSQLite}, nil
}

// NewMemory builds the in-process backend variant.
func NewMemory() *Queue {
	return &Queue{backend: memqueue.New(), variant: VariantMemory}
}

// NewNull builds the no-op backend variant.
func NewNull() *Queue {
	return &Queue{backend: nullqueue.New(), variant: VariantNull}
}

// New dispatches to the variant constructor named by cfg.Backend.Driver.
// This is the single place that translates configuration into a concrete
// backend; everything downstream (worker, admin, adminapi, reaper) only
// ever sees the queue.Backend interface via Queue.Backend(), and cronhook
// only sees the Queue's Enqueue method.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Queue, error) {
	var (
		q   *Queue
		err error
	)
	switch cfg.Backend.Driver {
	case config.DriverRedis:
		q, err = NewRedisWithPool(cfg.Backend.Redis, log)
	case config.DriverPostgres:
		q, err = NewPostgres(ctx, cfg.Backend.Postgres.DSN, cfg.Backend.Postgres.MaxOpenConns, cfg.Backend.Postgres.MaxIdleConns, cfg.Backend.Postgres.EnableSkipLocked)
	case config.DriverSqlite:
		q, err = NewSQLite(ctx, cfg.Backend.Sqlite.Path)
	case config.DriverMemory:
		q = NewMemory()
	case config.DriverNull:
		q = NewNull()
	default:
		return nil, fmt.Errorf("%w: %q", queue.ErrConfigMissing, cfg.Backend.Driver)
	}
	if err != nil {
		return nil, err
	}
	q.mode = cfg.Worker.Mode
	return q, nil
}

// Converge applies startup-time configuration policy to an already
// constructed backend: when cfg.Backend.DangerouslyFlush is set, it
// wipes all existing state; otherwise it is a no-op. Call this once,
// right after New, before registering workers.
func Converge(ctx context.Context, cfg *config.Config, backend queue.Backend) error {
	if !cfg.Backend.DangerouslyFlush {
		return nil
	}
	if err := backend.Clear(ctx); err != nil {
		return fmt.Errorf("converge: dangerously_flush clear: %w", err)
	}
	return nil
}

// Backend exposes the underlying queue.Backend for packages (worker,
// admin, adminapi, reaper) that operate on the interface directly.
func (q *Queue) Backend() queue.Backend { return q.backend }

// Variant reports which backend variant this Queue wraps.
func (q *Queue) Variant() Variant { return q.variant }

// Enqueue submits a new job of the given class onto queueName, with the
// execution strategy selected by Worker.Mode: background_queue (the
// default) persists the job for a worker pool to pick up later;
// foreground_blocking runs the registered handler inline and returns
// its result without ever touching the backend; background_async spawns
// the handler on a detached goroutine and returns immediately. Mirrors
// the original bgworker's perform_later, which matches on the same
// three strategies.
func (q *Queue) Enqueue(ctx context.Context, class, queueName string, args any, tags []string) (queue.Job, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return queue.Job{}, fmt.Errorf("marshal args for class %s: %w", class, err)
	}

	switch q.mode {
	case config.ModeForegroundBlocking:
		return q.enqueueInline(ctx, class, queueName, data, tags)
	case config.ModeBackgroundAsync:
		return q.enqueueAsync(class, queueName, data, tags)
	default:
		job, err := q.backend.Enqueue(ctx, class, queueName, data, tags)
		if err != nil {
			return queue.Job{}, err
		}
		obs.JobsEnqueued.WithLabelValues(job.Queue, job.Name).Inc()
		return job, nil
	}
}

// enqueueInline runs the registered handler on the calling goroutine and
// returns the job with its final status, never persisting it to the
// backend.
func (q *Queue) enqueueInline(ctx context.Context, class, queueName string, data []byte, tags []string) (queue.Job, error) {
	if q.registry == nil {
		return queue.Job{}, fmt.Errorf("jobqueue: foreground_blocking mode requires SetRegistry before Enqueue")
	}
	job := queue.NewJob(class, queueName, data, tags)
	obs.JobsEnqueued.WithLabelValues(job.Queue, job.Name).Inc()

	if err := q.registry.Dispatch(ctx, job); err != nil {
		job.Status = queue.StatusFailed
		job.Touch()
		return job, err
	}
	job.Status = queue.StatusCompleted
	job.Touch()
	return job, nil
}

// enqueueAsync spawns the registered handler on a detached goroutine and
// returns the job immediately in its queued state; the handler's result
// is never surfaced to the caller, matching fire-and-forget semantics.
func (q *Queue) enqueueAsync(class, queueName string, data []byte, tags []string) (queue.Job, error) {
	if q.registry == nil {
		return queue.Job{}, fmt.Errorf("jobqueue: background_async mode requires SetRegistry before Enqueue")
	}
	job := queue.NewJob(class, queueName, data, tags)
	obs.JobsEnqueued.WithLabelValues(job.Queue, job.Name).Inc()

	r := q.registry
	go func() {
		_ = r.Dispatch(context.Background(), job)
	}()
	return job, nil
}

// Close releases the backend's connection pool/client.
func (q *Queue) Close() error {
	return q.backend.Close()
}

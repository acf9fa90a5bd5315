// Copyright 2025 James Ross

// Package cronhook is the recurring-job scheduler the original bgworker
// module leaves to an external integration: it enqueues a configured
// job class on a cron schedule using github.com/robfig/cron/v3, rather
// than asking a handler to reinsert itself via Complete's interval arg.
package cronhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
)

// Enqueuer is the slice of jobqueue.Queue that cronhook depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, class, queueName string, args any, tags []string) (queue.Job, error)
}

// Scheduler owns a *cron.Cron instance and the enqueue targets it was
// configured with.
type Scheduler struct {
	c   *cron.Cron
	log *zap.Logger
}

// New builds a Scheduler from cfg.Cron.Jobs, registering one cron entry
// per configured job. It does not start the scheduler; call Start.
func New(cfg *config.Config, q Enqueuer, log *zap.Logger) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{c: c, log: log}

	for _, entry := range cfg.Cron.Jobs {
		entry := entry
		var raw json.RawMessage
		if entry.TaskData != "" {
			raw = json.RawMessage(entry.TaskData)
		} else {
			raw = json.RawMessage(`{}`)
		}

		_, err := c.AddFunc(entry.Spec, func() {
			ctx := context.Background()
			job, err := q.Enqueue(ctx, entry.Class, entry.Queue, raw, entry.Tags)
			if err != nil {
				log.Error("cron enqueue failed", obs.Err(err), obs.String("name", entry.Name))
				return
			}
			log.Info("cron enqueue", obs.String("name", entry.Name), obs.String("job_id", job.ID))
		})
		if err != nil {
			return nil, fmt.Errorf("cronhook: register %q (%q): %w", entry.Name, entry.Spec, err)
		}
	}

	return s, nil
}

// Start runs the scheduler's dispatch goroutine.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the dispatch goroutine, waiting for any in-flight
// AddFunc callback to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

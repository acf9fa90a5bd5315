// Copyright 2025 James Ross
package memqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rivergate/jobqueue/internal/queue"
)

// Backend is an in-process, mutex-guarded implementation of queue.Backend.
// It exists for tests and single-process deployments that don't want an
// external store; nothing here survives a restart.
type Backend struct {
	mu         sync.Mutex
	queues     map[string][]queue.Job
	jobs       map[string]queue.Job
	processing map[string]map[string]struct{}
	failed     map[string]map[string]struct{}
	cancelled  map[string]map[string]struct{}
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		queues:     make(map[string][]queue.Job),
		jobs:       make(map[string]queue.Job),
		processing: make(map[string]map[string]struct{}),
		failed:     make(map[string]map[string]struct{}),
		cancelled:  make(map[string]map[string]struct{}),
	}
}

func (b *Backend) Enqueue(_ context.Context, name, queueName string, data []byte, tags []string) (queue.Job, error) {
	if queueName == "" {
		queueName = "default"
	}
	job := queue.NewJob(name, queueName, json.RawMessage(data), tags)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queueName] = append(b.queues[queueName], job)
	b.jobs[job.ID] = job
	return job, nil
}

func (b *Backend) Restore(_ context.Context, job queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs[job.ID] = job
	switch job.Status {
	case queue.StatusQueued:
		b.queues[job.Queue] = append(b.queues[job.Queue], job)
	case queue.StatusProcessing:
		if b.processing[job.Queue] == nil {
			b.processing[job.Queue] = make(map[string]struct{})
		}
		b.processing[job.Queue][job.ID] = struct{}{}
	case queue.StatusFailed:
		if b.failed[job.Queue] == nil {
			b.failed[job.Queue] = make(map[string]struct{})
		}
		b.failed[job.Queue][job.ID] = struct{}{}
	}
	return nil
}

func (b *Backend) Dequeue(_ context.Context, queues []string, workerTags []string) (queue.DequeueResult, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, qName := range queues {
		list := b.queues[qName]
		for i, job := range list {
			if !job.MatchesTags(workerTags) {
				continue
			}
			b.queues[qName] = append(append([]queue.Job(nil), list[:i]...), list[i+1:]...)

			job.Status = queue.StatusProcessing
			job.Touch()
			b.jobs[job.ID] = job
			if b.processing[qName] == nil {
				b.processing[qName] = make(map[string]struct{})
			}
			b.processing[qName][job.ID] = struct{}{}
			return queue.DequeueResult{Job: job, Queue: qName}, true, nil
		}
	}
	return queue.DequeueResult{}, false, nil
}

func (b *Backend) Complete(_ context.Context, id, queueName string, interval *int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.processing[queueName]; ok {
		delete(set, id)
	}
	job, ok := b.jobs[id]
	if !ok {
		return nil
	}

	if interval != nil {
		job.RunAt = time.Now().UTC().Add(time.Duration(*interval) * time.Millisecond)
		job.Status = queue.StatusQueued
		job.Touch()
		b.jobs[id] = job
		b.queues[queueName] = append(b.queues[queueName], job)
		return nil
	}

	job.Status = queue.StatusCompleted
	job.Touch()
	b.jobs[id] = job
	return nil
}

func (b *Backend) Fail(_ context.Context, id, queueName, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.processing[queueName]; ok {
		delete(set, id)
	}
	job, ok := b.jobs[id]
	if !ok {
		return nil
	}
	errJSON, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	job.Data = errJSON
	job.Status = queue.StatusFailed
	job.Touch()
	b.jobs[id] = job

	if b.failed[queueName] == nil {
		b.failed[queueName] = make(map[string]struct{})
	}
	b.failed[queueName][id] = struct{}{}
	return nil
}

func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[string][]queue.Job)
	b.jobs = make(map[string]queue.Job)
	b.processing = make(map[string]map[string]struct{})
	b.failed = make(map[string]map[string]struct{})
	b.cancelled = make(map[string]map[string]struct{})
	return nil
}

func (b *Backend) Ping(_ context.Context) error { return nil }

func shouldInclude(job queue.Job, filter queue.JobFilter) bool {
	if len(filter.Statuses) > 0 {
		match := false
		for _, s := range filter.Statuses {
			if job.Status == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if filter.AgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -filter.AgeDays)
		if job.CreatedAt.After(cutoff) {
			return false
		}
	}
	return true
}

func (b *Backend) GetJobs(_ context.Context, filter queue.JobFilter) ([]queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []queue.Job
	for _, job := range b.jobs {
		if shouldInclude(job, filter) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (b *Backend) ClearByStatus(_ context.Context, statuses []queue.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter := queue.JobFilter{Statuses: statuses}
	for id, job := range b.jobs {
		if shouldInclude(job, filter) {
			delete(b.jobs, id)
		}
	}
	for qName, list := range b.queues {
		kept := list[:0]
		for _, job := range list {
			if _, present := b.jobs[job.ID]; !present {
				continue
			}
			kept = append(kept, job)
		}
		b.queues[qName] = kept
	}
	return nil
}

func (b *Backend) ClearJobsOlderThan(_ context.Context, ageDays int, statuses []queue.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filter := queue.JobFilter{Statuses: statuses, AgeDays: ageDays}
	for id, job := range b.jobs {
		if shouldInclude(job, filter) {
			delete(b.jobs, id)
		}
	}
	for qName, list := range b.queues {
		kept := list[:0]
		for _, job := range list {
			if _, present := b.jobs[job.ID]; !present {
				continue
			}
			kept = append(kept, job)
		}
		b.queues[qName] = kept
	}
	return nil
}

func (b *Backend) Requeue(_ context.Context, ageMinutes int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := queue.StalledCutoff(ageMinutes)

	for qName, set := range b.processing {
		for id := range set {
			job, ok := b.jobs[id]
			if !ok {
				continue
			}
			ref := job.UpdatedAt
			if ref.IsZero() {
				ref = job.CreatedAt
			}
			if !ref.Before(cutoff) {
				continue
			}
			delete(set, id)
			job.Status = queue.StatusQueued
			job.Touch()
			b.jobs[id] = job
			b.queues[qName] = append(b.queues[qName], job)
		}
	}

	for qName, set := range b.failed {
		for id := range set {
			job, ok := b.jobs[id]
			if !ok || job.Status != queue.StatusFailed {
				continue
			}
			ref := job.UpdatedAt
			if ref.IsZero() {
				ref = job.CreatedAt
			}
			if !ref.Before(cutoff) {
				continue
			}
			delete(set, id)
			job.Status = queue.StatusQueued
			job.Touch()
			b.jobs[id] = job
			b.queues[qName] = append(b.queues[qName], job)
		}
	}

	return nil
}

func (b *Backend) CancelJobsByName(_ context.Context, name string, opts queue.CancelOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for qName, list := range b.queues {
		kept := list[:0]
		for _, job := range list {
			if job.Name == name && job.Status == queue.StatusQueued {
				job.Status = queue.StatusCancelled
				job.Touch()
				b.jobs[job.ID] = job
				if opts.TrackCancelled {
					if b.cancelled[qName] == nil {
						b.cancelled[qName] = make(map[string]struct{})
					}
					b.cancelled[qName][job.ID] = struct{}{}
				}
				continue
			}
			kept = append(kept, job)
		}
		b.queues[qName] = kept
	}
	return nil
}

func (b *Backend) Close() error { return nil }

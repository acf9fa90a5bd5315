// Copyright 2025 James Ross

// Package nullqueue implements queue.Backend with no storage: Enqueue,
// Restore, Complete, Fail and Ping return queue.ErrBackendDisabled, the
// clearing, requeue and cancel operations are no-ops that return nil,
// and every read returns empty results. It exists so code paths that need a queue.Backend value can
// run with the backend driver turned off (e.g. a process that only
// serves the admin API against another instance's store) without a nil
// check at every call site.
package nullqueue

import (
	"context"

	"github.com/rivergate/jobqueue/internal/queue"
)

type Backend struct{}

func New() *Backend { return &Backend{} }

func (Backend) Enqueue(context.Context, string, string, []byte, []string) (queue.Job, error) {
	return queue.Job{}, queue.ErrBackendDisabled
}

func (Backend) Restore(context.Context, queue.Job) error {
	return queue.ErrBackendDisabled
}

func (Backend) Dequeue(context.Context, []string, []string) (queue.DequeueResult, bool, error) {
	return queue.DequeueResult{}, false, nil
}

func (Backend) Complete(context.Context, string, string, *int64) error {
	return queue.ErrBackendDisabled
}

func (Backend) Fail(context.Context, string, string, string) error {
	return queue.ErrBackendDisabled
}

func (Backend) Clear(context.Context) error { return nil }

func (Backend) Ping(context.Context) error { return queue.ErrBackendDisabled }

func (Backend) GetJobs(context.Context, queue.JobFilter) ([]queue.Job, error) {
	return nil, nil
}

func (Backend) ClearByStatus(context.Context, []queue.Status) error { return nil }

func (Backend) ClearJobsOlderThan(context.Context, int, []queue.Status) error { return nil }

func (Backend) Requeue(context.Context, int) error { return nil }

func (Backend) CancelJobsByName(context.Context, string, queue.CancelOptions) error { return nil }

func (Backend) Close() error { return nil }

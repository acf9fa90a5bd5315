// Copyright 2025 James Ross
package admin

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rivergate/jobqueue/internal/queue"
)

// StatsResult summarizes job counts per status, derived from a full
// GetJobs scan rather than backend-specific key introspection so it
// works identically across every driver.
type StatsResult struct {
	ByStatus map[queue.Status]int64 `json:"by_status"`
	ByQueue  map[string]int64       `json:"by_queue"`
	Total    int64                  `json:"total"`
}

// Stats tallies every job currently known to backend.
func Stats(ctx context.Context, backend queue.Backend) (StatsResult, error) {
	jobs, err := backend.GetJobs(ctx, queue.JobFilter{})
	if err != nil {
		return StatsResult{}, fmt.Errorf("stats: %w", err)
	}
	res := StatsResult{ByStatus: map[queue.Status]int64{}, ByQueue: map[string]int64{}}
	for _, j := range jobs {
		res.ByStatus[j.Status]++
		res.ByQueue[j.Queue]++
		res.Total++
	}
	return res, nil
}

// Peek returns up to n queued jobs from queueName without claiming them,
// ordered oldest-first (the order a worker would dequeue them in).
func Peek(ctx context.Context, backend queue.Backend, queueName string, n int) ([]queue.Job, error) {
	if n <= 0 {
		n = 10
	}
	jobs, err := backend.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}
	out := make([]queue.Job, 0, n)
	for _, j := range jobs {
		if j.Queue != queueName {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID }) // ULIDs sort chronologically
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// CancelJobsByName cancels every queued job of the given class.
func CancelJobsByName(ctx context.Context, backend queue.Backend, name string, opts queue.CancelOptions) error {
	if err := backend.CancelJobsByName(ctx, name, opts); err != nil {
		return fmt.Errorf("cancel jobs by name %q: %w", name, err)
	}
	return nil
}

// ClearByStatus deletes every job whose status is in statuses.
func ClearByStatus(ctx context.Context, backend queue.Backend, statuses []queue.Status) error {
	if err := backend.ClearByStatus(ctx, statuses); err != nil {
		return fmt.Errorf("clear by status: %w", err)
	}
	return nil
}

// ClearJobsOlderThan deletes jobs created more than ageDays ago,
// additionally matching statuses when non-empty.
func ClearJobsOlderThan(ctx context.Context, backend queue.Backend, ageDays int, statuses []queue.Status) error {
	if err := backend.ClearJobsOlderThan(ctx, ageDays, statuses); err != nil {
		return fmt.Errorf("clear jobs older than %dd: %w", ageDays, err)
	}
	return nil
}

// Requeue moves stalled in-flight jobs and recently-failed jobs whose
// last update is older than ageMinutes back to queued.
func Requeue(ctx context.Context, backend queue.Backend, ageMinutes int) error {
	if err := backend.Requeue(ctx, ageMinutes); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// PurgeAll clears all backend state, the generalized replacement for
// the Redis-only PurgeDLQ/PurgeAll pair: every driver's Clear wipes its
// own keys/tables without needing key-pattern knowledge here.
func PurgeAll(ctx context.Context, backend queue.Backend) error {
	if err := backend.Clear(ctx); err != nil {
		return fmt.Errorf("purge all: %w", err)
	}
	return nil
}

// Ping checks backend liveness.
func Ping(ctx context.Context, backend queue.Backend) error {
	return backend.Ping(ctx)
}

// GetJobs exposes the raw filtered scan for callers (the admin HTTP API,
// dump/import) that need full records rather than aggregate Stats.
func GetJobs(ctx context.Context, backend queue.Backend, filter queue.JobFilter) ([]queue.Job, error) {
	jobs, err := backend.GetJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}
	return jobs, nil
}

// FilterByNameGlob keeps only jobs whose class name matches pattern, a
// doublestar glob (e.g. "Deliver*" or "Report{Daily,Weekly}"). An empty
// pattern returns jobs unchanged. Matching happens in-process after the
// backend scan since class names aren't indexed by any driver.
func FilterByNameGlob(jobs []queue.Job, pattern string) ([]queue.Job, error) {
	if pattern == "" {
		return jobs, nil
	}
	out := make([]queue.Job, 0, len(jobs))
	for _, j := range jobs {
		ok, err := doublestar.Match(pattern, j.Name)
		if err != nil {
			return nil, fmt.Errorf("filter by name glob %q: %w", pattern, err)
		}
		if ok {
			out = append(out, j)
		}
	}
	return out, nil
}

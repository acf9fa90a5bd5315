// Copyright 2025 James Ross
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the job-queue error taxonomy. Backends and the
// worker pool wrap these with fmt.Errorf("...: %w", ...) so callers can
// still errors.Is against the kind.
var (
	ErrMalformedJob     = errors.New("jobqueue: malformed job record")
	ErrHandlerNotFound  = errors.New("jobqueue: no handler registered for job class")
	ErrConfigMissing    = errors.New("jobqueue: backend unavailable for configured mode")
	ErrUnknownQueue     = errors.New("jobqueue: unknown queue")
	ErrBackendDisabled  = errors.New("jobqueue: null backend has no storage")
)

// DequeueResult pairs a claimed job with the name of the queue it came
// from, since a single Dequeue call scans a priority-ordered list.
type DequeueResult struct {
	Job   Job
	Queue string
}

// JobFilter narrows GetJobs/ClearByStatus/ClearJobsOlderThan to a subset
// of records. A nil/empty Statuses means "any status"; a zero AgeDays
// means "no age bound".
type JobFilter struct {
	Statuses []Status
	AgeDays  int
}

// Backend is the contract every storage driver satisfies: Redis lists,
// a SQL table (Postgres or SQLite dialect), an in-memory map, or the
// no-op Null backend. At-most-one-concurrent-per-job execution is a
// backend guarantee enforced by its atomic dequeue primitive (LPOP for
// the KV backend, SELECT ... FOR UPDATE SKIP LOCKED or an equivalent
// guarded UPDATE for SQL backends).
type Backend interface {
	// Enqueue persists a new queued job, returning the assigned job.
	Enqueue(ctx context.Context, name, queueName string, data []byte, tags []string) (Job, error)

	// Restore persists job exactly as given, preserving its ID, status,
	// and timestamps rather than minting a new job the way Enqueue does.
	// Used by Import to replay a dump without discarding history.
	Restore(ctx context.Context, job Job) error

	// Dequeue atomically claims the head of the first non-empty queue
	// (in priority order) whose head job's tags match workerTags. It
	// returns (DequeueResult{}, false, nil) when nothing is eligible.
	Dequeue(ctx context.Context, queues []string, workerTags []string) (DequeueResult, bool, error)

	// Complete removes id from its in-flight marker. If interval is
	// non-nil the job is rescheduled with RunAt = now + interval and
	// pushed back to queueName; otherwise it is marked completed.
	Complete(ctx context.Context, id, queueName string, interval *int64) error

	// Fail removes id from its in-flight marker, sets status failed,
	// and overwrites Data with {"error": message}.
	Fail(ctx context.Context, id, queueName, message string) error

	// Clear drops all backend state.
	Clear(ctx context.Context) error

	// Ping is a liveness probe.
	Ping(ctx context.Context) error

	// GetJobs scans all records matching filter.
	GetJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// ClearByStatus removes every job whose status is in statuses.
	ClearByStatus(ctx context.Context, statuses []Status) error

	// ClearJobsOlderThan removes jobs created before now-ageDays that
	// additionally match statuses when non-empty.
	ClearJobsOlderThan(ctx context.Context, ageDays int, statuses []Status) error

	// Requeue moves stalled in-flight jobs and recently failed jobs
	// whose UpdatedAt (falling back to CreatedAt) is older than
	// ageMinutes back to queued.
	Requeue(ctx context.Context, ageMinutes int) error

	// CancelJobsByName transitions queued jobs of the given class to
	// cancelled and removes them from their queue.
	CancelJobsByName(ctx context.Context, name string, opts CancelOptions) error

	// Close releases the backend's connection pool/client.
	Close() error
}

// CancelOptions controls the optional, off-by-default cancelled-set
// side effect spec.md §9 leaves as an open question: whether to also
// record cancelled job IDs in a per-queue side set (cancelled:<queue>
// on Redis, an in-process set on memqueue, nothing on SQL). GetJobs does
// not read that set; it reports cancelled jobs by their status.
type CancelOptions struct {
	TrackCancelled bool
}

// DefaultQueues is the queue-name default set every backend unions
// caller-supplied queues into.
var DefaultQueues = []string{"default", "mailer"}

// UnionQueues returns DefaultQueues plus any caller queues not already
// present, preserving DefaultQueues' order followed by the new ones.
func UnionQueues(extra []string) []string {
	out := append([]string(nil), DefaultQueues...)
	for _, q := range extra {
		found := false
		for _, existing := range out {
			if existing == q {
				found = true
				break
			}
		}
		if !found {
			out = append(out, q)
		}
	}
	return out
}

// StalledCutoff is a small helper shared by backend implementations'
// Requeue logic: the timestamp before which an in-flight/failed job is
// considered stalled.
func StalledCutoff(ageMinutes int) time.Time {
	return time.Now().UTC().Add(-time.Duration(ageMinutes) * time.Minute)
}

// Copyright 2025 James Ross
package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/rivergate/jobqueue/internal/queue"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	b := New()
	ctx := context.Background()

	first, err := b.Enqueue(ctx, "A", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Enqueue(ctx, "B", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, ok, err := b.Dequeue(ctx, []string{"default"}, nil)
	if err != nil || !ok {
		t.Fatalf("dequeue 1 failed: ok=%v err=%v", ok, err)
	}
	if result.Job.ID != first.ID {
		t.Fatalf("expected FIFO order: got %s want %s", result.Job.ID, first.ID)
	}

	result2, ok, err := b.Dequeue(ctx, []string{"default"}, nil)
	if err != nil || !ok {
		t.Fatalf("dequeue 2 failed: ok=%v err=%v", ok, err)
	}
	if result2.Job.ID != second.ID {
		t.Fatalf("expected FIFO order: got %s want %s", result2.Job.ID, second.ID)
	}
}

func TestCompleteWithIntervalReschedules(t *testing.T) {
	b := New()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "Heartbeat", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := b.Dequeue(ctx, []string{"default"}, nil); err != nil || !ok {
		t.Fatalf("dequeue failed: ok=%v err=%v", ok, err)
	}

	interval := int64(1000)
	if err := b.Complete(ctx, job.ID, "default", &interval); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected rescheduled job %s, got %v", job.ID, jobs)
	}
}

func TestClearJobsOlderThanRemovesOldMatchingStatusOnly(t *testing.T) {
	b := New()
	ctx := context.Background()

	old := queue.NewJob("Stale", "default", nil, nil)
	old.Status = queue.StatusFailed
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	if err := b.Restore(ctx, old); err != nil {
		t.Fatal(err)
	}

	oldButQueued := queue.NewJob("StaleQueued", "default", nil, nil)
	oldButQueued.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	if err := b.Restore(ctx, oldButQueued); err != nil {
		t.Fatal(err)
	}

	recent, err := b.Enqueue(ctx, "Fresh", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.ClearJobsOlderThan(ctx, 7, []queue.Status{queue.StatusFailed}); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	remaining := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		remaining[j.ID] = true
	}
	if remaining[old.ID] {
		t.Fatalf("expected old failed job %s to be purged", old.ID)
	}
	if !remaining[oldButQueued.ID] {
		t.Fatalf("expected old queued job %s to survive a failed-only purge", oldButQueued.ID)
	}
	if !remaining[recent.ID] {
		t.Fatalf("expected recent job %s to survive the purge", recent.ID)
	}
}

func TestCancelJobsByNameOnlyAffectsQueued(t *testing.T) {
	b := New()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "Expire", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.CancelJobsByName(ctx, "Expire", queue.CancelOptions{}); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusCancelled}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected cancelled job %s, got %v", job.ID, jobs)
	}
}

// Copyright 2025 James Ross
package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/queue"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log, _ := zap.NewDevelopment()
	return New(rdb, log), mr
}

func TestEnqueueDequeueComplete(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "SendReport", "default", []byte(`{"user_id":1}`), nil)
	if err != nil {
		t.Fatal(err)
	}

	result, ok, err := b.Dequeue(ctx, []string{"default"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a job")
	}
	if result.Job.ID != job.ID {
		t.Fatalf("got job %s, want %s", result.Job.ID, job.ID)
	}
	if result.Job.Status != queue.StatusProcessing {
		t.Fatalf("expected processing status, got %s", result.Job.Status)
	}

	if err := b.Complete(ctx, job.ID, "default", nil); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusCompleted}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected completed job %s, got %v", job.ID, jobs)
	}
}

func TestDequeueSkipsTagMismatch(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "ProcessVideo", "default", nil, []string{"gpu"})
	if err != nil {
		t.Fatal(err)
	}

	_, ok, err := b.Dequeue(ctx, []string{"default"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("untagged worker should not claim a tagged job")
	}

	result, ok, err := b.Dequeue(ctx, []string{"default"}, []string{"gpu"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || result.Job.ID != job.ID {
		t.Fatalf("tagged worker should claim the job, got ok=%v result=%v", ok, result)
	}
}

func TestFailTracksFailedSet(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "FlakyTask", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := b.Dequeue(ctx, []string{"default"}, nil); err != nil || !ok {
		t.Fatalf("dequeue failed: ok=%v err=%v", ok, err)
	}
	if err := b.Fail(ctx, job.ID, "default", "boom"); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected failed job %s, got %v", job.ID, jobs)
	}
}

func TestRequeueStalledProcessingJob(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "SlowTask", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := b.Dequeue(ctx, []string{"default"}, nil); err != nil || !ok {
		t.Fatalf("dequeue failed: ok=%v err=%v", ok, err)
	}

	// Simulate staleness by rewriting the job's updated_at into the past.
	stale := job
	stale.Status = queue.StatusProcessing
	stale.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	payload, err := stale.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.rdb.Set(ctx, jobKey(job.ID), payload, 0).Err(); err != nil {
		t.Fatal(err)
	}

	if err := b.Requeue(ctx, 5); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected requeued job %s, got %v", job.ID, jobs)
	}
}

func TestClearJobsOlderThanRemovesOldMatchingStatusOnly(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	old := queue.NewJob("Stale", "default", nil, nil)
	old.Status = queue.StatusFailed
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	old.UpdatedAt = old.CreatedAt
	if err := b.Restore(ctx, old); err != nil {
		t.Fatal(err)
	}

	oldButQueued := queue.NewJob("StaleQueued", "default", nil, nil)
	oldButQueued.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	oldButQueued.UpdatedAt = oldButQueued.CreatedAt
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

	if exists, err := b.rdb.Exists(ctx, jobKey(old.ID)).Result(); err != nil {
		t.Fatal(err)
	} else if exists != 0 {
		t.Fatalf("expected old failed job %s to be purged from job store", old.ID)
	}
	if member, err := b.rdb.SIsMember(ctx, failedKey("default"), old.ID).Result(); err != nil {
		t.Fatal(err)
	} else if member {
		t.Fatalf("expected old failed job %s removed from failed set", old.ID)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		t.Fatal(err)
	}
	remaining := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		remaining[j.ID] = true
	}
	if !remaining[oldButQueued.ID] {
		t.Fatalf("expected old queued job %s to survive a failed-only purge", oldButQueued.ID)
	}
	if !remaining[recent.ID] {
		t.Fatalf("expected recent job %s to survive the purge", recent.ID)
	}
}

func TestCancelJobsByName(t *testing.T) {
	b, mr := newTestBackend(t)
	defer mr.Close()
	ctx := context.Background()

	job, err := b.Enqueue(ctx, "ExpireSession", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.CancelJobsByName(ctx, "ExpireSession", queue.CancelOptions{TrackCancelled: true}); err != nil {
		t.Fatal(err)
	}

	jobs, err := b.GetJobs(ctx, queue.JobFilter{Statuses: []queue.Status{queue.StatusCancelled}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected cancelled job %s, got %v", job.ID, jobs)
	}

	members, err := b.rdb.SMembers(ctx, cancelledKey("default")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != job.ID {
		t.Fatalf("expected tracked cancelled id %s, got %v", job.ID, members)
	}
}

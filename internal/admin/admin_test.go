// Copyright 2025 James Ross
package admin

import (
	"context"
	"testing"

	"github.com/rivergate/jobqueue/internal/backend/memqueue"
	"github.com/rivergate/jobqueue/internal/queue"
)

func TestStatsTalliesByStatusAndQueue(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()

	if _, err := b.Enqueue(ctx, "A", "default", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Enqueue(ctx, "B", "mailer", nil, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := Stats(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 total jobs, got %d", stats.Total)
	}
	if stats.ByStatus[queue.StatusQueued] != 2 {
		t.Fatalf("expected 2 queued, got %d", stats.ByStatus[queue.StatusQueued])
	}
	if stats.ByQueue["default"] != 1 || stats.ByQueue["mailer"] != 1 {
		t.Fatalf("unexpected per-queue tally: %v", stats.ByQueue)
	}
}

func TestPeekReturnsOnlyRequestedQueue(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()

	first, err := b.Enqueue(ctx, "A", "default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Enqueue(ctx, "B", "mailer", nil, nil); err != nil {
		t.Fatal(err)
	}

	jobs, err := Peek(ctx, b, "default", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != first.ID {
		t.Fatalf("expected only the default-queue job, got %v", jobs)
	}
}

func TestFilterByNameGlob(t *testing.T) {
	jobs := []queue.Job{{Name: "DeliverEmail"}, {Name: "DeliverSMS"}, {Name: "Cleanup"}}

	matched, err := FilterByNameGlob(jobs, "Deliver*")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %v", matched)
	}

	all, err := FilterByNameGlob(jobs, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(jobs) {
		t.Fatalf("expected empty pattern to return all jobs, got %v", all)
	}
}

func TestPurgeAllClearsBackend(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	if _, err := b.Enqueue(ctx, "A", "default", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := PurgeAll(ctx, b); err != nil {
		t.Fatal(err)
	}
	jobs, err := GetJobs(ctx, b, queue.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty backend after purge, got %v", jobs)
	}
}

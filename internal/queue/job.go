// Copyright 2025 James Ross
package queue

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Job is the unit of work persisted by a Backend.
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Queue     string          `json:"queue"`
	Data      json.RawMessage `json:"task_data"`
	Status    Status          `json:"status"`
	RunAt     time.Time       `json:"run_at"`
	Interval  *int64          `json:"interval,omitempty"` // milliseconds
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Tags      []string        `json:"tags,omitempty"`
}

// NewJob builds a queued job with a lexicographically sortable, time-ordered ID.
func NewJob(name, queueName string, data json.RawMessage, tags []string) Job {
	now := time.Now().UTC()
	return Job{
		ID:        ulid.Make().String(),
		Name:      name,
		Queue:     queueName,
		Data:      data,
		Status:    StatusQueued,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      tags,
	}
}

// Marshal serializes the job to its wire JSON form.
func (j Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalJob parses a job's wire JSON form. A malformed record is the
// caller's responsibility to log and skip; this just surfaces the error.
func UnmarshalJob(s string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(s), &j)
	return j, err
}

// MatchesTags implements the worker-tag affinity rule: a worker with no
// tags only processes untagged jobs, a worker with tags only processes
// jobs whose tags intersect its own.
func (j Job) MatchesTags(workerTags []string) bool {
	if len(workerTags) == 0 {
		return len(j.Tags) == 0
	}
	for _, jt := range j.Tags {
		for _, wt := range workerTags {
			if jt == wt {
				return true
			}
		}
	}
	return false
}

// Touch advances UpdatedAt to now; callers must never move it backwards.
func (j *Job) Touch() {
	now := time.Now().UTC()
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}

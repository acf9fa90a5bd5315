// Copyright 2025 James Ross
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
)

// Key prefixes, grounded on original_source/src/bgworker/redis.rs's
// QUEUE_KEY_PREFIX/JOB_KEY_PREFIX/PROCESSING_KEY_PREFIX constants.
const (
	queuePrefix      = "queue:"
	jobPrefix        = "job:"
	processingPrefix = "processing:"
	failedPrefix     = "failed:"
	cancelledPrefix  = "cancelled:"
)

// Backend is the Redis-list implementation of queue.Backend.
type Backend struct {
	rdb *redis.Client
	log *zap.Logger
}

// New builds a Redis backend over an already-configured client.
func New(rdb *redis.Client, log *zap.Logger) *Backend {
	return &Backend{rdb: rdb, log: log}
}

// Connect dials a fresh client from a redis:// URI, mirroring the
// teacher's internal/redisclient.New but against go-redis/v9.
func Connect(uri string, log *zap.Logger) (*Backend, error) {
	return ConnectWithPool(uri, 0, 0, 0, log)
}

// ConnectWithPool dials a client with explicit pool sizing and dial
// timeout, grounded on the teacher's internal/redisclient.New pool
// knobs. A zero poolSize or minIdleConns leaves go-redis's own default;
// a zero dialTimeout leaves go-redis's own default too.
func ConnectWithPool(uri string, poolSize, minIdleConns int, dialTimeout time.Duration, log *zap.Logger) (*Backend, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if minIdleConns > 0 {
		opts.MinIdleConns = minIdleConns
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	return New(redis.NewClient(opts), log), nil
}

func queueKey(name string) string      { return queuePrefix + name }
func jobKey(id string) string          { return jobPrefix + id }
func processingKey(name string) string { return processingPrefix + name }
func failedKey(name string) string     { return failedPrefix + name }
func cancelledKey(name string) string  { return cancelledPrefix + name }

func (b *Backend) Enqueue(ctx context.Context, name, queueName string, data []byte, tags []string) (queue.Job, error) {
	if queueName == "" {
		queueName = "default"
	}
	job := queue.NewJob(name, queueName, json.RawMessage(data), tags)
	payload, err := job.Marshal()
	if err != nil {
		return queue.Job{}, fmt.Errorf("marshal job: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, queueKey(queueName), payload)
	pipe.Set(ctx, jobKey(job.ID), payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Restore persists job verbatim: its payload is written under job's own
// ID and, depending on job.Status, linked into the queue list or
// processing/failed set that status implies. Used by Import to replay a
// dump without minting new IDs or resetting status to queued.
func (b *Backend) Restore(ctx context.Context, job queue.Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal restored job %s: %w", job.ID, err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), payload, 0)
	switch job.Status {
	case queue.StatusQueued:
		pipe.RPush(ctx, queueKey(job.Queue), payload)
	case queue.StatusProcessing:
		pipe.SAdd(ctx, processingKey(job.Queue), job.ID)
	case queue.StatusFailed:
		pipe.SAdd(ctx, failedKey(job.Queue), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("restore job %s: %w", job.ID, err)
	}
	return nil
}

func (b *Backend) Dequeue(ctx context.Context, queues []string, workerTags []string) (queue.DequeueResult, bool, error) {
	if len(queues) == 0 {
		return queue.DequeueResult{}, false, nil
	}

	for _, queueName := range queues {
		qKey := queueKey(queueName)
		payload, err := b.rdb.LPop(ctx, qKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return queue.DequeueResult{}, false, fmt.Errorf("lpop %s: %w", qKey, err)
		}

		job, err := queue.UnmarshalJob(payload)
		if err != nil {
			b.log.Error("malformed job payload, skipping", obs.Err(err), obs.String("queue", queueName))
			continue
		}

		if !job.MatchesTags(workerTags) {
			// Re-insert at the tail: preserves availability at the cost
			// of reordering behind jobs enqueued after it (see spec §9).
			if err := b.rdb.RPush(ctx, qKey, payload).Err(); err != nil {
				return queue.DequeueResult{}, false, fmt.Errorf("requeue mismatched tags for %s: %w", job.ID, err)
			}
			continue
		}

		if err := b.rdb.SAdd(ctx, processingKey(queueName), job.ID).Err(); err != nil {
			return queue.DequeueResult{}, false, fmt.Errorf("mark in-flight %s: %w", job.ID, err)
		}
		job.Status = queue.StatusProcessing
		job.Touch()
		return queue.DequeueResult{Job: job, Queue: queueName}, true, nil
	}

	return queue.DequeueResult{}, false, nil
}

func (b *Backend) Complete(ctx context.Context, id, queueName string, interval *int64) error {
	if err := b.rdb.SRem(ctx, processingKey(queueName), id).Err(); err != nil {
		return fmt.Errorf("complete: srem in-flight %s: %w", id, err)
	}

	payload, err := b.rdb.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete: get job %s: %w", id, err)
	}

	job, err := queue.UnmarshalJob(payload)
	if err != nil {
		return fmt.Errorf("%w: job %s: %v", queue.ErrMalformedJob, id, err)
	}

	if interval != nil {
		job.RunAt = time.Now().UTC().Add(time.Duration(*interval) * time.Millisecond)
		job.Status = queue.StatusQueued
		job.Touch()
		newPayload, err := job.Marshal()
		if err != nil {
			return fmt.Errorf("marshal recurring job %s: %w", id, err)
		}
		pipe := b.rdb.TxPipeline()
		pipe.RPush(ctx, queueKey(queueName), newPayload)
		pipe.Set(ctx, jobKey(id), newPayload, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reschedule recurring job %s: %w", id, err)
		}
		return nil
	}

	job.Status = queue.StatusCompleted
	job.Touch()
	newPayload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal completed job %s: %w", id, err)
	}
	return b.rdb.Set(ctx, jobKey(id), newPayload, 0).Err()
}

func (b *Backend) Fail(ctx context.Context, id, queueName, message string) error {
	if err := b.rdb.SRem(ctx, processingKey(queueName), id).Err(); err != nil {
		return fmt.Errorf("fail: srem in-flight %s: %w", id, err)
	}

	payload, err := b.rdb.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail: get job %s: %w", id, err)
	}

	job, err := queue.UnmarshalJob(payload)
	if err != nil {
		return fmt.Errorf("%w: job %s: %v", queue.ErrMalformedJob, id, err)
	}

	errPayload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		return fmt.Errorf("marshal error payload for job %s: %w", id, err)
	}
	job.Data = errPayload
	job.Status = queue.StatusFailed
	job.Touch()

	newPayload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal failed job %s: %w", id, err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(id), newPayload, 0)
	pipe.SAdd(ctx, failedKey(queueName), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist failed job %s: %w", id, err)
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	return b.rdb.FlushDB(ctx).Err()
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// scanKeys collects every key matching pattern via SCAN, avoiding the
// O(N)-blocking KEYS command the original Rust source used.
func (b *Backend) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, cur, err := b.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

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

func (b *Backend) GetJobs(ctx context.Context, filter queue.JobFilter) ([]queue.Job, error) {
	var jobs []queue.Job

	queueKeys, err := b.scanKeys(ctx, queuePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan queues: %w", err)
	}
	for _, qk := range queueKeys {
		items, err := b.rdb.LRange(ctx, qk, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("lrange %s: %w", qk, err)
		}
		for _, raw := range items {
			job, err := queue.UnmarshalJob(raw)
			if err != nil {
				b.log.Warn("malformed job in queue scan", obs.Err(err), obs.String("key", qk))
				continue
			}
			if shouldInclude(job, filter) {
				jobs = append(jobs, job)
			}
		}
	}

	processingKeys, err := b.scanKeys(ctx, processingPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan processing: %w", err)
	}
	for _, pk := range processingKeys {
		ids, err := b.rdb.SMembers(ctx, pk).Result()
		if err != nil {
			return nil, fmt.Errorf("smembers %s: %w", pk, err)
		}
		for _, id := range ids {
			job, ok, err := b.loadJob(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if job.Status == queue.StatusQueued {
				job.Status = queue.StatusProcessing
			}
			if shouldInclude(job, filter) {
				jobs = append(jobs, job)
			}
		}
	}

	// Terminal jobs (completed, failed, cancelled) live only under job:<id>;
	// queued and in-flight ones were already collected above.
	jobKeys, err := b.scanKeys(ctx, jobPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	for _, jk := range jobKeys {
		job, ok, err := b.loadJob(ctx, strings.TrimPrefix(jk, jobPrefix))
		if err != nil {
			return nil, err
		}
		if !ok || job.Status == queue.StatusQueued || job.Status == queue.StatusProcessing {
			continue
		}
		if shouldInclude(job, filter) {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (b *Backend) loadJob(ctx context.Context, id string) (queue.Job, bool, error) {
	payload, err := b.rdb.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return queue.Job{}, false, nil
	}
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("get job %s: %w", id, err)
	}
	job, err := queue.UnmarshalJob(payload)
	if err != nil {
		return queue.Job{}, false, nil
	}
	return job, true, nil
}

func (b *Backend) ClearByStatus(ctx context.Context, statuses []queue.Status) error {
	filter := queue.JobFilter{Statuses: statuses}

	queueKeys, err := b.scanKeys(ctx, queuePrefix+"*")
	if err != nil {
		return fmt.Errorf("scan queues: %w", err)
	}
	for _, qk := range queueKeys {
		items, err := b.rdb.LRange(ctx, qk, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("lrange %s: %w", qk, err)
		}
		for _, raw := range items {
			job, err := queue.UnmarshalJob(raw)
			if err != nil || !shouldInclude(job, filter) {
				continue
			}
			if err := b.rdb.LRem(ctx, qk, 1, raw).Err(); err != nil {
				return fmt.Errorf("lrem %s: %w", qk, err)
			}
			if err := b.rdb.Del(ctx, jobKey(job.ID)).Err(); err != nil {
				return fmt.Errorf("del job %s: %w", job.ID, err)
			}
		}
	}

	processingKeys, err := b.scanKeys(ctx, processingPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan processing: %w", err)
	}
	for _, pk := range processingKeys {
		ids, err := b.rdb.SMembers(ctx, pk).Result()
		if err != nil {
			return fmt.Errorf("smembers %s: %w", pk, err)
		}
		for _, id := range ids {
			job, ok, err := b.loadJob(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if job.Status == queue.StatusQueued {
				job.Status = queue.StatusProcessing
			}
			if !shouldInclude(job, filter) {
				continue
			}
			if err := b.rdb.SRem(ctx, pk, id).Err(); err != nil {
				return fmt.Errorf("srem %s: %w", pk, err)
			}
			if err := b.rdb.Del(ctx, jobKey(id)).Err(); err != nil {
				return fmt.Errorf("del job %s: %w", id, err)
			}
		}
	}

	jobKeys, err := b.scanKeys(ctx, jobPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan jobs: %w", err)
	}
	for _, jk := range jobKeys {
		payload, err := b.rdb.Get(ctx, jk).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", jk, err)
		}
		job, err := queue.UnmarshalJob(payload)
		if err != nil || !shouldInclude(job, filter) {
			continue
		}
		if err := b.rdb.Del(ctx, jk).Err(); err != nil {
			return fmt.Errorf("del %s: %w", jk, err)
		}
	}

	return nil
}

func (b *Backend) ClearJobsOlderThan(ctx context.Context, ageDays int, statuses []queue.Status) error {
	filter := queue.JobFilter{Statuses: statuses, AgeDays: ageDays}

	queueKeys, err := b.scanKeys(ctx, queuePrefix+"*")
	if err != nil {
		return fmt.Errorf("scan queues: %w", err)
	}
	for _, qk := range queueKeys {
		items, err := b.rdb.LRange(ctx, qk, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("lrange %s: %w", qk, err)
		}
		for _, raw := range items {
			job, err := queue.UnmarshalJob(raw)
			if err != nil || !shouldInclude(job, filter) {
				continue
			}
			if err := b.rdb.LRem(ctx, qk, 1, raw).Err(); err != nil {
				return fmt.Errorf("lrem %s: %w", qk, err)
			}
			if err := b.rdb.Del(ctx, jobKey(job.ID)).Err(); err != nil {
				return fmt.Errorf("del job %s: %w", job.ID, err)
			}
		}
	}

	jobKeys, err := b.scanKeys(ctx, jobPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan jobs: %w", err)
	}
	for _, jk := range jobKeys {
		payload, err := b.rdb.Get(ctx, jk).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", jk, err)
		}
		job, err := queue.UnmarshalJob(payload)
		if err != nil || !shouldInclude(job, filter) {
			continue
		}
		if err := b.rdb.Del(ctx, jk).Err(); err != nil {
			return fmt.Errorf("del %s: %w", jk, err)
		}
		if err := b.rdb.SRem(ctx, failedKey(job.Queue), job.ID).Err(); err != nil {
			return fmt.Errorf("srem failed %s: %w", job.ID, err)
		}
	}

	return nil
}

func (b *Backend) Requeue(ctx context.Context, ageMinutes int) error {
	cutoff := queue.StalledCutoff(ageMinutes)

	processingKeys, err := b.scanKeys(ctx, processingPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan processing: %w", err)
	}
	for _, pk := range processingKeys {
		queueName := strings.TrimPrefix(pk, processingPrefix)
		ids, err := b.rdb.SMembers(ctx, pk).Result()
		if err != nil {
			return fmt.Errorf("smembers %s: %w", pk, err)
		}
		for _, id := range ids {
			job, ok, err := b.loadJob(ctx, id)
			if err != nil {
				return err
			}
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

			job.Status = queue.StatusQueued
			job.Touch()
			payload, err := job.Marshal()
			if err != nil {
				return fmt.Errorf("marshal requeued job %s: %w", id, err)
			}

			pipe := b.rdb.TxPipeline()
			pipe.SRem(ctx, pk, id)
			pipe.Set(ctx, jobKey(id), payload, 0)
			pipe.RPush(ctx, queueKey(queueName), payload)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("requeue stalled job %s: %w", id, err)
			}
		}
	}

	failedKeys, err := b.scanKeys(ctx, failedPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	for _, fk := range failedKeys {
		queueName := strings.TrimPrefix(fk, failedPrefix)
		ids, err := b.rdb.SMembers(ctx, fk).Result()
		if err != nil {
			return fmt.Errorf("smembers %s: %w", fk, err)
		}
		for _, id := range ids {
			job, ok, err := b.loadJob(ctx, id)
			if err != nil {
				return err
			}
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

			job.Status = queue.StatusQueued
			job.Touch()
			payload, err := job.Marshal()
			if err != nil {
				return fmt.Errorf("marshal requeued failed job %s: %w", id, err)
			}

			pipe := b.rdb.TxPipeline()
			pipe.SRem(ctx, fk, id)
			pipe.Set(ctx, jobKey(id), payload, 0)
			pipe.RPush(ctx, queueKey(queueName), payload)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("requeue failed job %s: %w", id, err)
			}
		}
	}

	return nil
}

func (b *Backend) CancelJobsByName(ctx context.Context, name string, opts queue.CancelOptions) error {
	queueKeys, err := b.scanKeys(ctx, queuePrefix+"*")
	if err != nil {
		return fmt.Errorf("scan queues: %w", err)
	}
	for _, qk := range queueKeys {
		items, err := b.rdb.LRange(ctx, qk, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("lrange %s: %w", qk, err)
		}
		for _, raw := range items {
			job, err := queue.UnmarshalJob(raw)
			if err != nil || job.Name != name || job.Status != queue.StatusQueued {
				continue
			}

			job.Status = queue.StatusCancelled
			job.Touch()
			updated, err := job.Marshal()
			if err != nil {
				return fmt.Errorf("marshal cancelled job %s: %w", job.ID, err)
			}

			if err := b.rdb.LRem(ctx, qk, 1, raw).Err(); err != nil {
				return fmt.Errorf("lrem %s: %w", qk, err)
			}
			if err := b.rdb.Set(ctx, jobKey(job.ID), updated, 0).Err(); err != nil {
				return fmt.Errorf("set cancelled job %s: %w", job.ID, err)
			}
			if opts.TrackCancelled {
				queueName := strings.TrimPrefix(qk, queuePrefix)
				if err := b.rdb.SAdd(ctx, cancelledKey(queueName), job.ID).Err(); err != nil {
					return fmt.Errorf("track cancelled job %s: %w", job.ID, err)
				}
			}
		}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.rdb.Close()
}

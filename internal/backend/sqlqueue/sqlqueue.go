// Copyright 2025 James Ross

// Package sqlqueue implements queue.Backend over database/sql, serving
// both the Postgres (lib/pq) and SQLite (mattn/go-sqlite3) drivers from
// one schema and one set of queries. Postgres claims a job with
// SELECT ... FOR UPDATE SKIP LOCKED, the concurrency primitive SQLite
// has no equivalent for; SQLite instead claims optimistically with a
// conditional UPDATE and checks RowsAffected.
package sqlqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rivergate/jobqueue/internal/queue"
)

// Dialect distinguishes the two SQL backends this package serves.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

const timeLayout = time.RFC3339Nano

// Backend is the shared database/sql implementation of queue.Backend.
type Backend struct {
	db              *sql.DB
	dialect         Dialect
	scanLimit       int
	enableSkipLocked bool
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithScanLimit bounds how many queued rows Dequeue considers per queue
// before giving up on a tag match and moving to the next queue.
func WithScanLimit(n int) Option {
	return func(b *Backend) { b.scanLimit = n }
}

// WithSkipLocked toggles FOR UPDATE SKIP LOCKED on Postgres; it has no
// effect under SQLite, which never supports it.
func WithSkipLocked(enabled bool) Option {
	return func(b *Backend) { b.enableSkipLocked = enabled }
}

// NewPostgres wraps an already-opened *sql.DB using lib/pq placeholder
// and locking conventions.
func NewPostgres(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, dialect: DialectPostgres, scanLimit: 20, enableSkipLocked: true}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewSQLite wraps an already-opened *sql.DB using mattn/go-sqlite3.
func NewSQLite(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, dialect: DialectSQLite, scanLimit: 20}
	for _, o := range opts {
		o(b)
	}
	return b
}

// EnsureSchema creates the jobs table and its indexes if absent. Callers
// run this once at startup; it is idempotent.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	var stmt string
	switch b.dialect {
	case DialectPostgres:
		stmt = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	queue TEXT NOT NULL,
	task_data TEXT NOT NULL,
	status TEXT NOT NULL,
	run_at TEXT NOT NULL,
	interval_ms BIGINT,
	tags TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_queue_status_idx ON jobs (queue, status, run_at);
CREATE INDEX IF NOT EXISTS jobs_name_status_idx ON jobs (name, status);
`
	case DialectSQLite:
		stmt = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	queue TEXT NOT NULL,
	task_data TEXT NOT NULL,
	status TEXT NOT NULL,
	run_at TEXT NOT NULL,
	interval_ms INTEGER,
	tags TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_queue_status_idx ON jobs (queue, status, run_at);
CREATE INDEX IF NOT EXISTS jobs_name_status_idx ON jobs (name, status);
`
	}
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// placeholder returns the i'th (1-based) bind placeholder for this dialect.
func (b *Backend) placeholder(i int) string {
	if b.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

func (b *Backend) Enqueue(ctx context.Context, name, queueName string, data []byte, tags []string) (queue.Job, error) {
	if queueName == "" {
		queueName = "default"
	}
	job := queue.NewJob(name, queueName, json.RawMessage(data), tags)
	tagJSON, err := encodeTags(job.Tags)
	if err != nil {
		return queue.Job{}, fmt.Errorf("encode tags: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO jobs (id, name, queue, task_data, status, run_at, interval_ms, tags, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5),
		b.placeholder(6), b.placeholder(7), b.placeholder(8), b.placeholder(9), b.placeholder(10))

	_, err = b.db.ExecContext(ctx, stmt,
		job.ID, job.Name, job.Queue, string(job.Data), string(job.Status),
		job.RunAt.Format(timeLayout), job.Interval, tagJSON,
		job.CreatedAt.Format(timeLayout), job.UpdatedAt.Format(timeLayout))
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Restore inserts job verbatim, preserving its own ID, status, and
// timestamps instead of minting a new row the way Enqueue does. Used by
// Import to replay a dump without discarding history.
func (b *Backend) Restore(ctx context.Context, job queue.Job) error {
	tagJSON, err := encodeTags(job.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO jobs (id, name, queue, task_data, status, run_at, interval_ms, tags, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5),
		b.placeholder(6), b.placeholder(7), b.placeholder(8), b.placeholder(9), b.placeholder(10))

	_, err = b.db.ExecContext(ctx, stmt,
		job.ID, job.Name, job.Queue, string(job.Data), string(job.Status),
		job.RunAt.Format(timeLayout), job.Interval, tagJSON,
		job.CreatedAt.Format(timeLayout), job.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("restore job %s: %w", job.ID, err)
	}
	return nil
}

type jobRow struct {
	id, name, queueName, data, status, runAt, tags, createdAt, updatedAt string
	interval                                                            sql.NullInt64
}

func scanJobRow(row interface{ Scan(...any) error }) (jobRow, error) {
	var r jobRow
	err := row.Scan(&r.id, &r.name, &r.queueName, &r.data, &r.status, &r.runAt, &r.interval, &r.tags, &r.createdAt, &r.updatedAt)
	return r, err
}

func (r jobRow) toJob() queue.Job {
	j := queue.Job{
		ID:     r.id,
		Name:   r.name,
		Queue:  r.queueName,
		Data:   json.RawMessage(r.data),
		Status: queue.Status(r.status),
		Tags:   decodeTags(r.tags),
	}
	j.RunAt, _ = time.Parse(timeLayout, r.runAt)
	j.CreatedAt, _ = time.Parse(timeLayout, r.createdAt)
	j.UpdatedAt, _ = time.Parse(timeLayout, r.updatedAt)
	if r.interval.Valid {
		v := r.interval.Int64
		j.Interval = &v
	}
	return j
}

func (b *Backend) Dequeue(ctx context.Context, queues []string, workerTags []string) (queue.DequeueResult, bool, error) {
	for _, qName := range queues {
		result, ok, err := b.dequeueFromQueue(ctx, qName, workerTags)
		if err != nil {
			return queue.DequeueResult{}, false, err
		}
		if ok {
			return result, true, nil
		}
	}
	return queue.DequeueResult{}, false, nil
}

func (b *Backend) dequeueFromQueue(ctx context.Context, qName string, workerTags []string) (queue.DequeueResult, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.DequeueResult{}, false, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback()

	lockClause := ""
	if b.dialect == DialectPostgres {
		lockClause = " FOR UPDATE"
		if b.enableSkipLocked {
			lockClause += " SKIP LOCKED"
		}
	}

	query := fmt.Sprintf(`SELECT id, name, queue, task_data, status, run_at, interval_ms, tags, created_at, updated_at
FROM jobs WHERE queue = %s AND status = %s AND run_at <= %s
ORDER BY run_at ASC, id ASC LIMIT %d%s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.scanLimit, lockClause)

	now := time.Now().UTC().Format(timeLayout)
	rows, err := tx.QueryContext(ctx, query, qName, string(queue.StatusQueued), now)
	if err != nil {
		return queue.DequeueResult{}, false, fmt.Errorf("scan queue %s: %w", qName, err)
	}

	var candidates []jobRow
	for rows.Next() {
		r, err := scanJobRow(rows)
		if err != nil {
			rows.Close()
			return queue.DequeueResult{}, false, fmt.Errorf("scan row: %w", err)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return queue.DequeueResult{}, false, err
	}
	rows.Close()

	for _, r := range candidates {
		job := r.toJob()
		if !job.MatchesTags(workerTags) {
			continue
		}

		updated := time.Now().UTC().Format(timeLayout)
		if b.dialect == DialectPostgres {
			upd := fmt.Sprintf(`UPDATE jobs SET status = %s, updated_at = %s WHERE id = %s`,
				b.placeholder(1), b.placeholder(2), b.placeholder(3))
			if _, err := tx.ExecContext(ctx, upd, string(queue.StatusProcessing), updated, job.ID); err != nil {
				return queue.DequeueResult{}, false, fmt.Errorf("claim job %s: %w", job.ID, err)
			}
		} else {
			upd := `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
			res, err := tx.ExecContext(ctx, upd, string(queue.StatusProcessing), updated, job.ID, string(queue.StatusQueued))
			if err != nil {
				return queue.DequeueResult{}, false, fmt.Errorf("claim job %s: %w", job.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return queue.DequeueResult{}, false, fmt.Errorf("claim job %s: %w", job.ID, err)
			}
			if n == 0 {
				// Lost the optimistic race to another worker; try the next candidate.
				continue
			}
		}

		if err := tx.Commit(); err != nil {
			return queue.DequeueResult{}, false, fmt.Errorf("commit claim %s: %w", job.ID, err)
		}

		job.Status = queue.StatusProcessing
		job.UpdatedAt, _ = time.Parse(timeLayout, updated)
		return queue.DequeueResult{Job: job, Queue: qName}, true, nil
	}

	return queue.DequeueResult{}, false, nil
}

func (b *Backend) Complete(ctx context.Context, id, queueName string, interval *int64) error {
	now := time.Now().UTC()

	if interval != nil {
		runAt := now.Add(time.Duration(*interval) * time.Millisecond)
		stmt := fmt.Sprintf(`UPDATE jobs SET status = %s, run_at = %s, updated_at = %s WHERE id = %s`,
			b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4))
		_, err := b.db.ExecContext(ctx, stmt, string(queue.StatusQueued), runAt.Format(timeLayout), now.Format(timeLayout), id)
		if err != nil {
			return fmt.Errorf("reschedule recurring job %s: %w", id, err)
		}
		return nil
	}

	stmt := fmt.Sprintf(`UPDATE jobs SET status = %s, updated_at = %s WHERE id = %s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3))
	_, err := b.db.ExecContext(ctx, stmt, string(queue.StatusCompleted), now.Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

func (b *Backend) Fail(ctx context.Context, id, queueName, message string) error {
	errPayload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		return fmt.Errorf("marshal error payload for job %s: %w", id, err)
	}

	now := time.Now().UTC().Format(timeLayout)
	stmt := fmt.Sprintf(`UPDATE jobs SET status = %s, task_data = %s, updated_at = %s WHERE id = %s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4))
	if _, err := b.db.ExecContext(ctx, stmt, string(queue.StatusFailed), string(errPayload), now, id); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("clear jobs table: %w", err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) queryJobs(ctx context.Context, where string, args []any) ([]queue.Job, error) {
	query := `SELECT id, name, queue, task_data, status, run_at, interval_ms, tags, created_at, updated_at FROM jobs`
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Job
	for rows.Next() {
		r, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r.toJob())
	}
	return out, rows.Err()
}

func (b *Backend) buildStatusClause(statuses []queue.Status, startIdx int) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = b.placeholder(startIdx + i)
		args[i] = string(s)
	}
	return fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")), args
}

func (b *Backend) GetJobs(ctx context.Context, filter queue.JobFilter) ([]queue.Job, error) {
	var clauses []string
	var args []any

	if clause, cargs := b.buildStatusClause(filter.Statuses, len(args)+1); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	if filter.AgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -filter.AgeDays).Format(timeLayout)
		clauses = append(clauses, fmt.Sprintf("created_at <= %s", b.placeholder(len(args)+1)))
		args = append(args, cutoff)
	}

	return b.queryJobs(ctx, strings.Join(clauses, " AND "), args)
}

func (b *Backend) ClearByStatus(ctx context.Context, statuses []queue.Status) error {
	clause, args := b.buildStatusClause(statuses, 1)
	stmt := "DELETE FROM jobs"
	if clause != "" {
		stmt += " WHERE " + clause
	}
	if _, err := b.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("clear by status: %w", err)
	}
	return nil
}

func (b *Backend) ClearJobsOlderThan(ctx context.Context, ageDays int, statuses []queue.Status) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays).Format(timeLayout)
	args := []any{cutoff}
	stmt := fmt.Sprintf("DELETE FROM jobs WHERE created_at <= %s", b.placeholder(1))

	if clause, cargs := b.buildStatusClause(statuses, 2); clause != "" {
		stmt += " AND " + clause
		args = append(args, cargs...)
	}
	if _, err := b.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("clear jobs older than %dd: %w", ageDays, err)
	}
	return nil
}

func (b *Backend) Requeue(ctx context.Context, ageMinutes int) error {
	cutoff := queue.StalledCutoff(ageMinutes).Format(timeLayout)
	now := time.Now().UTC().Format(timeLayout)

	stmt := fmt.Sprintf(`UPDATE jobs SET status = %s, updated_at = %s
WHERE status IN (%s, %s) AND updated_at <= %s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5))
	_, err := b.db.ExecContext(ctx, stmt,
		string(queue.StatusQueued), now, string(queue.StatusProcessing), string(queue.StatusFailed), cutoff)
	if err != nil {
		return fmt.Errorf("requeue stalled/failed jobs: %w", err)
	}
	return nil
}

func (b *Backend) CancelJobsByName(ctx context.Context, name string, opts queue.CancelOptions) error {
	now := time.Now().UTC().Format(timeLayout)
	stmt := fmt.Sprintf(`UPDATE jobs SET status = %s, updated_at = %s WHERE name = %s AND status = %s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4))
	_, err := b.db.ExecContext(ctx, stmt, string(queue.StatusCancelled), now, name, string(queue.StatusQueued))
	if err != nil {
		return fmt.Errorf("cancel jobs by name %q: %w", name, err)
	}
	// opts.TrackCancelled is a no-op here: status=cancelled rows remain
	// queryable via GetJobs, which already gives SQL backends the
	// tracking behavior the Redis backend needs a side set for.
	_ = opts
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// Package queue implements the durable work queue the pipeline stages
// communicate through.
//
// A job is a (queue, payload) row; the pair is unique, so enqueueing the
// same work twice is a no-op. Claiming a job marks it started. A handled
// job is deleted. A failed job either goes back to the queue (stop-on-error
// mode) or stays started until an operator runs ResetStarted.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/praetorian-inc/hoard/pkg/store"
)

// Queue names used by the pipeline.
const (
	Digest = "digest"
	Index  = "index"
	OCR    = "ocr"
)

// Job is a claimed row.
type Job struct {
	ID        int64
	Queue     string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding payload of job %d: %w", j.ID, err)
	}
	return nil
}

// DocumentJob is the payload of digest and index jobs.
type DocumentJob struct {
	ID int64 `json:"id"`
}

// Options configures queue behaviour.
type Options struct {
	// PollInterval is the delay between claim attempts when following an
	// empty queue. Default: 1s.
	PollInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the queue handle. It shares the store's connection pool.
type Queue struct {
	db      *sql.DB
	dialect store.Dialect
	opts    Options
}

// New creates a queue handle on the jobs table created by store.CreateSchema.
func New(db *sql.DB, dialect store.Dialect, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, dialect: dialect, opts: opts}
}

// FromStore creates a queue handle on a store's database.
func FromStore(s store.Store, opts Options) *Queue {
	return New(s.DB(), s.Dialect(), opts)
}

// Put enqueues payload unless the same job is already queued. It reports
// whether a row was inserted.
func (q *Queue) Put(ctx context.Context, queue string, payload []byte) (bool, error) {
	res, err := q.db.ExecContext(ctx, q.dialect.Rebind(`
		INSERT INTO jobs (queue, payload, started, created_at) VALUES (?, ?, FALSE, ?)
		ON CONFLICT (queue, payload) DO NOTHING
	`), queue, string(payload), time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("enqueueing on %s: %w", queue, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PutJSON marshals v and enqueues it. Struct payloads marshal
// deterministically, which is what makes the uniqueness check work.
func (q *Queue) PutJSON(ctx context.Context, queue string, v any) (bool, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshaling payload: %w", err)
	}
	return q.Put(ctx, queue, payload)
}

// PutDocument enqueues a DocumentJob for document id.
func (q *Queue) PutDocument(ctx context.Context, queue string, id int64) (bool, error) {
	return q.PutJSON(ctx, queue, DocumentJob{ID: id})
}

// Claim atomically marks one unstarted job as started and returns it.
// With inOrder the oldest job is taken. Returns nil, nil if no job is
// available.
func (q *Queue) Claim(ctx context.Context, queue string, inOrder bool) (*Job, error) {
	jobs, err := q.claim(ctx, queue, 1, inOrder)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// ClaimBatch claims up to n jobs in one statement.
func (q *Queue) ClaimBatch(ctx context.Context, queue string, n int) ([]*Job, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", n)
	}
	return q.claim(ctx, queue, n, true)
}

func (q *Queue) claim(ctx context.Context, queue string, n int, inOrder bool) ([]*Job, error) {
	order := ""
	if inOrder {
		order = " ORDER BY id"
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.Rebind(`
		UPDATE jobs SET started = TRUE
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = ? AND started = FALSE`+order+`
			LIMIT ?`+q.dialect.LockClause()+`
		)
		RETURNING id, queue, payload, created_at
	`), queue, n)
	if err != nil {
		return nil, fmt.Errorf("claiming from %s: %w", queue, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			j       Job
			payload string
			created int64
		)
		if err := rows.Scan(&j.ID, &j.Queue, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		j.Payload = []byte(payload)
		j.CreatedAt = time.UnixMilli(created)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	if inOrder && len(jobs) > 1 {
		sortByID(jobs)
	}
	return jobs, nil
}

// Complete deletes a successfully handled job.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, q.dialect.Rebind("DELETE FROM jobs WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("completing job %d: %w", id, err)
	}
	return nil
}

// CompleteBatch deletes several jobs.
func (q *Queue) CompleteBatch(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	args := make([]any, len(jobs))
	for i, j := range jobs {
		args[i] = j.ID
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(jobs)), ", ")
	_, err := q.db.ExecContext(ctx, q.dialect.Rebind("DELETE FROM jobs WHERE id IN ("+marks+")"), args...)
	if err != nil {
		return fmt.Errorf("completing %d jobs: %w", len(jobs), err)
	}
	return nil
}

// Release makes a claimed job claimable again.
func (q *Queue) Release(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, q.dialect.Rebind("UPDATE jobs SET started = FALSE WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("releasing job %d: %w", id, err)
	}
	return nil
}

// ResetStarted releases every started job on the queue, requeueing work
// abandoned by crashed or interrupted workers. It returns how many jobs
// were reset.
func (q *Queue) ResetStarted(ctx context.Context, queue string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		q.dialect.Rebind("UPDATE jobs SET started = FALSE WHERE queue = ? AND started = TRUE"), queue)
	if err != nil {
		return 0, fmt.Errorf("resetting %s: %w", queue, err)
	}
	return res.RowsAffected()
}

// Purge deletes all jobs in the queue.
func (q *Queue) Purge(ctx context.Context, queue string) error {
	_, err := q.db.ExecContext(ctx, q.dialect.Rebind("DELETE FROM jobs WHERE queue = ?"), queue)
	return err
}

// Counts is the size of one queue.
type Counts struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Started int    `json:"started"`
}

// Stats returns per-queue pending and started counts, ordered by name.
func (q *Queue) Stats(ctx context.Context) ([]Counts, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT queue,
			SUM(CASE WHEN started THEN 0 ELSE 1 END),
			SUM(CASE WHEN started THEN 1 ELSE 0 END)
		FROM jobs GROUP BY queue ORDER BY queue
	`)
	if err != nil {
		return nil, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	var out []Counts
	for rows.Next() {
		var c Counts
		if err := rows.Scan(&c.Queue, &c.Pending, &c.Started); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Len returns the total number of jobs (pending + started) in the queue.
func (q *Queue) Len(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		q.dialect.Rebind("SELECT COUNT(*) FROM jobs WHERE queue = ?"), queue,
	).Scan(&n)
	return n, err
}

// ErrStopped is wrapped around the handler error that halted a
// stop-on-first-error iteration.
var ErrStopped = errors.New("iteration stopped")

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Handler processes one claimed job. Returning nil completes the job.
type Handler func(ctx context.Context, job *Job) error

// BatchHandler processes a batch of claimed jobs as a unit.
type BatchHandler func(ctx context.Context, jobs []*Job) error

// IterateOptions controls Iterate.
type IterateOptions struct {
	// StopOnFirstError releases the failing job and returns its error.
	// Otherwise the failing job stays started and iteration continues.
	StopOnFirstError bool
	// InOrder claims jobs oldest first.
	InOrder bool
	// Follow keeps polling an empty queue until ctx is cancelled instead
	// of returning.
	Follow bool
	// Limit stops after this many jobs. Zero means no limit.
	Limit int
}

// Result summarises an iteration.
type Result struct {
	Done   int
	Failed int
}

// Iterate claims jobs one at a time and hands each to fn. Cancelling ctx
// stops the loop between jobs; it returns ctx.Err() in that case.
func (q *Queue) Iterate(ctx context.Context, queue string, opts IterateOptions, fn Handler) (Result, error) {
	var res Result
	log := q.opts.Logger.With("queue", queue)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if opts.Limit > 0 && res.Done+res.Failed >= opts.Limit {
			return res, nil
		}

		job, err := q.Claim(ctx, queue, opts.InOrder)
		if err != nil {
			return res, err
		}
		if job == nil {
			if !opts.Follow {
				return res, nil
			}
			if !sleep(ctx, q.opts.PollInterval) {
				return res, ctx.Err()
			}
			continue
		}

		herr := fn(ctx, job)
		if herr == nil {
			if err := q.Complete(ctx, job.ID); err != nil {
				return res, err
			}
			res.Done++
			continue
		}

		res.Failed++
		if opts.StopOnFirstError {
			// the job must stay claimable even if ctx was what failed it
			if err := q.Release(context.WithoutCancel(ctx), job.ID); err != nil {
				return res, errors.Join(herr, err)
			}
			return res, fmt.Errorf("job %d: %w: %w", job.ID, ErrStopped, herr)
		}
		log.Error("job failed, left started", "job", job.ID, "payload", string(job.Payload), "error", herr)
	}
}

// IterateBatch claims up to size jobs at a time. A batch whose handler
// fails is left started as a whole and iteration moves on.
func (q *Queue) IterateBatch(ctx context.Context, queue string, size int, fn BatchHandler) (Result, error) {
	var res Result
	log := q.opts.Logger.With("queue", queue)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		jobs, err := q.ClaimBatch(ctx, queue, size)
		if err != nil {
			return res, err
		}
		if len(jobs) == 0 {
			return res, nil
		}

		if herr := fn(ctx, jobs); herr != nil {
			res.Failed += len(jobs)
			log.Error("batch failed, left started", "jobs", len(jobs), "first", jobs[0].ID, "error", herr)
			continue
		}
		if err := q.CompleteBatch(ctx, jobs); err != nil {
			return res, err
		}
		res.Done += len(jobs)
	}
}

func sortByID(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

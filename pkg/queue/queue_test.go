package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return FromStore(s, Options{})
}

type docPayload struct {
	ID int64 `json:"id"`
}

func TestPut_Idempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	inserted, err := q.PutJSON(ctx, Digest, docPayload{ID: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = q.PutJSON(ctx, Digest, docPayload{ID: 1})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = q.PutJSON(ctx, Index, docPayload{ID: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := q.Len(ctx, Digest)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaim_EmptyQueue(t *testing.T) {
	q := newTestQueue(t)

	job, err := q.Claim(context.Background(), Digest, false)

	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestIterate_CompletesJobsInOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	for i := int64(1); i <= 5; i++ {
		_, err := q.PutJSON(ctx, Digest, docPayload{ID: i})
		require.NoError(t, err)
	}

	var seen []int64
	res, err := q.Iterate(ctx, Digest, IterateOptions{InOrder: true}, func(ctx context.Context, job *Job) error {
		var p docPayload
		require.NoError(t, job.Decode(&p))
		seen = append(seen, p.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, Result{Done: 5}, res)
	n, err := q.Len(ctx, Digest)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIterate_StopOnFirstErrorReleasesJob(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	_, err := q.PutJSON(ctx, Digest, docPayload{ID: 1})
	require.NoError(t, err)
	_, err = q.PutJSON(ctx, Digest, docPayload{ID: 2})
	require.NoError(t, err)
	boom := errors.New("boom")

	res, err := q.Iterate(ctx, Digest, IterateOptions{StopOnFirstError: true, InOrder: true}, func(ctx context.Context, job *Job) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, Result{Failed: 1}, res)

	// the failed job is claimable again, first in line
	job, err := q.Claim(ctx, Digest, true)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `{"id":1}`, string(job.Payload))
}

func TestIterate_DefaultModeLeavesFailedJobsStarted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	for i := int64(1); i <= 3; i++ {
		_, err := q.PutJSON(ctx, Digest, docPayload{ID: i})
		require.NoError(t, err)
	}

	res, err := q.Iterate(ctx, Digest, IterateOptions{}, func(ctx context.Context, job *Job) error {
		var p docPayload
		require.NoError(t, job.Decode(&p))
		if p.ID == 2 {
			return fmt.Errorf("cannot handle %d", p.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Done: 2, Failed: 1}, res)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Counts{{Queue: Digest, Pending: 0, Started: 1}}, stats)

	// Act: operator sweep
	reset, err := q.ResetStarted(ctx, Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	job, err := q.Claim(ctx, Digest, false)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `{"id":2}`, string(job.Payload))
}

func TestIterate_Limit(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	for i := int64(1); i <= 3; i++ {
		_, err := q.PutJSON(ctx, OCR, docPayload{ID: i})
		require.NoError(t, err)
	}

	res, err := q.Iterate(ctx, OCR, IterateOptions{Limit: 2}, func(context.Context, *Job) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 2, res.Done)
}

func TestIterate_CancelledContext(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Iterate(ctx, Digest, IterateOptions{Follow: true}, func(context.Context, *Job) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterateBatch(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	for i := int64(1); i <= 5; i++ {
		_, err := q.PutJSON(ctx, Index, docPayload{ID: i})
		require.NoError(t, err)
	}

	var sizes []int
	res, err := q.IterateBatch(ctx, Index, 2, func(ctx context.Context, jobs []*Job) error {
		sizes = append(sizes, len(jobs))
		if len(sizes) == 2 {
			return errors.New("index unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, Result{Done: 3, Failed: 2}, res)

	n, err := q.Len(ctx, Index)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed batch stays in the table")
}

func TestClaim_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()
	q := FromStore(s, Options{})

	const jobs = 50
	for i := int64(1); i <= jobs; i++ {
		_, err := q.PutJSON(ctx, Digest, docPayload{ID: i})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim(ctx, Digest, false)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d claimed %d times", id, n)
	}
}

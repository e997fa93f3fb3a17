// Package worker runs the pipeline queues: it claims jobs, hands them to
// the digest engine, OCR ingester or indexer, and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/praetorian-inc/hoard/pkg/digest"
	"github.com/praetorian-inc/hoard/pkg/index"
	"github.com/praetorian-inc/hoard/pkg/ocr"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// Status errors.
const (
	ErrDocumentMissing = "document_missing"
	ErrBroken          = "broken"
)

// DefaultBatchSize is the number of index jobs claimed at once.
const DefaultBatchSize = 100

// Store is the part of the store the worker writes outcomes to.
type Store interface {
	GetDocument(ctx context.Context, id int64) (*types.Document, error)
	SetBroken(ctx context.Context, id int64, flag string) error
	PutDigest(ctx context.Context, documentID int64, data []byte) error
	MarkDigested(ctx context.Context, id int64, at time.Time) error
}

// Config configures a Worker.
type Config struct {
	Store  Store
	Queue  *queue.Queue
	Engine *digest.Engine
	// OCR handles the ocr queue. Nil rejects ocr jobs.
	OCR *ocr.Ingester
	// Indexer handles the index queue. Nil rejects index jobs.
	Indexer *index.Indexer
	// Index schedules digested documents on the index queue.
	Index bool

	// StopOnFirstError releases a failed job and stops. Otherwise the job
	// stays started and the worker moves on.
	StopOnFirstError bool
	// Follow keeps polling once the queue is drained.
	Follow    bool
	Limit     int
	BatchSize int

	// StatusLog receives one record per handled job.
	StatusLog *slog.Logger
	Logger    *slog.Logger
}

// Worker processes pipeline jobs.
type Worker struct {
	id  string
	cfg Config
	log *slog.Logger
}

// New creates a Worker with a fresh identity.
func New(cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	id := uuid.NewString()
	return &Worker{id: id, cfg: cfg, log: cfg.Logger.With("worker", id)}
}

// ID identifies the worker in logs.
func (w *Worker) ID() string { return w.id }

// Status is the outcome of digesting one document.
type Status struct {
	Document    int64         `json:"document"`
	Error       string        `json:"error,omitempty"`
	Broken      string        `json:"broken,omitempty"`
	NewChildren int           `json:"new_children"`
	Duration    time.Duration `json:"duration"`
	OK          bool          `json:"ok"`
}

func (s Status) attrs() []any {
	return []any{
		"document", s.Document,
		"error", s.Error,
		"broken", s.Broken,
		"new_children", s.NewChildren,
		"duration", s.Duration,
		"ok", s.OK,
	}
}

// Digest digests document id, creates its children and stores the record.
// A missing document or a quarantine condition is reported in the status
// and is not an error.
func (w *Worker) Digest(ctx context.Context, id int64) (Status, error) {
	start := time.Now()
	st, err := w.digest(ctx, id)
	st.Duration = time.Since(start)
	if err != nil {
		return st, err
	}
	w.log.Info("digested", st.attrs()...)
	if w.cfg.StatusLog != nil {
		w.cfg.StatusLog.Info("job", append(st.attrs(), "worker", w.id)...)
	}
	return st, nil
}

func (w *Worker) digest(ctx context.Context, id int64) (Status, error) {
	st := Status{Document: id}

	doc, err := w.cfg.Store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		st.Error = ErrDocumentMissing
		return st, nil
	}
	if err != nil {
		return st, err
	}

	rec, n, err := w.digestAndExpand(ctx, doc)
	if b, ok := types.AsBroken(err); ok {
		w.log.Warn("document is broken", "document", id, "flag", b.Flag, "error", b)
		if err := w.cfg.Store.SetBroken(ctx, id, b.Flag); err != nil {
			return st, err
		}
		st.Error = ErrBroken
		st.Broken = b.Flag
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("digesting document %d: %w", id, err)
	}
	st.NewChildren = n

	if doc.Broken != "" {
		if err := w.cfg.Store.SetBroken(ctx, id, ""); err != nil {
			return st, err
		}
	}
	data, err := rec.Encode()
	if err != nil {
		return st, err
	}
	if err := w.cfg.Store.PutDigest(ctx, id, data); err != nil {
		return st, err
	}
	if err := w.cfg.Store.MarkDigested(ctx, id, time.Now()); err != nil {
		return st, err
	}
	if w.cfg.Index {
		if _, err := w.cfg.Queue.PutDocument(ctx, queue.Index, id); err != nil {
			return st, err
		}
	}
	st.OK = true
	return st, nil
}

func (w *Worker) digestAndExpand(ctx context.Context, doc *types.Document) (*types.Record, int, error) {
	rec, err := w.cfg.Engine.Digest(ctx, doc)
	if err != nil {
		return nil, 0, err
	}
	n, err := w.cfg.Engine.CreateChildren(ctx, doc, rec)
	if err != nil {
		return nil, 0, err
	}
	return rec, n, nil
}

// Run drains the named queue.
func (w *Worker) Run(ctx context.Context, name string) (queue.Result, error) {
	opts := queue.IterateOptions{
		StopOnFirstError: w.cfg.StopOnFirstError,
		Follow:           w.cfg.Follow,
		Limit:            w.cfg.Limit,
	}
	w.log.Info("worker started", "queue", name)

	var (
		res queue.Result
		err error
	)
	switch name {
	case queue.Digest:
		res, err = w.cfg.Queue.Iterate(ctx, name, opts, w.handleDigest)
	case queue.OCR:
		if w.cfg.OCR == nil {
			return res, fmt.Errorf("ocr queue: no ocr ingester configured")
		}
		res, err = w.cfg.Queue.Iterate(ctx, name, opts, w.handleOCR)
	case queue.Index:
		if w.cfg.Indexer == nil {
			return res, fmt.Errorf("index queue: no indexer configured")
		}
		res, err = w.cfg.Queue.IterateBatch(ctx, name, w.cfg.BatchSize, w.handleIndex)
	default:
		return res, fmt.Errorf("unknown queue %q", name)
	}
	w.log.Info("worker finished", "queue", name, "done", res.Done, "failed", res.Failed)
	return res, err
}

func (w *Worker) handleDigest(ctx context.Context, job *queue.Job) error {
	var p queue.DocumentJob
	if err := job.Decode(&p); err != nil {
		return err
	}
	_, err := w.Digest(ctx, p.ID)
	return err
}

func (w *Worker) handleOCR(ctx context.Context, job *queue.Job) error {
	var p ocr.Job
	if err := job.Decode(&p); err != nil {
		return err
	}
	added, err := w.cfg.OCR.Handle(ctx, p)
	if err != nil {
		return err
	}
	w.log.Debug("ocr handled", "tag", p.Tag, "md5", p.MD5, "added", added)
	return nil
}

func (w *Worker) handleIndex(ctx context.Context, jobs []*queue.Job) error {
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		var p queue.DocumentJob
		if err := job.Decode(&p); err != nil {
			return err
		}
		ids = append(ids, p.ID)
	}
	n, err := w.cfg.Indexer.Bulk(ctx, ids)
	if err != nil {
		return err
	}
	w.log.Info("indexed", "documents", n, "jobs", len(ids))
	return nil
}

// RunParallel runs n workers built by newWorker against the same queue
// and sums their results. The first failure cancels the others.
func RunParallel(ctx context.Context, name string, n int, newWorker func() *Worker) (queue.Result, error) {
	if n < 1 {
		n = 1
	}
	results := make([]queue.Result, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := newWorker().Run(ctx, name)
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	var total queue.Result
	for _, r := range results {
		total.Done += r.Done
		total.Failed += r.Failed
	}
	return total, err
}

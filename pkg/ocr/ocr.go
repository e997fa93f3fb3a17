// Package ocr ingests externally produced OCR output: PDFs whose names
// end in the MD5 of the original document they were made from.
package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/types"
)

var md5Re = regexp.MustCompile(`([a-zA-Z0-9]{32})$`)

// Job is the payload of an ocr queue job.
type Job struct {
	Collection int64  `json:"collection"`
	Tag        string `json:"tag"`
	MD5        string `json:"md5"`
	Path       string `json:"path"`
}

// Store is the part of the store OCR ingestion uses.
type Store interface {
	GetCollectionByID(ctx context.Context, id int64) (*types.Collection, error)
	GetOrCreateOcr(ctx context.Context, o *types.Ocr) (*types.Ocr, bool, error)
	SetOcrText(ctx context.Context, id int64, text string) error
}

// Enqueuer receives ocr jobs.
type Enqueuer interface {
	PutJSON(ctx context.Context, queue string, v any) (bool, error)
}

// Config configures an Ingester.
type Config struct {
	Store Store
	Queue Enqueuer
	// Root resolves relative OCR directories of collections.
	Root string
	// PDFToText is the pdftotext binary. Empty uses the in-process reader.
	PDFToText string
	Logger    *slog.Logger
}

// Ingester walks OCR trees and loads their text.
type Ingester struct {
	store     Store
	queue     Enqueuer
	root      string
	pdftotext string
	logger    *slog.Logger
}

// New creates an Ingester.
func New(cfg Config) *Ingester {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingester{
		store:     cfg.Store,
		queue:     cfg.Queue,
		root:      cfg.Root,
		pdftotext: cfg.PDFToText,
		logger:    cfg.Logger,
	}
}

// MD5FromName extracts the document md5 from the concatenation of the
// parent folder names and the file name up to its first dot.
func MD5FromName(prefix, name string) (string, bool) {
	stem, _, _ := strings.Cut(name, ".")
	m := md5Re.FindStringSubmatch(prefix + stem)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// Dir returns the OCR directory registered for tag on coll.
func (i *Ingester) Dir(coll *types.Collection, tag string) (string, error) {
	dir, ok := coll.OCR[tag]
	if !ok {
		return "", fmt.Errorf("collection %s has no ocr tag %q", coll.Name, tag)
	}
	if !filepath.IsAbs(dir) && i.root != "" {
		dir = filepath.Join(i.root, dir)
	}
	return dir, nil
}

// Walk enqueues one ocr job per file under the tag's directory whose name
// carries an md5. It returns the number of files found.
func (i *Ingester) Walk(ctx context.Context, coll *types.Collection, tag string) (int, error) {
	dir, err := i.Dir(coll, tag)
	if err != nil {
		return 0, err
	}
	n := 0
	err = i.traverse(ctx, dir, "", "", func(rel, md5 string) error {
		n++
		_, err := i.queue.PutJSON(ctx, queue.OCR, Job{Collection: coll.ID, Tag: tag, MD5: md5, Path: rel})
		return err
	})
	if err != nil {
		return n, err
	}
	i.logger.Info("ocr walk finished", "collection", coll.Name, "tag", tag, "jobs", n)
	return n, nil
}

func (i *Ingester) traverse(ctx context.Context, dir, rel, prefix string, fn func(rel, md5 string) error) error {
	entries, err := os.ReadDir(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("listing ocr dir: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := e.Name()
		if rel != "" {
			child = rel + "/" + e.Name()
		}
		if e.IsDir() {
			if err := i.traverse(ctx, dir, child, prefix+e.Name(), fn); err != nil {
				return err
			}
			continue
		}
		md5, ok := MD5FromName(prefix, e.Name())
		if !ok {
			i.logger.Warn("ocr file name carries no md5", "path", child)
			continue
		}
		if err := fn(child, md5); err != nil {
			return err
		}
	}
	return nil
}

// Handle loads the text of one OCR file. Rows that already have text are
// skipped.
func (i *Ingester) Handle(ctx context.Context, job Job) (bool, error) {
	row, created, err := i.store.GetOrCreateOcr(ctx, &types.Ocr{
		CollectionID: job.Collection,
		Tag:          job.Tag,
		MD5:          job.MD5,
		Path:         job.Path,
	})
	if err != nil {
		return false, err
	}
	if !created && row.Text != "" {
		return false, nil
	}

	coll, err := i.store.GetCollectionByID(ctx, job.Collection)
	if err != nil {
		return false, err
	}
	dir, err := i.Dir(coll, job.Tag)
	if err != nil {
		return false, err
	}
	text, err := i.text(ctx, filepath.Join(dir, filepath.FromSlash(job.Path)))
	if err != nil {
		return false, err
	}
	if err := i.store.SetOcrText(ctx, row.ID, text); err != nil {
		return false, err
	}
	return true, nil
}

func (i *Ingester) text(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening ocr file: %w", err)
	}
	defer f.Close()

	if i.pdftotext != "" {
		return extract.PDFToText(ctx, i.pdftotext, f)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading ocr file: %w", err)
	}
	return extract.PDFText(data)
}

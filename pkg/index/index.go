// Package index projects digests onto the document shape the search index
// consumes and writes them as bulk NDJSON.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// Document is one search index entry.
type Document struct {
	Path        string   `json:"path"`
	Text        string   `json:"text"`
	Subject     *string  `json:"subject"`
	Date        string   `json:"date,omitempty"`
	To          []string `json:"to"`
	From        *string  `json:"from"`
	SHA1        string   `json:"sha1"`
	MD5         string   `json:"md5"`
	Lang        string   `json:"lang,omitempty"`
	DateCreated string   `json:"date-created,omitempty"`
	MessageID   string   `json:"message-id,omitempty"`
	InReplyTo   string   `json:"in-reply-to,omitempty"`
	ThreadIndex string   `json:"thread-index,omitempty"`
	References  string   `json:"references,omitempty"`
	Message     int64    `json:"message,omitempty"`
	Filename    string   `json:"filename"`
	Rev         int64    `json:"rev"`
	PGP         bool     `json:"pgp"`
	WordCount   *int     `json:"word-count"`

	FileType    string            `json:"filetype"`
	Attachments bool              `json:"attachments"`
	People      string            `json:"people"`
	OCR         bool              `json:"ocr"`
	OCRText     map[string]string `json:"ocrtext,omitempty"`
}

// Project maps a digest record onto its index document.
func Project(rec *types.Record) Document {
	from := ""
	if rec.From != nil {
		from = *rec.From
	}
	return Document{
		Path:        rec.Path,
		Text:        rec.Text,
		Subject:     rec.Subject,
		Date:        rec.Date,
		To:          rec.To,
		From:        rec.From,
		SHA1:        rec.SHA1,
		MD5:         rec.MD5,
		Lang:        rec.Lang,
		DateCreated: rec.DateCreated,
		MessageID:   rec.MessageID,
		InReplyTo:   rec.InReplyTo,
		ThreadIndex: rec.ThreadIndex,
		References:  rec.References,
		Message:     rec.Message,
		Filename:    rec.Filename,
		Rev:         rec.Rev,
		PGP:         rec.PGP,
		WordCount:   rec.WordCount,
		FileType:    rec.Type,
		Attachments: len(rec.Attachments) > 0,
		People:      strings.Join(append([]string{from}, rec.To...), " "),
		OCR:         len(rec.OCR) > 0,
		OCRText:     rec.OCR,
	}
}

// Writer emits bulk index requests: an action line followed by the
// document, one JSON value per line.
type Writer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	index string
}

// NewWriter writes bulk requests for the named index to w.
func NewWriter(w io.Writer, index string) *Writer {
	return &Writer{enc: json.NewEncoder(w), index: index}
}

type action struct {
	Index actionMeta `json:"index"`
}

type actionMeta struct {
	Index string `json:"_index,omitempty"`
	ID    int64  `json:"_id"`
}

// Write emits one document.
func (w *Writer) Write(id int64, doc Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(action{Index: actionMeta{Index: w.index, ID: id}}); err != nil {
		return fmt.Errorf("writing index action: %w", err)
	}
	if err := w.enc.Encode(doc); err != nil {
		return fmt.Errorf("writing index document %d: %w", id, err)
	}
	return nil
}

// Digests loads stored digest records.
type Digests interface {
	GetDigest(ctx context.Context, documentID int64) ([]byte, error)
}

// Indexer projects stored digests and writes them out.
type Indexer struct {
	digests Digests
	writer  *Writer
	logger  *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(digests Digests, writer *Writer, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{digests: digests, writer: writer, logger: logger}
}

// Bulk indexes the digests of ids. Documents without a digest are
// skipped. It returns the number of documents written.
func (i *Indexer) Bulk(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		data, err := i.digests.GetDigest(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			i.logger.Warn("no digest to index", "document", id)
			continue
		}
		if err != nil {
			return n, err
		}
		rec, err := types.DecodeRecord(data)
		if err != nil {
			return n, fmt.Errorf("document %d: %w", id, err)
		}
		if err := i.writer.Write(id, Project(rec)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

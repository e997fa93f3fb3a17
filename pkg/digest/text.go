package digest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/contenttype"
	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/hashcache"
	"github.com/praetorian-inc/hoard/pkg/types"
)

func (e *Engine) read(ctx context.Context, doc *types.Document) ([]byte, error) {
	rc, err := e.source.Open(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading document %d: %w", doc.ID, err)
	}
	return data, nil
}

// extractText fills the text and metadata fields for rec.Type. Documents
// of other types are left without text. The result reports whether a text
// field was produced, even an empty one.
func (e *Engine) extractText(ctx context.Context, doc *types.Document, rec *types.Record) (bool, error) {
	found := false
	switch rec.Type {
	case contenttype.TagText:
		data, err := e.read(ctx, doc)
		if err != nil {
			return false, err
		}
		rec.Text = extract.DecodeText(data)
		found = true

	case contenttype.TagHTML:
		data, err := e.read(ctx, doc)
		if err != nil {
			return false, err
		}
		rec.Text = extract.HTMLText(data)
		rec.SafeHTML = extract.SafeHTML(data)
		found = true

	case contenttype.TagImage:
		rc, err := e.source.Open(ctx, doc)
		if err != nil {
			return false, err
		}
		meta := extract.EXIF(rc)
		rc.Close()
		rec.Location = meta.Location
		rec.DateCreated = meta.DateCreated
	}

	if !e.usesTika(rec.Type) || doc.DiskSize > e.tikaMaxFileSize {
		return found, nil
	}
	if e.tika != nil {
		return e.tikaText(ctx, doc, rec)
	}
	return e.nativeText(ctx, doc, rec)
}

func (e *Engine) tikaText(ctx context.Context, doc *types.Document, rec *types.Record) (bool, error) {
	res, err := hashcache.Get(ctx, e.cache, CacheTika, doc.SHA1, func() (*extract.TikaResult, error) {
		data, err := e.read(ctx, doc)
		if err != nil {
			return nil, err
		}
		return e.tika.Parse(ctx, data)
	})
	if err != nil {
		return false, fmt.Errorf("tika on document %d: %w", doc.ID, err)
	}
	if res == nil {
		return false, nil
	}

	rec.Text = strings.TrimSpace(res.Content)
	meta := extract.ExtractMeta(res.Metadata)
	rec.ContentType = meta.ContentType
	rec.Author = meta.Author
	rec.DateCreated = meta.DateCreated
	if meta.Date != "" {
		rec.Date = meta.Date
	}
	rec.EncryptedPDF = meta.EncryptedPDF
	rec.Tika = meta.Raw
	return true, nil
}

// nativeText extracts office and PDF text in-process. Failures are
// recorded as warnings: the document is still digested, just without text.
func (e *Engine) nativeText(ctx context.Context, doc *types.Document, rec *types.Record) (bool, error) {
	data, err := e.read(ctx, doc)
	if err != nil {
		return false, err
	}

	var text string
	switch rec.Type {
	case contenttype.TagPDF:
		if n, err := extract.PDFPageCount(data); err == nil {
			rec.PageCount = n
		}
		if e.pdftotext != "" {
			text, err = extract.PDFToText(ctx, e.pdftotext, bytes.NewReader(data))
		} else {
			text, err = extract.PDFText(data)
		}
	default:
		text, err = extract.OfficeText(data)
	}
	if err != nil {
		e.logger.Warn("extracting text", "document", doc.ID, "type", rec.Type, "error", err)
		rec.Warn("text extraction failed: %v", err)
		return false, nil
	}
	rec.Text = strings.TrimSpace(text)
	return true, nil
}

// language returns the two-letter language of text, or "" if detection
// fails.
func (e *Engine) language(ctx context.Context, text string) string {
	lang, err := hashcache.Get(ctx, e.cache, CacheTikaLang, types.SHA1Hex(text), func() (string, error) {
		return e.tika.Language(ctx, text)
	})
	if err != nil {
		e.logger.Warn("detecting language", "error", err)
		return ""
	}
	if len(lang) > 2 {
		lang = lang[:2]
	}
	return lang
}

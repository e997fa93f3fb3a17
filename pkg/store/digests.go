package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// PutDigest stores (or replaces) the digest record for a document.
func (s *SQLStore) PutDigest(ctx context.Context, documentID int64, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO digests (document_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, documentID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storing digest of document %d: %w", documentID, err)
	}
	return nil
}

// GetDigest returns the stored digest record for a document.
func (s *SQLStore) GetDigest(ctx context.Context, documentID int64) ([]byte, error) {
	var data string
	err := s.queryRow(ctx, "SELECT data FROM digests WHERE document_id = ?", documentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest of document %d: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading digest of document %d: %w", documentID, err)
	}
	return []byte(data), nil
}

// CacheGet reads a cached value.
func (s *SQLStore) CacheGet(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := s.queryRow(ctx,
		"SELECT value FROM cache_entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// CachePut inserts value unless the key is present and returns the value
// that won. Two processes computing the same key agree on one result.
func (s *SQLStore) CachePut(ctx context.Context, namespace, key string, value []byte) ([]byte, error) {
	_, err := s.exec(ctx, `
		INSERT INTO cache_entries (namespace, key, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO NOTHING
	`, namespace, key, value, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("writing cache %s/%s: %w", namespace, key, err)
	}

	stored, ok, err := s.CacheGet(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache %s/%s vanished after insert", namespace, key)
	}
	return stored, nil
}

const ocrColumns = "id, collection_id, tag, md5, path, text"

func scanOcr(row interface{ Scan(...any) error }) (*types.Ocr, error) {
	var (
		o    types.Ocr
		path []byte
	)
	if err := row.Scan(&o.ID, &o.CollectionID, &o.Tag, &o.MD5, &path, &o.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Path = string(path)
	return &o, nil
}

// GetOrCreateOcr returns the OCR row keyed by (collection, tag, md5).
func (s *SQLStore) GetOrCreateOcr(ctx context.Context, o *types.Ocr) (*types.Ocr, bool, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO ocr_documents (collection_id, tag, md5, path, text) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection_id, tag, md5) DO NOTHING
		RETURNING id
	`, o.CollectionID, o.Tag, o.MD5, s.dialect.binary(o.Path), o.Text).Scan(&id)

	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = s.queryRow(ctx,
			"SELECT id FROM ocr_documents WHERE collection_id = ? AND tag = ? AND md5 = ?",
			o.CollectionID, o.Tag, o.MD5,
		).Scan(&id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("get-or-create ocr %s/%s: %w", o.Tag, o.MD5, err)
	}

	got, err := scanOcr(s.queryRow(ctx, "SELECT "+ocrColumns+" FROM ocr_documents WHERE id = ?", id))
	if err != nil {
		return nil, false, fmt.Errorf("ocr %d: %w", id, err)
	}
	return got, created, nil
}

// SetOcrText stores the text of an OCR row.
func (s *SQLStore) SetOcrText(ctx context.Context, id int64, text string) error {
	if _, err := s.exec(ctx, "UPDATE ocr_documents SET text = ? WHERE id = ?", text, id); err != nil {
		return fmt.Errorf("updating ocr %d: %w", id, err)
	}
	return nil
}

// OcrByMD5 returns every OCR row for the document md5, ordered by tag.
func (s *SQLStore) OcrByMD5(ctx context.Context, collectionID int64, md5 string) ([]*types.Ocr, error) {
	rows, err := s.query(ctx,
		"SELECT "+ocrColumns+" FROM ocr_documents WHERE collection_id = ? AND md5 = ? ORDER BY tag",
		collectionID, md5,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ocr: %w", err)
	}
	defer rows.Close()

	var out []*types.Ocr
	for rows.Next() {
		o, err := scanOcr(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ocr: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

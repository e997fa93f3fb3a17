package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/praetorian-inc/hoard/pkg/types"
)

const documentColumns = `id, collection_id, container_id, parent_id, path, filename,
	content_type, disk_size, md5, sha1, broken, flags, rev, digested_at`

func scanDocument(row interface{ Scan(...any) error }) (*types.Document, error) {
	var (
		d        types.Document
		path     []byte
		filename []byte
		flags    string
		digested int64
	)
	err := row.Scan(&d.ID, &d.CollectionID, &d.ContainerID, &d.ParentID, &path, &filename,
		&d.ContentType, &d.DiskSize, &d.MD5, &d.SHA1, &d.Broken, &flags, &d.Rev, &digested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Path = string(path)
	d.Filename = string(filename)
	d.DigestedAt = fromMillis(digested)
	if d.Flags, err = types.DecodeFlags(flags); err != nil {
		return nil, fmt.Errorf("decoding flags of document %d: %w", d.ID, err)
	}
	return &d, nil
}

// GetDocument loads a document by id.
func (s *SQLStore) GetDocument(ctx context.Context, id int64) (*types.Document, error) {
	d, err := scanDocument(s.queryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("document %d: %w", id, err)
	}
	return d, nil
}

// RootDocument returns the folder document for the collection root.
func (s *SQLStore) RootDocument(ctx context.Context, collectionID int64) (*types.Document, error) {
	d, err := scanDocument(s.queryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE collection_id = ? AND container_id = 0 AND path = ?",
		collectionID, s.dialect.binary("")))
	if err != nil {
		return nil, fmt.Errorf("root of collection %d: %w", collectionID, err)
	}
	return d, nil
}

// GetOrCreateDocument inserts d unless its (collection, container, path)
// key already exists. The conflict clause keeps concurrent walkers from
// creating duplicate rows.
func (s *SQLStore) GetOrCreateDocument(ctx context.Context, d *types.Document) (*types.Document, bool, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO documents (collection_id, container_id, parent_id, path, filename,
			content_type, disk_size, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection_id, container_id, path) DO NOTHING
		RETURNING id
	`,
		d.CollectionID,
		d.ContainerID,
		d.ParentID,
		s.dialect.binary(d.Path),
		s.dialect.binary(d.Filename),
		d.ContentType,
		d.DiskSize,
		d.Flags.Encode(),
	).Scan(&id)

	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = s.queryRow(ctx,
			"SELECT id FROM documents WHERE collection_id = ? AND container_id = ? AND path = ?",
			d.CollectionID, d.ContainerID, s.dialect.binary(d.Path),
		).Scan(&id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("get-or-create document %q: %w", d.Path, err)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return doc, created, nil
}

// SetHashes records hashes only while sha1 is still empty, so a document's
// hashes are computed at most once even when two workers race.
func (s *SQLStore) SetHashes(ctx context.Context, id int64, h types.ContentHash) (*types.Document, error) {
	_, err := s.exec(ctx,
		"UPDATE documents SET md5 = ?, sha1 = ?, disk_size = ? WHERE id = ? AND sha1 = ''",
		h.MD5, h.SHA1, h.Size, id,
	)
	if err != nil {
		return nil, fmt.Errorf("storing hashes of document %d: %w", id, err)
	}
	return s.GetDocument(ctx, id)
}

// SetContentType overwrites the stored content type.
func (s *SQLStore) SetContentType(ctx context.Context, id int64, contentType string) error {
	return s.update(ctx, id, "content_type = ?", contentType)
}

// SetBroken records (or, with "", clears) the broken flag.
func (s *SQLStore) SetBroken(ctx context.Context, id int64, flag string) error {
	return s.update(ctx, id, "broken = ?", flag)
}

// SetFlags replaces the document's flag set.
func (s *SQLStore) SetFlags(ctx context.Context, id int64, flags types.Flags) error {
	return s.update(ctx, id, "flags = ?", flags.Encode())
}

// MarkDigested stamps digested_at. Rev is left alone so re-digesting an
// unchanged document stores the same record.
func (s *SQLStore) MarkDigested(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, id, "digested_at = ?", millis(at))
}

func (s *SQLStore) update(ctx context.Context, id int64, set string, args ...any) error {
	res, err := s.exec(ctx, "UPDATE documents SET "+set+" WHERE id = ?", append(args, id)...)
	if err != nil {
		return fmt.Errorf("updating document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

func (f DocumentFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.CollectionID != 0 {
		conds = append(conds, "collection_id = ?")
		args = append(args, f.CollectionID)
	}
	if f.ContainerID != nil {
		conds = append(conds, "container_id = ?")
		args = append(args, *f.ContainerID)
	}
	if f.ParentID != nil {
		conds = append(conds, "parent_id = ?")
		args = append(args, *f.ParentID)
	}
	if f.ContentType != "" {
		conds = append(conds, "content_type = ?")
		args = append(args, f.ContentType)
	}
	switch {
	case f.Broken != "":
		conds = append(conds, "broken = ?")
		args = append(args, f.Broken)
	case f.AnyBroken:
		conds = append(conds, "broken <> ''")
	}
	if f.Undigested {
		conds = append(conds, "digested_at = 0")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindDocuments returns documents matching f ordered by id.
func (s *SQLStore) FindDocuments(ctx context.Context, f DocumentFilter) ([]*types.Document, error) {
	where, args := f.where()
	q := "SELECT " + documentColumns + " FROM documents" + where + " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []*types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDocuments counts documents matching f.
func (s *SQLStore) CountDocuments(ctx context.Context, f DocumentFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// BrokenCounts tallies broken documents per flag.
func (s *SQLStore) BrokenCounts(ctx context.Context, collectionID int64) (map[string]int, error) {
	rows, err := s.query(ctx, `
		SELECT broken, COUNT(*) FROM documents
		WHERE collection_id = ? AND broken <> ''
		GROUP BY broken
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("counting broken documents: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			flag string
			n    int
		)
		if err := rows.Scan(&flag, &n); err != nil {
			return nil, err
		}
		out[flag] = n
	}
	return out, rows.Err()
}

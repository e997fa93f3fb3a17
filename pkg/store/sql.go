package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// sqlitePragmas are applied on every pooled connection.
const sqlitePragmas = "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLite creates a SQLite-based store.
// Use ":memory:" for in-memory database (useful for testing).
func NewSQLite(path string) (*SQLStore, error) {
	memory := path == ":memory:"

	dsn := path
	if memory {
		dsn = "file::memory:"
	} else if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + sqlitePragmas

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// every new connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	return open(db, SQLite)
}

// NewPostgres creates a PostgreSQL-based store using the pgx driver.
func NewPostgres(dsn string, maxOpen int) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	return open(db, Postgres)
}

func open(db *sql.DB, d Dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := CreateSchema(db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

// DB exposes the connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// CreateCollection stores a collection along with its root folder document.
func (s *SQLStore) CreateCollection(ctx context.Context, c *types.Collection) error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	ocr, err := json.Marshal(c.OCR)
	if err != nil {
		return fmt.Errorf("marshaling ocr dirs: %w", err)
	}
	if c.OCR == nil {
		ocr = []byte("{}")
	}

	err = s.queryRow(ctx,
		"INSERT INTO collections (name, path, ocr, created_at) VALUES (?, ?, ?, ?) RETURNING id",
		c.Name, c.Path, string(ocr), millis(c.CreatedAt),
	).Scan(&c.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("collection %q: %w", c.Name, ErrExists)
		}
		return fmt.Errorf("inserting collection: %w", err)
	}

	_, _, err = s.GetOrCreateDocument(ctx, &types.Document{
		CollectionID: c.ID,
		Path:         "",
		ContentType:  types.FolderContentType,
	})
	if err != nil {
		return fmt.Errorf("creating root document: %w", err)
	}
	return nil
}

const collectionColumns = "id, name, path, ocr, created_at"

func scanCollection(row interface{ Scan(...any) error }) (*types.Collection, error) {
	var (
		c       types.Collection
		ocr     string
		created int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Path, &ocr, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	if err := json.Unmarshal([]byte(ocr), &c.OCR); err != nil {
		return nil, fmt.Errorf("decoding ocr dirs: %w", err)
	}
	return &c, nil
}

// GetCollection looks a collection up by name.
func (s *SQLStore) GetCollection(ctx context.Context, name string) (*types.Collection, error) {
	c, err := scanCollection(s.queryRow(ctx, "SELECT "+collectionColumns+" FROM collections WHERE name = ?", name))
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", name, err)
	}
	return c, nil
}

// GetCollectionByID looks a collection up by id.
func (s *SQLStore) GetCollectionByID(ctx context.Context, id int64) (*types.Collection, error) {
	c, err := scanCollection(s.queryRow(ctx, "SELECT "+collectionColumns+" FROM collections WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("collection %d: %w", id, err)
	}
	return c, nil
}

// ListCollections returns every collection ordered by name.
func (s *SQLStore) ListCollections(ctx context.Context) ([]*types.Collection, error) {
	rows, err := s.query(ctx, "SELECT "+collectionColumns+" FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var out []*types.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCollectionOCR registers the directory holding OCR output for tag.
func (s *SQLStore) SetCollectionOCR(ctx context.Context, id int64, tag, dir string) error {
	c, err := s.GetCollectionByID(ctx, id)
	if err != nil {
		return err
	}
	if c.OCR == nil {
		c.OCR = map[string]string{}
	}
	c.OCR[tag] = dir

	ocr, err := json.Marshal(c.OCR)
	if err != nil {
		return fmt.Errorf("marshaling ocr dirs: %w", err)
	}
	if _, err := s.exec(ctx, "UPDATE collections SET ocr = ? WHERE id = ?", string(ocr), id); err != nil {
		return fmt.Errorf("updating collection: %w", err)
	}
	return nil
}

// DeleteCollection removes a collection, its documents, digests and OCR rows.
func (s *SQLStore) DeleteCollection(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM digests WHERE document_id IN (SELECT id FROM documents WHERE collection_id = ?)",
		"DELETE FROM documents WHERE collection_id = ?",
		"DELETE FROM ocr_documents WHERE collection_id = ?",
		"DELETE FROM collections WHERE id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(stmt), id); err != nil {
			return fmt.Errorf("deleting collection %d: %w", id, err)
		}
	}
	return tx.Commit()
}

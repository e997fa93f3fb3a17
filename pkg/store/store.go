package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/praetorian-inc/hoard/pkg/types"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when a create collides with a unique key.
	ErrExists = errors.New("already exists")
)

// Store provides persistence for collections, documents and their digests.
// This interface abstracts the SQL backend so the pipeline can run against
// SQLite or PostgreSQL.
type Store interface {
	// CreateCollection stores a collection along with its root folder document.
	CreateCollection(ctx context.Context, c *types.Collection) error

	// GetCollection looks a collection up by name.
	GetCollection(ctx context.Context, name string) (*types.Collection, error)

	// GetCollectionByID looks a collection up by id.
	GetCollectionByID(ctx context.Context, id int64) (*types.Collection, error)

	// ListCollections returns every collection ordered by name.
	ListCollections(ctx context.Context) ([]*types.Collection, error)

	// SetCollectionOCR registers the directory holding OCR output for tag.
	SetCollectionOCR(ctx context.Context, id int64, tag, dir string) error

	// DeleteCollection removes a collection and everything stored under it.
	DeleteCollection(ctx context.Context, id int64) error

	// RootDocument returns the folder document for the collection root.
	RootDocument(ctx context.Context, collectionID int64) (*types.Document, error)

	// GetDocument loads a document by id.
	GetDocument(ctx context.Context, id int64) (*types.Document, error)

	// GetOrCreateDocument returns the document with d's (collection,
	// container, path) key, inserting d if none exists. The boolean reports
	// whether a row was created.
	GetOrCreateDocument(ctx context.Context, d *types.Document) (*types.Document, bool, error)

	// SetHashes records content hashes and size, unless the document already
	// has them. It returns the document as stored afterwards.
	SetHashes(ctx context.Context, id int64, h types.ContentHash) (*types.Document, error)

	// SetContentType overwrites the stored content type.
	SetContentType(ctx context.Context, id int64, contentType string) error

	// SetBroken records (or, with "", clears) the broken flag.
	SetBroken(ctx context.Context, id int64, flag string) error

	// SetFlags replaces the document's flag set.
	SetFlags(ctx context.Context, id int64, flags types.Flags) error

	// MarkDigested stamps digested_at. Rev is left unchanged.
	MarkDigested(ctx context.Context, id int64, at time.Time) error

	// FindDocuments returns documents matching f ordered by id.
	FindDocuments(ctx context.Context, f DocumentFilter) ([]*types.Document, error)

	// CountDocuments counts documents matching f.
	CountDocuments(ctx context.Context, f DocumentFilter) (int, error)

	// BrokenCounts tallies broken documents per flag.
	BrokenCounts(ctx context.Context, collectionID int64) (map[string]int, error)

	// PutDigest stores (or replaces) the digest record for a document.
	PutDigest(ctx context.Context, documentID int64, data []byte) error

	// GetDigest returns the stored digest record for a document.
	GetDigest(ctx context.Context, documentID int64) ([]byte, error)

	// CacheGet reads a cached value.
	CacheGet(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// CachePut stores value unless the key is already present, and returns
	// whichever value ended up stored.
	CachePut(ctx context.Context, namespace, key string, value []byte) ([]byte, error)

	// GetOrCreateOcr returns the OCR row keyed by (collection, tag, md5).
	GetOrCreateOcr(ctx context.Context, o *types.Ocr) (*types.Ocr, bool, error)

	// SetOcrText stores the text of an OCR row.
	SetOcrText(ctx context.Context, id int64, text string) error

	// OcrByMD5 returns every OCR row for the document md5.
	OcrByMD5(ctx context.Context, collectionID int64, md5 string) ([]*types.Ocr, error)

	// DB exposes the connection pool for components sharing the schema.
	DB() *sql.DB

	// Dialect describes the SQL flavour of DB.
	Dialect() Dialect

	// Close closes the database connection.
	Close() error
}

var _ Store = (*SQLStore)(nil)

// DocumentFilter selects documents. Zero fields do not constrain.
type DocumentFilter struct {
	CollectionID int64
	ContainerID  *int64
	ParentID     *int64
	ContentType  string
	// Broken matches an exact flag. AnyBroken matches every broken document.
	Broken     string
	AnyBroken  bool
	Undigested bool
	Limit      int
}

// Config for store initialization.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is the database file path for SQLite (":memory:" for tests) or
	// the connection string for PostgreSQL.
	DSN string
	// MaxOpenConns caps the pool. Zero keeps the driver default.
	MaxOpenConns int
}

// New opens the configured backend and ensures the schema exists.
func New(cfg Config) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "pgx":
		return NewPostgres(cfg.DSN, cfg.MaxOpenConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

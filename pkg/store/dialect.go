package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the few places SQLite and PostgreSQL disagree.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string

	autoID string
	blob   string
	// skipLocked is appended to claim subqueries.
	skipLocked string
}

var (
	// SQLite serializes writers, so an UPDATE ... RETURNING claim is atomic.
	SQLite = Dialect{
		Name:   "sqlite",
		autoID: "INTEGER PRIMARY KEY AUTOINCREMENT",
		blob:   "BLOB",
	}

	Postgres = Dialect{
		Name:       "postgres",
		autoID:     "BIGSERIAL PRIMARY KEY",
		blob:       "BYTEA",
		skipLocked: " FOR UPDATE SKIP LOCKED",
	}
)

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d.Name != Postgres.Name {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// LockClause returns the row-locking suffix for a claim subquery.
func (d Dialect) LockClause() string {
	return d.skipLocked
}

// binary converts a byte-accurate string into a bind value for a
// {{blob}} column. SQLite binds an empty blob as NULL, so it gets text,
// which SQLite stores and compares byte for byte.
func (d Dialect) binary(s string) any {
	if d.Name == SQLite.Name {
		return s
	}
	return []byte(s)
}

// ddl expands the type placeholders in a CREATE statement.
func (d Dialect) ddl(stmt string) string {
	return strings.NewReplacer("{{id}}", d.autoID, "{{blob}}", d.blob).Replace(stmt)
}

// IsUniqueViolation reports whether err is a unique-constraint failure
// from either backend.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 3

// CreateSchema creates the database schema if it doesn't exist.
func CreateSchema(db *sql.DB, d Dialect) error {
	if err := createSchemaVersionTable(db, d); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	steps := []struct {
		name string
		stmt string
	}{
		{"collections", collectionsTable},
		{"documents", documentsTable},
		{"documents index", documentsParentIndex},
		{"documents broken index", documentsBrokenIndex},
		{"digests", digestsTable},
		{"jobs", jobsTable},
		{"jobs index", jobsClaimIndex},
		{"cache_entries", cacheTable},
		{"ocr_documents", ocrTable},
	}
	for _, step := range steps {
		if _, err := db.Exec(d.ddl(step.stmt)); err != nil {
			return fmt.Errorf("creating %s: %w", step.name, err)
		}
	}

	return nil
}

func createSchemaVersionTable(db *sql.DB, d Dialect) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if err != nil {
		return err
	}

	if count == 0 {
		_, err = db.Exec(d.Rebind("INSERT INTO schema_version (version) VALUES (?)"), SchemaVersion)
		return err
	}

	return nil
}

const collectionsTable = `
	CREATE TABLE IF NOT EXISTS collections (
		id {{id}},
		name TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		ocr TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)
`

// container_id and parent_id use 0 for "none" so the unique key also
// covers top-level documents.
const documentsTable = `
	CREATE TABLE IF NOT EXISTS documents (
		id {{id}},
		collection_id BIGINT NOT NULL,
		container_id BIGINT NOT NULL DEFAULT 0,
		parent_id BIGINT NOT NULL DEFAULT 0,
		path {{blob}} NOT NULL,
		filename {{blob}} NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		disk_size BIGINT NOT NULL DEFAULT 0,
		md5 TEXT NOT NULL DEFAULT '',
		sha1 TEXT NOT NULL DEFAULT '',
		broken TEXT NOT NULL DEFAULT '',
		flags TEXT NOT NULL DEFAULT '{}',
		rev BIGINT NOT NULL DEFAULT 0,
		digested_at BIGINT NOT NULL DEFAULT 0,
		UNIQUE (collection_id, container_id, path)
	)
`

const documentsParentIndex = `
	CREATE INDEX IF NOT EXISTS documents_parent ON documents (parent_id)
`

const documentsBrokenIndex = `
	CREATE INDEX IF NOT EXISTS documents_broken ON documents (collection_id, broken)
`

const digestsTable = `
	CREATE TABLE IF NOT EXISTS digests (
		document_id BIGINT PRIMARY KEY NOT NULL,
		data TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)
`

const jobsTable = `
	CREATE TABLE IF NOT EXISTS jobs (
		id {{id}},
		queue TEXT NOT NULL,
		payload TEXT NOT NULL,
		started BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		UNIQUE (queue, payload)
	)
`

const jobsClaimIndex = `
	CREATE INDEX IF NOT EXISTS jobs_claim ON jobs (queue, started, id)
`

const cacheTable = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value {{blob}} NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (namespace, key)
	)
`

const ocrTable = `
	CREATE TABLE IF NOT EXISTS ocr_documents (
		id {{id}},
		collection_id BIGINT NOT NULL,
		tag TEXT NOT NULL,
		md5 TEXT NOT NULL,
		path {{blob}} NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		UNIQUE (collection_id, tag, md5)
	)
`

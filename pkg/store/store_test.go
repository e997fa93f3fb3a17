package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/praetorian-inc/hoard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCollection(t *testing.T, s *SQLStore) *types.Collection {
	t.Helper()
	c := &types.Collection{Name: "testdata", Path: t.TempDir()}
	require.NoError(t, s.CreateCollection(context.Background(), c))
	return c
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestNew_SQLiteFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hoard.db")

	s, err := New(Config{Driver: "sqlite", DSN: dbPath})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, SQLite, s.Dialect())
	assert.FileExists(t, dbPath)
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Arrange
	c := newTestCollection(t, s)

	// Act
	got, err := s.GetCollection(ctx, "testdata")
	require.NoError(t, err)
	root, err := s.RootDocument(ctx, c.ID)
	require.NoError(t, err)
	dupErr := s.CreateCollection(ctx, &types.Collection{Name: "testdata"})

	// Assert
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Path, got.Path)
	assert.True(t, root.IsFolder())
	assert.Equal(t, "", root.Path)
	assert.ErrorIs(t, dupErr, ErrExists)

	_, err = s.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetCollectionOCR(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)

	require.NoError(t, s.SetCollectionOCR(ctx, c.ID, "one", "/ocr/one"))

	got, err := s.GetCollectionByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"one": "/ocr/one"}, got.OCR)
}

func TestGetOrCreateDocument_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)

	doc := &types.Document{
		CollectionID: c.ID,
		Path:         "a/b.txt",
		Filename:     "b.txt",
		ContentType:  "text/plain",
		Flags:        types.Flags{types.FlagPGP: true},
	}

	first, created, err := s.GetOrCreateDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.GetOrCreateDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Flags.Has(types.FlagPGP))
	assert.Equal(t, "b.txt", second.Filename)
}

func TestGetOrCreateDocument_NonUTF8Path(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)

	path := "dir/caf\xe9.txt"
	doc, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, Path: path})
	require.NoError(t, err)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, path, got.Path)
}

func TestGetOrCreateDocument_SamePathDifferentContainer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)

	a, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, Path: "1"})
	require.NoError(t, err)
	b, created, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, ContainerID: a.ID, Path: "1"})
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSetHashes_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)
	doc, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, Path: "x"})
	require.NoError(t, err)

	first := types.HashBytes([]byte("first"))
	second := types.HashBytes([]byte("second version"))

	got, err := s.SetHashes(ctx, doc.ID, first)
	require.NoError(t, err)
	assert.Equal(t, first.SHA1, got.SHA1)

	got, err = s.SetHashes(ctx, doc.ID, second)
	require.NoError(t, err)
	assert.Equal(t, first.SHA1, got.SHA1)
	assert.Equal(t, first.MD5, got.MD5)
	assert.Equal(t, int64(5), got.DiskSize)
}

func TestDocumentUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)
	doc, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, Path: "x.zip"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetBroken(ctx, doc.ID, types.BrokenArchiveEncrypted))
	require.NoError(t, s.SetFlags(ctx, doc.ID, types.Flags{types.FlagPGP: true}))
	require.NoError(t, s.SetContentType(ctx, doc.ID, "application/zip"))
	require.NoError(t, s.MarkDigested(ctx, doc.ID, at))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BrokenArchiveEncrypted, got.Broken)
	assert.True(t, got.Flags.Has(types.FlagPGP))
	assert.Equal(t, "application/zip", got.ContentType)
	assert.True(t, at.Equal(got.DigestedAt))
	assert.Zero(t, got.Rev)

	counts, err := s.BrokenCounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{types.BrokenArchiveEncrypted: 1}, counts)

	assert.ErrorIs(t, s.SetBroken(ctx, 9999, ""), ErrNotFound)
}

func TestFindDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)
	root, err := s.RootDocument(ctx, c.ID)
	require.NoError(t, err)

	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		_, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, ParentID: root.ID, Path: p})
		require.NoError(t, err)
	}
	docs, err := s.FindDocuments(ctx, DocumentFilter{CollectionID: c.ID, ParentID: &root.ID})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.NoError(t, s.SetBroken(ctx, docs[1].ID, types.BrokenEmailCorruptedFile))

	tests := []struct {
		name   string
		filter DocumentFilter
		want   int
	}{
		{"children of root", DocumentFilter{ParentID: &root.ID}, 3},
		{"whole collection", DocumentFilter{CollectionID: c.ID}, 4},
		{"any broken", DocumentFilter{CollectionID: c.ID, AnyBroken: true}, 1},
		{"exact flag", DocumentFilter{Broken: types.BrokenEmailCorruptedFile}, 1},
		{"other flag", DocumentFilter{Broken: types.BrokenArchiveEncrypted}, 0},
		{"undigested", DocumentFilter{CollectionID: c.ID, Undigested: true}, 4},
		{"limit", DocumentFilter{CollectionID: c.ID, Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindDocuments(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)

			if tt.filter.Limit == 0 {
				n, err := s.CountDocuments(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, n)
			}
		})
	}
}

func TestDigests(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDigest(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutDigest(ctx, 1, []byte(`{"type":"text"}`)))
	require.NoError(t, s.PutDigest(ctx, 1, []byte(`{"type":"html"}`)))

	got, err := s.GetDigest(ctx, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"html"}`, string(got))
}

func TestCache_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.CacheGet(ctx, "tika", "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.CachePut(ctx, "tika", "abc", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(stored))

	stored, err = s.CachePut(ctx, "tika", "abc", []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(stored))

	other, err := s.CachePut(ctx, "email", "abc", []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, "three", string(other))
}

func TestOcr(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)
	md5 := "d41d8cd98f00b204e9800998ecf8427e"

	o, created, err := s.GetOrCreateOcr(ctx, &types.Ocr{CollectionID: c.ID, Tag: "one", MD5: md5, Path: "a/" + md5 + ".pdf"})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, s.SetOcrText(ctx, o.ID, "scanned words"))

	_, created, err = s.GetOrCreateOcr(ctx, &types.Ocr{CollectionID: c.ID, Tag: "one", MD5: md5})
	require.NoError(t, err)
	assert.False(t, created)

	rows, err := s.OcrByMD5(ctx, c.ID, md5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "scanned words", rows[0].Text)
	assert.Equal(t, "one", rows[0].Tag)
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollection(t, s)
	doc, _, err := s.GetOrCreateDocument(ctx, &types.Document{CollectionID: c.ID, Path: "x"})
	require.NoError(t, err)
	require.NoError(t, s.PutDigest(ctx, doc.ID, []byte("{}")))

	require.NoError(t, s.DeleteCollection(ctx, c.ID))

	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDigest(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCollection(ctx, c.Name)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRebind(t *testing.T) {
	got := Postgres.Rebind("SELECT id FROM documents WHERE collection_id = ? AND path = ?")
	assert.Equal(t, "SELECT id FROM documents WHERE collection_id = $1 AND path = $2", got)
	assert.Equal(t, "a = ?", SQLite.Rebind("a = ?"))
}

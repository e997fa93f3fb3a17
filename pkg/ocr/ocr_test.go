package ocr

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
)

const md5 = "0123456789abcdef0123456789abcdef"

func TestMD5FromName(t *testing.T) {
	tests := []struct {
		prefix, name string
		want         string
		ok           bool
	}{
		{"", md5 + ".pdf", md5, true},
		{"", "0123456789ABCDEF0123456789ABCDEF.pdf", md5, true},
		{"0123456789abcdef", "0123456789abcdef.pdf", md5, true},
		{"scans", "x" + md5 + ".ocr.pdf", md5, true},
		{"", "short.pdf", "", false},
		{"", md5[:31] + "-.pdf", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+"/"+tt.name, func(t *testing.T) {
			got, ok := MD5FromName(tt.prefix, tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fixture struct {
	store *store.SQLStore
	queue *queue.Queue
	coll  *types.Collection
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c := &types.Collection{Name: "testdata", Path: t.TempDir()}
	require.NoError(t, s.CreateCollection(ctx, c))
	dir := t.TempDir()
	require.NoError(t, s.SetCollectionOCR(ctx, c.ID, "scans", dir))
	c, err = s.GetCollectionByID(ctx, c.ID)
	require.NoError(t, err)

	return &fixture{store: s, queue: queue.FromStore(s, queue.Options{}), coll: c, dir: dir}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func catScript(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\ncat\n"), 0o755))
	return p
}

func TestWalk(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, md5+".pdf", "flat")
	f.write(t, "0123456789abcdef/0123456789abcdef.pdf", "split")
	f.write(t, "notes.txt", "ignored")
	ing := New(Config{Store: f.store, Queue: f.queue})

	// Act
	n, err := ing.Walk(ctx, f.coll, "scans")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var jobs []Job
	_, err = f.queue.Iterate(ctx, queue.OCR, queue.IterateOptions{InOrder: true}, func(ctx context.Context, j *queue.Job) error {
		var job Job
		require.NoError(t, j.Decode(&job))
		jobs = append(jobs, job)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Job{
		{Collection: f.coll.ID, Tag: "scans", MD5: md5, Path: md5 + ".pdf"},
		{Collection: f.coll.ID, Tag: "scans", MD5: md5, Path: "0123456789abcdef/0123456789abcdef.pdf"},
	}, jobs)
}

func TestWalk_UnknownTag(t *testing.T) {
	f := newFixture(t)

	_, err := New(Config{Store: f.store, Queue: f.queue}).Walk(context.Background(), f.coll, "missing")

	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, md5+".pdf", "recognized words")
	ing := New(Config{Store: f.store, Queue: f.queue, PDFToText: catScript(t)})
	job := Job{Collection: f.coll.ID, Tag: "scans", MD5: md5, Path: md5 + ".pdf"}

	added, err := ing.Handle(ctx, job)
	require.NoError(t, err)
	assert.True(t, added)

	rows, err := f.store.OcrByMD5(ctx, f.coll.ID, md5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "recognized words", rows[0].Text)
	assert.Equal(t, md5+".pdf", rows[0].Path)

	added, err = ing.Handle(ctx, job)
	require.NoError(t, err)
	assert.False(t, added, "existing text is kept")
}

func TestHandle_MissingFile(t *testing.T) {
	f := newFixture(t)
	ing := New(Config{Store: f.store, Queue: f.queue, PDFToText: catScript(t)})

	_, err := ing.Handle(context.Background(), Job{Collection: f.coll.ID, Tag: "scans", MD5: md5, Path: "gone.pdf"})

	assert.Error(t, err)
}

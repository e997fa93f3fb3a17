package digest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/hoard/pkg/containers"
	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/hashcache"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
	"github.com/praetorian-inc/hoard/pkg/walker"
)

type fixture struct {
	store  *store.SQLStore
	queue  *queue.Queue
	engine *Engine
	coll   *types.Collection
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c := &types.Collection{Name: "testdata", Path: t.TempDir()}
	require.NoError(t, s.CreateCollection(context.Background(), c))

	cacheRoot := t.TempDir()
	src := containers.New(s, containers.Config{
		Archive:    containers.ArchiveConfig{CacheRoot: filepath.Join(cacheRoot, "archives")},
		PST:        containers.PSTConfig{CacheRoot: filepath.Join(cacheRoot, "pst")},
		ScratchDir: t.TempDir(),
	})
	q := queue.FromStore(s, queue.Options{})

	cfg := Config{
		Store:  s,
		Source: src,
		Cache:  hashcache.New(s, true),
		Queue:  q,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &fixture{store: s, queue: q, engine: New(cfg), coll: c}
}

// add writes files into the collection and walks it, returning the
// documents by path.
func (f *fixture) add(t *testing.T, files map[string][]byte) map[string]*types.Document {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(f.coll.Path, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, content, 0o644))
	}
	results, err := walker.New(walker.Config{Store: f.store}).Walk(context.Background(), f.coll.Path, "", nil, f.coll)
	require.NoError(t, err)
	docs := map[string]*types.Document{}
	for _, r := range results {
		docs[r.Document.Path] = r.Document
	}
	return docs
}

func (f *fixture) reload(t *testing.T, doc *types.Document) *types.Document {
	t.Helper()
	d, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	return d
}

func (f *fixture) child(t *testing.T, container *types.Document, path string) *types.Document {
	t.Helper()
	docs, err := f.store.FindDocuments(context.Background(), store.DocumentFilter{ContainerID: &container.ID})
	require.NoError(t, err)
	for _, d := range docs {
		if d.Path == path {
			return d
		}
	}
	t.Fatalf("no child %q in document %d", path, container.ID)
	return nil
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := f.queue.Len(context.Background(), queue.Digest)
	require.NoError(t, err)
	return n
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func mailWithAttachment(body, filename, contentType string, attachment []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(attachment)
	var lines []string
	for len(encoded) > 76 {
		lines = append(lines, encoded[:76])
		encoded = encoded[76:]
	}
	lines = append(lines, encoded)

	return []byte("From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: the files\r\n" +
		"Date: Wed, 20 Apr 2016 13:03:00 +0200\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"XX\"\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		body + "\r\n" +
		"--XX\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Content-Disposition: attachment; filename=\"" + filename + "\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		strings.Join(lines, "\r\n") + "\r\n" +
		"--XX--\r\n")
}

func TestDigest_PlainText(t *testing.T) {
	// Arrange
	content := []byte("Use the styles and parameters of the easychair class.\n")
	f := newFixture(t)
	doc := f.add(t, map[string][]byte{"easychair.txt": content})["easychair.txt"]

	// Act
	rec, err := f.engine.Digest(context.Background(), doc)

	// Assert
	require.NoError(t, err)
	want := types.HashBytes(content)
	assert.Equal(t, "text", rec.Type)
	assert.Equal(t, want.MD5, rec.MD5)
	assert.Equal(t, want.SHA1, rec.SHA1)
	assert.Equal(t, "easychair.txt", rec.Path)
	assert.Equal(t, "easychair.txt", rec.Filename)
	assert.Contains(t, rec.Text, "styles and parameters")
	require.NotNil(t, rec.WordCount)
	assert.Equal(t, 9, *rec.WordCount)
	assert.Zero(t, rec.Message)

	stored := f.reload(t, doc)
	assert.Equal(t, want.SHA1, stored.SHA1)
	assert.Equal(t, int64(len(content)), stored.DiskSize)
}

func TestDigest_HashesAreComputedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.add(t, map[string][]byte{"a.txt": []byte("alpha")})["a.txt"]

	first, err := f.engine.Digest(ctx, doc)
	require.NoError(t, err)

	// Swap the bytes underneath the document.
	require.NoError(t, os.WriteFile(filepath.Join(f.coll.Path, "a.txt"), []byte("omega"), 0o644))
	second, err := f.engine.Digest(ctx, f.reload(t, doc))
	require.NoError(t, err)

	assert.Equal(t, types.HashBytes([]byte("alpha")).SHA1, first.SHA1)
	assert.Equal(t, first.SHA1, second.SHA1)
	assert.Equal(t, first.MD5, second.MD5)
	assert.Equal(t, "omega", second.Text)
}

func TestDigest_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.add(t, map[string][]byte{"a.txt": []byte("the same words twice")})["a.txt"]

	first, err := f.engine.Digest(ctx, doc)
	require.NoError(t, err)
	second, err := f.engine.Digest(ctx, f.reload(t, doc))
	require.NoError(t, err)

	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestDigest_HTML(t *testing.T) {
	f := newFixture(t)
	page := []byte(`<html><head><script>steal()</script></head><body><p>Hello <b>world</b></p><a href="x" onclick="evil()">link</a></body></html>`)
	doc := f.add(t, map[string][]byte{"page.html": page})["page.html"]

	rec, err := f.engine.Digest(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, "html", rec.Type)
	assert.Contains(t, rec.Text, "Hello world")
	assert.NotContains(t, rec.Text, "steal")
	assert.Contains(t, rec.SafeHTML, "world")
	assert.NotContains(t, rec.SafeHTML, "onclick")
	assert.NotContains(t, rec.SafeHTML, "<script")
}

func TestDigest_Folder(t *testing.T) {
	f := newFixture(t)
	docs := f.add(t, map[string][]byte{"docs/a.txt": []byte("alpha")})

	rec, err := f.engine.Digest(context.Background(), docs["docs"])

	require.NoError(t, err)
	assert.Equal(t, "folder", rec.Type)
	assert.Equal(t, "docs", rec.Path)
	assert.Empty(t, rec.SHA1)
}

func TestDigest_NestedContainers(t *testing.T) {
	// Arrange: an email carrying a zip carrying a/b/c.txt.
	ctx := context.Background()
	f := newFixture(t)
	bundle := zipBytes(t, map[string]string{"a/b/c.txt": "GET OUT OF MY LIFE, JILL\n\n"})
	mail := f.add(t, map[string][]byte{
		"mail.eml": mailWithAttachment("see attached", "bundle.zip", "application/zip", bundle),
	})["mail.eml"]

	// Act + Assert: the email.
	rec, err := f.engine.Digest(ctx, mail)
	require.NoError(t, err)
	assert.Equal(t, "email", rec.Type)
	require.NotNil(t, rec.Subject)
	assert.Equal(t, "the files", *rec.Subject)
	assert.Equal(t, "2016-04-20T13:03:00+02:00", rec.Date)
	assert.Contains(t, rec.Text, "see attached")
	require.Contains(t, rec.Attachments, "2")
	assert.Equal(t, "application/zip", rec.Attachments["2"].ContentType)
	assert.Equal(t, "bundle.zip", rec.Attachments["2"].Filename)
	assert.Positive(t, rec.Attachments["2"].Size)

	created, err := f.engine.CreateChildren(ctx, mail, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.pending(t))

	again, err := f.engine.CreateChildren(ctx, mail, rec)
	require.NoError(t, err)
	assert.Zero(t, again, "existing children are not recreated")

	// The zip attachment.
	zipDoc := f.child(t, mail, "2")
	assert.Equal(t, "bundle.zip", zipDoc.Filename)
	rec, err = f.engine.Digest(ctx, zipDoc)
	require.NoError(t, err)
	assert.Equal(t, "archive", rec.Type)
	assert.Equal(t, "mail.eml//bundle.zip", rec.Path)
	assert.Equal(t, mail.ID, rec.Message)
	assert.Equal(t, types.HashBytes(bundle).SHA1, rec.SHA1)
	assert.Equal(t, []string{"a/b/c.txt"}, rec.FileList)
	assert.Equal(t, []string{"a", "a/b"}, rec.FolderList)

	created, err = f.engine.CreateChildren(ctx, f.reload(t, zipDoc), rec)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	// The text file inside.
	leaf := f.child(t, zipDoc, "a/b/c.txt")
	assert.Equal(t, f.child(t, zipDoc, "a/b").ID, leaf.ParentID)
	rec, err = f.engine.Digest(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, "text", rec.Type)
	assert.Equal(t, "GET OUT OF MY LIFE, JILL\n\n", rec.Text)
	assert.Equal(t, "mail.eml//bundle.zip//a/b/c.txt", rec.Path)
}

func TestDigest_SevenZipEmailZip(t *testing.T) {
	// Arrange: a 7z carrying an email carrying a zip carrying a/b/c.txt.
	ctx := context.Background()
	f := newFixture(t)
	data, err := os.ReadFile(filepath.Join("testdata", "nested.7z"))
	require.NoError(t, err)
	archive := f.add(t, map[string][]byte{"nested.7z": data})["nested.7z"]

	// Act + Assert: the 7z.
	rec, err := f.engine.Digest(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "archive", rec.Type)
	assert.Equal(t, []string{"mail.eml", "notes.txt"}, rec.FileList)
	created, err := f.engine.CreateChildren(ctx, f.reload(t, archive), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// The email inside it.
	mail := f.child(t, archive, "mail.eml")
	rec, err = f.engine.Digest(ctx, mail)
	require.NoError(t, err)
	assert.Equal(t, "email", rec.Type)
	assert.Equal(t, "nested.7z//mail.eml", rec.Path)
	assert.Equal(t, archive.ID, rec.Message)
	require.Contains(t, rec.Attachments, "2")
	created, err = f.engine.CreateChildren(ctx, f.reload(t, mail), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// The zip attachment.
	bundle := f.child(t, mail, "2")
	rec, err = f.engine.Digest(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, "nested.7z//mail.eml//bundle.zip", rec.Path)
	assert.Equal(t, []string{"a/b/c.txt"}, rec.FileList)
	created, err = f.engine.CreateChildren(ctx, f.reload(t, bundle), rec)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	// The leaf.
	rec, err = f.engine.Digest(ctx, f.child(t, bundle, "a/b/c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "GET OUT OF MY LIFE, JILL\n", rec.Text)
	assert.Equal(t, "nested.7z//mail.eml//bundle.zip//a/b/c.txt", rec.Path)
	assert.Equal(t, bundle.ID, rec.Message)
	require.NotNil(t, rec.WordCount)
	assert.Equal(t, 6, *rec.WordCount)
}

func TestDigest_ImageEXIF(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(filepath.Join("testdata", "gps.jpg"))
	require.NoError(t, err)
	doc := f.add(t, map[string][]byte{"photo.jpg": data})["photo.jpg"]

	rec, err := f.engine.Digest(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, "image", rec.Type)
	assert.Equal(t, "33.87546081542969, -116.3016196017795", rec.Location)
	assert.Equal(t, "2006-02-11T11:06:37", rec.DateCreated)
	assert.Empty(t, rec.Text)
	assert.Nil(t, rec.WordCount)
}

func TestDigest_EncryptedArchiveIsBroken(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "secret.txt", Method: zip.Store, Flags: 0x1})
	require.NoError(t, err)
	_, err = w.Write([]byte("ciphertext"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	doc := f.add(t, map[string][]byte{"secret.zip": buf.Bytes()})["secret.zip"]

	_, err = f.engine.Digest(context.Background(), doc)

	b, ok := types.AsBroken(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, types.BrokenArchiveEncrypted, b.Flag)
}

func TestDigest_PGPFlagIsRecordedAndInherited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	body := "-----BEGIN PGP MESSAGE-----\r\n\r\nhQEMA0000000000000\r\n-----END PGP MESSAGE-----"
	mail := f.add(t, map[string][]byte{
		"secret.eml": mailWithAttachment(body, "notes.pdf", "application/pdf", []byte("%PDF-1.4\n")),
	})["secret.eml"]

	rec, err := f.engine.Digest(ctx, mail)
	require.NoError(t, err)

	assert.True(t, rec.PGP)
	assert.True(t, f.reload(t, mail).Flags.Has(types.FlagPGP))

	_, err = f.engine.CreateChildren(ctx, mail, rec)
	require.NoError(t, err)
	assert.True(t, f.child(t, mail, "2").Flags.Has(types.FlagPGP))
}

func TestDigest_OCR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	content := []byte("scanned")
	doc := f.add(t, map[string][]byte{"scan.txt": content})["scan.txt"]

	o, _, err := f.store.GetOrCreateOcr(ctx, &types.Ocr{
		CollectionID: f.coll.ID,
		Tag:          "scans",
		MD5:          types.HashBytes(content).MD5,
		Path:         "scans/x.pdf",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SetOcrText(ctx, o.ID, "ocr words"))

	rec, err := f.engine.Digest(ctx, doc)

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"scans": "ocr words"}, rec.OCR)
	assert.Equal(t, "scanned", rec.Text, "ocr text does not replace the text")
}

func TestDigest_Tika(t *testing.T) {
	// Arrange
	ctx := context.Background()
	var parses, langs atomic.Int32
	text := strings.Repeat("quarterly figures ", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rmeta/text":
			parses.Add(1)
			w.Write([]byte(`[{"X-TIKA:content":"  ` + text + `\n","Content-Type":"application/pdf","Author":"Jane","pdf:encrypted":"false"}]`))
		case "/language/string":
			langs.Add(1)
			w.Write([]byte("en\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFixture(t, func(c *Config) {
		c.Tika = extract.NewTika(extract.TikaConfig{Endpoint: srv.URL})
		c.Lang = true
	})
	doc := f.add(t, map[string][]byte{"report.pdf": []byte("%PDF-fake")})["report.pdf"]

	// Act
	rec, err := f.engine.Digest(ctx, doc)
	require.NoError(t, err)
	_, err = f.engine.Digest(ctx, f.reload(t, doc))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "pdf", rec.Type)
	assert.Equal(t, strings.TrimSpace(text), rec.Text)
	assert.Equal(t, "Jane", rec.Author)
	assert.Equal(t, "application/pdf", rec.ContentType)
	assert.False(t, rec.EncryptedPDF)
	assert.Equal(t, "en", rec.Lang)
	require.NotNil(t, rec.WordCount)
	assert.Equal(t, 20, *rec.WordCount)
	assert.NotEmpty(t, rec.Tika)
	assert.Equal(t, int32(1), parses.Load(), "tika output is cached by content hash")
	assert.Equal(t, int32(1), langs.Load(), "language is cached by text hash")
}

func TestDigest_TikaSizeCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected tika call %s", r.URL.Path)
	}))
	defer srv.Close()

	f := newFixture(t, func(c *Config) {
		c.Tika = extract.NewTika(extract.TikaConfig{Endpoint: srv.URL})
		c.TikaMaxFileSize = 4
	})
	doc := f.add(t, map[string][]byte{"big.pdf": []byte("%PDF-too-big")})["big.pdf"]

	rec, err := f.engine.Digest(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, "pdf", rec.Type)
	assert.Empty(t, rec.Text)
}

func TestDigest_NativeOffice(t *testing.T) {
	f := newFixture(t)
	docx := zipBytes(t, map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t>report</w:t></w:r></w:p></w:body></w:document>`,
	})
	doc := f.add(t, map[string][]byte{"report.docx": docx})["report.docx"]

	rec, err := f.engine.Digest(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, "doc", rec.Type)
	assert.Equal(t, "Quarterly report", rec.Text)
	require.NotNil(t, rec.WordCount)
	assert.Equal(t, 2, *rec.WordCount)
}

func TestDigest_BrokenPDFIsAWarning(t *testing.T) {
	f := newFixture(t)
	doc := f.add(t, map[string][]byte{"bad.pdf": []byte("not a pdf at all")})["bad.pdf"]

	rec, err := f.engine.Digest(context.Background(), doc)

	require.NoError(t, err)
	assert.Empty(t, rec.Text)
	assert.NotEmpty(t, rec.Warnings)
}

func TestDigest_WordCountFollowsText(t *testing.T) {
	f := newFixture(t)
	docs := f.add(t, map[string][]byte{
		"empty.txt":  {},
		"blank.html": []byte("<html><body></body></html>"),
		"pack.zip":   zipBytes(t, map[string]string{"a.txt": "alpha"}),
		"bad.pdf":    []byte("not a pdf at all"),
	})

	tests := []struct {
		path string
		want *int
	}{
		{"empty.txt", intPtr(0)},
		{"blank.html", intPtr(0)},
		{"pack.zip", nil},
		{"bad.pdf", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, err := f.engine.Digest(context.Background(), docs[tt.path])
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.WordCount)

			data, err := rec.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want != nil, strings.Contains(string(data), `"word-count":0`))
		})
	}
}

func intPtr(n int) *int { return &n }

func TestCreateChildren_LeafHasNone(t *testing.T) {
	f := newFixture(t)
	doc := f.add(t, map[string][]byte{"a.txt": []byte("alpha")})["a.txt"]

	n, err := f.engine.CreateChildren(context.Background(), doc, &types.Record{})

	require.NoError(t, err)
	assert.Zero(t, n)
}

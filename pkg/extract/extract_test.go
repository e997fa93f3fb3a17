package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"GET OUT OF MY LIFE, JILL\n\n", 6},
		{"snake_case counts once", 3},
		{"Grüße aus Köln 2024", 4},
		{"   ...   ", 0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, WordCount(tt.text))
		})
	}
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "plain ascii", DecodeText([]byte("plain ascii")))
	assert.Equal(t, "café", DecodeText([]byte("café")))
	assert.Equal(t, "café", DecodeText([]byte("caf\xe9")))
}

func TestDecodeCharset(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		label string
		want  string
	}{
		{"utf-8", []byte("Grüße"), "UTF-8", "Grüße"},
		{"latin-1 label", []byte("Gr\xfc\xdfe"), "iso-8859-1", "Grüße"},
		{"missing label falls back to latin-1", []byte("Gr\xfc\xdfe"), "", "Grüße"},
		{"unknown label falls back to latin-1", []byte("Gr\xfc\xdfe"), "x-no-such-charset", "Grüße"},
		{"invalid utf-8 is replaced", []byte("a\xffb"), "utf-8", "a�b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeCharset(tt.data, tt.label))
		})
	}
	assert.True(t, KnownCharset("utf-8"))
	assert.False(t, KnownCharset("x-no-such-charset"))
}

func TestHTMLText(t *testing.T) {
	page := []byte(`<html><head><title>T</title><style>p {color: red}</style>
<script>alert("x")</script></head>
<body><p>Hello   <b>world</b></p>


<p>second	line</p></body></html>`)

	got := HTMLText(page)

	assert.Equal(t, "T\nHello world\nsecond line", got)
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color")
}

func TestHTMLText_MetaCharset(t *testing.T) {
	page := []byte("<html><head><meta charset=\"iso-8859-1\"></head><body>b\xe4r</body></html>")

	assert.Equal(t, "bär", HTMLText(page))
}

func TestSafeHTML(t *testing.T) {
	got := SafeHTML([]byte(`<p onclick="steal()">hi<script>evil()</script></p>`))

	assert.Contains(t, got, "hi")
	assert.NotContains(t, got, "onclick")
	assert.NotContains(t, got, "evil")
}

func TestFormatLocation(t *testing.T) {
	assert.Equal(t, "33.87546081542969, -116.3016196017795", FormatLocation(33.87546081542969, -116.3016196017795))
}

func TestEXIF_GPSAndDate(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "gps.jpg"))
	require.NoError(t, err)
	defer f.Close()

	meta := EXIF(f)

	assert.Equal(t, "33.87546081542969, -116.3016196017795", meta.Location)
	assert.Equal(t, "2006-02-11T11:06:37", meta.DateCreated)
}

func TestEXIF_NoData(t *testing.T) {
	assert.Equal(t, ImageMeta{}, EXIF(bytes.NewReader([]byte("not an image"))))
}

func TestExtractMeta(t *testing.T) {
	meta := map[string]any{
		"Content-Type":    "application/pdf",
		"meta:author":     []any{"Jane Doe", "Other"},
		"dcterms:created": "2016-04-20T13:03:00Z",
		"Last-Modified":   "2016-04-21T09:00:00Z",
		"pdf:encrypted":   "true",
	}

	got := ExtractMeta(meta)

	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, "Jane Doe", got.Author)
	assert.Equal(t, "2016-04-20T13:03:00+00:00", got.DateCreated)
	assert.Equal(t, "2016-04-21T09:00:00+00:00", got.Date)
	assert.True(t, got.EncryptedPDF)
	assert.JSONEq(t, mustJSON(t, meta), string(got.Raw))
}

func TestExtractMeta_Missing(t *testing.T) {
	got := ExtractMeta(map[string]any{"created": "not a date", "pdf:encrypted": false})

	assert.Empty(t, got.DateCreated)
	assert.Empty(t, got.Author)
	assert.False(t, got.EncryptedPDF)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestTika(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rmeta/text":
			assert.Equal(t, http.MethodPut, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "%PDF-fake", string(body))
			w.Write([]byte(`[{"X-TIKA:content":"  extracted words \n","Content-Type":"application/pdf","Author":"Jane"}]`))
		case "/language/string":
			w.Write([]byte("en\n"))
		case "/version":
			w.Write([]byte("Apache Tika 2.9.1"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tika := NewTika(TikaConfig{Endpoint: srv.URL + "/"})
	ctx := context.Background()

	res, err := tika.Parse(ctx, []byte("%PDF-fake"))
	require.NoError(t, err)
	assert.Equal(t, "  extracted words \n", res.Content)
	assert.Equal(t, "Jane", res.Metadata["Author"])
	assert.NotContains(t, res.Metadata, TikaContentKey)

	lang, err := tika.Language(ctx, "some english text")
	require.NoError(t, err)
	assert.Equal(t, "en", lang)

	version, err := tika.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Apache Tika 2.9.1", version)
}

func TestTika_LanguageErrorReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Error: detector unavailable"))
	}))
	defer srv.Close()

	_, err := NewTika(TikaConfig{Endpoint: srv.URL}).Language(context.Background(), "text")

	assert.Error(t, err)
}

func TestNewTika_Disabled(t *testing.T) {
	assert.Nil(t, NewTika(TikaConfig{}))
}

func TestOfficeText(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t>report</w:t></w:r></w:p></w:body></w:document>`,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	text, err := OfficeText(buf.Bytes())

	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", text)

	legacy, err := OfficeText([]byte("\xd0\xcf\x11\xe0 legacy doc"))
	require.NoError(t, err)
	assert.Empty(t, legacy)
}

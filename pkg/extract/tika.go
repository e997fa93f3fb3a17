package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-retryablehttp"
)

// TikaContentKey is where the recursive-metadata endpoint puts the text.
const TikaContentKey = "X-TIKA:content"

// TikaConfig configures the Tika client.
type TikaConfig struct {
	// Endpoint is the server base URL, e.g. http://localhost:9998.
	Endpoint string
	Timeout  time.Duration
	Retries  int
	Logger   *slog.Logger
}

// Tika talks to an Apache Tika server.
type Tika struct {
	endpoint string
	client   *retryablehttp.Client
}

// TikaResult is the text and raw metadata of one parsed document.
type TikaResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// NewTika returns a client, or nil when no endpoint is configured.
func NewTika(cfg TikaConfig) *Tika {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger.With("component", "tika")
	}

	return &Tika{endpoint: strings.TrimRight(cfg.Endpoint, "/"), client: client}
}

// Parse extracts text and metadata from a document.
func (t *Tika) Parse(ctx context.Context, data []byte) (*TikaResult, error) {
	body, err := t.put(ctx, "/rmeta/text", data, "application/json")
	if err != nil {
		return nil, err
	}

	var docs []map[string]any
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("decoding tika response: %w", err)
	}

	res := &TikaResult{Metadata: map[string]any{}}
	if len(docs) == 0 {
		return res, nil
	}
	for k, v := range docs[0] {
		if k == TikaContentKey {
			res.Content, _ = v.(string)
			continue
		}
		res.Metadata[k] = v
	}
	return res, nil
}

// Language detects the language of text. A reply mentioning "error" is a
// server fault, not a language.
func (t *Tika) Language(ctx context.Context, text string) (string, error) {
	body, err := t.put(ctx, "/language/string", []byte(text), "text/plain")
	if err != nil {
		return "", err
	}
	lang := strings.TrimSpace(string(body))
	if strings.Contains(strings.ToLower(lang), "error") {
		return "", fmt.Errorf("tika language detection failed: %q", lang)
	}
	return lang, nil
}

// Version returns the server's version banner.
func (t *Tika) Version(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/version", nil)
	if err != nil {
		return "", err
	}
	body, err := t.do(req)
	return strings.TrimSpace(string(body)), err
}

func (t *Tika) put(ctx context.Context, path string, data []byte, accept string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, t.endpoint+path, data)
	if err != nil {
		return nil, fmt.Errorf("building tika request: %w", err)
	}
	req.Header.Set("Accept", accept)
	return t.do(req)
}

func (t *Tika) do(req *retryablehttp.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tika %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tika response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tika %s: status %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// DocumentMeta is the normalized subset of Tika metadata.
type DocumentMeta struct {
	ContentType  string
	Author       string
	DateCreated  string
	Date         string
	EncryptedPDF bool
	Raw          json.RawMessage
}

// ExtractMeta picks the first present value for each field from the
// vendor-specific keys Tika emits, and normalizes dates to ISO-8601.
func ExtractMeta(meta map[string]any) DocumentMeta {
	out := DocumentMeta{
		ContentType:  flat(meta, "Content-Type", "content-type"),
		Author:       flat(meta, "Author", "meta:author", "creator"),
		DateCreated:  isoDate(flat(meta, "Creation-Date", "dcterms:created", "meta:created", "created")),
		Date:         isoDate(flat(meta, "Last-Modified", "Last-Saved-Date", "dcterms:modified", "meta:modified", "created")),
		EncryptedPDF: strings.EqualFold(flat(meta, "pdf:encrypted"), "true"),
	}
	if raw, err := json.Marshal(meta); err == nil {
		out.Raw = raw
	}
	return out
}

// flat returns the first non-null value among keys; lists yield their
// first element.
func flat(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := meta[key]
		if !ok || v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				return ""
			}
			v = list[0]
		}
		switch x := v.(type) {
		case string:
			return x
		case bool:
			if x {
				return "true"
			}
			return "false"
		default:
			return fmt.Sprint(x)
		}
	}
	return ""
}

// isoDate normalizes a date string. Unparseable dates are dropped.
func isoDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return ""
	}
	if hasZone(s) {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05")
}

func hasZone(s string) bool {
	if strings.HasSuffix(s, "Z") {
		return true
	}
	if i := strings.LastIndexAny(s, "+-"); i > 10 {
		return true
	}
	return false
}

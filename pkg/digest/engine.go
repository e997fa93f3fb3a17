// Package digest turns one document into its Digest record and
// materializes the children of container documents.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/containers"
	"github.com/praetorian-inc/hoard/pkg/contenttype"
	"github.com/praetorian-inc/hoard/pkg/email"
	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/hashcache"
	"github.com/praetorian-inc/hoard/pkg/types"
	"github.com/praetorian-inc/hoard/pkg/walker"
)

// Cache namespaces.
const (
	CacheEmail    = "email"
	CacheTika     = "tika"
	CacheTikaLang = "tika-lang"
	CacheArchive  = "archive"
)

// Defaults for Config.
const (
	DefaultTikaMaxFileSize = 32 << 20
	DefaultLangMinLength   = 100
)

// DefaultTikaFileTypes are the coarse types sent to the extraction service.
var DefaultTikaFileTypes = []string{
	contenttype.TagDoc,
	contenttype.TagPDF,
	contenttype.TagXLS,
	contenttype.TagPPT,
}

// Store is the slice of store.Store the engine reads and writes.
type Store interface {
	walker.Store
	containers.Documents
	SetHashes(ctx context.Context, id int64, h types.ContentHash) (*types.Document, error)
	SetFlags(ctx context.Context, id int64, flags types.Flags) error
	OcrByMD5(ctx context.Context, collectionID int64, md5 string) ([]*types.Ocr, error)
}

// Config configures an Engine.
type Config struct {
	Store  Store
	Source *containers.Source
	Cache  *hashcache.Cache
	// Queue receives digest jobs for new children. Nil disables scheduling.
	Queue walker.Enqueuer

	// Tika is the text-extraction service; nil selects the in-process
	// extractors.
	Tika            *extract.Tika
	TikaFileTypes   []string
	TikaMaxFileSize int64

	// Lang enables language detection through Tika for texts longer than
	// LangMinLength characters.
	Lang          bool
	LangMinLength int

	// PDFToText is an optional pdftotext binary used for PDFs when Tika
	// is not configured.
	PDFToText string

	Logger *slog.Logger
}

// Engine digests documents.
type Engine struct {
	store  Store
	source *containers.Source
	cache  *hashcache.Cache
	queue  walker.Enqueuer
	walker *walker.Walker

	tika            *extract.Tika
	tikaFileTypes   []string
	tikaMaxFileSize int64
	lang            bool
	langMinLength   int
	pdftotext       string

	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TikaFileTypes == nil {
		cfg.TikaFileTypes = DefaultTikaFileTypes
	}
	if cfg.TikaMaxFileSize <= 0 {
		cfg.TikaMaxFileSize = DefaultTikaMaxFileSize
	}
	if cfg.LangMinLength <= 0 {
		cfg.LangMinLength = DefaultLangMinLength
	}
	if cfg.Cache == nil {
		cfg.Cache = hashcache.New(nil, false)
	}
	return &Engine{
		store:  cfg.Store,
		source: cfg.Source,
		cache:  cfg.Cache,
		queue:  cfg.Queue,
		walker: walker.New(walker.Config{
			Store:      cfg.Store,
			Queue:      cfg.Queue,
			IgnoreFile: "-",
			Logger:     cfg.Logger,
		}),
		tika:            cfg.Tika,
		tikaFileTypes:   cfg.TikaFileTypes,
		tikaMaxFileSize: cfg.TikaMaxFileSize,
		lang:            cfg.Lang,
		langMinLength:   cfg.LangMinLength,
		pdftotext:       cfg.PDFToText,
		logger:          cfg.Logger,
	}
}

// Digest computes the record of doc. It hashes the document the first
// time it is seen and records a newly discovered PGP flag; doc is updated
// in place. Quarantine conditions are returned as *types.BrokenError.
func (e *Engine) Digest(ctx context.Context, doc *types.Document) (*types.Record, error) {
	if doc.IsFolder() {
		return e.digestFolder(ctx, doc)
	}

	if err := e.hash(ctx, doc); err != nil {
		return nil, err
	}

	path, err := e.displayPath(ctx, doc)
	if err != nil {
		return nil, err
	}
	rec := &types.Record{
		Path:     path,
		Filename: doc.Filename,
		MD5:      doc.MD5,
		SHA1:     doc.SHA1,
		Rev:      doc.Rev,
	}

	kind := containers.KindOf(doc.ContentType)
	if kind.IsEmail() {
		if err := e.digestEmail(ctx, doc, kind, rec); err != nil {
			return nil, err
		}
	}
	rec.PGP = doc.Flags.Has(types.FlagPGP)
	if doc.ContainerID != 0 {
		rec.Message = doc.ContainerID
	}

	rec.Type = contenttype.FileType(doc.ContentType)
	extracted, err := e.extractText(ctx, doc, rec)
	if err != nil {
		return nil, err
	}

	if e.lang && e.tika != nil && len(rec.Text) > e.langMinLength {
		rec.Lang = e.language(ctx, rec.Text)
	}
	if extracted || kind.IsEmail() {
		n := extract.WordCount(rec.Text)
		rec.WordCount = &n
	}

	if err := e.addOCR(ctx, doc, rec); err != nil {
		return nil, err
	}

	if kind.Extracts() {
		if err := e.listMembers(ctx, doc, kind, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// digestFolder records the path of a folder; folders have no content.
func (e *Engine) digestFolder(ctx context.Context, doc *types.Document) (*types.Record, error) {
	path, err := e.displayPath(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &types.Record{
		Path:     path,
		Filename: doc.Filename,
		Type:     contenttype.FileType(doc.ContentType),
		Rev:      doc.Rev,
		Message:  doc.ContainerID,
	}, nil
}

// hash computes md5 and sha1 once per document. If another worker got
// there first, its values win.
func (e *Engine) hash(ctx context.Context, doc *types.Document) error {
	if doc.HasHashes() {
		return nil
	}
	rc, err := e.source.Open(ctx, doc)
	if err != nil {
		return err
	}
	defer rc.Close()

	h, err := types.ComputeContentHash(rc)
	if err != nil {
		return fmt.Errorf("hashing document %d: %w", doc.ID, err)
	}
	stored, err := e.store.SetHashes(ctx, doc.ID, h)
	if err != nil {
		return err
	}
	doc.MD5, doc.SHA1, doc.DiskSize = stored.MD5, stored.SHA1, stored.DiskSize
	return nil
}

// displayPath joins the path of doc and its containers with "//". Members
// of emails contribute their attachment filename instead of the part
// number.
func (e *Engine) displayPath(ctx context.Context, doc *types.Document) (string, error) {
	chain, err := e.source.Ancestors(ctx, doc)
	if err != nil {
		return "", err
	}
	chain = append(chain, doc)

	bits := make([]string, 0, len(chain))
	for i, d := range chain {
		if i > 0 && containers.KindOf(chain[i-1].ContentType).IsEmail() {
			bits = append(bits, d.Filename)
			continue
		}
		bits = append(bits, d.Path)
	}
	return strings.Join(bits, "//"), nil
}

func (e *Engine) digestEmail(ctx context.Context, doc *types.Document, kind containers.Kind, rec *types.Record) error {
	adapter, ok := e.source.Adapter(kind)
	if !ok {
		return fmt.Errorf("no adapter for %s", kind)
	}
	parser, ok := adapter.(containers.MessageParser)
	if !ok {
		return fmt.Errorf("adapter for %s does not parse messages", kind)
	}

	parsed, err := hashcache.Get(ctx, e.cache, CacheEmail, fmt.Sprint(doc.ID), func() (*email.Parsed, error) {
		msg, err := parser.Parse(ctx, e.source, doc)
		if err != nil {
			return nil, err
		}
		return msg.Summary(), nil
	})
	if err != nil {
		return err
	}
	if parsed == nil {
		return errors.New("empty email parse")
	}

	if parsed.PGP && !doc.Flags.Has(types.FlagPGP) {
		flags := types.Flags{}
		for k, v := range doc.Flags {
			flags[k] = v
		}
		flags[types.FlagPGP] = true
		if err := e.store.SetFlags(ctx, doc.ID, flags); err != nil {
			return err
		}
		doc.Flags = flags
	}
	parsed.Fill(rec)
	return nil
}

func (e *Engine) addOCR(ctx context.Context, doc *types.Document, rec *types.Record) error {
	if doc.MD5 == "" {
		return nil
	}
	rows, err := e.store.OcrByMD5(ctx, doc.CollectionID, doc.MD5)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	rec.OCR = make(map[string]string, len(rows))
	for _, o := range rows {
		rec.OCR[o.Tag] = o.Text
	}
	return nil
}

// listing is the cached member listing of an archive or PST.
type listing struct {
	Files   []string `json:"file_list"`
	Folders []string `json:"folder_list"`
}

func (e *Engine) extractor(kind containers.Kind) (containers.Extractor, error) {
	adapter, ok := e.source.Adapter(kind)
	if !ok {
		return nil, fmt.Errorf("no adapter for %s", kind)
	}
	ex, ok := adapter.(containers.Extractor)
	if !ok {
		return nil, fmt.Errorf("adapter for %s does not extract", kind)
	}
	return ex, nil
}

func (e *Engine) listMembers(ctx context.Context, doc *types.Document, kind containers.Kind, rec *types.Record) error {
	ex, err := e.extractor(kind)
	if err != nil {
		return err
	}
	l, err := hashcache.Get(ctx, e.cache, CacheArchive, doc.SHA1, func() (listing, error) {
		files, folders, err := ex.List(ctx, e.source, doc)
		return listing{Files: files, Folders: folders}, err
	})
	if err != nil {
		return err
	}
	rec.FileList = l.Files
	rec.FolderList = l.Folders
	return nil
}

func (e *Engine) usesTika(tag string) bool {
	return slices.Contains(e.tikaFileTypes, tag)
}

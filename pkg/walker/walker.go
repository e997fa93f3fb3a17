// Package walker materializes Document rows for a directory tree and
// schedules their digestion.
//
// The same traversal serves two callers: collection walks, rooted at the
// collection directory, and container walks, rooted at the extraction cache
// directory of an archive or PST whose Document becomes the container of
// every node found.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/praetorian-inc/hoard/pkg/contenttype"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// DefaultIgnoreFile is read from the traversal root when present.
const DefaultIgnoreFile = ".hoardignore"

// Store is the subset of store.Store the walker writes through.
type Store interface {
	RootDocument(ctx context.Context, collectionID int64) (*types.Document, error)
	GetOrCreateDocument(ctx context.Context, d *types.Document) (*types.Document, bool, error)
}

// Enqueuer receives digest jobs for new or modified nodes.
type Enqueuer interface {
	PutDocument(ctx context.Context, queue string, id int64) (bool, error)
}

// Config configures a Walker.
type Config struct {
	Store Store
	// Queue may be nil, in which case nothing is scheduled.
	Queue Enqueuer
	// IgnoreFile names the gitignore-style file honoured at the root.
	// Default: DefaultIgnoreFile. "-" disables it.
	IgnoreFile string
	Logger     *slog.Logger
}

// Result is one node visited by a walk.
type Result struct {
	Document *types.Document
	Created  bool
}

// Walker traverses directory trees.
type Walker struct {
	store      Store
	queue      Enqueuer
	ignoreFile string
	logger     *slog.Logger
}

// New creates a Walker.
func New(cfg Config) *Walker {
	if cfg.IgnoreFile == "" {
		cfg.IgnoreFile = DefaultIgnoreFile
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Walker{
		store:      cfg.Store,
		queue:      cfg.Queue,
		ignoreFile: cfg.IgnoreFile,
		logger:     cfg.Logger,
	}
}

// walk holds the state of one traversal.
type walk struct {
	*Walker
	root      string
	coll      *types.Collection
	container int64
	flags     types.Flags
	ignore    *gitignore.GitIgnore
	results   []Result
}

// Walk visits root depth-first, starting at the slash-separated sub-path
// prefix ("" for everything). With a container document the traversal
// root is that document and every node is created inside it; without one
// the root is the collection's root folder.
//
// A node is scheduled for digestion when it was never digested or its
// modification time is newer than digested_at. The traversal root itself
// is never scheduled. Symlinks are skipped.
func (w *Walker) Walk(ctx context.Context, root, prefix string, container *types.Document, coll *types.Collection) ([]Result, error) {
	if coll == nil {
		return nil, errors.New("walk needs a collection")
	}

	top := container
	wk := &walk{Walker: w, root: root, coll: coll}
	if container != nil {
		wk.container = container.ID
		wk.flags = container.Flags.Inherited()
	} else {
		var err error
		top, err = w.store.RootDocument(ctx, coll.ID)
		if err != nil {
			return nil, fmt.Errorf("loading root of collection %s: %w", coll.Name, err)
		}
	}

	ignore, err := w.loadIgnore(root)
	if err != nil {
		return nil, err
	}
	wk.ignore = ignore

	prefix = strings.Trim(filepath.ToSlash(prefix), "/")
	if prefix == "" {
		if err := wk.children(ctx, "", top); err != nil {
			return nil, err
		}
		return wk.results, nil
	}

	// Materialize the folders leading to the prefix so parent links are
	// the same as in a full walk.
	parent := top
	parts := strings.Split(prefix, "/")
	for i := range parts[:len(parts)-1] {
		rel := strings.Join(parts[:i+1], "/")
		info, err := os.Lstat(wk.abs(rel))
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", rel, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("walking %s: not a directory", rel)
		}
		parent, err = wk.node(ctx, rel, info, parent)
		if err != nil {
			return nil, err
		}
	}
	if err := wk.visit(ctx, prefix, parent); err != nil {
		return nil, err
	}
	return wk.results, nil
}

func (w *Walker) loadIgnore(root string) (*gitignore.GitIgnore, error) {
	if w.ignoreFile == "-" {
		return nil, nil
	}
	p := filepath.Join(root, w.ignoreFile)
	if _, err := os.Stat(p); err != nil {
		return nil, nil
	}
	ignore, err := gitignore.CompileIgnoreFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return ignore, nil
}

func (wk *walk) abs(rel string) string {
	return filepath.Join(wk.root, filepath.FromSlash(rel))
}

func (wk *walk) ignored(rel string, dir bool) bool {
	if wk.ignoreFile != "-" && rel == wk.ignoreFile {
		return true
	}
	if wk.ignore == nil {
		return false
	}
	return wk.ignore.MatchesPath(rel) || (dir && wk.ignore.MatchesPath(rel+"/"))
}

func (wk *walk) visit(ctx context.Context, rel string, parent *types.Document) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Lstat(wk.abs(rel))
	if err != nil {
		return fmt.Errorf("walking %s: %w", rel, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		wk.logger.Debug("skipping symlink", "path", rel)
		return nil
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}
	if wk.ignored(rel, info.IsDir()) {
		return nil
	}

	doc, err := wk.node(ctx, rel, info, parent)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return wk.children(ctx, rel, doc)
	}
	return nil
}

func (wk *walk) children(ctx context.Context, rel string, doc *types.Document) error {
	entries, err := os.ReadDir(wk.abs(rel))
	if err != nil {
		return fmt.Errorf("listing %q: %w", rel, err)
	}
	for _, e := range entries {
		if err := wk.visit(ctx, path.Join(rel, e.Name()), doc); err != nil {
			return err
		}
	}
	return nil
}

// node get-or-creates the Document for rel and schedules it when stale.
func (wk *walk) node(ctx context.Context, rel string, info os.FileInfo, parent *types.Document) (*types.Document, error) {
	d := &types.Document{
		CollectionID: wk.coll.ID,
		ContainerID:  wk.container,
		ParentID:     parent.ID,
		Path:         rel,
		Filename:     info.Name(),
		Flags:        wk.flags,
	}
	if info.IsDir() {
		d.ContentType = types.FolderContentType
	} else {
		d.ContentType = wk.classify(rel, info.Name())
		d.DiskSize = info.Size()
	}

	doc, created, err := wk.store.GetOrCreateDocument(ctx, d)
	if err != nil {
		return nil, err
	}
	wk.results = append(wk.results, Result{Document: doc, Created: created})

	if wk.queue != nil && (doc.DigestedAt.IsZero() || info.ModTime().After(doc.DigestedAt)) {
		if _, err := wk.queue.PutDocument(ctx, queue.Digest, doc.ID); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// classify guesses from the name and only reads content when the name
// says nothing useful.
func (wk *walk) classify(rel, name string) string {
	if ct := contenttype.Guess(name); ct != "" && ct != contenttype.OctetStream {
		return ct
	}
	f, err := os.Open(wk.abs(rel))
	if err != nil {
		return contenttype.OctetStream
	}
	defer f.Close()
	head, err := io.ReadAll(io.LimitReader(f, contenttype.SniffLimit))
	if err != nil {
		wk.logger.Warn("sniffing content type", "path", rel, "error", err)
	}
	return contenttype.Classify(name, head)
}

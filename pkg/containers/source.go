package containers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// MaxDepth bounds container nesting. A longer ancestor chain is treated
// as a cycle.
const MaxDepth = 64

// Documents is the slice of the store the source reads.
type Documents interface {
	GetDocument(ctx context.Context, id int64) (*types.Document, error)
	GetCollectionByID(ctx context.Context, id int64) (*types.Collection, error)
}

// Materializer gives adapters access to the bytes of other documents.
type Materializer interface {
	// Open streams the content of doc.
	Open(ctx context.Context, doc *types.Document) (io.ReadCloser, error)

	// LocalPath returns a filesystem path holding the content of doc. The
	// cleanup function must be called once the path is no longer needed.
	LocalPath(ctx context.Context, doc *types.Document) (string, func(), error)
}

// Adapter opens members of one kind of container.
type Adapter interface {
	OpenMember(ctx context.Context, m Materializer, container *types.Document, member string) (io.ReadCloser, error)
}

// Extractor is an adapter that unpacks the whole container into a
// directory tree.
type Extractor interface {
	Adapter

	// Extract returns the directory holding the unpacked container,
	// extracting it first if needed.
	Extract(ctx context.Context, m Materializer, container *types.Document) (string, error)

	// List returns the member files and folders as slash-separated paths
	// relative to the container.
	List(ctx context.Context, m Materializer, container *types.Document) (files, folders []string, err error)

	// MemberPath returns the on-disk path of one member.
	MemberPath(ctx context.Context, m Materializer, container *types.Document, member string) (string, error)
}

// SourceConfig configures a Source.
type SourceConfig struct {
	// ScratchDir receives temporary copies of members that only exist in
	// memory. Empty uses the system temp dir.
	ScratchDir string
	Logger     *slog.Logger
}

// Source opens any document: files of the collection directly, container
// members through the adapter registered for their container's kind.
type Source struct {
	docs     Documents
	adapters map[Kind]Adapter
	scratch  string
	logger   *slog.Logger

	mu    sync.Mutex
	roots map[int64]string
}

var _ Materializer = (*Source)(nil)

// NewSource creates a Source with no adapters registered.
func NewSource(docs Documents, cfg SourceConfig) *Source {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		docs:     docs,
		adapters: map[Kind]Adapter{},
		scratch:  cfg.ScratchDir,
		logger:   logger,
		roots:    map[int64]string{},
	}
}

// Register installs the adapter for a container kind.
func (s *Source) Register(k Kind, a Adapter) {
	s.adapters[k] = a
}

// Adapter returns the adapter for k.
func (s *Source) Adapter(k Kind) (Adapter, bool) {
	a, ok := s.adapters[k]
	return a, ok
}

type depthKey struct{}

func descend(ctx context.Context) (context.Context, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= MaxDepth {
		return ctx, fmt.Errorf("container nesting exceeds %d levels", MaxDepth)
	}
	return context.WithValue(ctx, depthKey{}, depth+1), nil
}

// Open streams the content of doc.
func (s *Source) Open(ctx context.Context, doc *types.Document) (io.ReadCloser, error) {
	if doc.IsFolder() {
		return nil, fmt.Errorf("document %d is a folder", doc.ID)
	}
	if doc.ContainerID == 0 {
		path, err := s.AbsPath(ctx, doc)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening document %d: %w", doc.ID, err)
		}
		return f, nil
	}

	ctx, err := descend(ctx)
	if err != nil {
		return nil, err
	}
	container, adapter, err := s.container(ctx, doc)
	if err != nil {
		return nil, err
	}
	return adapter.OpenMember(ctx, s, container, doc.Path)
}

// LocalPath returns a filesystem path for doc: the file itself for
// collection files, the cached member for extracted containers, or a
// temporary copy otherwise.
func (s *Source) LocalPath(ctx context.Context, doc *types.Document) (string, func(), error) {
	noop := func() {}
	if doc.ContainerID == 0 {
		path, err := s.AbsPath(ctx, doc)
		return path, noop, err
	}

	ctx, err := descend(ctx)
	if err != nil {
		return "", noop, err
	}
	container, adapter, err := s.container(ctx, doc)
	if err != nil {
		return "", noop, err
	}
	if ex, ok := adapter.(Extractor); ok {
		path, err := ex.MemberPath(ctx, s, container, doc.Path)
		return path, noop, err
	}

	rc, err := adapter.OpenMember(ctx, s, container, doc.Path)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(s.scratch, "member-*"+filepath.Ext(doc.Name()))
	if err != nil {
		return "", noop, fmt.Errorf("creating scratch file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", noop, fmt.Errorf("copying document %d: %w", doc.ID, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("closing scratch file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// AbsPath returns the filesystem path of a document that is not inside a
// container.
func (s *Source) AbsPath(ctx context.Context, doc *types.Document) (string, error) {
	if doc.ContainerID != 0 {
		return "", fmt.Errorf("document %d is inside container %d", doc.ID, doc.ContainerID)
	}
	root, err := s.collectionRoot(ctx, doc.CollectionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(doc.Path)), nil
}

// Container loads the container of doc and its adapter.
func (s *Source) container(ctx context.Context, doc *types.Document) (*types.Document, Adapter, error) {
	container, err := s.docs.GetDocument(ctx, doc.ContainerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading container of document %d: %w", doc.ID, err)
	}
	kind := KindOf(container.ContentType)
	adapter, ok := s.adapters[kind]
	if !ok {
		return nil, nil, fmt.Errorf("no adapter for container %d (%s)", container.ID, container.ContentType)
	}
	return container, adapter, nil
}

// Ancestors returns the container chain of doc, outermost first. Chains
// longer than MaxDepth are reported as errors.
func (s *Source) Ancestors(ctx context.Context, doc *types.Document) ([]*types.Document, error) {
	var chain []*types.Document
	seen := map[int64]bool{doc.ID: true}
	for id := doc.ContainerID; id != 0; {
		if len(chain) >= MaxDepth {
			return nil, fmt.Errorf("document %d: container chain exceeds %d levels", doc.ID, MaxDepth)
		}
		if seen[id] {
			return nil, fmt.Errorf("document %d: container cycle at %d", doc.ID, id)
		}
		seen[id] = true
		c, err := s.docs.GetDocument(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading container %d: %w", id, err)
		}
		chain = append(chain, c)
		id = c.ContainerID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *Source) collectionRoot(ctx context.Context, id int64) (string, error) {
	s.mu.Lock()
	root, ok := s.roots[id]
	s.mu.Unlock()
	if ok {
		return root, nil
	}

	c, err := s.docs.GetCollectionByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading collection %d: %w", id, err)
	}
	if c.Path == "" {
		return "", errors.New("collection " + c.Name + " has no path")
	}

	s.mu.Lock()
	s.roots[id] = c.Path
	s.mu.Unlock()
	return c.Path, nil
}

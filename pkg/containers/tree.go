package containers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// tree is the shared half of the archive and PST adapters: containers that
// are unpacked whole into a CacheDir and read back member by member.
type tree struct {
	cache       CacheDir
	missingFlag string
	unpack      func(ctx context.Context, src, dir string) error
}

// Extract returns the cache directory for container, unpacking it first
// if needed.
func (t *tree) Extract(ctx context.Context, m Materializer, container *types.Document) (string, error) {
	if container.SHA1 == "" {
		return "", fmt.Errorf("container %d has not been hashed", container.ID)
	}
	if t.cache.Has(container.SHA1) {
		return t.cache.Path(container.SHA1), nil
	}
	return t.cache.Ensure(ctx, container.SHA1, func(ctx context.Context, dir string) error {
		src, cleanup, err := m.LocalPath(ctx, container)
		if err != nil {
			return err
		}
		defer cleanup()
		return t.unpack(ctx, src, dir)
	})
}

// List returns the member files and folders of container.
func (t *tree) List(ctx context.Context, m Materializer, container *types.Document) (files, folders []string, err error) {
	if _, err := t.Extract(ctx, m, container); err != nil {
		return nil, nil, err
	}
	return t.cache.Walk(container.SHA1)
}

// MemberPath returns the cached path of one member, extracting the
// container again if the cache entry has gone missing.
func (t *tree) MemberPath(ctx context.Context, m Materializer, container *types.Document, member string) (string, error) {
	rel := filepath.FromSlash(member)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("member path %q escapes its container", member)
	}
	if container.SHA1 == "" {
		return "", fmt.Errorf("container %d has not been hashed", container.ID)
	}

	path := filepath.Join(t.cache.Path(container.SHA1), rel)
	if exists(path) {
		return path, nil
	}
	if _, err := t.Extract(ctx, m, container); err != nil {
		return "", err
	}
	if !exists(path) {
		return "", types.Broken(t.missingFlag, nil, "%s", path)
	}
	return path, nil
}

// OpenMember opens one extracted member.
func (t *tree) OpenMember(ctx context.Context, m Materializer, container *types.Document, member string) (io.ReadCloser, error) {
	path, err := t.MemberPath(ctx, m, container, member)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening member %s: %w", member, err)
	}
	return f, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

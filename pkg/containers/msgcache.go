package containers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// MsgCache keeps converted Outlook messages keyed by the sha1 of the .msg
// file, under a two character prefix directory: <Root>/ab/cdef....eml.
type MsgCache struct {
	Root string
}

// Enabled reports whether a cache root is configured.
func (c MsgCache) Enabled() bool {
	return c.Root != ""
}

// Get returns the cached conversion for sha1.
func (c MsgCache) Get(sha1 string) ([]byte, bool, error) {
	if !c.Enabled() || !types.ValidSHA1(sha1) {
		return nil, false, nil
	}
	content, err := os.ReadFile(c.path(sha1))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading msg cache: %w", err)
	}
	return content, true, nil
}

// Put stores a conversion. Existing entries are left alone.
func (c MsgCache) Put(sha1 string, content []byte) error {
	if !c.Enabled() || !types.ValidSHA1(sha1) {
		return nil
	}
	path := c.path(sha1)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating msg cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating msg cache entry: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing msg cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing msg cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming msg cache entry: %w", err)
	}
	return nil
}

func (c MsgCache) path(sha1 string) string {
	return filepath.Join(c.Root, sha1[:2], sha1[2:]+".eml")
}

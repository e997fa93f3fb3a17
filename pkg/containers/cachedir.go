package containers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// ErrTaken is returned when another worker is already extracting the same
// content. The job should be retried later.
var ErrTaken = errors.New("another worker has taken this one")

const (
	tmpSuffix    = "_tmp"
	brokenPrefix = "broken_"
)

// CacheDir holds one extracted tree per content hash: <Root>/<sha1>.
//
// An extraction runs in a fresh sibling "<sha1><random>_tmp" directory and
// is renamed into place when it succeeds. A worker that finds another
// directory starting with the same hash backs off with ErrTaken. A failed
// extraction is kept as "broken_<tmp name>" for inspection.
type CacheDir struct {
	Root string
}

// Path returns the final location of the tree for sha1.
func (c CacheDir) Path(sha1 string) string {
	return filepath.Join(c.Root, sha1)
}

// Has reports whether the tree for sha1 is complete.
func (c CacheDir) Has(sha1 string) bool {
	return isDir(c.Path(sha1))
}

// Ensure returns the tree for sha1, running extract into a temporary
// directory first if it is not cached yet.
func (c CacheDir) Ensure(ctx context.Context, sha1 string, extract func(ctx context.Context, dir string) error) (string, error) {
	if c.Root == "" {
		return "", errors.New("cache root is not configured")
	}
	if !types.ValidSHA1(sha1) {
		return "", fmt.Errorf("invalid content hash %q", sha1)
	}

	base := c.Path(sha1)
	if isDir(base) {
		return base, nil
	}

	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", fmt.Errorf("creating cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(c.Root, sha1+"*"+tmpSuffix)
	if err != nil {
		return "", fmt.Errorf("creating extraction dir: %w", err)
	}

	taken, err := c.othersInProgress(sha1, filepath.Base(tmp))
	if err != nil || taken {
		os.RemoveAll(tmp)
		if err != nil {
			return "", err
		}
		return "", ErrTaken
	}

	if err := extract(ctx, tmp); err != nil {
		os.Rename(tmp, filepath.Join(c.Root, brokenPrefix+filepath.Base(tmp)))
		return "", err
	}

	if err := os.Rename(tmp, base); err != nil {
		if isDir(base) {
			os.RemoveAll(tmp)
			return base, nil
		}
		return "", fmt.Errorf("committing extraction: %w", err)
	}
	return base, nil
}

func (c CacheDir) othersInProgress(sha1, current string) (bool, error) {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		return false, fmt.Errorf("scanning cache root: %w", err)
	}
	for _, e := range entries {
		if e.Name() != current && strings.HasPrefix(e.Name(), sha1) {
			return true, nil
		}
	}
	return false, nil
}

// Walk lists the files and folders of the tree for sha1, as slash
// separated paths relative to the tree root.
func (c CacheDir) Walk(sha1 string) (files, folders []string, err error) {
	base := c.Path(sha1)
	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == base {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			folders = append(folders, filepath.ToSlash(rel))
		} else if d.Type().IsRegular() {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("listing %s: %w", base, err)
	}
	return files, folders, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

package containers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// archiveMarkers recognise 7-Zip's reports of a missing or wrong password.
var archiveMarkers = NewMarkers(
	Marker{Phrase: "Wrong password", Flag: types.BrokenArchiveEncrypted},
	Marker{Phrase: "Can not open encrypted archive", Flag: types.BrokenArchiveEncrypted},
)

// ArchiveConfig configures the archive adapter.
type ArchiveConfig struct {
	// SevenZipBinary is the 7z executable. When empty, zip, tar, gzip,
	// bzip2 and 7z archives are unpacked natively and rar is unsupported.
	SevenZipBinary string
	CacheRoot      string
	Password       string
	Logger         *slog.Logger
}

// ArchiveAdapter unpacks zip, rar, 7z, tar and compressed archives.
type ArchiveAdapter struct {
	*tree
	tool     Tool
	password string
}

var _ Extractor = (*ArchiveAdapter)(nil)

// NewArchive creates an archive adapter.
func NewArchive(cfg ArchiveConfig) *ArchiveAdapter {
	a := &ArchiveAdapter{
		tool:     Tool{Binary: cfg.SevenZipBinary, Logger: cfg.Logger},
		password: cfg.Password,
	}
	a.tree = &tree{
		cache:       CacheDir{Root: cfg.CacheRoot},
		missingFlag: types.BrokenArchiveMissingFile,
		unpack:      a.unpack,
	}
	return a
}

func (a *ArchiveAdapter) unpack(ctx context.Context, src, dir string) error {
	if !a.tool.Configured() {
		return unpackNative(src, dir, a.password)
	}

	out, err := a.tool.Run(ctx, "", "-y", "-p"+a.password, "x", src, "-o"+dir)
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		return err
	}
	if flag, ok := archiveMarkers.Match(out); ok {
		return types.Broken(flag, nil, "%s", src)
	}
	return types.Broken(types.BrokenArchiveExtractionFailed, nil, "%s", out)
}

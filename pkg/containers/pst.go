package containers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/praetorian-inc/hoard/pkg/types"
)

// PSTConfig configures the PST adapter.
type PSTConfig struct {
	ReadpstBinary string
	CacheRoot     string
	Logger        *slog.Logger
}

// PSTAdapter converts Outlook personal folders to a maildir-style tree of
// .eml files with readpst.
type PSTAdapter struct {
	*tree
	tool Tool
}

var _ Extractor = (*PSTAdapter)(nil)

// NewPST creates a PST adapter.
func NewPST(cfg PSTConfig) *PSTAdapter {
	p := &PSTAdapter{tool: Tool{Binary: cfg.ReadpstBinary, Logger: cfg.Logger}}
	p.tree = &tree{
		cache:       CacheDir{Root: cfg.CacheRoot},
		missingFlag: types.BrokenPSTMissingFile,
		unpack:      p.unpack,
	}
	return p
}

func (p *PSTAdapter) unpack(ctx context.Context, src, dir string) error {
	out, err := p.tool.Run(ctx, "", "-D", "-M", "-e", "-o", dir, "-teajc", src)
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return types.Broken(types.BrokenPSTExtractionFailed, nil, "readpst failed: %s", out)
	}
	return err
}

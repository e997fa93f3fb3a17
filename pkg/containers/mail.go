package containers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/praetorian-inc/hoard/pkg/email"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// MessageParser is implemented by the adapters whose containers are email
// messages. Members are addressed by MIME part number.
type MessageParser interface {
	Adapter
	Parse(ctx context.Context, m Materializer, doc *types.Document) (*email.Message, error)
}

func openPart(msg *email.Message, member string) (io.ReadCloser, error) {
	data, err := msg.OpenPart(member)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func readAll(ctx context.Context, m Materializer, doc *types.Document) ([]byte, error) {
	rc, err := m.Open(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading document %d: %w", doc.ID, err)
	}
	return data, nil
}

// EmailAdapter parses RFC822 messages.
type EmailAdapter struct {
	decrypter email.Decrypter
}

var _ MessageParser = (*EmailAdapter)(nil)

// NewEmail creates an RFC822 adapter. dec may be nil.
func NewEmail(dec email.Decrypter) *EmailAdapter {
	return &EmailAdapter{decrypter: dec}
}

// Parse parses doc as a message.
func (a *EmailAdapter) Parse(ctx context.Context, m Materializer, doc *types.Document) (*email.Message, error) {
	data, err := readAll(ctx, m, doc)
	if err != nil {
		return nil, err
	}
	return email.Parse(data, a.decrypter), nil
}

// OpenMember returns the decoded payload of a part.
func (a *EmailAdapter) OpenMember(ctx context.Context, m Materializer, container *types.Document, member string) (io.ReadCloser, error) {
	msg, err := a.Parse(ctx, m, container)
	if err != nil {
		return nil, err
	}
	return openPart(msg, member)
}

// EmlxAdapter parses Apple Mail .emlx files. Partial messages read their
// external parts from sibling files, so those resolve only for files of
// the collection itself.
type EmlxAdapter struct {
	decrypter email.Decrypter
}

var _ MessageParser = (*EmlxAdapter)(nil)

// NewEmlx creates an emlx adapter. dec may be nil.
func NewEmlx(dec email.Decrypter) *EmlxAdapter {
	return &EmlxAdapter{decrypter: dec}
}

// Parse parses doc as an emlx message.
func (a *EmlxAdapter) Parse(ctx context.Context, m Materializer, doc *types.Document) (*email.Message, error) {
	path, cleanup, err := m.LocalPath(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading emlx %d: %w", doc.ID, err)
	}
	return email.ParseEmlx(data, path, a.decrypter)
}

// OpenMember returns the decoded payload of a part.
func (a *EmlxAdapter) OpenMember(ctx context.Context, m Materializer, container *types.Document, member string) (io.ReadCloser, error) {
	msg, err := a.Parse(ctx, m, container)
	if err != nil {
		return nil, err
	}
	return openPart(msg, member)
}

// FlagSetter persists document flags.
type FlagSetter interface {
	SetFlags(ctx context.Context, id int64, flags types.Flags) error
}

// OutlookMsgConfig configures the Outlook .msg adapter.
type OutlookMsgConfig struct {
	MsgconvertBinary string
	// CacheRoot keeps converted messages by content hash. Empty disables
	// the cache.
	CacheRoot string
	// FlagFailures marks documents the converter fails on, so they are
	// treated as empty messages from then on instead of failing again.
	FlagFailures bool
	ScratchDir   string
	Decrypter    email.Decrypter
	Flags        FlagSetter
	Logger       *slog.Logger
}

// OutlookMsgAdapter converts .msg files to RFC822 with msgconvert.
type OutlookMsgAdapter struct {
	tool         Tool
	cache        MsgCache
	flagFailures bool
	scratch      string
	decrypter    email.Decrypter
	flags        FlagSetter
	logger       *slog.Logger
}

var _ MessageParser = (*OutlookMsgAdapter)(nil)

// NewOutlookMsg creates a .msg adapter.
func NewOutlookMsg(cfg OutlookMsgConfig) *OutlookMsgAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OutlookMsgAdapter{
		tool:         Tool{Binary: cfg.MsgconvertBinary, Logger: logger},
		cache:        MsgCache{Root: cfg.CacheRoot},
		flagFailures: cfg.FlagFailures,
		scratch:      cfg.ScratchDir,
		decrypter:    cfg.Decrypter,
		flags:        cfg.Flags,
		logger:       logger,
	}
}

// Parse converts doc and parses the result.
func (a *OutlookMsgAdapter) Parse(ctx context.Context, m Materializer, doc *types.Document) (*email.Message, error) {
	if doc.Flags.Has(types.FlagMsgconvertFail) {
		return email.Parse(nil, a.decrypter), nil
	}

	data, ok, err := a.cache.Get(doc.SHA1)
	if err != nil {
		return nil, err
	}
	if !ok {
		data, err = a.convert(ctx, m, doc)
		var toolErr *ToolError
		if errors.As(err, &toolErr) && a.flagFailures {
			a.logger.Warn("msgconvert failed, flagging document", "document", doc.ID, "error", err)
			if err := a.markFailed(ctx, doc); err != nil {
				return nil, err
			}
			return email.Parse(nil, a.decrypter), nil
		}
		if err != nil {
			return nil, err
		}
		if err := a.cache.Put(doc.SHA1, data); err != nil {
			return nil, err
		}
	}
	return email.Parse(data, a.decrypter), nil
}

func (a *OutlookMsgAdapter) markFailed(ctx context.Context, doc *types.Document) error {
	if doc.Flags == nil {
		doc.Flags = types.Flags{}
	}
	doc.Flags[types.FlagMsgconvertFail] = true
	if a.flags == nil {
		return nil
	}
	if err := a.flags.SetFlags(ctx, doc.ID, doc.Flags); err != nil {
		return fmt.Errorf("flagging document %d: %w", doc.ID, err)
	}
	return nil
}

// convert runs msgconvert on a symlink to the document inside a private
// directory, where the tool writes its .eml output.
func (a *OutlookMsgAdapter) convert(ctx context.Context, m Materializer, doc *types.Document) ([]byte, error) {
	if !a.tool.Configured() {
		return nil, fmt.Errorf("msgconvert: %w", ErrNotConfigured)
	}

	src, cleanup, err := m.LocalPath(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	abs, err := filepath.Abs(src)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", src, err)
	}

	dir, err := os.MkdirTemp(a.scratch, "msgconvert-*")
	if err != nil {
		return nil, fmt.Errorf("creating msgconvert dir: %w", err)
	}
	defer os.RemoveAll(dir)

	const name = "message.msg"
	if err := os.Symlink(abs, filepath.Join(dir, name)); err != nil {
		return nil, fmt.Errorf("linking %s: %w", src, err)
	}
	if _, err := a.tool.Run(ctx, dir, name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, "message.eml"))
	if err != nil {
		return nil, fmt.Errorf("reading msgconvert output: %w", err)
	}
	return data, nil
}

// OpenMember returns the decoded payload of a part.
func (a *OutlookMsgAdapter) OpenMember(ctx context.Context, m Materializer, container *types.Document, member string) (io.ReadCloser, error) {
	msg, err := a.Parse(ctx, m, container)
	if err != nil {
		return nil, err
	}
	return openPart(msg, member)
}

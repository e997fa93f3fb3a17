package containers

import (
	"log/slog"

	"github.com/praetorian-inc/hoard/pkg/email"
)

// Config configures a Source with every adapter installed.
type Config struct {
	Archive    ArchiveConfig
	PST        PSTConfig
	OutlookMsg OutlookMsgConfig
	Decrypter  email.Decrypter
	ScratchDir string
	Logger     *slog.Logger
}

// New creates a Source with the archive, PST and email adapters
// registered.
func New(docs Documents, cfg Config) *Source {
	if cfg.Archive.Logger == nil {
		cfg.Archive.Logger = cfg.Logger
	}
	if cfg.PST.Logger == nil {
		cfg.PST.Logger = cfg.Logger
	}
	if cfg.OutlookMsg.Logger == nil {
		cfg.OutlookMsg.Logger = cfg.Logger
	}
	if cfg.OutlookMsg.ScratchDir == "" {
		cfg.OutlookMsg.ScratchDir = cfg.ScratchDir
	}
	if cfg.OutlookMsg.Decrypter == nil {
		cfg.OutlookMsg.Decrypter = cfg.Decrypter
	}
	if cfg.OutlookMsg.Flags == nil {
		if fs, ok := docs.(FlagSetter); ok {
			cfg.OutlookMsg.Flags = fs
		}
	}

	s := NewSource(docs, SourceConfig{ScratchDir: cfg.ScratchDir, Logger: cfg.Logger})
	s.Register(Archive, NewArchive(cfg.Archive))
	s.Register(PST, NewPST(cfg.PST))
	s.Register(Email, NewEmail(cfg.Decrypter))
	s.Register(Emlx, NewEmlx(cfg.Decrypter))
	s.Register(OutlookMsg, NewOutlookMsg(cfg.OutlookMsg))
	return s
}

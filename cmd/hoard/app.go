package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"github.com/praetorian-inc/hoard/pkg/containers"
	"github.com/praetorian-inc/hoard/pkg/digest"
	"github.com/praetorian-inc/hoard/pkg/email"
	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/hashcache"
	"github.com/praetorian-inc/hoard/pkg/index"
	"github.com/praetorian-inc/hoard/pkg/ocr"
	"github.com/praetorian-inc/hoard/pkg/pgp"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
	"github.com/praetorian-inc/hoard/pkg/walker"
	"github.com/praetorian-inc/hoard/pkg/worker"
)

// app holds the components built from the configuration.
type app struct {
	store   *store.SQLStore
	queue   *queue.Queue
	source  *containers.Source
	engine  *digest.Engine
	ocr     *ocr.Ingester
	closers []io.Closer
}

// openStore opens the database with the queue and OCR ingester on top
// of it.
func openStore() (*app, error) {
	s, err := store.New(store.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	q := queue.FromStore(s, queue.Options{Logger: logger})
	return &app{
		store: s,
		queue: q,
		ocr: ocr.New(ocr.Config{
			Store:     s,
			Queue:     q,
			Root:      cfg.OCR.Root,
			PDFToText: cfg.PDFToText.Binary,
			Logger:    logger,
		}),
		closers: []io.Closer{s},
	}, nil
}

// openPipeline opens the store and builds the digest engine.
func openPipeline() (*app, error) {
	a, err := openStore()
	if err != nil {
		return nil, err
	}

	var dec email.Decrypter
	if cfg.PGP.Keyring != "" {
		d, err := loadKeyring()
		if err != nil {
			a.Close()
			return nil, err
		}
		dec = d
	}

	a.source = containers.New(a.store, containers.Config{
		Archive: containers.ArchiveConfig{
			SevenZipBinary: cfg.Archive.SevenZipBinary,
			CacheRoot:      cfg.Archive.CacheRoot,
			Password:       cfg.Archive.Password,
		},
		PST: containers.PSTConfig{
			ReadpstBinary: cfg.PST.ReadpstBinary,
			CacheRoot:     cfg.PST.CacheRoot,
		},
		OutlookMsg: containers.OutlookMsgConfig{
			MsgconvertBinary: cfg.Msg.MsgconvertBinary,
			CacheRoot:        cfg.Msg.CacheRoot,
			FlagFailures:     cfg.Msg.FlagFailures,
		},
		Decrypter:  dec,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	})

	a.engine = digest.New(digest.Config{
		Store:  a.store,
		Source: a.source,
		Cache:  hashcache.New(a.store, cfg.Cache.Enabled),
		Queue:  a.queue,
		Tika: extract.NewTika(extract.TikaConfig{
			Endpoint: cfg.Tika.Endpoint,
			Timeout:  cfg.Tika.Timeout,
			Retries:  cfg.Tika.Retries,
			Logger:   logger,
		}),
		TikaFileTypes:   cfg.Tika.FileTypes,
		TikaMaxFileSize: cfg.Tika.MaxFileSize,
		Lang:            cfg.Lang.Enabled,
		LangMinLength:   cfg.Lang.MinTextLength,
		PDFToText:       cfg.PDFToText.Binary,
		Logger:          logger,
	})

	return a, nil
}

func (a *app) walker() *walker.Walker {
	return walker.New(walker.Config{
		Store:      a.store,
		Queue:      a.queue,
		IgnoreFile: cfg.Walk.IgnoreFile,
		Logger:     logger,
	})
}

// indexer opens the bulk output configured for the index queue.
func (a *app) indexer() (*index.Indexer, error) {
	var out io.Writer = os.Stdout
	if cfg.Index.Output != "" && cfg.Index.Output != "-" {
		f, err := os.OpenFile(cfg.Index.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening index output: %w", err)
		}
		a.closers = append(a.closers, f)
		out = f
	}
	return index.NewIndexer(a.store, index.NewWriter(out, cfg.Index.Name), logger), nil
}

// workerConfig is the worker configuration shared by the worker and digest
// commands. It opens the day's status log when log.dir is set.
func (a *app) workerConfig() (worker.Config, error) {
	wc := worker.Config{
		Store:  a.store,
		Queue:  a.queue,
		Engine: a.engine,
		OCR:    a.ocr,
		Index:  cfg.Index.Enabled,
		Logger: logger,
	}
	if cfg.Log.Dir != "" {
		statusLog, closer, err := worker.OpenStatusLog(cfg.Log.Dir, time.Now())
		if err != nil {
			return wc, err
		}
		a.closers = append(a.closers, closer)
		wc.StatusLog = statusLog
	}
	return wc, nil
}

// collection resolves a collection by name.
func (a *app) collection(ctx context.Context, name string) (*types.Collection, error) {
	c, err := a.store.GetCollection(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no collection named %q", name)
	}
	return c, err
}

// collectionID resolves an optional collection argument; zero means all.
func (a *app) collectionID(ctx context.Context, args []string) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	c, err := a.collection(ctx, args[0])
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// loadKeyring reads the PGP keyring, prompting for its passphrase on a
// terminal when none is configured.
func loadKeyring() (*pgp.Decrypter, error) {
	passphrase := []byte(cfg.PGP.Passphrase)
	if len(passphrase) == 0 {
		p, err := readPassphrase(fmt.Sprintf("Passphrase for %s: ", filepath.Base(cfg.PGP.Keyring)))
		if err != nil {
			return nil, err
		}
		passphrase = p
	}
	return pgp.LoadKeyring(cfg.PGP.Keyring, passphrase)
}

func readPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	p, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return p, nil
}

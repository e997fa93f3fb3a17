package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/hoard/pkg/extract"
	"github.com/praetorian-inc/hoard/pkg/pgp"
)

// check is one doctor check. A nil run result is a pass; skipped checks
// report why they did not run.
type check struct {
	name string
	skip string
	run  func(ctx context.Context) (string, error)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the database, Tika, external tools and directories",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := newStyles()
	out := cmd.OutOrStdout()

	failed := 0
	for _, c := range doctorChecks() {
		if c.skip != "" {
			fmt.Fprintf(out, "%s %s: %s\n", s.warn.Sprint("-"), c.name, c.skip)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		detail, err := c.run(cctx)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s %s: %v\n", s.bad.Sprint("✗"), c.name, err)
			continue
		}
		fmt.Fprintf(out, "%s %s", s.ok.Sprint("✓"), c.name)
		if detail != "" {
			fmt.Fprintf(out, ": %s", detail)
		}
		fmt.Fprintln(out)
	}
	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func doctorChecks() []check {
	checks := []check{{
		name: "database",
		run: func(ctx context.Context) (string, error) {
			a, err := openStore()
			if err != nil {
				return "", err
			}
			defer a.Close()
			if err := a.store.DB().PingContext(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s", a.store.Dialect().Name, cfg.Database.DSN), nil
		},
	}}

	tika := check{name: "tika"}
	if cfg.Tika.Endpoint == "" {
		tika.skip = "no endpoint, using built-in extractors"
	} else {
		tika.run = func(ctx context.Context) (string, error) {
			t := extract.NewTika(extract.TikaConfig{Endpoint: cfg.Tika.Endpoint, Timeout: cfg.Tika.Timeout, Logger: logger})
			return t.Version(ctx)
		}
	}
	checks = append(checks, tika)

	checks = append(checks,
		binaryCheck("7z", cfg.Archive.SevenZipBinary, "zip, tar and 7z are unpacked natively, rar is unsupported"),
		binaryCheck("readpst", cfg.PST.ReadpstBinary, "pst files will fail"),
		binaryCheck("msgconvert", cfg.Msg.MsgconvertBinary, "outlook .msg files will fail"),
		binaryCheck("pdftotext", cfg.PDFToText.Binary, "using the built-in pdf reader"),
		dirCheck("archive cache", cfg.Archive.CacheRoot),
		dirCheck("pst cache", cfg.PST.CacheRoot),
		dirCheck("msg cache", cfg.Msg.CacheRoot),
		dirCheck("scratch dir", cfg.ScratchDir),
		dirCheck("log dir", cfg.Log.Dir),
	)

	keyring := check{name: "pgp keyring"}
	if cfg.PGP.Keyring == "" {
		keyring.skip = "not configured, encrypted messages will be marked broken"
	} else {
		keyring.run = func(ctx context.Context) (string, error) {
			d, err := pgp.LoadKeyring(cfg.PGP.Keyring, []byte(cfg.PGP.Passphrase))
			if err != nil {
				return "", err
			}
			if !d.Enabled() {
				return "", errors.New("keyring has no keys")
			}
			return cfg.PGP.Keyring, nil
		}
	}
	return append(checks, keyring)
}

func binaryCheck(name, binary, fallback string) check {
	c := check{name: name}
	if binary == "" {
		c.skip = "not configured, " + fallback
		return c
	}
	c.run = func(ctx context.Context) (string, error) {
		return exec.LookPath(binary)
	}
	return c
}

// dirCheck creates the directory if needed and verifies it is writable.
func dirCheck(name, dir string) check {
	c := check{name: name}
	if dir == "" {
		c.skip = "not configured"
		return c
	}
	c.run = func(ctx context.Context) (string, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		f, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			return "", fmt.Errorf("not writable: %w", err)
		}
		_, werr := io.WriteString(f, "ok")
		f.Close()
		os.Remove(f.Name())
		if werr != nil {
			return "", werr
		}
		return dir, nil
	}
	return c
}

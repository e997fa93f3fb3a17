// Package config loads hoard's configuration: a YAML file, then a .env
// file, then HOARD_* environment variables, each overriding the last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config file is given and it exists.
const DefaultFile = "hoard.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HOARD_"

// Config is the full configuration.
type Config struct {
	Database   DatabaseConfig  `yaml:"database"`
	Archive    ArchiveConfig   `yaml:"archive"`
	PST        PSTConfig       `yaml:"pst"`
	Msg        MsgConfig       `yaml:"msg"`
	Tika       TikaConfig      `yaml:"tika"`
	Lang       LangConfig      `yaml:"lang"`
	PDFToText  PDFToTextConfig `yaml:"pdftotext"`
	OCR        OCRConfig       `yaml:"ocr"`
	PGP        PGPConfig       `yaml:"pgp"`
	Cache      CacheConfig     `yaml:"cache"`
	Log        LogConfig       `yaml:"log"`
	ScratchDir string          `yaml:"scratch_dir"`
	Walk       WalkConfig      `yaml:"walk"`
	Index      IndexConfig     `yaml:"index"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type ArchiveConfig struct {
	SevenZipBinary string `yaml:"sevenzip_binary"`
	CacheRoot      string `yaml:"cache_root"`
	Password       string `yaml:"password"`
}

type PSTConfig struct {
	ReadpstBinary string `yaml:"readpst_binary"`
	CacheRoot     string `yaml:"cache_root"`
}

type MsgConfig struct {
	MsgconvertBinary string `yaml:"msgconvert_binary"`
	CacheRoot        string `yaml:"cache_root"`
	FlagFailures     bool   `yaml:"flag_failures"`
}

type TikaConfig struct {
	// Endpoint is the Tika server URL. Empty uses the built-in extractors.
	Endpoint    string        `yaml:"endpoint"`
	FileTypes   []string      `yaml:"file_types"`
	MaxFileSize int64         `yaml:"max_file_size"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
}

type LangConfig struct {
	Enabled       bool `yaml:"enabled"`
	MinTextLength int  `yaml:"min_text_length"`
}

type PDFToTextConfig struct {
	Binary string `yaml:"binary"`
}

type OCRConfig struct {
	// Root resolves relative OCR directories.
	Root string `yaml:"root"`
}

type PGPConfig struct {
	Keyring    string `yaml:"keyring"`
	Passphrase string `yaml:"passphrase"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	// Dir receives one JSON lines status file per day. Empty disables it.
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type WalkConfig struct {
	IgnoreFile string `yaml:"ignore_file"`
}

type IndexConfig struct {
	// Enabled schedules digested documents on the index queue.
	Enabled bool `yaml:"enabled"`
	// Output receives bulk NDJSON. Empty or "-" is stdout.
	Output string `yaml:"output"`
	Name   string `yaml:"name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "hoard.db"},
		Archive:  ArchiveConfig{CacheRoot: "cache/archives"},
		PST:      PSTConfig{CacheRoot: "cache/pst"},
		Msg:      MsgConfig{CacheRoot: "cache/msg"},
		Tika: TikaConfig{
			MaxFileSize: 32 << 20,
			Timeout:     5 * time.Minute,
			Retries:     3,
		},
		Lang:  LangConfig{Enabled: true, MinTextLength: 100},
		Cache: CacheConfig{Enabled: true},
		Log:   LogConfig{Level: "info"},
		Walk:  WalkConfig{IgnoreFile: ".hoardignore"},
		Index: IndexConfig{Name: "hoard"},
	}
}

// Load builds the configuration. path names the YAML file; when empty,
// DefaultFile is read if present. A .env file in the working directory is
// loaded into the environment without replacing variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from HOARD_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("DATABASE_DRIVER", &c.Database.Driver)
	e.str("DATABASE_DSN", &c.Database.DSN)
	e.int("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.str("ARCHIVE_SEVENZIP_BINARY", &c.Archive.SevenZipBinary)
	e.str("ARCHIVE_CACHE_ROOT", &c.Archive.CacheRoot)
	e.str("ARCHIVE_PASSWORD", &c.Archive.Password)
	e.str("PST_READPST_BINARY", &c.PST.ReadpstBinary)
	e.str("PST_CACHE_ROOT", &c.PST.CacheRoot)
	e.str("MSG_MSGCONVERT_BINARY", &c.Msg.MsgconvertBinary)
	e.str("MSG_CACHE_ROOT", &c.Msg.CacheRoot)
	e.bool("MSG_FLAG_FAILURES", &c.Msg.FlagFailures)
	e.str("TIKA_ENDPOINT", &c.Tika.Endpoint)
	e.list("TIKA_FILE_TYPES", &c.Tika.FileTypes)
	e.int64("TIKA_MAX_FILE_SIZE", &c.Tika.MaxFileSize)
	e.duration("TIKA_TIMEOUT", &c.Tika.Timeout)
	e.int("TIKA_RETRIES", &c.Tika.Retries)
	e.bool("LANG_ENABLED", &c.Lang.Enabled)
	e.int("LANG_MIN_TEXT_LENGTH", &c.Lang.MinTextLength)
	e.str("PDFTOTEXT_BINARY", &c.PDFToText.Binary)
	e.str("OCR_ROOT", &c.OCR.Root)
	e.str("PGP_KEYRING", &c.PGP.Keyring)
	e.str("PGP_PASSPHRASE", &c.PGP.Passphrase)
	e.bool("CACHE_ENABLED", &c.Cache.Enabled)
	e.str("LOG_DIR", &c.Log.Dir)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("SCRATCH_DIR", &c.ScratchDir)
	e.str("WALK_IGNORE_FILE", &c.Walk.IgnoreFile)
	e.bool("INDEX_ENABLED", &c.Index.Enabled)
	e.str("INDEX_OUTPUT", &c.Index.Output)
	e.str("INDEX_NAME", &c.Index.Name)
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	return e.lookup(EnvPrefix + key)
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) int64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Tika.MaxFileSize < 0 {
		return fmt.Errorf("tika.max_file_size must not be negative")
	}
	if c.Tika.Retries < 0 {
		return fmt.Errorf("tika.retries must not be negative")
	}
	if c.Lang.MinTextLength < 0 {
		return fmt.Errorf("lang.min_text_length must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

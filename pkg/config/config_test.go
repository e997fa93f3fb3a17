package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "custom.yaml", `
database:
  driver: postgres
  dsn: postgres://hoard@localhost/hoard
tika:
  endpoint: http://localhost:9998
  file_types: [pdf, doc]
  timeout: 30s
lang:
  enabled: false
log:
  dir: /var/log/hoard
  level: debug
walk:
  ignore_file: "-"
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://hoard@localhost/hoard", cfg.Database.DSN)
	assert.Equal(t, "http://localhost:9998", cfg.Tika.Endpoint)
	assert.Equal(t, []string{"pdf", "doc"}, cfg.Tika.FileTypes)
	assert.Equal(t, 30*time.Second, cfg.Tika.Timeout)
	assert.Equal(t, int64(32<<20), cfg.Tika.MaxFileSize, "unset keys keep defaults")
	assert.False(t, cfg.Lang.Enabled)
	assert.Equal(t, "-", cfg.Walk.IgnoreFile)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, DefaultFile, "database:\n  dsn: from-file.db\ncache:\n  enabled: true\n")
	writeFile(t, dir, ".env", "HOARD_PGP_PASSPHRASE=from-dotenv\nHOARD_DATABASE_DSN=from-dotenv.db\n")
	t.Setenv("HOARD_DATABASE_DSN", "from-env.db")
	t.Setenv("HOARD_CACHE_ENABLED", "false")
	t.Setenv("HOARD_TIKA_FILE_TYPES", "pdf, xls")
	t.Cleanup(func() { os.Unsetenv("HOARD_PGP_PASSPHRASE") })

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.DSN, "process env wins over .env")
	assert.Equal(t, "from-dotenv", cfg.PGP.Passphrase)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"pdf", "xls"}, cfg.Tika.FileTypes)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"HOARD_CACHE_ENABLED":      "perhaps",
		"HOARD_TIKA_MAX_FILE_SIZE": "big",
		"HOARD_TIKA_TIMEOUT":       "soon",
	}
	cfg := Default()

	err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOARD_CACHE_ENABLED")
	assert.Contains(t, err.Error(), "HOARD_TIKA_MAX_FILE_SIZE")
	assert.Contains(t, err.Error(), "HOARD_TIKA_TIMEOUT")
	assert.True(t, cfg.Cache.Enabled, "invalid values leave the field alone")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"pgx driver", func(c *Config) { c.Database.Driver = "pgx" }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, true},
		{"negative tika size", func(c *Config) { c.Tika.MaxFileSize = -1 }, true},
		{"negative retries", func(c *Config) { c.Tika.Retries = -1 }, true},
		{"negative lang length", func(c *Config) { c.Lang.MinTextLength = -5 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

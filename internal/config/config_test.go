package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, "uploads", cfg.Storage.Root)
	assert.Equal(t, "log", cfg.Notify.Backend)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PTW_STORAGE_ROOT=/srv/ptw\nPTW_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("PTW_STORAGE_ROOT")
		_ = os.Unsetenv("PTW_LOG_LEVEL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ptw", cfg.Storage.Root)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage:   StorageOptions{Backend: "fs"},
			Notify:    NotifyOptions{Backend: "log", QueueSize: 8},
			Database:  DatabaseOptions{MaxOpenConns: 4, MaxIdleConns: 2},
			RateLimit: RateLimitOptions{Burst: 1, PerSecond: 1},
			Auth:      AuthOptions{TokenTTL: time.Hour},
		}
	}

	cases := map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"valid":             {func(*Config) {}, false},
		"s3 without bucket": {func(c *Config) { c.Storage.Backend = "s3" }, true},
		"s3 with bucket":    {func(c *Config) { c.Storage.Backend = "s3"; c.Storage.Bucket = "b" }, false},
		"unknown storage":   {func(c *Config) { c.Storage.Backend = "ftp" }, true},
		"nats without url":  {func(c *Config) { c.Notify.Backend = "nats" }, true},
		"idle above open":   {func(c *Config) { c.Database.MaxIdleConns = 10 }, true},
		"prod no secret":    {func(c *Config) { c.Environment = "production" }, true},
		"prod with secret":  {func(c *Config) { c.Environment = "production"; c.Auth.Secret = "s" }, false},
		"zero queue":        {func(c *Config) { c.Notify.QueueSize = 0 }, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

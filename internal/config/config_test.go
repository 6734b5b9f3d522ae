package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 3, cfg.Checks.Staleness.FreshMultiplier)
	assert.Equal(t, 10, cfg.Checks.Staleness.StaleMultiplier)
	assert.Equal(t, 30, cfg.Checks.CertWarningDays)
	assert.Equal(t, "@every 1m", cfg.Scheduler.ReconcileSpec)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  type: memory
checks:
  cert_warning_days: 14
  staleness:
    fresh_multiplier: 2
    stale_multiplier: 6
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 14, cfg.Checks.CertWarningDays)
	assert.Equal(t, 2, cfg.Checks.Staleness.FreshMultiplier)
	assert.Equal(t, 6, cfg.Checks.Staleness.StaleMultiplier)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 32, cfg.Scheduler.MaxConcurrentChecks, "unset fields keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPTIMO_PORT", "9100")
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PING_PRIVILEGED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Checks.PingPrivileged)
}

func TestRedisURLSwitchesCacheType(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad db type", func(c *Config) { c.Database.Type = "oracle" }},
		{"postgres without host", func(c *Config) {
			c.Database.Type = "postgres"
			c.Database.ConnectionString = ""
		}},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrentChecks = 0 }},
		{"inverted staleness window", func(c *Config) {
			c.Checks.Staleness.FreshMultiplier = 10
			c.Checks.Staleness.StaleMultiplier = 3
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad cache type", func(c *Config) { c.Cache.Type = "memcached" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := Default()
	cfg.Database.Type = "postgres"
	cfg.Database.ConnectionString = ""
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5432
	cfg.Database.Username = "uptimo"
	cfg.Database.Password = "secret"
	cfg.Database.Database = "uptimo"
	cfg.Database.SSLMode = "require"

	assert.Equal(t,
		"host=db.internal port=5432 user=uptimo password=secret dbname=uptimo sslmode=require",
		cfg.ConnectionString())

	cfg.Database.ConnectionString = "postgres://explicit"
	assert.Equal(t, "postgres://explicit", cfg.ConnectionString())

	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
}

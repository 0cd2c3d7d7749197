package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unchained.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  write_timeout: 5s
database:
  url: postgres://localhost/unchained
  max_conns: 4
entities:
  dir: ./entities
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "./entities", cfg.Entities.Dir)
	assert.Equal(t, "memory", cfg.Cache.Driver)

	pc := cfg.PoolConfig()
	assert.Equal(t, "postgres://localhost/unchained", pc.DSN)
	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DATABASE_STATS_INTERVAL", "not-a-duration")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, time.Minute, cfg.Database.StatsInterval)

	cc := cfg.CacheConfig()
	assert.Equal(t, "redis", cc.Driver)
	assert.Equal(t, "localhost:6379", cc.Addr)
	assert.Equal(t, 3, cc.DB)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "database.url")

	_, err = Load(writeConfig(t, "database: [broken"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("CACHE_DRIVER", "memcached")
	_, err = Load("")
	assert.ErrorContains(t, err, "unknown cache driver")
}

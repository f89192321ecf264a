package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	sum := cfg.Cache.Weights.Semantic + cfg.Cache.Weights.Structural + cfg.Cache.Weights.Param + cfg.Cache.Weights.Recency
	assert.InDelta(t, 1.0, sum, 0.001)
	assert.Equal(t, 0.87, cfg.Cache.AdmissionThreshold)
	assert.Equal(t, 6, cfg.Cache.SimhashMaxDistance)
	assert.Equal(t, "memory", cfg.HotStore.Backend)
	assert.Equal(t, "memory", cfg.IndexedStore.Backend)
	assert.NoError(t, validate(cfg))
}

func TestParseOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
cache:
  admission_threshold: 0.9
hot_store:
  backend: redis
  redis:
    addr: "redis:6379"
indexed_store:
  backend: postgres
  postgres:
    dsn: "postgres://localhost/cache"
`)

	cfg, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Cache.AdmissionThreshold)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.6, cfg.Cache.Weights.Semantic)
	assert.Equal(t, "redis", cfg.HotStore.Backend)
	assert.Equal(t, "redis:6379", cfg.HotStore.Redis.Addr)
	assert.Equal(t, "postgres", cfg.IndexedStore.Backend)
	assert.Equal(t, "postgres://localhost/cache", cfg.IndexedStore.Postgres.DSN)
}

func TestParseRejectsBadWeights(t *testing.T) {
	path := writeTempConfig(t, `
cache:
  weights:
    semantic: 0.9
    structural: 0.9
    param: 0.1
    recency: 0.1
`)
	_, err := Parse(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	path := writeTempConfig(t, `
hot_store:
  backend: memcached
`)
	_, err := Parse(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hot_store.backend")
}

func TestParseRejectsMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestReplaceUpdatesGet(t *testing.T) {
	stricter := Default()
	stricter.Cache.AdmissionThreshold = 0.99
	Replace(stricter)
	assert.Equal(t, 0.99, Get().Cache.AdmissionThreshold)
}

func TestTTLForModelFamily(t *testing.T) {
	cfg := Default()
	cfg.Cache.TTLSecondsByModelFamily = map[string]int{"*": 1800, "gpt-4": 7200}

	assert.Equal(t, 7200, cfg.TTLForModelFamily("gpt-4"))
	assert.Equal(t, 1800, cfg.TTLForModelFamily("claude-3"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/catalog.db", cfg.Catalog.Path)
	assert.Equal(t, "ecoinvent", cfg.Catalog.SourceName)
	assert.Equal(t, "3.11", cfg.Catalog.SourceVersion)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, 100, cfg.Retrieval.LexicalTopN)
	assert.Equal(t, 100, cfg.Retrieval.SemanticTopN)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.True(t, cfg.Retrieval.ExpandTerms)
	assert.Equal(t, "gemini-embedding-001", cfg.Embedding.Model)
	assert.Equal(t, 256, cfg.Embedding.BatchSize)
	assert.Equal(t, int64(4096), cfg.Oracle.MaxTokens)
	assert.Equal(t, 3, cfg.Oracle.MaxRetries)
	assert.Equal(t, 2, cfg.Oracle.GroundingRetries)
	assert.InDelta(t, 2.0, cfg.Oracle.RequestsPerSec, 0.001)
	assert.Equal(t, 1000, cfg.Output.MaxChars)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/factors
retrieval:
  top_k: 10
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/factors", cfg.Store.DatabaseURL)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := "server:\n  port: 9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("FACTOR_SERVER_PORT", "7070")
	t.Setenv("FACTOR_ORACLE_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nonsense", Format: "json"})
	assert.Error(t, err)
}

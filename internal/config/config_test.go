package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ariadne.db", cfg.DBPath)
	assert.Equal(t, "ariadne_vectors", cfg.VectorPath)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Rebuild.KeepBackups)
	assert.Equal(t, 10, cfg.Summarize.MaxWorkers)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ariadne.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /data/graph.db
llm:
  provider: deepseek
  model: deepseek-chat
summarize:
  max_workers: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/graph.db", cfg.DBPath)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Summarize.MaxWorkers)
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ariadne.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: from-file.db\n"), 0o644))

	t.Setenv("ARIADNE_DB_PATH", "from-env.db")
	t.Setenv("ARIADNE_LLM_PROVIDER", "ollama")
	t.Setenv("ARIADNE_OLLAMA_BASE_URL", "http://localhost:11434")
	t.Setenv("ARIADNE_OLLAMA_MODEL", "qwen2.5-coder")
	t.Setenv("ARIADNE_RATE_LIMIT_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "qwen2.5-coder", cfg.LLM.Model)
	assert.True(t, cfg.Server.RateLimitEnabled)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestUnknownProviderRejected(t *testing.T) {
	t.Setenv("ARIADNE_LLM_PROVIDER", "palm")
	_, err := Load("")
	assert.Error(t, err)
}

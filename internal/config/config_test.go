package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"news-rag-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: "8080"
  mode: "debug"
provider:
  embedder:
    backend: "ollama"
    ollama:
      base_url: "http://127.0.0.1:11434"
      model: "nomic-embed-text"
  generator:
    backends: ["ollama"]
    ollama:
      base_url: "http://127.0.0.1:11434"
      model: "qwen2.5:7b"
  vector_index:
    backend: "memory"
    collection: "news_chunks"
    dimensions: 768
session:
  backend: "memory"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Chat.TopK)
	assert.Equal(t, 5, cfg.Chat.HistoryTurns)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 20, cfg.Session.MaxTurns)
}

func TestLoad_RejectsInvalidChunking(t *testing.T) {
	yaml := validYAML + `
ingest:
  chunk_size: 100
  chunk_overlap: 100
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidChunking)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	yaml := `
provider:
  embedder:
    backend: "acme"
  generator:
    backends: ["ollama"]
    ollama:
      base_url: "http://127.0.0.1:11434"
  vector_index:
    backend: "memory"
    collection: "c"
    dimensions: 8
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBackendUnknown)
}

func TestLoad_RequiresCredentials(t *testing.T) {
	yaml := `
provider:
  embedder:
    backend: "openai" # 缺 api_key 与 base_url
  generator:
    backends: ["ollama"]
    ollama:
      base_url: "http://127.0.0.1:11434"
  vector_index:
    backend: "memory"
    collection: "c"
    dimensions: 8
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingCredential)
}

func TestLoad_RequiresGeneratorChain(t *testing.T) {
	yaml := `
provider:
  embedder:
    backend: "ollama"
    ollama:
      base_url: "http://127.0.0.1:11434"
  generator:
    backends: []
  vector_index:
    backend: "memory"
    collection: "c"
    dimensions: 8
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBackendUnknown)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

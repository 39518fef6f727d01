package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:11434", cfg.Ollama.URL)
	assert.True(t, cfg.Embeddings.Enabled)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.InDelta(t, 0.92, cfg.Cache.SimilarityThreshold, 1e-9)
	assert.Equal(t, 100000, cfg.Context.MaxTokens)
	assert.Equal(t, 4000, cfg.Context.SystemPromptReserve)
	assert.Equal(t, 4000, cfg.Context.ResponseReserve)
	require.NoError(t, cfg.validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://10.0.0.5:11434/")
	t.Setenv("OLLAMA_MODEL", "llama3.2:3b")
	t.Setenv("EMBEDDINGS_ENABLED", "false")
	t.Setenv("EMBEDDING_DIMENSION", "768")
	t.Setenv("CACHE_SIMILARITY_THRESHOLD", "0.88")
	t.Setenv("ADA_DEVICE_TIER", "Minimal")
	t.Setenv("ADA_DISABLE_LOCAL_LLM", "yes")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "http://10.0.0.5:11434", cfg.Ollama.URL, "trailing slash trimmed")
	assert.Equal(t, "llama3.2:3b", cfg.Ollama.ClassifierModel)
	assert.False(t, cfg.Embeddings.Enabled)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.InDelta(t, 0.88, cfg.Cache.SimilarityThreshold, 1e-9)
	assert.Equal(t, "minimal", cfg.Device.TierOverride)
	assert.True(t, cfg.Ollama.DisableLocalLLM)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "not-a-number")
	t.Setenv("CACHE_SIMILARITY_THRESHOLD", "7.5")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.InDelta(t, 0.92, cfg.Cache.SimilarityThreshold, 1e-9)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADA_DATA_DIR", dir)

	yaml := []byte("ollama:\n  classifier_model: phi3:mini\nproactive:\n  max_per_day: 2\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "phi3:mini", cfg.Ollama.ClassifierModel)
	assert.Equal(t, 2, cfg.Proactive.MaxPerDay)
	// Untouched areas keep defaults.
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.URL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embeddings.Dimension = 0
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.Cache.SimilarityThreshold = 1.5
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.Proactive.TickInterval = "every now and then"
	assert.Error(t, cfg.validate())
}

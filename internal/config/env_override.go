package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies environment variables on top of file config.
// Environment always wins over config.yaml.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		c.Ollama.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Ollama.ClassifierModel = v
	}
	if v := os.Getenv("ADA_SKIP_MODEL_PULL"); v != "" {
		c.Ollama.SkipModelPull = isTruthy(v)
	}
	if v := os.Getenv("ADA_DISABLE_LOCAL_LLM"); v != "" {
		c.Ollama.DisableLocalLLM = isTruthy(v)
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("EMBEDDINGS_ENABLED"); v != "" {
		c.Embeddings.Enabled = isTruthy(v)
	}
	if v := os.Getenv("EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimension = n
		}
	}

	if v := os.Getenv("CACHE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.Cache.SimilarityThreshold = f
		}
	}

	if v := os.Getenv("ADA_DEVICE_TIER"); v != "" {
		c.Device.TierOverride = strings.ToLower(v)
	}
	if v := os.Getenv("ADA_DEBUG"); v != "" {
		c.Logging.DebugMode = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

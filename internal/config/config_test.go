package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		DataDir:                   "./data",
		DevMode:                   true,
		Workers:                   1,
		DupMode:                   "flag",
		DupSemanticThreshold:      0.85,
		EmbeddingChunkSize:        1000,
		EmbeddingChunkOverlap:     200,
		EmbeddingMinChunk:         100,
		VectorActivationThreshold: 0.5,
		WeightGraph:               0.35,
		WeightSemantic:            0.35,
		WeightImpact:              0.15,
		WeightRecency:             0.15,
		LLMMaxInflight:            5,
	}
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, baseConfig().Validate())
}

func TestValidateRejectsBadDupMode(t *testing.T) {
	cfg := baseConfig()
	cfg.DupMode = "maybe"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOverlapLargerThanChunk(t *testing.T) {
	cfg := baseConfig()
	cfg.EmbeddingChunkOverlap = 1000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.DupSemanticThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg.DupSemanticThreshold = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresSecretOutsideDevMode(t *testing.T) {
	cfg := baseConfig()
	cfg.DevMode = false
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("DUP_SEMANTIC_THRESHOLD", "0.9")
	t.Setenv("LLM_MAX_INFLIGHT", "8")
	t.Setenv("VECTOR_ACTIVATION_THRESHOLD", "0.6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.DupSemanticThreshold)
	assert.Equal(t, 8, cfg.LLMMaxInflight)
	assert.Equal(t, 0.6, cfg.VectorActivationThreshold)
	// Derived paths follow DATA_DIR
	assert.Contains(t, cfg.GraphDBPath, cfg.DataDir)
	// Untouched keys keep defaults
	assert.Equal(t, 1000, cfg.EmbeddingChunkSize)
	assert.Equal(t, "flag", cfg.DupMode)
}

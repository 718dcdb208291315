// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Server
	Port    int
	DevMode bool
	Workers int

	// Data layout
	DataDir      string
	GraphDBPath  string
	VectorDBPath string
	CacheDBPath  string
	DocumentsDir string
	AliasSeedDir string

	// Auth
	JWTSecret string

	// LLM provider
	LLMProviderURL    string
	LLMModel          string
	LLMEmbeddingModel string
	LLMAPIKey         string
	LLMMaxRetries     int
	LLMTimeoutS       int
	LLMMaxInflight    int

	// Embedding chunker
	EmbeddingChunkSize    int
	EmbeddingChunkOverlap int
	EmbeddingMinChunk     int

	// Duplicate detection
	DupHashWindowH        int // 0 = unbounded
	DupFingerprintWindowH int
	DupSemanticWindowH    int
	DupSemanticThreshold  float64
	DupMode               string // flag | skip

	// Query engine
	VectorActivationThreshold float64
	RecencyHalfLifeMin        float64 // at lambda=0; lambda=1 uses 3x, linear
	WeightGraph               float64
	WeightSemantic            float64
	WeightImpact              float64
	WeightRecency             float64

	// Ingest
	StrictTickerValidation bool
	RegexTickerFallback    bool

	// Backup (S3 / R2 compatible); disabled when bucket is empty
	BackupBucket    string
	BackupEndpoint  string
	BackupAccessKey string
	BackupSecretKey string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnvAsInt("PORT", 8040),
		DevMode: getEnvAsBool("DEV_MODE", false),
		Workers: getEnvAsInt("WORKERS", 1),

		DataDir:      getEnv("DATA_DIR", "./data"),
		AliasSeedDir: getEnv("ALIAS_SEED_DIR", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LLMProviderURL:    getEnv("LLM_PROVIDER_URL", "http://localhost:11434/v1"),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMEmbeddingModel: getEnv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMMaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 3),
		LLMTimeoutS:       getEnvAsInt("LLM_TIMEOUT_S", 60),
		LLMMaxInflight:    getEnvAsInt("LLM_MAX_INFLIGHT", 5),

		EmbeddingChunkSize:    getEnvAsInt("EMBEDDING_CHUNK_SIZE", 1000),
		EmbeddingChunkOverlap: getEnvAsInt("EMBEDDING_CHUNK_OVERLAP", 200),
		EmbeddingMinChunk:     getEnvAsInt("EMBEDDING_MIN_CHUNK", 100),

		DupHashWindowH:        getEnvAsInt("DUP_HASH_WINDOW_H", 0),
		DupFingerprintWindowH: getEnvAsInt("DUP_FINGERPRINT_WINDOW_H", 24),
		DupSemanticWindowH:    getEnvAsInt("DUP_SEMANTIC_WINDOW_H", 48),
		DupSemanticThreshold:  getEnvAsFloat("DUP_SEMANTIC_THRESHOLD", 0.85),
		DupMode:               getEnv("DUP_MODE", "flag"),

		VectorActivationThreshold: getEnvAsFloat("VECTOR_ACTIVATION_THRESHOLD", 0.5),
		RecencyHalfLifeMin:        getEnvAsFloat("RECENCY_HALF_LIFE_MIN", 60),
		WeightGraph:               getEnvAsFloat("WEIGHT_GRAPH", 0.35),
		WeightSemantic:            getEnvAsFloat("WEIGHT_SEMANTIC", 0.35),
		WeightImpact:              getEnvAsFloat("WEIGHT_IMPACT", 0.15),
		WeightRecency:             getEnvAsFloat("WEIGHT_RECENCY", 0.15),

		StrictTickerValidation: getEnvAsBool("STRICT_TICKER_VALIDATION", true),
		RegexTickerFallback:    getEnvAsBool("REGEX_TICKER_FALLBACK", true),

		BackupBucket:    getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:  getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey: getEnv("BACKUP_SECRET_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.GraphDBPath = getEnv("GRAPH_DB_PATH", cfg.DataDir+"/graph.db")
	cfg.VectorDBPath = getEnv("VECTOR_DB_PATH", cfg.DataDir+"/vector.db")
	cfg.CacheDBPath = getEnv("CACHE_DB_PATH", cfg.DataDir+"/cache.db")
	cfg.DocumentsDir = getEnv("DOCUMENTS_DIR", cfg.DataDir+"/documents")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.JWTSecret == "" && !c.DevMode {
		return fmt.Errorf("JWT_SECRET is required outside dev mode")
	}
	if c.DupMode != "flag" && c.DupMode != "skip" {
		return fmt.Errorf("DUP_MODE must be 'flag' or 'skip', got %q", c.DupMode)
	}
	if c.DupSemanticThreshold <= 0 || c.DupSemanticThreshold > 1 {
		return fmt.Errorf("DUP_SEMANTIC_THRESHOLD must be in (0,1], got %v", c.DupSemanticThreshold)
	}
	if c.EmbeddingChunkOverlap >= c.EmbeddingChunkSize {
		return fmt.Errorf("EMBEDDING_CHUNK_OVERLAP (%d) must be smaller than EMBEDDING_CHUNK_SIZE (%d)",
			c.EmbeddingChunkOverlap, c.EmbeddingChunkSize)
	}
	if c.EmbeddingMinChunk > c.EmbeddingChunkSize {
		return fmt.Errorf("EMBEDDING_MIN_CHUNK (%d) must not exceed EMBEDDING_CHUNK_SIZE (%d)",
			c.EmbeddingMinChunk, c.EmbeddingChunkSize)
	}
	if c.VectorActivationThreshold < 0 || c.VectorActivationThreshold > 1 {
		return fmt.Errorf("VECTOR_ACTIVATION_THRESHOLD must be in [0,1], got %v", c.VectorActivationThreshold)
	}
	if w := c.WeightGraph + c.WeightSemantic + c.WeightImpact + c.WeightRecency; w <= 0 {
		return fmt.Errorf("score weights must sum to a positive value, got %v", w)
	}
	if c.LLMMaxInflight < 1 {
		return fmt.Errorf("LLM_MAX_INFLIGHT must be at least 1, got %d", c.LLMMaxInflight)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Embedding providers
const (
	ProviderOpenAI      = "openai"
	ProviderOllama      = "ollama"
	ProviderHuggingFace = "huggingface"
)

// Store backends
const (
	StoreSQLite = "sqlite"
	StoreQdrant = "qdrant"
	StoreBleve  = "bleve"
)

// Config holds settings read from the environment.
type Config struct {
	EmbeddingProvider   string
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingTokenLimit int
	EmbeddingBatchSize  int
	EmbeddingTimeout    time.Duration
	EmbeddingMaxRetries int
	EmbeddingRetryDelay time.Duration
	EmbeddingCacheSize  int

	Store      string
	SQLitePath string
	QdrantURL  string
	BlevePath  string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables, applying defaults.
// A .env file in the current directory or one of its parents is loaded first;
// variables already set take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	provider := strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI))
	defaultBase, defaultModel, defaultBatch := "https://api.openai.com", "text-embedding-3-small", 128
	apiKey := os.Getenv("OPENAI_API_KEY")
	switch provider {
	case ProviderOllama:
		defaultBase, defaultModel = "http://localhost:11434", "nomic-embed-text"
	case ProviderHuggingFace:
		defaultBase, defaultModel, defaultBatch = "https://router.huggingface.co/hf-inference/models", "BAAI/bge-small-en-v1.5", 32
		apiKey = os.Getenv("HF_API_KEY")
	}

	cfg := &Config{
		EmbeddingProvider: provider,
		EmbeddingBaseURL:  getEnv("EMBEDDING_BINDING_HOST", getEnv("OPENAI_BASE_URL", defaultBase)),
		EmbeddingAPIKey:   getEnv("EMBEDDING_BINDING_API_KEY", apiKey),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", getEnv("OPENAI_EMBEDDING_MODEL", defaultModel)),
		Store:             strings.ToLower(getEnv("MCI_STORE", StoreSQLite)),
		SQLitePath:        getEnv("MCI_SQLITE_PATH", ""),
		QdrantURL:         getEnv("QDRANT_URL", "http://localhost:6334"),
		BlevePath:         getEnv("MCI_BLEVE_PATH", ""),
		LogLevel:          getEnv("MCI_LOG_LEVEL", "info"),
		LogFile:           getEnv("MCI_LOG_FILE", ""),
	}

	if cfg.EmbeddingDimensions, err = getInt("EMBEDDING_DIM", 0); err != nil {
		return nil, err
	}
	if cfg.EmbeddingTokenLimit, err = getInt("EMBEDDING_TOKEN_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.EmbeddingBatchSize, err = getInt("EMBEDDING_BATCH_SIZE", defaultBatch); err != nil {
		return nil, err
	}
	if cfg.EmbeddingMaxRetries, err = getInt("EMBEDDING_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.EmbeddingCacheSize, err = getInt("EMBEDDING_CACHE_SIZE", 4096); err != nil {
		return nil, err
	}
	if cfg.EmbeddingTimeout, err = getSeconds("EMBEDDING_TIMEOUT_S", 60); err != nil {
		return nil, err
	}
	if cfg.EmbeddingRetryDelay, err = getSeconds("EMBEDDING_RETRY_DELAY_S", 1); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings needed for a run. Embedding settings are
// only checked when the run writes to the store.
func (c *Config) Validate(write bool) error {
	switch c.Store {
	case StoreSQLite, StoreQdrant, StoreBleve:
	default:
		return fmt.Errorf("MCI_STORE must be one of %s, %s, %s; got %q", StoreSQLite, StoreQdrant, StoreBleve, c.Store)
	}
	if !write {
		return nil
	}
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderOllama, ProviderHuggingFace:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of %s, %s, %s; got %q",
			ProviderOpenAI, ProviderOllama, ProviderHuggingFace, c.EmbeddingProvider)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be greater than 0")
	}
	if c.EmbeddingMaxRetries <= 0 {
		return fmt.Errorf("EMBEDDING_MAX_RETRIES must be greater than 0")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}

func getSeconds(key string, defaultValue float64) (time.Duration, error) {
	raw := getEnv(key, "")
	secs := defaultValue
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number of seconds: %w", key, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("%s must not be negative", key)
		}
		secs = v
	}
	return time.Duration(secs * float64(time.Second)), nil
}

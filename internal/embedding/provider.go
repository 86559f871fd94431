package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder turns texts into vectors. The output has one vector per input, in
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is an Embedder backed by a model service
type Provider interface {
	Embedder
	// Name returns the provider name
	Name() string
	// Model returns the model used for embeddings
	Model() string
	// Close releases any resources
	Close() error
}

// ErrMissingAPIKey is returned when a provider needing a key has none
var ErrMissingAPIKey = errors.New("missing embedding API key (set EMBEDDING_BINDING_API_KEY)")

// Config contains configuration for embedding providers
type Config struct {
	// Provider is the provider name: "openai" or "ollama"
	Provider string
	Model    string
	// Endpoint is the service base URL
	Endpoint string
	APIKey   string
	// Dimensions requests a reduced output size when the model supports it
	Dimensions int
	// TokenLimit caps the estimated tokens per request; zero disables it
	TokenLimit int
	// BatchSize is the maximum number of texts per request
	BatchSize int
	Timeout   time.Duration
	Retry     RetryConfig
}

// DefaultConfigs contains default configurations for each provider
var DefaultConfigs = map[string]*Config{
	"openai": {
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		Endpoint:  "https://api.openai.com",
		BatchSize: 128,
		Timeout:   60 * time.Second,
	},
	"ollama": {
		Provider:  "ollama",
		Model:     "nomic-embed-text",
		Endpoint:  "http://localhost:11434",
		BatchSize: 64,
		Timeout:   60 * time.Second,
	},
	"huggingface": {
		Provider:  "huggingface",
		Model:     "BAAI/bge-small-en-v1.5",
		Endpoint:  "https://router.huggingface.co/hf-inference/models",
		BatchSize: 32,
		Timeout:   120 * time.Second,
	},
}

// NewProvider creates a new embedding provider based on the config
func NewProvider(config *Config) (Provider, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	switch config.Provider {
	case "openai":
		return NewOpenAIProvider(config)
	case "ollama":
		return NewOllamaProvider(config)
	case "huggingface":
		return NewHuggingFaceProvider(config)
	default:
		return nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
}

// AvailableProviders returns a list of available providers
func AvailableProviders() []string {
	return []string{"openai", "ollama", "huggingface"}
}

// ValidateConfig fills provider defaults and rejects unusable settings
func ValidateConfig(config *Config) error {
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	def, ok := DefaultConfigs[config.Provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", config.Provider)
	}
	if config.Provider != "ollama" && config.APIKey == "" {
		return ErrMissingAPIKey
	}

	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Endpoint == "" {
		config.Endpoint = def.Endpoint
	}
	if config.BatchSize == 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BatchSize < 0 {
		return fmt.Errorf("batch size must be greater than 0")
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	config.Retry = config.Retry.withDefaults()
	return nil
}

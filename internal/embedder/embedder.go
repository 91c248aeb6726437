// Package embedder converts text into dense vectors. Backends are selected by
// a string discriminant: Ollama over plain HTTP, the eino-ext OpenAI, Azure,
// Ark and DashScope embedders, and a deterministic local hash embedder for
// offline use and tests.
package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Embedder converts a batch of texts into embeddings. The returned slice is
// parallel to the input slice. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Dimensioned is implemented by embedders that know their output size
// without making a request.
type Dimensioned interface {
	Dimensions() int
}

// Backend enumerates the supported embedding providers.
type Backend string

const (
	// BackendOllama selects a local Ollama /api/embed endpoint.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI embeddings API via eino-ext.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI embeddings via eino-ext.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark embeddings via eino-ext.
	BackendArk Backend = "ark"
	// BackendDashScope selects Alibaba DashScope embeddings via eino-ext.
	BackendDashScope Backend = "dashscope"
	// BackendHash selects the deterministic local hash embedder.
	BackendHash Backend = "hash"
)

// Default embedding models and dimensions per backend.
const (
	defaultOllamaModel    = "nomic-embed-text"
	defaultOpenAIModel    = "text-embedding-3-small"
	defaultDashScopeModel = "text-embedding-v3"

	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
	defaultHashDimensions   = 256
)

// Config holds resolved embedder settings.
type Config struct {
	// Backend selects the provider.
	Backend Backend
	// Model is the embedding model name or Ark endpoint id.
	Model string
	// Endpoint is the provider base URL (Ollama host, Azure resource, Ark base URL).
	Endpoint string
	// APIKey authenticates against hosted providers.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dimensions requests a vector size; 0 keeps the model default.
	Dimensions int
	// Timeout bounds each embedding request.
	Timeout time.Duration
}

// ConfigFromEnv resolves embedder settings with cascading defaults that
// inherit the chat provider's credentials when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, falling back to MODEL_PROVIDER, then "ollama"
//  2. EMBEDDING_MODEL overrides the backend's default model
//  3. EMBEDDING_API_KEY overrides the inherited API key
//  4. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  5. EMBEDDING_DIMENSIONS overrides the default dimensions
func ConfigFromEnv() *Config {
	backend := Backend(getEnv("EMBEDDING_PROVIDER"))
	if backend == "" {
		backend = Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama)))
	}

	cfg := &Config{
		Backend:    backend,
		Model:      getEnv("EMBEDDING_MODEL"),
		Endpoint:   getEnv("EMBEDDING_ENDPOINT"),
		APIKey:     getEnv("EMBEDDING_API_KEY"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		Timeout:    time.Duration(getEnvInt("EMBEDDING_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	switch backend {
	case BackendOllama:
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, getEnv("OLLAMA_HOST"), "http://localhost:11434")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOllamaModel)
	case BackendOpenAI:
		cfg.APIKey = firstNonEmpty(cfg.APIKey, getEnv("OPENAI_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, getEnv("OPENAI_BASE_URL"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case BackendAzure:
		cfg.APIKey = firstNonEmpty(cfg.APIKey, getEnv("AZURE_OPENAI_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, getEnv("AZURE_OPENAI_ENDPOINT"))
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case BackendArk:
		cfg.APIKey = firstNonEmpty(cfg.APIKey, getEnv("ARK_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, getEnv("ARK_BASE_URL"))
		cfg.Model = firstNonEmpty(cfg.Model, getEnv("ARK_EMBED_MODEL"))
	case BackendDashScope:
		cfg.APIKey = firstNonEmpty(cfg.APIKey, getEnv("DASHSCOPE_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultDashScopeModel)
	case BackendHash:
		if cfg.Dimensions == 0 {
			cfg.Dimensions = defaultHashDimensions
		}
	}
	return cfg
}

// Validate reports configuration that cannot produce a working embedder.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Endpoint == "" || c.Model == "" {
			return fmt.Errorf("embedder: ollama requires OLLAMA_HOST and EMBEDDING_MODEL")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case BackendArk:
		if c.APIKey == "" || c.Model == "" {
			return fmt.Errorf("embedder: ark requires ARK_API_KEY and ARK_EMBED_MODEL (or EMBEDDING_*)")
		}
	case BackendDashScope:
		if c.APIKey == "" {
			return fmt.Errorf("embedder: dashscope requires DASHSCOPE_API_KEY or EMBEDDING_API_KEY")
		}
	case BackendHash:
		if c.Dimensions <= 0 {
			return fmt.Errorf("embedder: hash requires positive EMBEDDING_DIMENSIONS")
		}
	default:
		return fmt.Errorf("embedder: backend %q (valid: ollama, openai, azure, ark, dashscope, hash): %w",
			c.Backend, apperr.ErrUnknownCapability)
	}
	return nil
}

// DefaultDimensions returns the vector size a backend produces when the
// config does not override it. Callers that pre-size a collection (the
// Qdrant mirror) use this rather than hardcoding a value.
func DefaultDimensions(cfg *Config) int {
	if cfg.Dimensions > 0 {
		return cfg.Dimensions
	}
	switch cfg.Backend {
	case BackendOllama:
		return defaultOllamaDimensions
	case BackendHash:
		return defaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// New constructs an Embedder for cfg after validating it.
func New(ctx context.Context, cfg *Config) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case BackendOpenAI, BackendAzure:
		return newOpenAI(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	case BackendDashScope:
		return newDashScope(ctx, cfg)
	default:
		return NewHashEmbedder(cfg.Dimensions), nil
	}
}

// NewFromEnv is shorthand for New(ctx, ConfigFromEnv()).
func NewFromEnv(ctx context.Context) (Embedder, *Config, error) {
	cfg := ConfigFromEnv()
	e, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

// getEnv returns the trimmed value of the named environment variable.
func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// getEnvOrDefault returns the named environment variable or fallback.
func getEnvOrDefault(key, fallback string) string {
	if v := getEnv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if it is unset or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := getEnv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package provider selects and constructs LLM chat models at runtime.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google
// Gemini and Moonshot (OpenAI-compatible). A Registry maps backend names to
// constructors so callers can pick a model by name per request.
package provider

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendMoonshot selects Moonshot (Kimi) through its OpenAI-compatible API.
	BackendMoonshot Backend = "moonshot"
)

// DefaultMoonshotBaseURL is the Moonshot OpenAI-compatible endpoint.
const DefaultMoonshotBaseURL = "https://api.moonshot.cn/v1"

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings. BaseURL is optional.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings. Model is the endpoint id.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderMoonshot holds Moonshot settings.
type ProviderMoonshot struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SharedTuning holds generation defaults applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration. Backend is the default
// backend; the per-provider sections are read when that backend is selected
// either by default or by name through a Registry.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Moonshot    ProviderMoonshot
	Tuning      SharedTuning
}

// ConfigFromEnv resolves provider configuration from environment variables.
//
//	MODEL_PROVIDER  = ollama | openai | azure | ark | gemini | moonshot (default: ollama)
//
//	Ollama:   OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:   OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o), OPENAI_BASE_URL
//	Azure:    AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	          AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:      ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Gemini:   GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-pro)
//	Moonshot: MOONSHOT_API_KEY, MOONSHOT_MODEL (default: moonshot-v1-8k), MOONSHOT_BASE_URL
//
//	Shared:   MODEL_MAX_TOKENS (default: 2048), MODEL_TEMPERATURE (default: 0.8)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			Model:   os.Getenv("ARK_MODEL"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
		},
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		},
		Moonshot: ProviderMoonshot{
			APIKey:  os.Getenv("MOONSHOT_API_KEY"),
			Model:   getEnvOrDefault("MOONSHOT_MODEL", "moonshot-v1-8k"),
			BaseURL: getEnvOrDefault("MOONSHOT_BASE_URL", DefaultMoonshotBaseURL),
		},
		Tuning: SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 2048),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.8),
		},
	}
}

// Validate reports missing settings for the configured backend.
func (c *Config) Validate() error {
	return c.validateFor(c.Backend)
}

func (c *Config) validateFor(b Backend) error {
	var missing []string
	switch b {
	case BackendOllama:
		if c.Ollama.Host == "" {
			missing = append(missing, "OLLAMA_HOST")
		}
		if c.Ollama.Model == "" {
			missing = append(missing, "OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			missing = append(missing, "OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			missing = append(missing, "AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			missing = append(missing, "AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			missing = append(missing, "AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			missing = append(missing, "ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			missing = append(missing, "ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			missing = append(missing, "GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			missing = append(missing, "GEMINI_MODEL")
		}
	case BackendMoonshot:
		if c.Moonshot.APIKey == "" {
			missing = append(missing, "MOONSHOT_API_KEY")
		}
		if c.Moonshot.Model == "" {
			missing = append(missing, "MOONSHOT_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: ollama, openai, azure, ark, gemini, moonshot): %w",
			b, apperr.ErrUnknownCapability)
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", b, strings.Join(missing, ", "))
	}
	return nil
}

// ModelName returns the model or deployment name used by backend b.
func (c *Config) ModelName(b Backend) string {
	switch b {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendMoonshot:
		return c.Moonshot.Model
	}
	return ""
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series
// or codex model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

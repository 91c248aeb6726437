// Package config provides YAML-based configuration for kbg.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win; the YAML file only fills in variables
// that are unset.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. KBG_CONFIG environment variable
//  3. ~/.kbg/config.yaml
//  4. ./kbg.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Storage configures where knowledge bases live on disk.
	Storage StorageConfig `yaml:"storage"`

	// Chunking configures the default splitter.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Model configures the chat model providers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Graph configures the knowledge graph store and extraction.
	Graph GraphConfig `yaml:"graph"`

	// Qdrant configures the optional Qdrant vector mirror.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Lock configures per-kb write serialisation.
	Lock LockConfig `yaml:"lock"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures chat history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// StorageConfig holds the knowledge base storage root.
type StorageConfig struct {
	// Root is the directory holding kb_metadata.json and every kb directory.
	Root string `yaml:"root"`
}

// ChunkingConfig holds splitter defaults.
type ChunkingConfig struct {
	// Size is the maximum chunk length in runes.
	Size int `yaml:"size"`
	// Overlap is the number of runes repeated between chunks.
	Overlap int `yaml:"overlap"`
	// Backend selects the splitter: recursive or eino.
	Backend string `yaml:"backend"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the default backend: ollama, openai, azure, ark, gemini, moonshot.
	Provider string `yaml:"provider"`

	// MaxTokens is the default maximum number of tokens in a response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the default sampling temperature.
	Temperature float32 `yaml:"temperature"`

	Ollama   OllamaConfig   `yaml:"ollama"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Azure    AzureConfig    `yaml:"azure"`
	Ark      ArkConfig      `yaml:"ark"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Moonshot MoonshotConfig `yaml:"moonshot"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model id.
	Model string `yaml:"model"`
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// MoonshotConfig holds Moonshot (Kimi) settings.
type MoonshotConfig struct {
	// APIKey is the Moonshot API key. Prefer env var MOONSHOT_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Moonshot model name.
	Model string `yaml:"model"`
	// BaseURL overrides https://api.moonshot.cn/v1.
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, dashscope, hash.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of chunks per embedding request.
	BatchSize int `yaml:"batch_size"`
}

// GraphConfig holds knowledge graph settings.
type GraphConfig struct {
	// Backend selects the store: neo4j, memory, none.
	Backend string `yaml:"backend"`
	// ExtractProvider is the chat backend used for entity extraction.
	// Empty uses the default model provider.
	ExtractProvider string `yaml:"extract_provider"`
	// Neo4j holds the Neo4j connection settings.
	Neo4j Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI string `yaml:"uri"`
	// User defaults to neo4j.
	User string `yaml:"user"`
	// Password is the Neo4j password. Prefer env var NEO4J_PASSWORD.
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QdrantConfig holds Qdrant vector mirror settings.
type QdrantConfig struct {
	// Enabled turns on mirroring of vector writes into Qdrant.
	Enabled bool `yaml:"enabled"`
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// LockConfig holds write lock settings.
type LockConfig struct {
	// Backend selects the locker: memory or redis.
	Backend string `yaml:"backend"`
	// Redis holds the redis connection used by the redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	// Password is the redis AUTH password. Prefer env var REDIS_PASSWORD.
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var KBG_API_KEY.
	APIKey string `yaml:"api_key"`
	// MaxUploadMB caps multipart upload size.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
	// File, when set, also writes logs to a rotated file.
	File string `yaml:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays is the age after which rotated files are removed.
	MaxAgeDays int `yaml:"max_age_days"`
}

// HistoryConfig holds chat history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
	// SampleRate is the fraction of traces sent, in (0, 1]. Defaults to 1.
	SampleRate float32 `yaml:"sample_rate"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"KB_ROOT", func(c *Config) string { return c.Storage.Root }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.Size) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Chunking.Overlap) }},
	{"CHUNKER_BACKEND", func(c *Config) string { return c.Chunking.Backend }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"MOONSHOT_API_KEY", func(c *Config) string { return c.Model.Moonshot.APIKey }},
	{"MOONSHOT_MODEL", func(c *Config) string { return c.Model.Moonshot.Model }},
	{"MOONSHOT_BASE_URL", func(c *Config) string { return c.Model.Moonshot.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"GRAPH_BACKEND", func(c *Config) string { return c.Graph.Backend }},
	{"GRAPH_EXTRACT_PROVIDER", func(c *Config) string { return c.Graph.ExtractProvider }},
	{"NEO4J_URI", func(c *Config) string { return c.Graph.Neo4j.URI }},
	{"NEO4J_USER", func(c *Config) string { return c.Graph.Neo4j.User }},
	{"NEO4J_PASSWORD", func(c *Config) string { return c.Graph.Neo4j.Password }},
	{"NEO4J_DATABASE", func(c *Config) string { return c.Graph.Neo4j.Database }},
	{"VECTOR_MIRROR", func(c *Config) string {
		if c.Qdrant.Enabled {
			return "qdrant"
		}
		return ""
	}},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"LOCK_BACKEND", func(c *Config) string { return c.Lock.Backend }},
	{"REDIS_ADDR", func(c *Config) string { return c.Lock.Redis.Addr }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Lock.Redis.Password }},
	{"REDIS_DB", func(c *Config) string { return intStr(c.Lock.Redis.DB) }},
	{"KBG_HOST", func(c *Config) string { return c.Server.Host }},
	{"KBG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"KBG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"KBG_MAX_UPLOAD_MB", func(c *Config) string { return intStr(c.Server.MaxUploadMB) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LOG_FILE", func(c *Config) string { return c.Logging.File }},
	{"LOG_MAX_SIZE_MB", func(c *Config) string { return intStr(c.Logging.MaxSizeMB) }},
	{"LOG_MAX_BACKUPS", func(c *Config) string { return intStr(c.Logging.MaxBackups) }},
	{"LOG_MAX_AGE_DAYS", func(c *Config) string { return intStr(c.Logging.MaxAgeDays) }},
	{"KBG_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"LANGFUSE_SAMPLE_RATE", func(c *Config) string { return float32Str(c.Tracing.SampleRate) }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// EnvKeys returns every env var name the YAML file can set, in file order.
func EnvKeys() []string {
	keys := make([]string, 0, len(envMapping))
	for _, m := range envMapping {
		keys = append(keys, m.envKey)
	}
	return keys
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KBG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kbg", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kbg.yaml"); err == nil {
		return "kbg.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

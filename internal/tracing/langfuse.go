// Package tracing wires the Langfuse callback handler into every eino model
// call made by kbg: chat, knowledge chat and graph extraction.
package tracing

import (
	"os"
	"strconv"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/kbgraph-go/internal/version"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Config holds Langfuse connection settings.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// SampleRate is the fraction of traces sent, in (0, 1].
	SampleRate float64
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY,
// LANGFUSE_SECRET_KEY and LANGFUSE_SAMPLE_RATE. A sample rate outside
// (0, 1] falls back to 1.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Host:       os.Getenv("LANGFUSE_HOST"),
		PublicKey:  os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey:  os.Getenv("LANGFUSE_SECRET_KEY"),
		SampleRate: 1,
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if v, err := strconv.ParseFloat(os.Getenv("LANGFUSE_SAMPLE_RATE"), 64); err == nil && v > 0 && v <= 1 {
		cfg.SampleRate = v
	}
	return cfg
}

// Enabled reports whether both keys are present.
func (c *Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// New builds the Langfuse handler for cfg. When cfg is not enabled it
// returns nil values and false, and tracing is silently disabled. The flush
// function must be called before process exit so buffered traces are sent.
func New(cfg *Config) (callbacks.Handler, func(), bool) {
	if cfg == nil || !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:       cfg.Host,
		PublicKey:  cfg.PublicKey,
		SecretKey:  cfg.SecretKey,
		SampleRate: cfg.SampleRate,
		Name:       "kbg",
		Release:    version.Version,
	})
	return handler, flusher, true
}

// Setup is New(ConfigFromEnv()).
func Setup() (callbacks.Handler, func(), bool) {
	return New(ConfigFromEnv())
}

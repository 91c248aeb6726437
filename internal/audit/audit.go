// Package audit records which command ran and the environment it ran with.
// Credentials are reduced to "set" or "unset"; their values never reach the
// log.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// watched groups the environment variables recorded on every command start.
// A variable is redacted when isSecret reports true for its name.
var watched = []struct {
	group string
	keys  []string
}{
	{"storage", []string{"KB_ROOT", "KBG_HISTORY_DB", "VECTOR_MIRROR", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_API_KEY"}},
	{"chunking", []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "CHUNKER_BACKEND"}},
	{"embedding", []string{"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "DASHSCOPE_API_KEY"}},
	{"model", []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"ARK_API_KEY", "ARK_MODEL", "GOOGLE_API_KEY", "GEMINI_MODEL",
		"MOONSHOT_API_KEY", "MOONSHOT_MODEL",
	}},
	{"graph", []string{"GRAPH_BACKEND", "GRAPH_EXTRACT_PROVIDER", "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD"}},
	{"locking", []string{"LOCK_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD"}},
	{"server", []string{"KBG_API_KEY"}},
	{"observability", []string{"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY"}},
}

// isSecret reports whether the variable named key holds a credential.
func isSecret(key string) bool {
	for _, suffix := range []string{"_API_KEY", "_PASSWORD", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN"} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// LogCommandStart writes one INFO record for the command about to run. Each
// watched group becomes a nested slog group.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(watched)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	)
	for _, g := range watched {
		vals := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			vals = append(vals, slog.String(k, Redact(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.group, vals...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// Redact returns the value to log for key: "set" or "unset" for secrets,
// the value itself (or "unset") otherwise.
func Redact(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case isSecret(key):
		return "set"
	default:
		return value
	}
}

// displayPath shortens the home directory to "~" and reports an empty path
// as "none".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if rest, ok := strings.CutPrefix(p, home); ok {
			return "~" + rest
		}
	}
	return p
}

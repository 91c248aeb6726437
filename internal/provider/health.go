package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig probes a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET and treats any 2xx as healthy.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: HTTP %d", h.url, resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a token-free probe for backend b, or nil when the
// backend has no cheap endpoint (ark, gemini). Callers fall back to a
// Generate-based probe on nil.
func NewHealthCheck(cfg *Config, b Backend) HealthCheckConfig {
	client := &http.Client{Timeout: 10 * time.Second}
	bearer := func(key string) http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+key)
		return h
	}
	switch b {
	case BackendOllama:
		return &httpHealthCheck{url: strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags", client: client}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: bearer(cfg.OpenAI.APIKey), client: client}
	case BackendMoonshot:
		base := cfg.Moonshot.BaseURL
		if base == "" {
			base = DefaultMoonshotBaseURL
		}
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: bearer(cfg.Moonshot.APIKey), client: client}
	case BackendAzure:
		h := http.Header{}
		h.Set("api-key", cfg.AzureOpenAI.APIKey)
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") + "/openai/models?api-version=" + cfg.AzureOpenAI.APIVersion,
			header: h,
			client: client,
		}
	}
	return nil
}

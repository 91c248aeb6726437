package embedder

import (
	"context"
	"fmt"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// EinoEmbedder adapts an eino embedding component, which produces float64
// vectors, to the float32 Embedder interface used by the vector store.
type EinoEmbedder struct {
	name string
	impl embedding.Embedder
}

// NewEinoEmbedder wraps impl. name is used in error messages only.
func NewEinoEmbedder(name string, impl embedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{name: name, impl: impl}
}

// Embed delegates to the wrapped component and narrows the result.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.impl.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", e.name, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s embedder: expected %d embeddings, got %d", e.name, len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		f := make([]float32, len(v))
		for j, x := range v {
			f[j] = float32(x)
		}
		out[i] = f
	}
	return out, nil
}

func newOpenAI(ctx context.Context, cfg *Config) (*EinoEmbedder, error) {
	ec := &openaiEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.Endpoint,
		Timeout: cfg.Timeout,
	}
	if cfg.Backend == BackendAzure {
		ec.ByAzure = true
		ec.APIVersion = cfg.APIVersion
	}
	if cfg.Dimensions > 0 {
		dim := cfg.Dimensions
		ec.Dimensions = &dim
	}
	impl, err := openaiEmbed.NewEmbedder(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("embedder: create %s embedder: %w", cfg.Backend, err)
	}
	return NewEinoEmbedder(string(cfg.Backend), impl), nil
}

func newArk(ctx context.Context, cfg *Config) (*EinoEmbedder, error) {
	impl, err := arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: create ark embedder: %w", err)
	}
	return NewEinoEmbedder("ark", impl), nil
}

func newDashScope(ctx context.Context, cfg *Config) (*EinoEmbedder, error) {
	ec := &dashscopeEmbed.EmbeddingConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.Dimensions > 0 {
		dim := cfg.Dimensions
		ec.Dimensions = &dim
	}
	impl, err := dashscopeEmbed.NewEmbedder(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("embedder: create dashscope embedder: %w", err)
	}
	return NewEinoEmbedder("dashscope", impl), nil
}

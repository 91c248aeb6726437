package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_DeterministicAndNormalised(t *testing.T) {
	t.Parallel()

	h := NewHashEmbedder(64)
	vecs, err := h.Embed(context.Background(), []string{"Graph databases store edges", "graph DATABASES store edges"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 64)
	assert.Equal(t, vecs[0], vecs[1], "tokenisation is case-insensitive")

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashEmbedder_SharedVocabularyScoresHigher(t *testing.T) {
	t.Parallel()

	h := NewHashEmbedder(256)
	vecs, err := h.Embed(context.Background(), []string{
		"neo4j graph relationships",
		"graph relationships in neo4j",
		"banana bread recipe",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	t.Parallel()

	vecs, err := NewHashEmbedder(8).Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}

func TestHashEmbedder_HonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, []string{"x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server error with message", http.StatusNotFound, `{"error":"model not found"}`, "model not found"},
		{"server error without body", http.StatusBadGateway, ``, "HTTP 502"},
		{"count mismatch", http.StatusOK, `{"embeddings":[[1,2]]}`, "expected 2 embeddings"},
		{"bad json", http.StatusOK, `not json`, "decode response"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"}).Embed(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

type fakeEino struct {
	vecs [][]float64
	err  error
}

func (f *fakeEino) EmbedStrings(_ context.Context, _ []string, _ ...embedding.Option) ([][]float64, error) {
	return f.vecs, f.err
}

func TestEinoEmbedder_NarrowsToFloat32(t *testing.T) {
	t.Parallel()

	e := NewEinoEmbedder("fake", &fakeEino{vecs: [][]float64{{0.5, -0.25}}})
	vecs, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, -0.25}}, vecs)

	e = NewEinoEmbedder("fake", &fakeEino{err: errors.New("quota")})
	_, err = e.Embed(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "fake embedder: quota")

	e = NewEinoEmbedder("fake", &fakeEino{vecs: nil})
	_, err = e.Embed(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "expected 1 embeddings")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, defaultOpenAIModel, cfg.Model)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, defaultOpenAIDimensions, DefaultDimensions(cfg))

	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "32")
	cfg = ConfigFromEnv()
	assert.Equal(t, BackendHash, cfg.Backend)
	assert.Equal(t, 32, DefaultDimensions(cfg))

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ollama ok", Config{Backend: BackendOllama, Endpoint: "http://x", Model: "m"}, false},
		{"ollama missing model", Config{Backend: BackendOllama, Endpoint: "http://x"}, true},
		{"openai missing key", Config{Backend: BackendOpenAI}, true},
		{"azure missing endpoint", Config{Backend: BackendAzure, APIKey: "k"}, true},
		{"ark missing model", Config{Backend: BackendArk, APIKey: "k"}, true},
		{"dashscope ok", Config{Backend: BackendDashScope, APIKey: "k"}, false},
		{"hash zero dims", Config{Backend: BackendHash}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{Backend: "word2vec"})
	require.ErrorIs(t, err, apperr.ErrUnknownCapability)
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	assert.True(t, looksLikeChatModel("gpt-4o-mini"))
	assert.True(t, looksLikeChatModel("Llama3:8b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("text-embedding-3-small"))
}

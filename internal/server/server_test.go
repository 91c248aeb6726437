package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/kb"
	"github.com/54b3r/kbgraph-go/internal/knowledge"
	"github.com/54b3r/kbgraph-go/internal/loader"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// newTestServer builds a bare *Server for handlers that need no collaborators.
func newTestServer() *Server {
	return &Server{
		cfg: &Config{},
		log: slog.Default(),
	}
}

// termExtractor turns every capitalised word of a chunk into a Term entity.
type termExtractor struct{}

func (termExtractor) Extract(_ context.Context, doc graph.SourceDocument, _ graph.Options) (graph.GraphDocument, error) {
	out := graph.GraphDocument{Source: doc}
	for _, w := range strings.Fields(doc.Text) {
		w = strings.Trim(w, ".,")
		if w != "" && strings.ToUpper(w[:1]) == w[:1] {
			out.Nodes = append(out.Nodes, graph.Node{ID: w, Type: "Term"})
		}
	}
	return out, nil
}

type apiFixture struct {
	srv   *Server
	reg   *prometheus.Registry
	graph *graph.MemoryStore
	chat  *fakeChat
}

// newAPIFixture wires a real knowledge service over a temp dir, the hash
// embedder and, when withGraph is set, the in-memory graph store.
func newAPIFixture(t *testing.T, withGraph bool, cfg *Config) *apiFixture {
	t.Helper()
	registry, err := kb.Open(t.TempDir())
	require.NoError(t, err)
	emb := embedder.NewHashEmbedder(64)
	kcfg := &knowledge.Config{
		Registry: registry,
		Vectors:  vecstore.New(registry.VectorPath, emb),
		Loader:   loader.Default(),
		Embedder: emb,
	}
	f := &apiFixture{reg: prometheus.NewRegistry(), chat: &fakeChat{}}
	if withGraph {
		f.graph = graph.NewMemoryStore()
		kcfg.Graph = f.graph
		kcfg.Extractor = termExtractor{}
	}
	svc, err := knowledge.New(kcfg)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.MetricsRegistry = f.reg
	cfg.MetricsGatherer = f.reg
	f.srv, err = New(svc, f.chat, loader.Default(), cfg)
	require.NoError(t, err)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *apiFixture) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return f.do(t, method, path, r, "application/json")
}

func (f *apiFixture) createKB(t *testing.T, name string) string {
	t.Helper()
	w := f.doJSON(t, http.MethodPost, "/api/kb", fmt.Sprintf(`{"name":%q,"description":"test"}`, name))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp["kb_uuid"])
	return resp["kb_uuid"]
}

func (f *apiFixture) upload(t *testing.T, kbID, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return f.do(t, http.MethodPost, "/api/kb/"+kbID+"/files", &buf, mw.FormDataContentType())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	return e.Error
}

func TestKBRoutes_CreateListGet(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)

	id := f.createKB(t, "docs")

	w := f.doJSON(t, http.MethodPost, "/api/kb", `{"name":"docs"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.doJSON(t, http.MethodGet, "/api/kb", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []kbSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, kbSummary{KBUUID: id, Name: "docs", Description: "test"}, list[0])

	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info kbInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, id, info.KBUUID)
	assert.Empty(t, info.Files)

	w = f.doJSON(t, http.MethodGet, "/api/kb/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.doJSON(t, http.MethodPost, "/api/kb", `not-json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKBRoutes_UploadAndDownload(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	id := f.createKB(t, "docs")

	w := f.upload(t, id, "note.txt", "hello hello world")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&up))
	fileID := up["file_uuid"]
	require.NotEmpty(t, fileID)

	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id+"/files/"+fileID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello hello world", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "note.txt")

	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id, "")
	var info kbInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	require.Len(t, info.Files, 1)
	assert.Equal(t, fileEntry{FileUUID: fileID, Filename: "note.txt", Seq: info.Files[0].Seq}, info.Files[0])

	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id+"/files/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKBRoutes_UploadRejections(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, &Config{MaxUploadBytes: 1024})
	id := f.createKB(t, "docs")

	w := f.upload(t, id, "photo.png", "\x89PNG")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, decodeError(t, w), "txt")

	w = f.upload(t, "missing-kb", "note.txt", "x")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.upload(t, id, "big.txt", strings.Repeat("a", 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.do(t, http.MethodPost, "/api/kb/"+id+"/files", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKBRoutes_VectorsAndQuery(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	id := f.createKB(t, "docs")

	w := f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/vectors", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "kb without files")

	require.Equal(t, http.StatusCreated, f.upload(t, id, "note.txt", "hello hello world").Code)

	w = f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/vectors", `{"chunk_size":5,"chunk_overlap":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res knowledge.GenerateResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, 5, res.ChunkSize)
	assert.GreaterOrEqual(t, res.Total, 1)

	w = f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/vectors", `{"chunk_size":5,"chunk_overlap":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "overlap must be below size")

	w = f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/query", `{"query":"hello","top_k":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var q queryResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&q))
	require.Len(t, q.Matches, 1)
	assert.Contains(t, q.Matches[0].Text, "hello")

	w = f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/query", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.doJSON(t, http.MethodPost, "/api/kb/missing/query", `{"query":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKBRoutes_GraphBuildAndDelete(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, true, nil)
	id := f.createKB(t, "docs")
	require.Equal(t, http.StatusCreated, f.upload(t, id, "note.txt", "Neo4j stores Graphs.").Code)

	w := f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/graph", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no vectors yet")

	require.Equal(t, http.StatusOK, f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/vectors", "").Code)

	w = f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/graph", `{"allow_nodes":["Term"],"strict":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res graph.BuildResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, 1, res.Documents)
	assert.True(t, f.graph.HasEntity("Neo4j"))

	w = f.doJSON(t, http.MethodDelete, "/api/kb/"+id+"?level=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.doJSON(t, http.MethodDelete, "/api/kb/"+id+"?level=graph", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, f.graph.HasEntity("Neo4j"))

	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, "graph level keeps the kb")

	w = f.doJSON(t, http.MethodDelete, "/api/kb/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.doJSON(t, http.MethodGet, "/api/kb/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKBRoutes_GraphUnavailable(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	id := f.createKB(t, "docs")
	require.Equal(t, http.StatusCreated, f.upload(t, id, "note.txt", "Some Text").Code)
	require.Equal(t, http.StatusOK, f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/vectors", "").Code)

	w := f.doJSON(t, http.MethodPost, "/api/kb/"+id+"/graph", "{}")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_AuthProtectsAPI(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, &Config{APIKey: "secret"})

	w := f.doJSON(t, http.MethodGet, "/api/kb", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.doJSON(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code, "health stays open")

	req := httptest.NewRequest(http.MethodGet, "/api/kb", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &fakeChat{}, loader.Default(), nil)
	require.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("kb: get x: %w", apperr.ErrNotFound), http.StatusNotFound},
		{apperr.ErrAlreadyExists, http.StatusConflict},
		{apperr.ErrEmptyKnowledgeBase, http.StatusUnprocessableEntity},
		{apperr.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{fmt.Errorf("x: %w: %w", apperr.ErrEmbeddingFailed, errors.New("timeout")), http.StatusBadGateway},
		{apperr.ErrGraphExtractionFailed, http.StatusBadGateway},
		{apperr.ErrInvalidLevel, http.StatusBadRequest},
		{apperr.ErrInvalidArgument, http.StatusBadRequest},
		{apperr.ErrUnknownCapability, http.StatusBadRequest},
		{apperr.ErrGraphUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

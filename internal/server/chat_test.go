package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/rag"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// ---------------------------------------------------------------------------
// Fake chat service for chat handler tests
// ---------------------------------------------------------------------------

// fakeChat implements chatService. It writes a fixed response to the writer
// and returns configurable values.
type fakeChat struct {
	// response is written verbatim to the writer on each call.
	response string
	// matches is handed to onMatches by RAGChat.
	matches []vecstore.Match
	// err is returned before anything is written.
	err error
	// streamErr is returned after the response has been written.
	streamErr error

	lastRequest *rag.Request
	lastRAG     *rag.RAGRequest
}

func (f *fakeChat) Chat(_ context.Context, req *rag.Request, w io.Writer) (string, error) {
	f.lastRequest = req
	if f.err != nil {
		return "", f.err
	}
	_, _ = fmt.Fprint(w, f.response)
	return f.response, f.streamErr
}

func (f *fakeChat) RAGChat(_ context.Context, req *rag.RAGRequest, onMatches func([]vecstore.Match) error, w io.Writer) (string, error) {
	f.lastRAG = req
	if f.err != nil {
		return "", f.err
	}
	if err := onMatches(f.matches); err != nil {
		return "", err
	}
	_, _ = fmt.Fprint(w, f.response)
	return f.response, f.streamErr
}

// ---------------------------------------------------------------------------
// POST /api/chat: validation errors
// ---------------------------------------------------------------------------

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)

	w := f.doJSON(t, http.MethodPost, "/api/chat", `{"model":"ollama"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)

	w := f.doJSON(t, http.MethodPost, "/api/chat", `not-json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// POST /api/chat: streaming
// ---------------------------------------------------------------------------

// TestHandleChat_Success verifies that a valid request produces an SSE stream
// with the answer and a "done" event. httptest.ResponseRecorder implements
// http.Flusher so the handler's flusher check passes without a real connection.
func TestHandleChat_Success(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	f.chat.response = "line one\nline two"

	w := f.doJSON(t, http.MethodPost, "/api/chat",
		`{"message":"hi","model":"moonshot","temperature":0.2,"max_tokens":64,"history":[{"role":"user","content":"earlier"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "data: line one\ndata: line two\n\n")
	assert.Contains(t, body, "event: done\ndata: [DONE]")

	req := f.chat.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, "moonshot", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-6)
	require.Len(t, req.History, 1)
}

// TestHandleChat_ErrorBeforeStream verifies that a failure before the first
// frame is reported with a regular HTTP status.
func TestHandleChat_ErrorBeforeStream(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	f.chat.err = fmt.Errorf("provider: gpt-9: %w", apperr.ErrUnknownCapability)

	w := f.doJSON(t, http.MethodPost, "/api/chat", `{"message":"hi","model":"gpt-9"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w), "gpt-9")
}

// TestHandleChat_ErrorMidStream verifies that once streaming has begun the
// error is delivered in-band and the status stays 200.
func TestHandleChat_ErrorMidStream(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	f.chat.response = "partial"
	f.chat.streamErr = errors.New("LLM unavailable")

	w := f.doJSON(t, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "data: partial")
	assert.Contains(t, body, "event: error\ndata: LLM unavailable")
	assert.NotContains(t, body, "event: done")
}

// ---------------------------------------------------------------------------
// POST /api/chat/rag
// ---------------------------------------------------------------------------

func TestHandleRAGChat_KnowledgeEventFirst(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	f.chat.response = "grounded answer"
	f.chat.matches = []vecstore.Match{{ID: "c1", Text: "hello world", Similarity: 0.9}}

	w := f.doJSON(t, http.MethodPost, "/api/chat/rag", `{"kb_uuid":"kb-1","message":"hello?","top_k":3,"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "event: knowledge\ndata: "), body)
	first := strings.TrimPrefix(strings.SplitN(body, "\n\n", 2)[0], "event: knowledge\ndata: ")
	var matches []vecstore.Match
	require.NoError(t, json.Unmarshal([]byte(first), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "hello world", matches[0].Text)

	assert.Contains(t, body, "data: grounded answer")
	assert.Contains(t, body, "event: done")

	req := f.chat.lastRAG
	require.NotNil(t, req)
	assert.Equal(t, "kb-1", req.KBUUID)
	assert.Equal(t, 3, req.TopK)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "hello?", req.Message)
}

func TestHandleRAGChat_Validation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)

	w := f.doJSON(t, http.MethodPost, "/api/chat/rag", `{"message":"q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "kb_uuid is required")

	w = f.doJSON(t, http.MethodPost, "/api/chat/rag", `{"kb_uuid":"kb-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "message is required")
}

func TestHandleRAGChat_UnknownKB(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, false, nil)
	f.chat.err = fmt.Errorf("vecstore: missing: %w", apperr.ErrNotFound)

	w := f.doJSON(t, http.MethodPost, "/api/chat/rag", `{"kb_uuid":"missing","message":"q"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

func TestRequestLogger_GeneratesAndEchoesID(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxLogger *slog.Logger
	h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = logging.FromContext(r.Context())
		_, _ = w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/kb", nil))

	id := w.Header().Get(requestIDHeader)
	require.Len(t, id, 36, "uuid request id")
	require.NotNil(t, ctxLogger)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, id, line["request_id"])
	assert.Equal(t, "INFO", line["level"])
	assert.EqualValues(t, 5, line["bytes"])
	assert.EqualValues(t, 200, line["status"])
}

func TestRequestLogger_ReusesCallerID(t *testing.T) {
	t.Parallel()
	h := requestLogger(slog.New(slog.DiscardHandler), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "trace-42_a")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "trace-42_a", w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id\nwith newline", w.Header().Get(requestIDHeader))
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		h := requestLogger(slog.New(slog.NewJSONHandler(&buf, nil)), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, strings.Contains(buf.String(), `"level":"`+tc.level+`"`), "status %d: %s", tc.status, buf.String())
	}
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()
	assert.True(t, validRequestID("abc-DEF_123"))
	assert.False(t, validRequestID(""))
	assert.False(t, validRequestID(strings.Repeat("a", maxRequestIDLen+1)))
	assert.False(t, validRequestID("a b"))
	assert.False(t, validRequestID("é"))
}

// Package server implements the HTTP server that exposes knowledge base
// management, vector generation, retrieval, graph building and streaming
// chat via a JSON/SSE API.
// The server is started by the `kbg serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/logging"
)

// defaultMaxUploadBytes caps multipart uploads when Config.MaxUploadBytes is zero.
const defaultMaxUploadBytes = 64 << 20

// New constructs a Server from the knowledge service, the chatter and the
// loader registry used to accept uploads.
func New(svc knowledgeService, chat chatService, formats formatChecker, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: knowledge service must not be nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("server: chat service must not be nil")
	}
	if formats == nil {
		return nil, fmt.Errorf("server: format registry must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses and
		// vector generation over large knowledge bases.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		kb:      svc,
		chat:    chat,
		formats: formats,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: KBG_API_KEY not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal, log)
	s.stopRL = stop
	auth := newAPIKeyAuth(cfg.APIKey, s.metrics.authFailuresTotal)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth.wrap(h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return auth.wrap(rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/kb", protected(s.handleCreateKB))
	mux.Handle("GET /api/kb", protected(s.handleListKB))
	mux.Handle("GET /api/kb/{id}", protected(s.handleGetKB))
	mux.Handle("DELETE /api/kb/{id}", protected(s.handleDeleteKB))
	mux.Handle("POST /api/kb/{id}/files", limited(s.handleUpload))
	mux.Handle("GET /api/kb/{id}/files/{fileID}", protected(s.handleGetFile))
	mux.Handle("POST /api/kb/{id}/vectors", limited(s.handleGenerateVectors))
	mux.Handle("POST /api/kb/{id}/query", limited(s.handleQuery))
	mux.Handle("POST /api/kb/{id}/graph", limited(s.handleBuildGraph))
	mux.Handle("POST /api/chat", limited(s.handleChat))
	mux.Handle("POST /api/chat/rag", limited(s.handleRAGChat))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.handler = requestLogger(log, s.metrics.instrument(mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("kbg server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		defer s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	if s.stopRL != nil {
		s.stopRL()
		s.stopRL = nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusFor maps an error from the knowledge or chat layer to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrEmptyKnowledgeBase):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, apperr.ErrEmbeddingFailed),
		errors.Is(err, apperr.ErrGraphExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrInvalidLevel),
		errors.Is(err, apperr.ErrInvalidArgument),
		errors.Is(err, apperr.ErrUnknownCapability):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrGraphUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError logs err and writes it as a JSON error body. 5xx responses are
// logged at ERROR, client errors at INFO.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// badRequest writes a 400 with msg.
func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, fmt.Errorf("%s: %w", msg, apperr.ErrInvalidArgument))
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher

	// started is set once the first frame has been written; after that,
	// errors can only be reported in-band.
	started bool
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	if err := s.frame("", string(bytes.Clone(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// event writes a named SSE event.
func (s *sseWriter) event(name, data string) error {
	return s.frame(name, data)
}

func (s *sseWriter) frame(event, data string) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.Header().Set("Access-Control-Allow-Origin", "*")
		s.started = true
	}
	var buf strings.Builder
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteString("\n")
	}
	for _, line := range strings.Split(strings.TrimRight(data, "\n"), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := fmt.Fprint(s.w, buf.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

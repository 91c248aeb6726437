package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/rag"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// handleChat handles POST /api/chat requests. It streams the model's answer
// using Server-Sent Events (SSE) so clients can render tokens as they arrive.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req rag.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, r, "message is required")
		return
	}

	s.stream(w, r, "plain", func(ctx context.Context, sw *sseWriter) error {
		_, err := s.chat.Chat(ctx, &req, sw)
		return err
	})
}

// handleRAGChat handles POST /api/chat/rag requests. The first SSE event,
// "knowledge", carries the retrieved chunks as a JSON array; the answer
// follows as data frames.
func (s *Server) handleRAGChat(w http.ResponseWriter, r *http.Request) {
	var req rag.RAGRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, r, "message is required")
		return
	}
	if req.KBUUID == "" {
		badRequest(w, r, "kb_uuid is required")
		return
	}

	s.stream(w, r, "rag", func(ctx context.Context, sw *sseWriter) error {
		_, err := s.chat.RAGChat(ctx, &req, func(matches []vecstore.Match) error {
			if matches == nil {
				matches = []vecstore.Match{}
			}
			b, err := json.Marshal(matches)
			if err != nil {
				return err
			}
			return sw.event("knowledge", string(b))
		}, sw)
		return err
	})
}

// stream runs fn against an SSE writer under the chat timeout. Errors raised
// before the first frame become a normal JSON error response; later errors
// are delivered in-band as an "error" event.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, mode string, fn func(context.Context, *sseWriter) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	sw := &sseWriter{w: w, flusher: flusher}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	err := fn(ctx, sw)

	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(mode, outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(mode, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		if !sw.started {
			writeError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Error("chat stream failed",
			slog.String("mode", mode),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		_ = sw.event("error", err.Error())
		return
	}

	// Signal stream completion.
	_ = sw.event("done", "[DONE]")
}

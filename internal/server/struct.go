package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/kb"
	"github.com/54b3r/kbgraph-go/internal/knowledge"
	"github.com/54b3r/kbgraph-go/internal/rag"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat or /api/chat/rag stream.
	// Defaults to 5 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps the multipart body of POST /api/kb/{id}/files.
	// Defaults to 64 MiB.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// knowledgeService is the slice of *knowledge.Service the handlers call.
type knowledgeService interface {
	Create(ctx context.Context, name, description string) (string, error)
	List(ctx context.Context) []kb.KnowledgeBase
	Info(ctx context.Context, kbID string) (knowledge.Info, error)
	Upload(ctx context.Context, kbID, fileName string, content io.Reader) (string, error)
	OpenFile(ctx context.Context, kbID, fileID string) (kb.FileRecord, *os.File, error)
	GenerateVectors(ctx context.Context, kbID string, chunkSize, chunkOverlap int) (knowledge.GenerateResult, error)
	Query(ctx context.Context, kbID, text string, k int) ([]vecstore.Match, error)
	BuildGraph(ctx context.Context, kbID string, opts graph.Options) (graph.BuildResult, error)
	DeleteByLevel(ctx context.Context, kbID string, level knowledge.Level) error
}

// chatService streams plain and knowledge-grounded answers.
// *rag.Chatter satisfies it; tests inject a fake.
type chatService interface {
	Chat(ctx context.Context, req *rag.Request, w io.Writer) (string, error)
	RAGChat(ctx context.Context, req *rag.RAGRequest, onMatches func([]vecstore.Match) error, w io.Writer) (string, error)
}

// formatChecker reports whether an upload name has a registered loader.
// *loader.Registry satisfies it.
type formatChecker interface {
	Supports(name string) bool
	Extensions() []string
}

// Server is the HTTP server in front of the knowledge service.
type Server struct {
	// kb serves the knowledge base routes.
	kb knowledgeService
	// chat serves the streaming chat routes.
	chat chatService
	// formats gates uploads by extension.
	formats formatChecker
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped route tree.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// createKBRequest is the JSON body for POST /api/kb.
type createKBRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// kbSummary is one entry of GET /api/kb.
type kbSummary struct {
	KBUUID      string `json:"kb_uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Files       int    `json:"files"`
}

// fileEntry describes one uploaded file in GET /api/kb/{id}.
type fileEntry struct {
	FileUUID string `json:"file_uuid"`
	Filename string `json:"filename"`
	Seq      int    `json:"seq"`
}

// kbInfoResponse is the JSON response for GET /api/kb/{id}.
type kbInfoResponse struct {
	KBUUID         string      `json:"kb_uuid"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Files          []fileEntry `json:"files"`
	Vectors        int         `json:"vectors"`
	GraphDocuments int         `json:"graph_documents"`
}

// vectorsRequest is the JSON body for POST /api/kb/{id}/vectors. Both
// fields may be omitted to use the chunker defaults.
type vectorsRequest struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// queryRequest is the JSON body for POST /api/kb/{id}/query.
type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// queryResponse is the JSON response for POST /api/kb/{id}/query.
type queryResponse struct {
	KBUUID  string           `json:"kb_uuid"`
	Matches []vecstore.Match `json:"matches"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}

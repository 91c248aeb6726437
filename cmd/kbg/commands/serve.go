package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/provider"
	"github.com/54b3r/kbgraph-go/internal/server"
	"github.com/54b3r/kbgraph-go/internal/tracing"
)

// startupProbeTimeout bounds the dependency check run before listening.
const startupProbeTimeout = 10 * time.Second

// NewServeCmd constructs the `kbg serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbg HTTP server",
		Long: `Start the kbg HTTP server.

The server exposes knowledge base management, vector generation, similarity
queries, graph builds and SSE chat under /api, plus /api/health,
/api/ready and /metrics.

Set KBG_API_KEY to require a Bearer token on every /api route.

Examples:
  kbg serve
  kbg serve --port 9090
  GRAPH_BACKEND=neo4j NEO4J_URI=bolt://localhost:7687 kbg serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing, a no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			a, err := buildService(ctx, log, serviceOptions{chat: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			pingers := append(buildLLMPingers(ctx, a.models, log), a.pingers...)
			probeDependencies(ctx, log, pingers)

			srv, err := server.New(a.svc, a.chatter, a.formats, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        pingers,
				APIKey:         os.Getenv("KBG_API_KEY"),
				MaxUploadBytes: int64(envInt("KBG_MAX_UPLOAD_MB", 0)) << 20,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			defer srv.Close()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", envOr("KBG_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", envInt("KBG_PORT", 8080), "TCP port to listen on")

	return cmd
}

// buildLLMPingers returns a readiness probe for the default chat backend.
// A token-free health endpoint is preferred; backends without one are
// probed through the chat model itself.
func buildLLMPingers(ctx context.Context, models *provider.Registry, log *slog.Logger) []server.Pinger {
	cfg := models.Config()
	backend := models.Default()
	if hc := provider.NewHealthCheck(cfg, backend); hc != nil {
		return []server.Pinger{server.NewLLMPinger(nil, hc, string(backend))}
	}
	m, err := models.ChatModel(ctx, "")
	if err != nil {
		log.Warn("readiness: default model unavailable, skipping LLM probe",
			slog.String("backend", string(backend)),
			slog.Any("error", err),
		)
		return nil
	}
	return []server.Pinger{server.NewLLMPinger(m, nil, string(backend))}
}

// probeDependencies runs every probe once at startup. Failures are logged;
// the server still starts and /api/ready reports the live state.
func probeDependencies(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	if len(pingers) == 0 {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	if err := server.NewMultiPinger(pingers...).Ping(probeCtx); err != nil {
		log.Warn("startup dependency probe failed", slog.Any("error", err))
		return
	}
	log.Info("startup dependency probe passed", slog.Int("dependencies", len(pingers)))
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/chunker"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/kb"
	"github.com/54b3r/kbgraph-go/internal/knowledge"
	"github.com/54b3r/kbgraph-go/internal/loader"
	"github.com/54b3r/kbgraph-go/internal/lock"
	"github.com/54b3r/kbgraph-go/internal/provider"
	"github.com/54b3r/kbgraph-go/internal/rag"
	"github.com/54b3r/kbgraph-go/internal/server"
	"github.com/54b3r/kbgraph-go/internal/store"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// serviceOptions selects the optional parts of the dependency graph.
type serviceOptions struct {
	// chat builds the provider registry, history store and Chatter.
	chat bool
	// progress receives per-file progress lines from long operations.
	progress func(msg string)
}

// app bundles every dependency a command may need. Fields not requested via
// serviceOptions are nil.
type app struct {
	svc     *knowledge.Service
	formats *loader.Registry
	models  *provider.Registry
	chatter *rag.Chatter
	pingers []server.Pinger
	closers []func()
}

// Close releases every opened resource in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// defaultKBRoot returns ~/.kbg/kb, or ./kb_storage when the home directory
// cannot be resolved.
func defaultKBRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kb_storage"
	}
	return filepath.Join(home, ".kbg", "kb")
}

// buildService wires the knowledge service and, when requested, the chat
// stack from environment variables. The caller must call Close on the
// returned app.
func buildService(ctx context.Context, log *slog.Logger, opts serviceOptions) (_ *app, err error) {
	a := &app{formats: loader.Default()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	root := os.Getenv("KB_ROOT")
	if root == "" {
		root = defaultKBRoot()
	}
	registry, err := kb.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open kb root %s: %w", root, err)
	}
	log.Debug("kb registry opened", slog.String("root", registry.Root()))

	emb, embCfg, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedder.WarnIfMisconfigured(log, embCfg)

	locker, err := buildLocker(ctx, log, a)
	if err != nil {
		return nil, err
	}

	vecOpts := []vecstore.Option{vecstore.WithLocker(locker)}
	if strings.EqualFold(os.Getenv("VECTOR_MIRROR"), "qdrant") {
		mirror, err := vecstore.NewQdrantMirror(ctx, &vecstore.QdrantConfig{
			Host:       envOr("QDRANT_HOST", "localhost"),
			Port:       envInt("QDRANT_PORT", 6334),
			Collection: envOr("QDRANT_COLLECTION", "kbg_chunks"),
			VectorSize: uint64(embedder.DefaultDimensions(embCfg)),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     envBool("QDRANT_TLS"),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant mirror: %w", err)
		}
		a.closers = append(a.closers, func() { _ = mirror.Close() })
		a.pingers = append(a.pingers, mirror)
		vecOpts = append(vecOpts, vecstore.WithMirror(mirror))
		log.Info("vector mirror enabled", slog.String("backend", mirror.Name()))
	}
	vectors := vecstore.New(registry.VectorPath, emb, vecOpts...)

	providerCfg := provider.ConfigFromEnv()
	a.models = provider.NewRegistry(providerCfg)

	graphStore, err := graph.NewStore(ctx, graph.StoreConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}
	var extractor graph.Extractor
	if graphStore != nil {
		a.closers = append(a.closers, func() { _ = graphStore.Close(context.Background()) })
		if p, ok := graphStore.(server.Pinger); ok {
			a.pingers = append(a.pingers, p)
		}
		extractName := os.Getenv("GRAPH_EXTRACT_PROVIDER")
		m, mErr := a.models.ChatModel(ctx, extractName)
		if mErr != nil {
			log.Warn("graph extraction model unavailable, graph builds disabled",
				slog.String("provider", extractName),
				slog.Any("error", mErr),
			)
		} else {
			extractor = graph.NewLLMExtractor(m)
		}
	}

	a.svc, err = knowledge.New(&knowledge.Config{
		Registry:  registry,
		Vectors:   vectors,
		Loader:    a.formats,
		Embedder:  emb,
		Chunker:   chunker.Backend(os.Getenv("CHUNKER_BACKEND")),
		BatchSize: envInt("EMBEDDING_BATCH_SIZE", 0),
		Locker:    locker,
		Graph:     graphStore,
		Extractor: extractor,
		Progress:  opts.progress,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge service: %w", err)
	}

	if !opts.chat {
		return a, nil
	}

	retriever, err := rag.NewRetriever(a.svc, rag.DefaultTopK)
	if err != nil {
		return nil, err
	}
	a.chatter, err = rag.New(&rag.Config{
		Models:      a.models,
		Retriever:   retriever,
		History:     openHistory(log, a),
		Temperature: providerCfg.Tuning.Temperature,
		MaxTokens:   providerCfg.Tuning.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return a, nil
}

// buildLocker returns the Redis locker when LOCK_BACKEND=redis and an
// in-process keyed mutex otherwise.
func buildLocker(ctx context.Context, log *slog.Logger, a *app) (lock.Locker, error) {
	if !strings.EqualFold(os.Getenv("LOCK_BACKEND"), "redis") {
		return lock.NewKeyedMutex(), nil
	}
	rl, err := lock.NewRedisLocker(ctx, &lock.RedisConfig{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("redis locker: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rl.Close() })
	a.pingers = append(a.pingers, rl)
	log.Info("distributed locking enabled", slog.String("backend", rl.Name()))
	return rl, nil
}

// openHistory opens the conversation history store. KBG_HISTORY_DB
// overrides the default path (~/.kbg/history.db); "disabled" turns history
// off. Failures are logged and leave history disabled.
func openHistory(log *slog.Logger, a *app) store.ConversationStore {
	dbPath := os.Getenv("KBG_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via KBG_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	a.closers = append(a.closers, func() { _ = hs.Close() })
	log.Debug("history: store opened", slog.String("path", dbPath))
	return hs
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

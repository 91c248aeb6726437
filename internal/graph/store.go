package graph

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// GraphStore persists graph documents tagged by knowledge base.
type GraphStore interface {
	// AddGraphDocuments commits docs for kbID, one document per write.
	AddGraphDocuments(ctx context.Context, kbID string, docs []GraphDocument) error
	// DeleteExclusiveEntities removes entities mentioned only by kbID's
	// documents and returns how many were deleted.
	DeleteExclusiveEntities(ctx context.Context, kbID string) (int, error)
	// DeleteDocuments removes every Document node tagged kbID.
	DeleteDocuments(ctx context.Context, kbID string) (int, error)
	// DocumentCount returns the number of Document nodes tagged kbID.
	DocumentCount(ctx context.Context, kbID string) (int, error)
	Close(ctx context.Context) error
}

// Store backends selectable with GRAPH_BACKEND.
const (
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// StoreConfig selects and configures the graph store.
type StoreConfig struct {
	Backend string
	Neo4j   Neo4jConfig
}

// StoreConfigFromEnv reads GRAPH_BACKEND and the NEO4J_* variables.
// GRAPH_BACKEND defaults to neo4j when NEO4J_URI is set and none otherwise.
func StoreConfigFromEnv() *StoreConfig {
	cfg := &StoreConfig{
		Backend: strings.ToLower(os.Getenv("GRAPH_BACKEND")),
		Neo4j: Neo4jConfig{
			URI:      os.Getenv("NEO4J_URI"),
			User:     envOr("NEO4J_USER", "neo4j"),
			Password: os.Getenv("NEO4J_PASSWORD"),
			Database: os.Getenv("NEO4J_DATABASE"),
		},
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendNone
		if cfg.Neo4j.URI != "" {
			cfg.Backend = BackendNeo4j
		}
	}
	return cfg
}

// NewStore constructs the configured store. BackendNone yields a nil store
// and a nil error; callers treat a nil store as "no graph configured".
func NewStore(ctx context.Context, cfg *StoreConfig) (GraphStore, error) {
	switch cfg.Backend {
	case BackendNeo4j:
		s, err := NewNeo4jStore(ctx, &cfg.Neo4j)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("graph: backend %q: %w", cfg.Backend, apperr.ErrUnknownCapability)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

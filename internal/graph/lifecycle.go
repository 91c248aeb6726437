package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

// DeleteResult counts what one DeleteContribution removed.
type DeleteResult struct {
	Entities  int `json:"entities"`
	Documents int `json:"documents"`
}

// Lifecycle removes a knowledge base's contribution to the shared graph.
type Lifecycle struct {
	store GraphStore
}

// NewLifecycle returns a Lifecycle over store. A nil store makes every
// deletion a no-op.
func NewLifecycle(store GraphStore) *Lifecycle {
	return &Lifecycle{store: store}
}

// DeleteContribution first deletes the entities only kbID's documents
// mention, then the documents themselves. Entities must go first: once the
// documents are gone nothing links the entities back to kbID. Both phases
// are idempotent, so a failed run can simply be repeated.
func (l *Lifecycle) DeleteContribution(ctx context.Context, kbID string) (DeleteResult, error) {
	log := logging.FromContext(ctx).With(slog.String("kb_id", kbID))
	if l.store == nil {
		log.Info("no graph store configured, skipping graph deletion")
		return DeleteResult{}, nil
	}

	var res DeleteResult
	n, err := l.store.DeleteExclusiveEntities(ctx, kbID)
	if err != nil {
		log.Error("graph deletion failed", slog.String("phase", "entities"), slog.String("error", err.Error()))
		return res, fmt.Errorf("graph: delete contribution of %s (entities): %w", kbID, err)
	}
	res.Entities = n

	n, err = l.store.DeleteDocuments(ctx, kbID)
	if err != nil {
		log.Error("graph deletion failed", slog.String("phase", "documents"),
			slog.Int("entities_deleted", res.Entities), slog.String("error", err.Error()))
		return res, fmt.Errorf("graph: delete contribution of %s (documents): %w", kbID, err)
	}
	res.Documents = n

	log.Info("graph contribution deleted", slog.Int("entities", res.Entities), slog.Int("documents", res.Documents))
	return res, nil
}

package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// BuildResult summarises one Build run.
type BuildResult struct {
	Documents     int `json:"documents"`
	Nodes         int `json:"nodes"`
	Relationships int `json:"relationships"`
}

// Builder extracts graph documents from stored chunks and commits them.
type Builder struct {
	extractor Extractor
	store     GraphStore
}

// NewBuilder returns a Builder writing to store.
func NewBuilder(extractor Extractor, store GraphStore) *Builder {
	return &Builder{extractor: extractor, store: store}
}

// SourceFromRecord wraps a vector record as extraction provenance.
func SourceFromRecord(r vecstore.Record) SourceDocument {
	return SourceDocument{
		ID:             r.ID,
		Text:           r.Text,
		SourceFilename: r.SourceFilename,
		FileUUID:       r.FileUUID,
		KBUUID:         r.KBUUID,
		Embedding:      r.Embedding,
	}
}

// Build runs extraction over every record and commits the results tagged
// with kbID. Nothing is committed when extraction fails or yields no
// entities and no relationships at all.
func (b *Builder) Build(ctx context.Context, kbID string, records []vecstore.Record, opts Options) (BuildResult, error) {
	log := logging.FromContext(ctx).With(slog.String("kb_id", kbID))

	docs := make([]GraphDocument, 0, len(records))
	var res BuildResult
	for _, r := range records {
		doc, err := b.extractor.Extract(ctx, SourceFromRecord(r), opts)
		if err != nil {
			return BuildResult{}, fmt.Errorf("graph: build %s: %w", kbID, err)
		}
		doc.Source.KBUUID = kbID
		res.Nodes += len(doc.Nodes)
		res.Relationships += len(doc.Relationships)
		docs = append(docs, doc)
		log.Debug("chunk extracted",
			slog.String("chunk_id", r.ID),
			slog.Int("nodes", len(doc.Nodes)),
			slog.Int("relationships", len(doc.Relationships)),
		)
	}
	if res.Nodes == 0 && res.Relationships == 0 {
		return BuildResult{}, fmt.Errorf("graph: build %s: no entities extracted from %d chunks: %w",
			kbID, len(records), apperr.ErrGraphExtractionFailed)
	}

	if err := b.store.AddGraphDocuments(ctx, kbID, docs); err != nil {
		return BuildResult{}, fmt.Errorf("graph: build %s: %w", kbID, err)
	}
	res.Documents = len(docs)
	log.Info("graph built",
		slog.Int("documents", res.Documents),
		slog.Int("nodes", res.Nodes),
		slog.Int("relationships", res.Relationships),
	)
	return res, nil
}

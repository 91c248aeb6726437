// Package rag answers chat requests, optionally grounded in a knowledge
// base: the top-k chunks most similar to the user message are composed into
// the system prompt before the model is called.
package rag

import (
	"context"
	"fmt"

	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// DefaultTopK is the number of chunks retrieved when the caller passes 0.
const DefaultTopK = 5

// Searcher runs a similarity query against one knowledge base.
type Searcher interface {
	Query(ctx context.Context, kbID, text string, k int) ([]vecstore.Match, error)
}

// Retriever fetches the chunks relevant to a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	Retrieve(ctx context.Context, kbID, query string, topK int) ([]vecstore.Match, error)
}

// KBRetriever implements Retriever over a Searcher.
type KBRetriever struct {
	// searcher performs the similarity search.
	searcher Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a KBRetriever. defaultTopK sets the fallback
// result count when Retrieve is called with topK <= 0.
func NewRetriever(searcher Searcher, defaultTopK int) (*KBRetriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &KBRetriever{searcher: searcher, defaultTopK: defaultTopK}, nil
}

// Retrieve returns the top-k chunks of kbID most similar to query.
func (r *KBRetriever) Retrieve(ctx context.Context, kbID, query string, topK int) ([]vecstore.Match, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}
	matches, err := r.searcher.Query(ctx, kbID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve from %s: %w", kbID, err)
	}
	return matches, nil
}

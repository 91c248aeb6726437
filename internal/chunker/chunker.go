// Package chunker normalises document text and splits it into bounded,
// optionally overlapping chunks. Lengths are measured in runes.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Backend selects a Splitter implementation.
type Backend string

const (
	// BackendRecursive selects the built-in span-based recursive splitter.
	BackendRecursive Backend = "recursive"
	// BackendEino selects the eino-ext recursive splitter.
	BackendEino Backend = "eino"
)

const (
	// DefaultChunkSize is the maximum chunk length when none is given.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the overlap between chunks when none is given.
	DefaultChunkOverlap = 100
)

// DefaultSeparators is the separator ladder tried from coarsest to finest.
// The empty separator splits into single runes and always terminates.
var DefaultSeparators = []string{"\n\n", "\n", "。", ". ", " ", ""}

// Splitter splits cleaned text into chunks.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
}

// Normalize collapses runs of Unicode whitespace (including NBSP and the
// ideographic space) to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateConfig rejects chunk configurations that cannot make progress.
func ValidateConfig(size, overlap int) error {
	switch {
	case size <= 0:
		return fmt.Errorf("chunker: chunk_size must be positive, got %d: %w", size, apperr.ErrInvalidArgument)
	case overlap < 0:
		return fmt.Errorf("chunker: chunk_overlap must not be negative, got %d: %w", overlap, apperr.ErrInvalidArgument)
	case overlap >= size:
		return fmt.Errorf("chunker: chunk_overlap (%d) must be smaller than chunk_size (%d): %w", overlap, size, apperr.ErrInvalidArgument)
	}
	return nil
}

// New constructs a Splitter for the given backend. An empty backend selects
// BackendRecursive.
func New(ctx context.Context, backend Backend, size, overlap int) (Splitter, error) {
	switch backend {
	case "", BackendRecursive:
		r, err := NewRecursive(size, overlap)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendEino:
		e, err := NewEino(ctx, size, overlap)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("chunker: backend %q (valid: recursive, eino): %w", backend, apperr.ErrUnknownCapability)
	}
}

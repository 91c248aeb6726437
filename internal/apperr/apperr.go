// Package apperr defines the sentinel errors shared by every kbgraph package.
// Callers match them with [errors.Is]; packages wrap them with context using
// fmt.Errorf("pkg: ...: %w", apperr.ErrX).
package apperr

import "errors"

var (
	// ErrNotFound reports an unknown knowledge base, file, or vector store.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a duplicate knowledge base name or directory.
	ErrAlreadyExists = errors.New("already exists")

	// ErrEmptyKnowledgeBase reports a vectorization request on a kb with no files.
	ErrEmptyKnowledgeBase = errors.New("knowledge base has no files")

	// ErrUnsupportedFormat reports a file extension with no registered loader.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmbeddingFailed reports a failure of the embedding capability.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGraphExtractionFailed reports an extraction that produced nothing
	// for every document, or an extraction capability error.
	ErrGraphExtractionFailed = errors.New("graph extraction failed")

	// ErrInvalidLevel reports a delete level other than graph, vec, or all.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrUnknownCapability reports a backend name with no registered constructor.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrInvalidArgument reports malformed caller input (names, chunk sizes).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrGraphUnavailable reports a graph operation with no graph store configured.
	ErrGraphUnavailable = errors.New("graph store not configured")
)

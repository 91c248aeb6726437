// Package ingestion turns one uploaded file into embedded vector records:
// load text, normalise whitespace, split into chunks, hash each chunk and
// embed the chunks in batches. A file either yields all of its records or
// an error; partial results are never returned.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"log/slog"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/chunker"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// DefaultBatchSize is the number of chunks sent per embedding request.
const DefaultBatchSize = 16

// Loader extracts text from a file on disk.
type Loader interface {
	Load(path string) (string, error)
}

// FileInput identifies one registered file to process.
type FileInput struct {
	// Path is the absolute path of the stored file.
	Path string
	// SourceFilename is the original upload name.
	SourceFilename string
	// FileUUID is the registry id of the file.
	FileUUID string
	// KBUUID is the owning knowledge base.
	KBUUID string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of chunks per Embed call.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Progress, when set, receives one human-readable line per step.
	Progress func(msg string)
}

// Pipeline orchestrates the load → split → embed flow for single files.
type Pipeline struct {
	loader   Loader
	splitter chunker.Splitter
	embedder embedder.Embedder
	cfg      *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(loader Loader, splitter chunker.Splitter, emb embedder.Embedder, cfg *Config) (*Pipeline, error) {
	if loader == nil {
		return nil, fmt.Errorf("ingestion: loader must not be nil")
	}
	if splitter == nil {
		return nil, fmt.Errorf("ingestion: splitter must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	resolved := Config{}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.BatchSize <= 0 {
		resolved.BatchSize = DefaultBatchSize
	}
	if resolved.Progress == nil {
		resolved.Progress = func(string) {}
	}
	return &Pipeline{loader: loader, splitter: splitter, embedder: emb, cfg: &resolved}, nil
}

// ProcessFile returns the records of one file in chunk order. Loader
// failures keep their cause (apperr.ErrUnsupportedFormat for unknown
// extensions); any embedding failure is wrapped with apperr.ErrEmbeddingFailed.
func (p *Pipeline) ProcessFile(ctx context.Context, in FileInput) ([]vecstore.Record, error) {
	log := logging.FromContext(ctx).With(slog.String("kb_id", in.KBUUID), slog.String("file", in.SourceFilename))

	raw, err := p.loader.Load(in.Path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load %s: %w", in.SourceFilename, err)
	}

	chunks, err := p.splitter.Split(ctx, chunker.Normalize(raw))
	if err != nil {
		return nil, fmt.Errorf("ingestion: split %s: %w", in.SourceFilename, err)
	}
	p.cfg.Progress(fmt.Sprintf("chunked %s into %d chunks", in.SourceFilename, len(chunks)))
	log.Debug("file chunked", slog.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		return []vecstore.Record{}, nil
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		batch, err := p.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("ingestion: embed %s chunks %d-%d: %w: %w",
				in.SourceFilename, start, end-1, apperr.ErrEmbeddingFailed, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("ingestion: embed %s: expected %d vectors, got %d: %w",
				in.SourceFilename, end-start, len(batch), apperr.ErrEmbeddingFailed)
		}
		vectors = append(vectors, batch...)
	}

	records := make([]vecstore.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vecstore.Record{
			ID:             ChunkID(chunk),
			Text:           chunk,
			Embedding:      vectors[i],
			SourceFilename: in.SourceFilename,
			FileUUID:       in.FileUUID,
			KBUUID:         in.KBUUID,
		}
	}
	p.cfg.Progress(fmt.Sprintf("embedded %d chunks from %s", len(records), in.SourceFilename))
	log.Debug("file embedded", slog.Int("records", len(records)))
	return records, nil
}

// ProcessFileSeq is ProcessFile as an iterator. The file is processed in
// full before the first record is yielded, so a consumer never observes
// records from a file that later fails.
func (p *Pipeline) ProcessFileSeq(ctx context.Context, in FileInput) iter.Seq2[vecstore.Record, error] {
	return func(yield func(vecstore.Record, error) bool) {
		records, err := p.ProcessFile(ctx, in)
		if err != nil {
			yield(vecstore.Record{}, err)
			return
		}
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// ChunkID is the lower-case hex sha256 of the chunk text.
func ChunkID(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Package knowledge composes the registry, ingestion pipeline, vector store
// and graph components into the operations exposed by the CLI and the HTTP
// server.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/chunker"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/ingestion"
	"github.com/54b3r/kbgraph-go/internal/kb"
	"github.com/54b3r/kbgraph-go/internal/lock"
	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// Level selects how much of a knowledge base DeleteByLevel removes.
type Level string

const (
	// LevelGraph removes the kb's graph contribution.
	LevelGraph Level = "graph"
	// LevelVectors also resets the vector store.
	LevelVectors Level = "vec"
	// LevelAll also deletes the kb and its files.
	LevelAll Level = "all"
)

// ParseLevel converts s to a Level, ignoring case and surrounding space.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelGraph, LevelVectors, LevelAll:
		return l, nil
	default:
		return "", fmt.Errorf("knowledge: level %q (want graph, vec or all): %w", s, apperr.ErrInvalidLevel)
	}
}

// Config wires a Service. Registry, Vectors, Loader and Embedder are
// required; Graph and Extractor are optional.
type Config struct {
	Registry *kb.Registry
	Vectors  *vecstore.Store
	Loader   ingestion.Loader
	Embedder embedder.Embedder

	// Chunker selects the splitter backend. Defaults to chunker.BackendRecursive.
	Chunker chunker.Backend
	// BatchSize is the number of chunks per embedding call.
	BatchSize int
	// Locker serialises long-running operations per kb. Defaults to an
	// in-process lock.KeyedMutex.
	Locker lock.Locker

	// Graph is the shared graph store. Nil disables graph operations.
	Graph graph.GraphStore
	// Extractor produces graph documents for BuildGraph.
	Extractor graph.Extractor

	// Progress, when set, receives one line per ingestion step.
	Progress func(msg string)
}

// Service is the knowledge base engine.
type Service struct {
	cfg       Config
	lifecycle *graph.Lifecycle
}

// New validates cfg and returns a Service.
func New(cfg *Config) (*Service, error) {
	if cfg.Registry == nil || cfg.Vectors == nil || cfg.Loader == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("knowledge: registry, vector store, loader and embedder are required")
	}
	c := *cfg
	if c.Chunker == "" {
		c.Chunker = chunker.BackendRecursive
	}
	if c.BatchSize <= 0 {
		c.BatchSize = ingestion.DefaultBatchSize
	}
	if c.Locker == nil {
		c.Locker = lock.NewKeyedMutex()
	}
	return &Service{cfg: c, lifecycle: graph.NewLifecycle(c.Graph)}, nil
}

// GraphEnabled reports whether a graph store is configured.
func (s *Service) GraphEnabled() bool { return s.cfg.Graph != nil }

// Create registers a new knowledge base and returns its id.
func (s *Service) Create(ctx context.Context, name, description string) (string, error) {
	return s.cfg.Registry.Create(ctx, name, description)
}

// Get returns the knowledge base with the given id.
func (s *Service) Get(ctx context.Context, kbID string) (kb.KnowledgeBase, error) {
	return s.cfg.Registry.Get(ctx, kbID)
}

// List returns every knowledge base sorted by name.
func (s *Service) List(ctx context.Context) []kb.KnowledgeBase {
	return s.cfg.Registry.List(ctx)
}

// Upload stores a document in the knowledge base and returns its file id.
func (s *Service) Upload(ctx context.Context, kbID, fileName string, content io.Reader) (string, error) {
	return s.cfg.Registry.Upload(ctx, kbID, fileName, content)
}

// OpenFile returns an uploaded file. The caller closes the handle.
func (s *Service) OpenFile(ctx context.Context, kbID, fileID string) (kb.FileRecord, *os.File, error) {
	return s.cfg.Registry.OpenFile(ctx, kbID, fileID)
}

// Info describes a knowledge base and the state of its derived data.
type Info struct {
	kb.KnowledgeBase
	OrderedFiles   []kb.FileRecord `json:"ordered_files"`
	Vectors        int             `json:"vectors"`
	GraphDocuments int             `json:"graph_documents"`
}

// Info returns the kb with its files in registration order and the number
// of stored vectors and graph documents.
func (s *Service) Info(ctx context.Context, kbID string) (Info, error) {
	k, err := s.cfg.Registry.Get(ctx, kbID)
	if err != nil {
		return Info{}, err
	}
	info := Info{KnowledgeBase: k, OrderedFiles: k.OrderedFiles()}

	n, err := s.cfg.Vectors.Count(ctx, kbID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		return Info{}, err
	default:
		info.Vectors = n
	}

	if s.cfg.Graph != nil {
		n, err := s.cfg.Graph.DocumentCount(ctx, kbID)
		if err != nil {
			logging.FromContext(ctx).Warn("graph document count unavailable",
				slog.String("kb_id", kbID), slog.String("error", err.Error()))
		}
		info.GraphDocuments = n
	}
	return info, nil
}

// ResetVectors empties the vector store of a knowledge base.
func (s *Service) ResetVectors(ctx context.Context, kbID string) error {
	if _, err := s.cfg.Registry.Get(ctx, kbID); err != nil {
		return err
	}
	return s.cfg.Vectors.Initialize(ctx, kbID)
}

// FileResult reports the chunks produced from one file.
type FileResult struct {
	FileUUID string `json:"file_uuid"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

// GenerateResult summarises a GenerateVectors run.
type GenerateResult struct {
	KBUUID       string       `json:"kb_uuid"`
	ChunkSize    int          `json:"chunk_size"`
	ChunkOverlap int          `json:"chunk_overlap"`
	Files        []FileResult `json:"files"`
	Total        int          `json:"total"`
}

// GenerateVectors regenerates the kb's vector store from its files.
//
// A chunkSize of zero selects the default size, and the default overlap
// unless chunkOverlap is set explicitly. The
// store is reset before the first file, then each file's records are
// appended once the whole file is embedded. A failing file aborts the run;
// files processed before it stay persisted and are reported in the result.
func (s *Service) GenerateVectors(ctx context.Context, kbID string, chunkSize, chunkOverlap int) (GenerateResult, error) {
	if chunkSize == 0 {
		chunkSize = chunker.DefaultChunkSize
		if chunkOverlap == 0 {
			chunkOverlap = chunker.DefaultChunkOverlap
		}
	}
	res := GenerateResult{KBUUID: kbID, ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Files: []FileResult{}}

	k, err := s.cfg.Registry.Get(ctx, kbID)
	if err != nil {
		return res, err
	}
	if err := chunker.ValidateConfig(chunkSize, chunkOverlap); err != nil {
		return res, err
	}
	files := k.OrderedFiles()
	if len(files) == 0 {
		return res, fmt.Errorf("knowledge: generate vectors for %s: %w", kbID, apperr.ErrEmptyKnowledgeBase)
	}

	unlock, err := s.cfg.Locker.Lock(ctx, "kb:"+kbID)
	if err != nil {
		return res, fmt.Errorf("knowledge: lock %s: %w", kbID, err)
	}
	defer unlock()

	splitter, err := chunker.New(ctx, s.cfg.Chunker, chunkSize, chunkOverlap)
	if err != nil {
		return res, err
	}
	pipeline, err := ingestion.NewPipeline(s.cfg.Loader, splitter, s.cfg.Embedder, &ingestion.Config{
		BatchSize: s.cfg.BatchSize,
		Progress:  s.cfg.Progress,
	})
	if err != nil {
		return res, err
	}

	log := logging.FromContext(ctx).With(slog.String("kb_id", kbID))
	for i, f := range files {
		if i == 0 {
			if err := s.cfg.Vectors.Initialize(ctx, kbID); err != nil {
				return res, err
			}
		}
		path, err := s.cfg.Registry.FilePath(kbID, f)
		if err != nil {
			return res, err
		}
		records, err := pipeline.ProcessFile(ctx, ingestion.FileInput{
			Path:           path,
			SourceFilename: f.Filename,
			FileUUID:       f.ID,
			KBUUID:         kbID,
		})
		if err != nil {
			log.Warn("vector generation aborted",
				slog.String("file", f.Filename),
				slog.Int("files_done", i),
				slog.String("error", err.Error()),
			)
			return res, fmt.Errorf("knowledge: generate vectors for %s: %w", kbID, err)
		}
		if err := s.cfg.Vectors.Append(ctx, kbID, records); err != nil {
			return res, err
		}
		res.Files = append(res.Files, FileResult{FileUUID: f.ID, Filename: f.Filename, Chunks: len(records)})
		res.Total += len(records)
	}

	log.Info("vectors generated",
		slog.Int("files", len(res.Files)),
		slog.Int("records", res.Total),
		slog.Int("chunk_size", chunkSize),
		slog.Int("chunk_overlap", chunkOverlap),
	)
	return res, nil
}

// Query returns the k stored chunks most similar to text.
func (s *Service) Query(ctx context.Context, kbID, text string, k int) ([]vecstore.Match, error) {
	if _, err := s.cfg.Registry.Get(ctx, kbID); err != nil {
		return nil, err
	}
	return s.cfg.Vectors.Query(ctx, kbID, text, k)
}

// BuildGraph extracts entities from every stored chunk of the kb and
// commits them to the graph store.
func (s *Service) BuildGraph(ctx context.Context, kbID string, opts graph.Options) (graph.BuildResult, error) {
	if s.cfg.Graph == nil || s.cfg.Extractor == nil {
		return graph.BuildResult{}, fmt.Errorf("knowledge: build graph for %s: %w", kbID, apperr.ErrGraphUnavailable)
	}
	if _, err := s.cfg.Registry.Get(ctx, kbID); err != nil {
		return graph.BuildResult{}, err
	}
	records, err := s.cfg.Vectors.Load(ctx, kbID)
	if err != nil {
		return graph.BuildResult{}, err
	}
	if len(records) == 0 {
		return graph.BuildResult{}, fmt.Errorf("knowledge: build graph for %s: vector store is empty: %w", kbID, apperr.ErrNotFound)
	}
	return graph.NewBuilder(s.cfg.Extractor, s.cfg.Graph).Build(ctx, kbID, records, opts)
}

// DeleteByLevel removes the kb's graph contribution and, depending on
// level, its vectors and the kb itself.
func (s *Service) DeleteByLevel(ctx context.Context, kbID string, level Level) error {
	if _, err := ParseLevel(string(level)); err != nil {
		return err
	}
	if _, err := s.cfg.Registry.Get(ctx, kbID); err != nil {
		return err
	}

	unlock, err := s.cfg.Locker.Lock(ctx, "kb:"+kbID)
	if err != nil {
		return fmt.Errorf("knowledge: lock %s: %w", kbID, err)
	}
	defer unlock()

	if _, err := s.lifecycle.DeleteContribution(ctx, kbID); err != nil {
		return err
	}
	if level == LevelGraph {
		return nil
	}
	if err := s.cfg.Vectors.Initialize(ctx, kbID); err != nil {
		return err
	}
	if level == LevelVectors {
		return nil
	}
	return s.cfg.Registry.Delete(ctx, kbID)
}

// Clear deletes every knowledge base at level all and returns how many were
// removed. It stops at the first failure.
func (s *Service) Clear(ctx context.Context) (int, error) {
	n := 0
	for _, k := range s.cfg.Registry.List(ctx) {
		if err := s.DeleteByLevel(ctx, k.ID, LevelAll); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

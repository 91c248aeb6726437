package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/lock"
	"github.com/54b3r/kbgraph-go/internal/logging"
)

// PathFunc resolves the vecs.json path of a knowledge base. It returns an
// error wrapping apperr.ErrNotFound for an unknown kb.
type PathFunc func(kbID string) (string, error)

// Mirror receives every committed change so an external vector database
// can be kept in step with the JSON store. The JSON file stays the source
// of truth; mirror failures are logged and do not fail the write.
type Mirror interface {
	// Reset removes every point that belongs to kbID.
	Reset(ctx context.Context, kbID string) error
	// Upsert stores records.
	Upsert(ctx context.Context, kbID string, records []Record) error
}

// Store is the JSON-file vector store.
type Store struct {
	path     PathFunc
	embedder embedder.Embedder
	mirror   Mirror
	locker   lock.Locker
}

// Option configures a Store.
type Option func(*Store)

// WithMirror attaches a mirror.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLocker replaces the default in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Store) { s.locker = l }
}

// New constructs a Store. emb embeds query text.
func New(path PathFunc, emb embedder.Embedder, opts ...Option) *Store {
	s := &Store{path: path, embedder: emb, locker: lock.NewKeyedMutex()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(kbID string) string { return "vec:" + kbID }

// Initialize replaces the store with an empty collection.
func (s *Store) Initialize(ctx context.Context, kbID string) error {
	path, err := s.path(kbID)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, lockKey(kbID))
	if err != nil {
		return fmt.Errorf("vecstore: lock %s: %w", kbID, err)
	}
	defer unlock()

	if err := writeRecords(path, []Record{}); err != nil {
		return fmt.Errorf("vecstore: initialize %s: %w", kbID, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Reset(ctx, kbID); err != nil {
			logging.FromContext(ctx).Warn("vecstore: mirror reset failed",
				slog.String("kb_id", kbID), slog.String("error", err.Error()))
		}
	}
	logging.FromContext(ctx).Debug("vector store initialized", slog.String("kb_id", kbID))
	return nil
}

// Append adds records to the collection. Every embedding must have the same
// dimension as those already stored.
func (s *Store) Append(ctx context.Context, kbID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	path, err := s.path(kbID)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, lockKey(kbID))
	if err != nil {
		return fmt.Errorf("vecstore: lock %s: %w", kbID, err)
	}
	defer unlock()

	existing, err := readRecords(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vecstore: append %s: %w", kbID, err)
	}

	dim := len(records[0].Embedding)
	if len(existing) > 0 {
		dim = len(existing[0].Embedding)
	}
	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("vecstore: append %s: record %s has dimension %d, store has %d: %w",
				kbID, r.ID, len(r.Embedding), dim, apperr.ErrInvalidArgument)
		}
	}

	all := append(existing, records...)
	if err := writeRecords(path, all); err != nil {
		return fmt.Errorf("vecstore: append %s: %w", kbID, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Upsert(ctx, kbID, records); err != nil {
			logging.FromContext(ctx).Warn("vecstore: mirror upsert failed",
				slog.String("kb_id", kbID), slog.Int("records", len(records)), slog.String("error", err.Error()))
		}
	}
	logging.FromContext(ctx).Debug("vector records appended",
		slog.String("kb_id", kbID), slog.Int("added", len(records)), slog.Int("total", len(all)))
	return nil
}

// Load returns every stored record. A kb whose store was never initialised
// yields apperr.ErrNotFound.
func (s *Store) Load(_ context.Context, kbID string) ([]Record, error) {
	path, err := s.path(kbID)
	if err != nil {
		return nil, err
	}
	records, err := readRecords(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("vecstore: %s has no vector store: %w", kbID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vecstore: load %s: %w", kbID, err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context, kbID string) (int, error) {
	records, err := s.Load(ctx, kbID)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Query embeds text and returns at most k records ranked by descending
// cosine similarity. Ties keep storage order. k <= 0 returns no matches.
func (s *Store) Query(ctx context.Context, kbID, text string, k int) ([]Match, error) {
	records, err := s.Load(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if k <= 0 || len(records) == 0 {
		return []Match{}, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("vecstore: embed query: %w: %w", apperr.ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("vecstore: embed query: got %d vectors: %w", len(vecs), apperr.ErrEmbeddingFailed)
	}
	q := vecs[0]

	matches := make([]Match, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(q) {
			return nil, fmt.Errorf("vecstore: query %s: query dimension %d does not match stored %d: %w",
				kbID, len(q), len(r.Embedding), apperr.ErrInvalidArgument)
		}
		matches = append(matches, Match{
			ID:             r.ID,
			Text:           r.Text,
			SourceFilename: r.SourceFilename,
			FileUUID:       r.FileUUID,
			Similarity:     Cosine(q, r.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Cosine returns dot(a,b)/(|a||b|) clamped to [-1, 1]. A zero-norm vector
// yields 0. a and b must have the same length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(-1, min(1, sim))
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// writeRecords replaces path with records via a temp file and rename.
func writeRecords(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vecs-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}

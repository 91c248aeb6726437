// Package kb implements the knowledge base metadata registry. A single JSON
// file under the storage root maps each knowledge base UUID to its name,
// description, directory, and uploaded files. Each knowledge base owns a
// directory "<uuid>_<name>" holding a files/ area and a vecs/ area.
package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/logging"
)

const (
	// metadataFile is the registry file name under the storage root.
	metadataFile = "kb_metadata.json"
	// filesDir holds uploaded documents inside a kb directory.
	filesDir = "files"
	// vecsDir holds the vector store inside a kb directory.
	vecsDir = "vecs"
	// vecsFile is the vector store file name inside vecsDir.
	vecsFile = "vecs.json"
)

// FileRecord describes one uploaded file.
type FileRecord struct {
	// ID is the file UUID.
	ID string `json:"-"`
	// Filename is the original upload name.
	Filename string `json:"filename"`
	// Path is the storage path relative to the kb directory ("files/<id>_<name>").
	Path string `json:"file_path"`
	// Seq is the registration sequence number within the kb.
	Seq int `json:"seq"`
}

// KnowledgeBase is a registry entry.
type KnowledgeBase struct {
	// ID is the kb UUID.
	ID string `json:"-"`
	// Name is the human name; unique among live knowledge bases.
	Name string `json:"kb_name"`
	// Dir is the directory name under the storage root.
	Dir string `json:"kb_dir"`
	// Description is free text supplied at creation.
	Description string `json:"desc"`
	// Files maps file UUID to its record.
	Files map[string]FileRecord `json:"files"`
	// NextSeq is the sequence number assigned to the next upload.
	NextSeq int `json:"next_seq"`
}

// OrderedFiles returns the kb's files in registration order.
func (k *KnowledgeBase) OrderedFiles() []FileRecord {
	out := make([]FileRecord, 0, len(k.Files))
	for id, f := range k.Files {
		f.ID = id
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// clone returns a deep copy so callers never alias registry state.
func (k *KnowledgeBase) clone(id string) KnowledgeBase {
	c := *k
	c.ID = id
	c.Files = make(map[string]FileRecord, len(k.Files))
	for fid, f := range k.Files {
		f.ID = fid
		c.Files[fid] = f
	}
	return c
}

// Registry is the persistent kb metadata store. It is safe for concurrent use.
// All mutations rewrite the registry file atomically.
type Registry struct {
	// root is the storage root directory.
	root string
	// mu guards entries and the registry file.
	mu sync.RWMutex
	// entries is the in-memory copy of the registry file.
	entries map[string]*KnowledgeBase
}

// Open loads (or initialises) the registry rooted at root, creating the
// directory if needed.
func Open(root string) (*Registry, error) {
	if root == "" {
		return nil, fmt.Errorf("kb: storage root must not be empty: %w", apperr.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("kb: create root %s: %w", root, err)
	}

	r := &Registry{root: root, entries: make(map[string]*KnowledgeBase)}

	data, err := os.ReadFile(r.metadataPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("kb: read registry: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, fmt.Errorf("kb: parse registry %s: %w", r.metadataPath(), err)
	}
	for _, e := range r.entries {
		if e.Files == nil {
			e.Files = make(map[string]FileRecord)
		}
	}
	return r, nil
}

// Root returns the storage root directory.
func (r *Registry) Root() string { return r.root }

// Create registers a new knowledge base and creates its directory tree.
func (r *Registry) Create(ctx context.Context, name, description string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Name == name {
			return "", fmt.Errorf("kb: create %q: %w", name, apperr.ErrAlreadyExists)
		}
	}

	id := uuid.NewString()
	dirName := id + "_" + name
	dir := filepath.Join(r.root, dirName)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("kb: create %q: directory %s: %w", name, dirName, apperr.ErrAlreadyExists)
	}

	for _, sub := range []string{filesDir, vecsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("kb: create %q: %w", name, err)
		}
	}

	r.entries[id] = &KnowledgeBase{
		Name:        name,
		Dir:         dirName,
		Description: description,
		Files:       make(map[string]FileRecord),
	}
	if err := r.persist(); err != nil {
		delete(r.entries, id)
		_ = os.RemoveAll(dir)
		return "", err
	}

	logging.FromContext(ctx).Info("kb created",
		slog.String("kb_id", id),
		slog.String("name", name),
	)
	return id, nil
}

// Get returns a copy of the knowledge base with the given id.
func (r *Registry) Get(_ context.Context, id string) (KnowledgeBase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return KnowledgeBase{}, fmt.Errorf("kb: %s: %w", id, apperr.ErrNotFound)
	}
	return e.clone(id), nil
}

// List returns every knowledge base sorted by name.
func (r *Registry) List(_ context.Context) []KnowledgeBase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KnowledgeBase, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e.clone(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Files returns the knowledge base's files in registration order.
func (r *Registry) Files(ctx context.Context, id string) ([]FileRecord, error) {
	k, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return k.OrderedFiles(), nil
}

// Upload writes content into the kb's files area and then registers it.
// If the write fails nothing is registered.
func (r *Registry) Upload(ctx context.Context, id, fileName string, content io.Reader) (string, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == ".." || fileName == string(filepath.Separator) {
		return "", fmt.Errorf("kb: upload: bad file name %q: %w", fileName, apperr.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return "", fmt.Errorf("kb: upload to %s: %w", id, apperr.ErrNotFound)
	}

	fileID := uuid.NewString()
	rel := filepath.ToSlash(filepath.Join(filesDir, fileID+"_"+fileName))
	dst := filepath.Join(r.root, e.Dir, filepath.FromSlash(rel))

	n, err := writeFileAtomic(dst, content)
	if err != nil {
		return "", fmt.Errorf("kb: upload %q: %w", fileName, err)
	}

	e.Files[fileID] = FileRecord{Filename: fileName, Path: rel, Seq: e.NextSeq}
	e.NextSeq++
	if err := r.persist(); err != nil {
		delete(e.Files, fileID)
		e.NextSeq--
		_ = os.Remove(dst)
		return "", err
	}

	logging.FromContext(ctx).Info("file uploaded",
		slog.String("kb_id", id),
		slog.String("file_id", fileID),
		slog.String("filename", fileName),
		slog.Int64("bytes", n),
	)
	return fileID, nil
}

// OpenFile returns the record and an open handle for an uploaded file.
// The caller must close the handle.
func (r *Registry) OpenFile(_ context.Context, id, fileID string) (FileRecord, *os.File, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.RUnlock()
		return FileRecord{}, nil, fmt.Errorf("kb: %s: %w", id, apperr.ErrNotFound)
	}
	rec, ok := e.Files[fileID]
	dir := e.Dir
	r.mu.RUnlock()
	if !ok {
		return FileRecord{}, nil, fmt.Errorf("kb: file %s in %s: %w", fileID, id, apperr.ErrNotFound)
	}
	rec.ID = fileID

	f, err := os.Open(filepath.Join(r.root, dir, filepath.FromSlash(rec.Path)))
	if errors.Is(err, fs.ErrNotExist) {
		return FileRecord{}, nil, fmt.Errorf("kb: file %s content missing: %w", fileID, apperr.ErrNotFound)
	}
	if err != nil {
		return FileRecord{}, nil, fmt.Errorf("kb: open file %s: %w", fileID, err)
	}
	return rec, f, nil
}

// FilePath returns the absolute path of an uploaded file.
func (r *Registry) FilePath(id string, rec FileRecord) (string, error) {
	dir, err := r.Dir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(rec.Path)), nil
}

// Dir returns the absolute directory of the knowledge base.
func (r *Registry) Dir(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", fmt.Errorf("kb: %s: %w", id, apperr.ErrNotFound)
	}
	return filepath.Join(r.root, e.Dir), nil
}

// VectorPath returns the vector store file path for the knowledge base.
func (r *Registry) VectorPath(id string) (string, error) {
	dir, err := r.Dir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, vecsDir, vecsFile), nil
}

// Delete unregisters the knowledge base, then removes its directory. The
// entry stays registered when the registry file cannot be rewritten.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("kb: delete %s: %w", id, apperr.ErrNotFound)
	}
	delete(r.entries, id)
	if err := r.persist(); err != nil {
		r.entries[id] = e
		return fmt.Errorf("kb: delete %s: %w", id, err)
	}

	log := logging.FromContext(ctx)
	dir := filepath.Join(r.root, e.Dir)
	if err := os.RemoveAll(dir); err != nil {
		log.Error("kb unregistered but its directory could not be removed",
			slog.String("kb_id", id),
			slog.String("dir", dir),
			slog.Any("error", err),
		)
		return fmt.Errorf("kb: delete %s: remove %s: %w", id, dir, err)
	}

	log.Info("kb deleted", slog.String("kb_id", id), slog.String("name", e.Name))
	return nil
}

// Clear deletes every knowledge base. It stops at the first failure.
func (r *Registry) Clear(ctx context.Context) (int, error) {
	ids := make([]string, 0)
	for _, k := range r.List(ctx) {
		ids = append(ids, k.ID)
	}
	for i, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// metadataPath is the registry file location.
func (r *Registry) metadataPath() string {
	return filepath.Join(r.root, metadataFile)
}

// persist rewrites the registry file. Callers hold r.mu.
func (r *Registry) persist() error {
	data, err := json.MarshalIndent(r.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("kb: encode registry: %w", err)
	}
	if _, err := writeFileAtomic(r.metadataPath(), strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("kb: write registry: %w", err)
	}
	return nil
}

// validateName rejects names that cannot be used as a directory suffix.
func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("kb: name must not be empty: %w", apperr.ErrInvalidArgument)
	case name == "." || name == "..":
		return fmt.Errorf("kb: name %q is reserved: %w", name, apperr.ErrInvalidArgument)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("kb: name %q must not contain path separators: %w", name, apperr.ErrInvalidArgument)
	}
	return nil
}

// writeFileAtomic streams src to a temp file beside dst and renames it into
// place, so readers never observe a partial file.
func writeFileAtomic(dst string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

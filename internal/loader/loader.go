// Package loader extracts plain text from uploaded documents. Loaders are
// registered by lower-cased file extension; an unregistered extension is
// rejected with apperr.ErrUnsupportedFormat.
package loader

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Loader extracts the text content of the file at path.
type Loader interface {
	Load(path string) (string, error)
}

// Func adapts a plain function to the Loader interface.
type Func func(path string) (string, error)

// Load calls f(path).
func (f Func) Load(path string) (string, error) { return f(path) }

// Registry maps file extensions (without the dot) to loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Default returns a registry with every built-in format registered:
// txt, md, csv, json, html, pdf, docx and xlsx.
func Default() *Registry {
	r := NewRegistry()
	r.Register("txt", Func(loadText))
	r.Register("md", Func(loadMarkdown))
	r.Register("markdown", Func(loadMarkdown))
	r.Register("csv", Func(loadCSV))
	r.Register("json", Func(loadJSON))
	r.Register("html", Func(loadHTML))
	r.Register("htm", Func(loadHTML))
	r.Register("pdf", Func(loadPDF))
	r.Register("docx", Func(loadDOCX))
	r.Register("xlsx", Func(loadXLSX))
	return r
}

// Register installs l for ext, replacing any previous loader.
func (r *Registry) Register(ext string, l Loader) {
	r.loaders[normalizeExt(ext)] = l
}

// Supports reports whether a loader is registered for the extension of name.
func (r *Registry) Supports(name string) bool {
	_, ok := r.loaders[normalizeExt(filepath.Ext(name))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Load dispatches on the extension of path.
func (r *Registry) Load(path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	l, ok := r.loaders[ext]
	if !ok {
		return "", fmt.Errorf("loader: extension %q of %s: %w", ext, filepath.Base(path), apperr.ErrUnsupportedFormat)
	}
	text, err := l.Load(path)
	if err != nil {
		return "", fmt.Errorf("loader: %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

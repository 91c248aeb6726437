package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Constructor builds a chat model for one backend from the shared Config.
type Constructor func(ctx context.Context, cfg *Config) (model.ToolCallingChatModel, error)

var builtinBackends = []Backend{BackendOllama, BackendOpenAI, BackendAzure, BackendArk, BackendGemini, BackendMoonshot}

// Registry maps backend names to constructors and caches the models it
// builds. It is safe for concurrent use.
type Registry struct {
	cfg *Config

	mu     sync.Mutex
	ctors  map[Backend]Constructor
	models map[Backend]model.ToolCallingChatModel
}

// NewRegistry returns a Registry with every built-in backend registered.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{
		cfg:    cfg,
		ctors:  make(map[Backend]Constructor),
		models: make(map[Backend]model.ToolCallingChatModel),
	}
	r.Register(BackendOllama, newOllama)
	r.Register(BackendOpenAI, newOpenAI)
	r.Register(BackendAzure, newAzure)
	r.Register(BackendArk, newArk)
	r.Register(BackendGemini, newGemini)
	r.Register(BackendMoonshot, newMoonshot)
	return r
}

// Register installs or replaces the constructor for b and drops any cached
// model for it.
func (r *Registry) Register(b Backend, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[b] = c
	delete(r.models, b)
}

// Default returns the configured default backend.
func (r *Registry) Default() Backend { return r.cfg.Backend }

// Config returns the shared configuration.
func (r *Registry) Config() *Config { return r.cfg }

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Backend, 0, len(r.ctors))
	for b := range r.ctors {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// ChatModel returns the model for the named backend, constructing it on
// first use. An empty name selects the default backend. An unregistered
// name yields apperr.ErrUnknownCapability.
func (r *Registry) ChatModel(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	b := Backend(name)
	if b == "" {
		b = r.cfg.Backend
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[b]; ok {
		return m, nil
	}
	ctor, ok := r.ctors[b]
	if !ok {
		return nil, fmt.Errorf("provider: backend %q: %w", b, apperr.ErrUnknownCapability)
	}
	if slices.Contains(builtinBackends, b) {
		if err := r.cfg.validateFor(b); err != nil {
			return nil, err
		}
	}
	m, err := ctor(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("provider: create %s model: %w", b, err)
	}
	r.models[b] = m
	return m, nil
}

// New constructs the default backend's model from cfg after validating it.
func New(ctx context.Context, cfg *Config) (model.ToolCallingChatModel, error) {
	return NewRegistry(cfg).ChatModel(ctx, "")
}

// NewFromEnv is shorthand for New(ctx, ConfigFromEnv()).
func NewFromEnv(ctx context.Context) (model.ToolCallingChatModel, error) {
	return New(ctx, ConfigFromEnv())
}

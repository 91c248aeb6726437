package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/provider"
)

// LLMPinger reports whether a chat backend answers. It prefers the
// backend's token-free health endpoint and falls back to a one-token
// generation.
type LLMPinger struct {
	name  string
	probe func(ctx context.Context) error
}

// NewLLMPinger builds the probe for backend name. hc wins over m when both
// are set; with neither, every Ping fails.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	p := &LLMPinger{name: name}
	switch {
	case hc != nil:
		p.probe = hc.HealthCheck
	case m != nil:
		p.probe = func(ctx context.Context) error { return generateOnce(ctx, m, name) }
	default:
		p.probe = func(context.Context) error { return errors.New("no health endpoint and no model to probe") }
	}
	return p
}

// Name returns the backend label shown in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the probe.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.probe(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

// generateOnce asks m for a single token. It costs tokens on metered
// backends, so it is logged.
func generateOnce(ctx context.Context, m model.BaseChatModel, name string) error {
	logging.FromContext(ctx).Debug("readiness: probing chat model with a one-token generation",
		slog.String("backend", name),
	)
	resp, err := m.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned no message")
	}
	return nil
}

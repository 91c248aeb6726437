package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/budget"
	"github.com/54b3r/kbgraph-go/internal/logging"
	"github.com/54b3r/kbgraph-go/internal/store"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// ModelSource resolves a chat model by backend name; "" selects the default.
type ModelSource interface {
	ChatModel(ctx context.Context, name string) (model.ToolCallingChatModel, error)
}

// Turn is one prior message supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a plain chat call.
type Request struct {
	// Model is the backend name; empty selects the default provider.
	Model string `json:"model"`
	// SystemPrompt defaults to DefaultChatPrompt. Ignored by RAGChat.
	SystemPrompt string `json:"system_prompt"`
	Message      string `json:"message"`
	// History is caller-held context, appended after any stored session history.
	History []Turn `json:"history"`
	// Temperature and MaxTokens override the configured defaults when set.
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	// SessionID, when set, loads prior turns from the history store and
	// persists this turn after a successful answer.
	SessionID string `json:"session_id"`
}

// RAGRequest is a chat call grounded in one knowledge base.
type RAGRequest struct {
	Request
	KBUUID string `json:"kb_uuid"`
	TopK   int    `json:"top_k"`
}

// Config holds the dependencies of a Chatter.
type Config struct {
	// Models resolves chat models by name.
	Models ModelSource

	// Retriever is required for RAGChat.
	Retriever Retriever

	// History is the optional conversation store. If nil, each call is
	// stateless apart from Request.History.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// replay per session. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated input budget. Retrieved knowledge may
	// use half of it; history is trimmed oldest-first to fit the rest.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// Temperature and MaxTokens are the per-call defaults.
	Temperature float32
	MaxTokens   int
}

// Chatter runs plain and knowledge-grounded chats against eino chat models.
type Chatter struct {
	models           ModelSource
	retriever        Retriever
	history          store.ConversationStore
	historyDepth     int
	maxContextTokens int
	temperature      float32
	maxTokens        int
}

// New constructs a Chatter from cfg.
func New(cfg *Config) (*Chatter, error) {
	if cfg.Models == nil {
		return nil, fmt.Errorf("rag: model source must not be nil")
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Chatter{
		models:           cfg.Models,
		retriever:        cfg.Retriever,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
	}, nil
}

// Chat streams the model's answer to w chunk by chunk and returns the full
// answer.
func (c *Chatter) Chat(ctx context.Context, req *Request, w io.Writer) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", fmt.Errorf("rag: message is required: %w", apperr.ErrInvalidArgument)
	}
	system := req.SystemPrompt
	if system == "" {
		system = DefaultChatPrompt
	}
	return c.run(ctx, req, system, w)
}

// RAGChat retrieves the top-k chunks for the message, hands them to
// onMatches (when non-nil) before the model is called, then streams the
// answer to w. Retrieval failures are returned; the model is not called
// without its knowledge.
func (c *Chatter) RAGChat(ctx context.Context, req *RAGRequest, onMatches func([]vecstore.Match) error, w io.Writer) (string, error) {
	if c.retriever == nil {
		return "", fmt.Errorf("rag: no retriever configured")
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", fmt.Errorf("rag: message is required: %w", apperr.ErrInvalidArgument)
	}
	if req.KBUUID == "" {
		return "", fmt.Errorf("rag: kb_uuid is required: %w", apperr.ErrInvalidArgument)
	}

	matches, err := c.retriever.Retrieve(ctx, req.KBUUID, req.Message, req.TopK)
	if err != nil {
		return "", err
	}
	logging.FromContext(ctx).Debug("knowledge retrieved",
		slog.String("kb_id", req.KBUUID),
		slog.Int("matches", len(matches)),
	)
	if onMatches != nil {
		if err := onMatches(matches); err != nil {
			return "", err
		}
	}
	return c.run(ctx, &req.Request, KnowledgePrompt(matches, c.maxContextTokens/2), w)
}

func (c *Chatter) run(ctx context.Context, req *Request, system string, w io.Writer) (string, error) {
	messages, err := c.buildMessages(ctx, req, system)
	if err != nil {
		return "", err
	}

	m, err := c.models.ChatModel(ctx, req.Model)
	if err != nil {
		return "", err
	}

	temperature, maxTokens := c.temperature, c.maxTokens
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	opts := []model.Option{model.WithTemperature(temperature)}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	sr, err := m.Stream(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("rag: stream failed: %w", err)
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return answer.String(), fmt.Errorf("rag: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		answer.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return answer.String(), fmt.Errorf("rag: write error: %w", err)
		}
	}

	c.persist(ctx, req.SessionID, req.Message, answer.String())
	return answer.String(), nil
}

// persist stores the turn. Failures are logged, not returned: the answer has
// already been delivered.
func (c *Chatter) persist(ctx context.Context, session, question, answer string) {
	if c.history == nil || session == "" {
		return
	}
	if err := c.history.Append(ctx, session, store.RoleUser, question); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist user message", slog.Any("error", err))
		return
	}
	if err := c.history.Append(ctx, session, store.RoleAssistant, answer); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist assistant message", slog.Any("error", err))
	}
}

// buildMessages returns [system, ...history, user] with history trimmed
// oldest-first to the context budget.
func (c *Chatter) buildMessages(ctx context.Context, req *Request, system string) ([]*schema.Message, error) {
	var historyMsgs []*schema.Message
	if c.history != nil && req.SessionID != "" {
		prior, err := c.history.Recent(ctx, req.SessionID, c.historyDepth*2)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		}
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}
	for _, t := range req.History {
		msg, err := turnMessage(t)
		if err != nil {
			return nil, err
		}
		historyMsgs = append(historyMsgs, msg)
	}

	systemMsg := schema.SystemMessage(system)
	userMsg := schema.UserMessage(req.Message)

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory([]*schema.Message{systemMsg, userMsg}, historyMsgs, c.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", c.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(historyMsgs)+2)
	out = append(out, systemMsg)
	out = append(out, historyMsgs...)
	return append(out, userMsg), nil
}

func turnMessage(t Turn) (*schema.Message, error) {
	switch strings.ToLower(t.Role) {
	case "user":
		return schema.UserMessage(t.Content), nil
	case "assistant":
		return schema.AssistantMessage(t.Content, nil), nil
	case "system":
		return schema.SystemMessage(t.Content), nil
	default:
		return nil, fmt.Errorf("rag: history role %q: %w", t.Role, apperr.ErrInvalidArgument)
	}
}

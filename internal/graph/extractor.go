package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// Extractor produces entities and relationships from one source document.
type Extractor interface {
	Extract(ctx context.Context, doc SourceDocument, opts Options) (GraphDocument, error)
}

// LLMExtractor asks a chat model for a JSON description of the entities
// and relationships in a chunk.
type LLMExtractor struct {
	model model.BaseChatModel
}

// NewLLMExtractor returns an Extractor backed by m.
func NewLLMExtractor(m model.BaseChatModel) *LLMExtractor {
	return &LLMExtractor{model: m}
}

const extractionPrompt = `You are a knowledge graph extraction system.
Read the text supplied by the user and identify the entities it mentions and
the relationships between them.

Rules:
- Entity ids are the entity's name as written in the text, in a consistent form.
- Entity types are short, general categories such as Person or Organization.
- Relationship types are UPPER_SNAKE_CASE verbs such as WORKS_FOR.
- Only describe facts stated in the text.
%s
Respond with a single JSON object and nothing else, in this shape:
{"nodes":[{"id":"...","type":"..."}],
 "relationships":[{"source":"...","source_type":"...","target":"...","target_type":"...","type":"..."}]}`

func systemPrompt(opts Options) string {
	var b strings.Builder
	if len(opts.AllowedNodes) > 0 {
		fmt.Fprintf(&b, "- Use only these entity types: %s.\n", strings.Join(opts.AllowedNodes, ", "))
	}
	if len(opts.AllowedRelationships) > 0 {
		fmt.Fprintf(&b, "- Use only these relationship types: %s.\n", strings.Join(opts.AllowedRelationships, ", "))
	}
	return fmt.Sprintf(extractionPrompt, b.String())
}

type rawNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type rawRelationship struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
	Type       string `json:"type"`
}

type rawGraph struct {
	Nodes         []rawNode         `json:"nodes"`
	Relationships []rawRelationship `json:"relationships"`
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, doc SourceDocument, opts Options) (GraphDocument, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt(opts)),
		schema.UserMessage(doc.Text),
	}
	resp, err := e.model.Generate(ctx, msgs, model.WithTemperature(0))
	if err != nil {
		return GraphDocument{}, fmt.Errorf("graph: extract %s: %w: %w", doc.ID, apperr.ErrGraphExtractionFailed, err)
	}

	out, err := parseGraph(resp.Content)
	if err != nil {
		return GraphDocument{}, fmt.Errorf("graph: extract %s: %w: %w", doc.ID, apperr.ErrGraphExtractionFailed, err)
	}
	out.Source = doc
	return Filter(out, opts), nil
}

// parseGraph decodes the model's answer. Code fences and any prose around
// the outermost JSON object are ignored.
func parseGraph(content string) (GraphDocument, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return GraphDocument{}, fmt.Errorf("no JSON object in model output")
	}

	var raw rawGraph
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return GraphDocument{}, fmt.Errorf("decode model output: %w", err)
	}

	doc := GraphDocument{Nodes: []Node{}, Relationships: []Relationship{}}
	seen := make(map[string]bool)
	addNode := func(n Node) {
		if n.ID == "" || n.Type == "" || seen[n.key()] {
			return
		}
		seen[n.key()] = true
		doc.Nodes = append(doc.Nodes, n)
	}

	for _, n := range raw.Nodes {
		addNode(Node{ID: strings.TrimSpace(n.ID), Type: normalizeType(n.Type)})
	}
	for _, r := range raw.Relationships {
		rel := Relationship{
			Source: Node{ID: strings.TrimSpace(r.Source), Type: normalizeType(r.SourceType)},
			Target: Node{ID: strings.TrimSpace(r.Target), Type: normalizeType(r.TargetType)},
			Type:   normalizeRelType(r.Type),
		}
		if rel.Source.ID == "" || rel.Target.ID == "" || rel.Type == "" {
			continue
		}
		if rel.Source.Type == "" {
			rel.Source.Type = "Entity"
		}
		if rel.Target.Type == "" {
			rel.Target.Type = "Entity"
		}
		addNode(rel.Source)
		addNode(rel.Target)
		doc.Relationships = append(doc.Relationships, rel)
	}
	return doc, nil
}

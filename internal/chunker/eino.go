package chunker

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// Eino adapts the eino-ext recursive splitter to the Splitter interface.
type Eino struct {
	impl document.Transformer
}

// NewEino builds an eino recursive splitter measuring length in runes.
func NewEino(ctx context.Context, size, overlap int) (*Eino, error) {
	if err := ValidateConfig(size, overlap); err != nil {
		return nil, err
	}
	impl, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   size,
		OverlapSize: overlap,
		Separators:  []string{"\n\n", "\n", "。", ". ", " "},
		LenFunc: func(s string) int {
			return len([]rune(s))
		},
		KeepType: recursive.KeepTypeEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("chunker: eino splitter: %w", err)
	}
	return &Eino{impl: impl}, nil
}

// Split runs the eino transformer over a single document.
func (e *Eino) Split(ctx context.Context, text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	docs, err := e.impl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, fmt.Errorf("chunker: eino split: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil || d.Content == "" {
			continue
		}
		out = append(out, d.Content)
	}
	return out, nil
}

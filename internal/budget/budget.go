// Package budget estimates token counts and trims chat history so a request
// fits the model context. Chat backends use different tokenizers, so the
// estimate is a heuristic: one token per CJK character and one token per
// four characters of everything else.
package budget

import (
	"unicode"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio for alphabetic text.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input budget. It fits 8k-context
	// models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// wide reports whether r is a CJK character, which tokenizers encode as
// roughly one token each.
func wide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Estimate returns a rough token count for s. A non-empty string is at
// least one token.
func Estimate(s string) int {
	wideRunes, other := 0, 0
	for _, r := range s {
		if wide(r) {
			wideRunes++
		} else {
			other++
		}
	}
	n := wideRunes + other/charsPerToken
	if n == 0 && s != "" {
		return 1
	}
	return n
}

// EstimateMessages sums the estimate of role and content of each message
// plus the per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest turns of history until fixed plus history fit
// within maxTokens. fixed (system prompt with retrieved knowledge, current
// user message) is never trimmed. An assistant message left at the head
// after a drop is dropped too, so the model never sees an answer without
// its question. If fixed alone exceeds the budget the result is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
		for len(history) > 0 && history[0].Role == schema.Assistant {
			history = history[1:]
		}
	}
	return history
}

// FitTexts returns the longest prefix of texts whose estimated token total is
// within maxTokens. texts are expected in priority order, so the lowest-ranked
// entries go first. A non-positive maxTokens keeps everything.
func FitTexts(texts []string, maxTokens int) []string {
	if maxTokens <= 0 {
		return texts
	}
	used := 0
	for i, t := range texts {
		used += Estimate(t)
		if used > maxTokens {
			return texts[:i]
		}
	}
	return texts
}

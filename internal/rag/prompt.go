package rag

import (
	"fmt"
	"strings"

	"github.com/54b3r/kbgraph-go/internal/budget"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// DefaultChatPrompt is the system prompt of a plain chat without one.
const DefaultChatPrompt = "How can I assist you today?"

const ragPrompt = `- Role: knowledge retrieval and application expert
- Background: the user asks questions that should be answered from a knowledge base. Passages retrieved for the question are listed under Knowledge.
- Skills: you read the retrieved passages carefully, connect related facts and write accurate, detailed answers.
- Goals: answer the question using the retrieved knowledge.
- Constraints: base the answer on the retrieved knowledge and do not present unverified information as fact. If the knowledge does not cover the question, say so.
- OutputFormat: a structured answer listing the key points taken from the knowledge followed by the answer built on them.
- Workflow:
  1. Understand the question and its key terms.
  2. Read the retrieved knowledge and pick out what is relevant.
  3. Answer from the relevant knowledge, completely and precisely.
- Knowledge:
%s`

// KnowledgePrompt returns the RAG system prompt with the matched chunk texts
// listed in rank order. Chunks beyond maxTokens are dropped lowest rank
// first; a non-positive maxTokens keeps every chunk.
func KnowledgePrompt(matches []vecstore.Match, maxTokens int) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	texts = budget.FitTexts(texts, maxTokens)
	return fmt.Sprintf(ragPrompt, strings.Join(texts, "\n"))
}

package commands

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/rag"
	"github.com/54b3r/kbgraph-go/internal/tracing"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// NewChatCmd constructs the `kbg chat` command. Without --kb it is a plain
// chat; with --kb the answer is grounded in the knowledge base.
func NewChatCmd() *cobra.Command {
	var (
		kbID         string
		modelName    string
		systemPrompt string
		sessionID    string
		topK         int
		showSources  bool
	)

	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Ask a model a question, optionally grounded in a knowledge base",
		Long: `Stream a model's answer to stdout.

With --kb the most similar chunks of that knowledge base are retrieved and
placed in the system prompt before the model is called. --session loads and
persists conversation history in the local history store.

Examples:
  kbg chat "What is a vector store?"
  kbg chat --kb 3f2c... --sources "How do I rotate the API key?"
  kbg chat --model moonshot --session s1 "Summarise our last exchange"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handler, flush, ok := tracing.Setup(); ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
			}

			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{chat: true})
			if err != nil {
				return err
			}
			defer a.Close()

			req := rag.Request{
				Model:     modelName,
				Message:   strings.Join(args, " "),
				SessionID: sessionID,
			}
			out := cmd.OutOrStdout()

			if kbID == "" {
				req.SystemPrompt = systemPrompt
				if _, err := a.chatter.Chat(cmd.Context(), &req, out); err != nil {
					return fmt.Errorf("chat: %w", err)
				}
				fmt.Fprintln(out)
				return nil
			}

			var sources []vecstore.Match
			_, err = a.chatter.RAGChat(cmd.Context(), &rag.RAGRequest{Request: req, KBUUID: kbID, TopK: topK},
				func(m []vecstore.Match) error {
					sources = m
					return nil
				}, out)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			fmt.Fprintln(out)

			if showSources {
				errOut := cmd.ErrOrStderr()
				fmt.Fprintln(errOut, "\nsources:")
				for _, m := range sources {
					fmt.Fprintf(errOut, "  %.4f  %s (%s)\n", m.Similarity, m.SourceFilename, m.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kbID, "kb", "", "Ground the answer in this knowledge base")
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Provider backend to use (default: MODEL_PROVIDER)")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt for plain chat")
	cmd.Flags().StringVar(&sessionID, "session", "", "Conversation id for persisted history")
	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "Chunks to retrieve with --kb")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved chunks to stderr after the answer")
	return cmd
}

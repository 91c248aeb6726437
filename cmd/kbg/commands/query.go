package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/rag"
)

// NewQueryCmd constructs the `kbg query` command.
func NewQueryCmd() *cobra.Command {
	var topK int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query KB_UUID TEXT...",
		Short: "Return the chunks most similar to TEXT",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args[1:], " ")
			matches, err := a.svc.Query(cmd.Context(), args[0], text, topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), matches)
			}
			out := cmd.OutOrStdout()
			for i, m := range matches {
				fmt.Fprintf(out, "[%d] %.4f  %s (%s)\n", i+1, m.Similarity, m.SourceFilename, m.ID)
				fmt.Fprintf(out, "    %s\n\n", strings.ReplaceAll(m.Text, "\n", "\n    "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "Number of matches to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print matches as JSON")
	return cmd
}

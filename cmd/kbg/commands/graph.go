package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/knowledge"
)

// NewGraphCmd constructs the `kbg graph` command group.
func NewGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build or remove a knowledge base's contribution to the knowledge graph",
		Long: `The knowledge graph is shared by all knowledge bases. Each kb contributes
document nodes for its chunks plus the entities an LLM extracted from them.

Requires GRAPH_BACKEND (neo4j or memory). The extraction model is selected
with GRAPH_EXTRACT_PROVIDER and defaults to MODEL_PROVIDER.`,
	}
	cmd.AddCommand(newGraphBuildCmd(), newGraphDeleteCmd())
	return cmd
}

func newGraphBuildCmd() *cobra.Command {
	var opts graph.Options
	cmd := &cobra.Command{
		Use:   "build KB_UUID",
		Short: "Extract entities from the kb's chunks and merge them into the graph",
		Long: `Run entity extraction over every vector record of the kb and merge the
results into the graph store.

Examples:
  kbg graph build 3f2c...
  kbg graph build 3f2c... --allow-nodes Person,Organization --allow-relationships WORKS_AT --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.BuildGraph(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("graph build: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documents: %d\nnodes: %d\nrelationships: %d\n",
				res.Documents, res.Nodes, res.Relationships)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&opts.AllowedNodes, "allow-nodes", nil, "Restrict extracted node types (comma-separated)")
	cmd.Flags().StringSliceVar(&opts.AllowedRelationships, "allow-relationships", nil, "Restrict extracted relationship types (comma-separated)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Drop nodes and relationships outside the allow lists")
	return cmd
}

func newGraphDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KB_UUID",
		Short: "Remove the kb's documents and exclusive entities from the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteByLevel(cmd.Context(), args[0], knowledge.LevelGraph); err != nil {
				return fmt.Errorf("graph delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph contribution of %s deleted\n", args[0])
			return nil
		},
	}
}

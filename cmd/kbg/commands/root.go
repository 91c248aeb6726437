// Package commands defines all Cobra CLI commands for the kbg binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/audit"
	"github.com/54b3r/kbgraph-go/internal/config"
	"github.com/54b3r/kbgraph-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbg",
		Short: "kbg: knowledge bases, vector search and knowledge graphs",
		Long: `kbg manages named knowledge bases of uploaded documents.

Documents are chunked and embedded into a per-kb vector store that answers
similarity queries, and entities extracted by an LLM are merged into a
shared knowledge graph. Chat can be plain or grounded in a knowledge base.

Providers are selected via environment variables (MODEL_PROVIDER,
EMBEDDING_PROVIDER, GRAPH_BACKEND, ...) or a YAML config file
(~/.kbg/config.yaml). See 'kbg --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Re-create the logger so LOG_* values from the file apply.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbg/config.yaml)")

	root.AddCommand(
		NewKBCmd(),
		NewFileCmd(),
		NewVectorsCmd(),
		NewQueryCmd(),
		NewGraphCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

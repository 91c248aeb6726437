package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewVectorsCmd constructs the `kbg vectors` command group.
func NewVectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Manage the vector store of a knowledge base",
	}
	cmd.AddCommand(newVectorsGenerateCmd())
	return cmd
}

func newVectorsGenerateCmd() *cobra.Command {
	var chunkSize, chunkOverlap int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "generate KB_UUID",
		Short: "Rebuild the vector store from every file in the knowledge base",
		Long: `Reset the kb's vector store, then load, chunk and embed each file in
upload order. Files processed before a failure keep their vectors.

Chunking defaults come from CHUNK_SIZE and CHUNK_OVERLAP (500 and 100 when
unset). Passing --chunk-size 0 selects both defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{
				progress: progressTo(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.GenerateVectors(cmd.Context(), args[0], chunkSize, chunkOverlap)
			if err != nil {
				if res.Total > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "kept %d record(s) from %d file(s) before the failure\n", res.Total, len(res.Files))
				}
				return fmt.Errorf("vectors generate: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE_UUID\tFILENAME\tCHUNKS")
			for _, f := range res.Files {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", f.FileUUID, f.Filename, f.Chunks)
			}
			fmt.Fprintf(tw, "\t total\t%d\n", res.Total)
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", envInt("CHUNK_SIZE", 0), "Maximum chunk length in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", envInt("CHUNK_OVERLAP", 0), "Characters shared by consecutive chunks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

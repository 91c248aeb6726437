package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/knowledge"
)

// NewKBCmd constructs the `kbg kb` command group.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Create, inspect and delete knowledge bases",
	}
	cmd.AddCommand(newKBCreateCmd(), newKBListCmd(), newKBInfoCmd(), newKBDeleteCmd(), newKBClearCmd())
	return cmd
}

func newKBCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty knowledge base and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.svc.Create(cmd.Context(), args[0], description)
			if err != nil {
				return fmt.Errorf("kb create: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description")
	return cmd
}

func newKBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KB_UUID\tNAME\tFILES\tDESCRIPTION")
			for _, k := range a.svc.List(cmd.Context()) {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", k.ID, k.Name, len(k.Files), k.Description)
			}
			return tw.Flush()
		},
	}
}

func newKBInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info KB_UUID",
		Short: "Show files, vector count and graph documents of a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.svc.Info(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("kb info: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kb_uuid:          %s\n", info.ID)
			fmt.Fprintf(out, "name:             %s\n", info.Name)
			if info.Description != "" {
				fmt.Fprintf(out, "description:      %s\n", info.Description)
			}
			fmt.Fprintf(out, "vectors:          %d\n", info.Vectors)
			fmt.Fprintf(out, "graph documents:  %d\n", info.GraphDocuments)
			fmt.Fprintf(out, "files:            %d\n", len(info.OrderedFiles))
			for _, f := range info.OrderedFiles {
				fmt.Fprintf(out, "  %3d  %s  %s\n", f.Seq, f.ID, f.Filename)
			}
			return nil
		},
	}
}

func newKBDeleteCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "delete KB_UUID",
		Short: "Delete a knowledge base's graph contribution, vectors, or everything",
		Long: `Delete data belonging to one knowledge base.

  --level graph  remove the kb's graph contribution only
  --level vec    reset the vector store to empty (files are kept)
  --level all    remove the graph contribution, the kb directory and its
                 registry entry (default)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := knowledge.ParseLevel(level)
			if err != nil {
				return err
			}
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteByLevel(cmd.Context(), args[0], lvl); err != nil {
				return fmt.Errorf("kb delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (level %s)\n", args[0], lvl)
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", string(knowledge.LevelAll), "What to delete: graph, vec or all")
	return cmd
}

func newKBClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("kb clear: refusing to delete every knowledge base without --yes")
			}
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("kb clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d knowledge base(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion of all knowledge bases")
	return cmd
}

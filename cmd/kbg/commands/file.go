package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

// NewFileCmd constructs the `kbg file` command group.
func NewFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Upload files to and download files from a knowledge base",
	}
	cmd.AddCommand(newFileUploadCmd(), newFileGetCmd())
	return cmd
}

func newFileUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload KB_UUID PATH...",
		Short: "Store one or more local files in a knowledge base",
		Long: `Store local files in a knowledge base. Each file is copied under the
kb directory and receives a file id; vectors are not generated until
'kbg vectors generate' runs.

Examples:
  kbg file upload 3f2c... ./handbook.pdf ./faq.md`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			kbID := args[0]
			for _, path := range args[1:] {
				name := filepath.Base(path)
				if !a.formats.Supports(name) {
					return fmt.Errorf("file upload %s (accepted: %s): %w",
						name, strings.Join(a.formats.Extensions(), ", "), apperr.ErrUnsupportedFormat)
				}
				id, err := uploadOne(cmd, a, kbID, path, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, name)
			}
			return nil
		},
	}
}

func uploadOne(cmd *cobra.Command, a *app, kbID, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("file upload: %w", err)
	}
	defer f.Close()
	id, err := a.svc.Upload(cmd.Context(), kbID, name, f)
	if err != nil {
		return "", fmt.Errorf("file upload %s: %w", name, err)
	}
	return id, nil
}

func newFileGetCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get KB_UUID FILE_UUID",
		Short: "Write a stored file to stdout or to --output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildService(cmd.Context(), commandLogger(cmd), serviceOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			rec, f, err := a.svc.OpenFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("file get: %w", err)
			}
			defer f.Close()

			var dst io.Writer = cmd.OutOrStdout()
			if output != "" {
				if st, err := os.Stat(output); err == nil && st.IsDir() {
					output = filepath.Join(output, rec.Filename)
				}
				out, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("file get: %w", err)
				}
				defer out.Close()
				dst = out
			}
			if _, err := io.Copy(dst, f); err != nil {
				return fmt.Errorf("file get: copy %s: %w", rec.Filename, err)
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory (default: stdout)")
	return cmd
}

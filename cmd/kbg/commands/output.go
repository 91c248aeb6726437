package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

// printJSON writes v to w as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandLogger returns the logger installed by the root PersistentPreRunE.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	return logging.FromContext(cmd.Context())
}

// progressTo returns a Progress callback that prints each line to w.
func progressTo(w io.Writer) func(string) {
	return func(msg string) { fmt.Fprintln(w, msg) }
}

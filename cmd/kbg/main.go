// Command kbg is the entry point for the knowledge base and graph service.
// It provides a CLI interface (via Cobra) for managing knowledge bases,
// generating vectors, building graphs and chatting, plus an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbgraph-go/cmd/kbg/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

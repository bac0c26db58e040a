// Command ragflow runs the RAG query orchestrator: the worker pool, the
// HTTP gateway, and one-shot queries or replays from the shell.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

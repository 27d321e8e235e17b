// Sanctuary classifies requests and routes them to specialist workers.
//
// Usage:
//
//	sanctuary init                  # Create .sanctuary/ with config and ledger
//	sanctuary analyze <request>     # Classify and assign workers
//	sanctuary learn <id> --success  # Report an outcome
//	sanctuary serve                 # MCP tool server over stdio
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cammy/sanctuary/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// Command attic manages image attachments across the cache, permanent and
// backup storage tiers.
//
// Usage:
//
//	attic [--config FILE] <command> [args]
//
// Commands:
//
//	serve     - run the HTTP API
//	ingest    - decode a source image into the cache tier
//	move      - transfer an attachment between tiers
//	rm        - delete an attachment from one tier
//	clear     - sweep the cache, backup or every tier
//	orphans   - list or reconcile source files left behind by transfers
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"attic/cmd/attic/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		slog.Error("Attic exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

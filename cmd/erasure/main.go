// Command erasure sends personal-data deletion requests for every row of an
// input CSV and waits for the sites to confirm.
//
// Subcommands:
//   - run: process the input records, one deletion request per row.
//   - crawl: look up the privacy contacts of a single site.
//   - status: print the task ledger.
//   - serve: expose the ledger, crawler and composer over HTTP.
//
// Configuration comes from an optional file (--config) and ERASURE_* env
// vars; see internal/config for the keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "erasure:", err)
		os.Exit(1)
	}
}

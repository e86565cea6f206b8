// Command billingctl runs operational billing tasks: usage inspection,
// stuck-run sweeps, manual overrides and subscription reconciliation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cleanup := newRootCmd(openApp)
	defer cleanup()

	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

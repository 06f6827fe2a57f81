// Command benchctl is the distributed database-benchmarking control plane:
// run/stop/status for operating runs, and coordinator/worker daemon
// entrypoints, per spec §6.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/benchctl/benchctl/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := cli.Root()
	err := root.ExecuteContext(ctx)
	if err == nil {
		os.Exit(0)
	}

	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if ec.ExitCode() != 0 {
			root.PrintErrln(err)
		}
		os.Exit(ec.ExitCode())
	}

	root.PrintErrln(err)
	os.Exit(1)
}

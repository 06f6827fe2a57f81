package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benchctl/benchctl/internal/coordinator"
)

// Stop builds the `stop` subcommand (spec §6: "requests STOP (or ABORT with
// --abort)").
func Stop() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Request a graceful STOP, or ABORT, of a running run",
		Long: `Issue a STOP (graceful drain honoring stop_grace) or, with --abort, an
ABORT (force-cancel within abort_grace) control event for a run.

Flags:
  --run-id string   (required) run ID
  --abort           request ABORT instead of a graceful STOP

Exit codes: 0 on acknowledgement.
`,
	}
	cmd.Flags().Bool("abort", false, "request ABORT instead of a graceful STOP")
	return NewCommand(cmd, []commandLineFlag{runIDFlag}, runStop)
}

func runStop(ctx *cliContext, _ []string) error {
	runID, err := ctx.StringParam("run-id")
	if err != nil {
		return err
	}
	abort, err := ctx.BoolParam("abort")
	if err != nil {
		return err
	}

	coord := coordinator.New(ctx.Runs, ctx.Bus, ctx.Store, coordinator.Config{}, ctx.Logger)
	if err := coord.Stop(ctx.Context, runID, abort); err != nil {
		return fmt.Errorf("stop run %s: %w", runID, err)
	}
	return nil
}

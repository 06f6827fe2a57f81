package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// Status builds the `status` subcommand (spec §6: "prints current run
// status as machine-readable").
func Status() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print a run's current status as JSON",
			Long: `Look up a run by ID and print its current Run row as JSON.

Flags:
  --run-id string   (required) run ID

Exit codes: 0 found, 4 not found.
`,
		}, []commandLineFlag{runIDFlag}, runStatus,
	)
}

func runStatus(ctx *cliContext, _ []string) error {
	runID, err := ctx.StringParam("run-id")
	if err != nil {
		return newExitError(4, err)
	}

	run, err := ctx.Runs.GetRun(ctx.Context, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run == nil {
		return newExitError(4, fmt.Errorf("run %s not found", runID))
	}

	enc := json.NewEncoder(ctx.Command.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

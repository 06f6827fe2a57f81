package cli

import (
	"github.com/spf13/cobra"
)

// Root assembles the benchctl root command: run, stop, status, plus the
// coordinator and worker daemon entrypoints, with the process-configuration
// flags (bus-dsn, coordinator.host/port, peer.*, log-format, ...) declared
// once as persistent flags every subcommand inherits.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "benchctl",
		Short: "Distributed database-benchmarking control plane",
		Long: `benchctl drives and observes distributed database-benchmark runs: a
coordinator admits scenarios and steers load mode (FIXED_CONCURRENCY,
TARGET_QPS, FIND_MAX_CONCURRENCY), workers execute the configured query
mix against one target adapter each, and the run/stop/status commands are
the minimal CLI surface for operating it without the UI layer.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, f := range processFlags {
		root.PersistentFlags().StringP(f.name, f.shorthand, f.defaultValue, f.usage)
	}

	root.AddCommand(Run())
	root.AddCommand(Stop())
	root.AddCommand(Status())
	root.AddCommand(CmdCoordinator())
	root.AddCommand(CmdWorker())

	return root
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benchctl/benchctl/internal/adapter"
	"github.com/benchctl/benchctl/internal/model"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/scenario"
	"github.com/benchctl/benchctl/internal/valuepool"
	"github.com/benchctl/benchctl/internal/worker"
)

// CmdWorker builds the `worker` daemon subcommand (SPEC_FULL §10.4): a
// standalone process that joins an already-admitted run over the bus,
// either in-process (local/sqlite --bus-dsn) or remotely against a
// coordinator's HTTP bus API (an http(s) --bus-dsn, via
// internal/bus/httpclient). It blocks until the worker reaches a terminal
// state (STOP drained, ABORT forced, or the run itself goes terminal).
func CmdWorker() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "worker",
			Short: "Run one worker process (C3) against an admitted run",
			Long: `Join an already-admitted run as a single worker: execute the scenario's
query mix against its target adapter, heartbeat, and honor STOP/ABORT
control events, until the worker or run reaches a terminal state.

Flags:
  --scenario string   (required) path to the same scenario YAML the run was
                       admitted with
  --run-id string     (required) run ID to join

Exit codes: 0 on a clean worker exit, 1 on a worker error, 3 on an
unreadable or invalid scenario file.
`,
		}, []commandLineFlag{scenarioFlag, runIDFlag}, runWorkerDaemon,
	)
}

func runWorkerDaemon(ctx *cliContext, _ []string) error {
	scenarioPath, err := ctx.StringParam("scenario")
	if err != nil {
		return newExitError(3, err)
	}
	runID, err := ctx.StringParam("run-id")
	if err != nil {
		return newExitError(3, err)
	}

	scenarioBytes, err := os.ReadFile(scenarioPath)
	if err != nil {
		return newExitError(3, fmt.Errorf("read scenario file: %w", err))
	}
	sc, err := scenario.Parse(scenarioBytes)
	if err != nil {
		return newExitError(3, err)
	}

	obsShutdown, err := startObservability(ctx, "benchctl-worker")
	if err != nil {
		return fmt.Errorf("start observability: %w", err)
	}
	defer obsShutdown()

	ad, err := adapter.New(sc.Target.Adapter)
	if err != nil {
		return fmt.Errorf("construct adapter %q: %w", sc.Target.Adapter, err)
	}

	pools := make(map[model.QueryKind]valuepool.Pool, len(sc.Operations))
	for kind := range sc.Operations {
		pools[kind] = valuepool.NewComputed(func(n uint64) []any { return nil })
	}

	workerID := model.NewWorkerID()
	w := worker.New(worker.Config{
		RunID:             runID,
		WorkerID:          workerID,
		Bus:               ctx.Bus,
		Adapter:           ad,
		Params:            adapter.ConnParams{DSN: sc.Target.DSN, Params: sc.Target.Params},
		Scenario:          sc,
		Pools:             pools,
		HeartbeatInterval: ctx.Config.HeartbeatPollInterval,
		PollInterval:      ctx.Config.ControlEventPollInterval,
		StopGrace:         ctx.Config.StopGrace,
		AbortGrace:        ctx.Config.AbortGrace,
		Seed:              int64(os.Getpid()),
		Metrics:           ctx.Metrics,
		Logger:            ctx.Logger,
	})

	obslog.Info(ctx.Context, ctx.Logger, "worker starting", "run_id", runID, "worker_id", workerID)
	if err := w.Run(ctx.Context); err != nil {
		return fmt.Errorf("worker run: %w", err)
	}
	return nil
}

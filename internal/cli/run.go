package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/benchctl/benchctl/internal/adapter"
	"github.com/benchctl/benchctl/internal/coordinator"
	"github.com/benchctl/benchctl/internal/model"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/notify"
	"github.com/benchctl/benchctl/internal/scenario"
	"github.com/benchctl/benchctl/internal/valuepool"
	"github.com/benchctl/benchctl/internal/worker"
)

// Run builds the `run` subcommand (spec §6: "starts a run, waits for
// terminal status").
func Run() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start a benchmark run and wait for its terminal status",
			Long: `Admit a scenario, drive it to a terminal status (COMPLETED, FAILED, or
CANCELLED), and exit with the code matching that status.

Flags:
  --scenario string   (required) path to the scenario YAML file
  --run-id string     (optional) run ID to use instead of a generated one

Exit codes: 0 COMPLETED, 1 FAILED, 2 CANCELLED, 3 bad config.
`,
		}, []commandLineFlag{scenarioFlag, withOptional(runIDFlag)}, runRun,
	)
}

// withOptional strips the required marker a shared flag var carries, for
// subcommands (like `run`) where the same flag name is optional.
func withOptional(f commandLineFlag) commandLineFlag {
	f.required = false
	return f
}

func runRun(ctx *cliContext, _ []string) error {
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

	obsShutdown, err := startObservability(ctx, "benchctl-run")
	if err != nil {
		return newExitError(3, fmt.Errorf("start observability: %w", err))
	}
	defer obsShutdown()

	coordCfg := coordinator.Config{
		RegistrationGrace: ctx.Config.RegistrationGrace,
		PollInterval:      ctx.Config.ControlEventPollInterval,
		LivenessTimeout:   ctx.Config.LivenessTimeout,
		MaxDeadFraction:   ctx.Config.MaxDeadFraction,
		Metrics:           ctx.Metrics,
	}
	coord := coordinator.New(ctx.Runs, ctx.Bus, ctx.Store, coordCfg, ctx.Logger)

	run, err := coord.Admit(ctx.Context, scenarioBytes, runID)
	if err != nil {
		return newExitError(3, fmt.Errorf("admit scenario: %w", err))
	}

	sc, err := scenario.Parse(scenarioBytes)
	if err != nil {
		return newExitError(3, err)
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	var wg sync.WaitGroup
	workerCount := scenario.ExpectedWorkersOrDefault(sc)
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runWorker(runCtx, ctx, run.RunID, sc, i)
		}(i)
	}

	coordErr := coord.Run(runCtx, run.RunID)
	cancel()
	wg.Wait()

	if coordErr != nil {
		return newExitError(1, coordErr)
	}

	final, err := ctx.Store.GetRun(ctx.Context, run.RunID)
	if err != nil {
		return newExitError(1, err)
	}

	if sc.Notify.WebhookURL != "" {
		notify.New(ctx.Logger).Notify(ctx.Context, sc.Notify.WebhookURL, notify.SummaryFromRun(final))
	}

	switch final.Status {
	case model.StatusCompleted:
		obslog.Info(ctx.Context, ctx.Logger, "run completed", "run_id", final.RunID)
		return nil
	case model.StatusCancelled:
		return newExitError(2, fmt.Errorf("run %s cancelled: %s", final.RunID, final.ReasonCode))
	default:
		return newExitError(1, fmt.Errorf("run %s failed: %s: %s", final.RunID, final.ReasonCode, final.ReasonMessage))
	}
}

// runWorker builds and runs one in-process Worker (C3) against the
// scenario's target, logging rather than failing the CLI if a single
// worker's adapter cannot be constructed -- the coordinator's own liveness
// monitoring (max_dead_fraction) decides whether that's fatal to the run.
func runWorker(ctx context.Context, cctx *cliContext, runID string, sc *scenario.Scenario, index int) {
	ad, err := adapter.New(sc.Target.Adapter)
	if err != nil {
		obslog.Error(ctx, cctx.Logger, "failed to construct adapter for worker", "err", err, "adapter", sc.Target.Adapter)
		return
	}

	pools := make(map[model.QueryKind]valuepool.Pool, len(sc.Operations))
	for kind := range sc.Operations {
		pools[kind] = valuepool.NewComputed(func(n uint64) []any { return nil })
	}

	w := worker.New(worker.Config{
		RunID:             runID,
		WorkerID:          model.NewWorkerID(),
		Bus:               cctx.Bus,
		Adapter:           ad,
		Params:            adapter.ConnParams{DSN: sc.Target.DSN, Params: sc.Target.Params},
		Scenario:          sc,
		Pools:             pools,
		HeartbeatInterval: cctx.Config.HeartbeatPollInterval,
		PollInterval:      cctx.Config.ControlEventPollInterval,
		StopGrace:         cctx.Config.StopGrace,
		AbortGrace:        cctx.Config.AbortGrace,
		Seed:              int64(index),
		Metrics:           cctx.Metrics,
		Logger:            cctx.Logger,
	})
	if err := w.Run(ctx); err != nil {
		obslog.Warn(ctx, cctx.Logger, "worker exited with error", "err", err, "run_id", runID)
	}
}

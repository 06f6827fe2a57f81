// Package cli implements the benchctl command-line surface of spec §6:
// run, stop, status, plus the coordinator and worker daemon entrypoints.
// It follows the teacher's NewCommand(cmd, flags, run) pattern
// (internal/cli/stop.go, internal/cli/coordinator.go): each subcommand is a
// small file declaring a cobra.Command, its flag slice, and a run...
// function taking a shared *cliContext.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/benchctl/benchctl/internal/bus"
	"github.com/benchctl/benchctl/internal/bus/httpclient"
	"github.com/benchctl/benchctl/internal/config"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/obs/metrics"
	"github.com/benchctl/benchctl/internal/runstore"
	"github.com/benchctl/benchctl/internal/store"
	"github.com/benchctl/benchctl/internal/store/memstore"
	"github.com/benchctl/benchctl/internal/store/sqlstore"
)

// commandLineFlag declares one cobra string flag, mirroring the teacher's
// cmd/config.go commandLineFlag struct.
type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
}

func withRequired(f commandLineFlag) commandLineFlag {
	f.required = true
	f.usage = fmt.Sprintf("%s (required)", f.usage)
	return f
}

// Process-configuration flags, bound to internal/config.Config the way the
// teacher's --coordinator.host/--peer.cert-file flags bind to
// config.Config (SPEC_FULL §10.3).
var (
	busDSNFlag = commandLineFlag{
		name:  "bus-dsn",
		usage: "control-bus store DSN: empty for in-memory, a sqlite path, or an http(s) URL of a remote coordinator",
	}
	coordinatorHostFlag = commandLineFlag{
		name:         "coordinator.host",
		defaultValue: "127.0.0.1",
		usage:        "host address the coordinator gRPC health server binds to",
	}
	coordinatorPortFlag = commandLineFlag{
		name:         "coordinator.port",
		defaultValue: "50055",
		usage:        "port the coordinator gRPC health server listens on",
	}
	busListenAddrFlag = commandLineFlag{
		name:         "bus-listen-addr",
		defaultValue: ":8089",
		usage:        "listen address for the coordinator's HTTP bus API (internal/bus/httpapi)",
	}
	peerCertFileFlag     = commandLineFlag{name: "peer.cert-file", usage: "TLS certificate file for peer connections"}
	peerKeyFileFlag      = commandLineFlag{name: "peer.key-file", usage: "TLS key file for peer connections"}
	peerClientCAFileFlag = commandLineFlag{name: "peer.client-ca-file", usage: "CA file for mTLS client verification"}
	metricsListenFlag    = commandLineFlag{name: "metrics-listen-addr", defaultValue: ":9090", usage: "Prometheus /metrics listen address"}
	otlpEndpointFlag     = commandLineFlag{name: "otlp-endpoint", usage: "OTLP collector endpoint for traces"}
	logFormatFlag        = commandLineFlag{name: "log-format", defaultValue: "text", usage: "log format: text or json"}

	processFlags = []commandLineFlag{
		busDSNFlag, coordinatorHostFlag, coordinatorPortFlag, busListenAddrFlag,
		peerCertFileFlag, peerKeyFileFlag, peerClientCAFileFlag,
		metricsListenFlag, otlpEndpointFlag, logFormatFlag,
	}
)

// Per-subcommand flags (spec §6's CLI surface table).
var (
	scenarioFlag = withRequired(commandLineFlag{name: "scenario", usage: "path to the scenario YAML file"})
	runIDFlag    = withRequired(commandLineFlag{name: "run-id", usage: "run ID"})
)

// cliContext is the shared handle every subcommand's run func receives. It
// embeds context.Context so it can be passed anywhere a context.Context is
// expected, matching the teacher's *Context usage in internal/cli/restart.go
// (e.g. "ctx.ProcStore.TryLock(ctx, ...)" passing the *Context itself).
type cliContext struct {
	context.Context
	Command *cobra.Command
	Config  *config.Config
	// Store and Runs are non-nil only for a local/sqlite bus-dsn: the
	// run/stop/status subcommands read and write run rows directly. A
	// remote (http/https) bus-dsn leaves both nil since httpclient.Client
	// only implements the narrower bus.Bus surface, not store.Store.
	Store store.Store
	Runs  runstore.RunStore
	// Bus is always populated: bus.Local(Store) for a local/sqlite
	// bus-dsn, or an httpclient.Client for a remote one. The worker
	// daemon only ever needs Bus.
	Bus    bus.Bus
	Logger *slog.Logger

	// Metrics is a process-wide Prometheus registry (SPEC_FULL §12); Gatherer
	// is the same underlying *prometheus.Registry, served at
	// --metrics-listen-addr by the coordinator/worker daemons via promhttp.
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
}

// StringParam reads a string flag, unquoting a JSON-style quoted value the
// way dagu's internal/cmd.Context.StringParam tolerates a shell that left
// surrounding quotes in place.
func (c *cliContext) StringParam(name string) (string, error) {
	v, err := c.Command.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("flag %q: %w", name, err)
	}
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		if unquoted, uerr := strconv.Unquote(v); uerr == nil {
			return unquoted, nil
		}
	}
	return v, nil
}

// BoolParam reads a bool flag (the --abort flag of the stop subcommand).
func (c *cliContext) BoolParam(name string) (bool, error) {
	return c.Command.Flags().GetBool(name)
}

// isRemoteDSN reports whether dsn addresses a remote coordinator's bus
// HTTP API (internal/bus/httpclient) rather than a directly readable
// store.Store.
func isRemoteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://")
}

// openStore opens the store.Store a local/sqlite bus-dsn names: empty for
// an in-process run, otherwise a sqlite path (see config.Config.BusDSN).
// Callers must not pass a remote dsn; see isRemoteDSN.
func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		return memstore.New(), nil
	}
	return sqlstore.Open(dsn)
}

// NewCommand wires the given string flags onto cmd, merges root's
// persistent process flags into a config.Config, opens the configured
// store, and runs run with the resulting *cliContext -- the teacher's
// NewCommand(cmd, flags, run) pattern (internal/cli/stop.go).
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, run func(*cliContext, []string) error) *cobra.Command {
	for _, f := range flags {
		cmd.Flags().StringP(f.name, f.shorthand, f.defaultValue, f.usage)
		if f.required {
			_ = cmd.MarkFlagRequired(f.name)
		}
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		for _, f := range processFlags {
			if flag := cmd.Flags().Lookup(f.name); flag != nil {
				_ = v.BindPFlag(f.name, flag)
			}
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		logger := obslog.New(level, cfg.LogFormat)

		promReg := prometheus.NewRegistry()
		cctx := &cliContext{
			Context:  cmd.Context(),
			Command:  cmd,
			Config:   cfg,
			Logger:   logger,
			Metrics:  metrics.NewRegistry(promReg),
			Gatherer: promReg,
		}

		if isRemoteDSN(cfg.BusDSN) {
			cctx.Bus = httpclient.New(cfg.BusDSN)
		} else {
			st, err := openStore(cfg.BusDSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()
			cctx.Store = st
			cctx.Runs = runstore.New(st)
			cctx.Bus = bus.Local(st)
		}

		return run(cctx, args)
	}

	return cmd
}

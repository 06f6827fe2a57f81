package cli

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	obslog "github.com/benchctl/benchctl/internal/obs/log"
	"github.com/benchctl/benchctl/internal/obs/trace"
)

// startObservability wires up the two additive observability surfaces
// (SPEC_FULL §12) shared by every long-running subcommand: an OTLP tracer
// (no-op unless --otlp-endpoint is set) and a Prometheus /metrics endpoint
// on --metrics-listen-addr. It returns a shutdown func to defer.
func startObservability(ctx *cliContext, serviceName string) (shutdown func(), err error) {
	traceShutdown, err := trace.Setup(ctx.Context, serviceName, ctx.Config.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctx.Gatherer, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: ctx.Config.MetricsListenAddr, Handler: mux}
	go func() {
		obslog.Info(ctx.Context, ctx.Logger, "metrics listening", "addr", ctx.Config.MetricsListenAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.Warn(ctx.Context, ctx.Logger, "metrics server stopped", "err", err)
		}
	}()

	return func() {
		_ = metricsSrv.Close()
		_ = traceShutdown(context.Background())
	}, nil
}

package cli

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/benchctl/benchctl/internal/bus/httpapi"
	"github.com/benchctl/benchctl/internal/coordinator"
	obslog "github.com/benchctl/benchctl/internal/obs/log"
)

// CmdCoordinator builds the `coordinator` daemon subcommand, following the
// teacher's internal/cli/coordinator.go: a gRPC server exposing only the
// standard health service, guarded by the same peer TLS flags, run
// alongside the HTTP bus API (internal/bus/httpapi) that workers long-poll.
func CmdCoordinator() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "coordinator",
			Short: "Run the coordinator daemon: HTTP bus API plus a gRPC health endpoint",
			Long: `Launch the coordinator daemon. On startup it marks any run left
non-terminal by a prior crash FAILED (reason COORDINATOR_RESTART); such a
run is not resumed. It then serves:

  - the HTTP bus API (internal/bus/httpapi) workers poll for control
    events and report heartbeats/metrics against, on --bus-listen-addr
  - a gRPC health endpoint on --coordinator.host:--coordinator.port,
    optionally TLS-secured via --peer.cert-file/--peer.key-file/
    --peer.client-ca-file

This process runs continuously in the foreground until terminated.
`,
		}, nil, runCoordinatorDaemon,
	)
}

func runCoordinatorDaemon(ctx *cliContext, _ []string) error {
	if ctx.Store == nil {
		return fmt.Errorf("coordinator requires a local or sqlite bus-dsn, not a remote one: it owns the run store workers and clients read through the bus HTTP API")
	}

	obsShutdown, err := startObservability(ctx, "benchctl-coordinator")
	if err != nil {
		return fmt.Errorf("start observability: %w", err)
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

	if err := coord.Recover(ctx.Context); err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}

	busServer := httpapi.NewServer(ctx.Bus, ctx.Logger)
	httpSrv := &http.Server{Addr: ctx.Config.BusListenAddr, Handler: busServer.Router()}
	go func() {
		obslog.Info(ctx.Context, ctx.Logger, "bus HTTP API listening", "addr", ctx.Config.BusListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.Error(ctx.Context, ctx.Logger, "bus HTTP API stopped", "err", err)
		}
	}()
	defer func() { _ = httpSrv.Close() }()

	grpcServer, listener, err := newHealthServer(ctx)
	if err != nil {
		return err
	}
	go func() {
		obslog.Info(ctx.Context, ctx.Logger, "gRPC health server listening",
			"host", ctx.Config.CoordinatorHost, "port", ctx.Config.CoordinatorPort)
		if err := grpcServer.Serve(listener); err != nil {
			obslog.Error(ctx.Context, ctx.Logger, "gRPC health server stopped", "err", err)
		}
	}()
	defer grpcServer.GracefulStop()

	<-ctx.Done()
	obslog.Info(ctx.Context, ctx.Logger, "coordinator daemon shutting down")
	return nil
}

// newHealthServer builds a gRPC server exposing only the standard health
// service, mirroring the teacher's internal/cli/coordinator.go.
func newHealthServer(ctx *cliContext) (*grpc.Server, net.Listener, error) {
	var serverOpts []grpc.ServerOption
	if ctx.Config.Peer.CertFile != "" && ctx.Config.Peer.KeyFile != "" {
		creds, err := loadCoordinatorTLSCredentials(ctx.Config.Peer.CertFile, ctx.Config.Peer.KeyFile, ctx.Config.Peer.ClientCAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	addr := fmt.Sprintf("%s:%d", ctx.Config.CoordinatorHost, ctx.Config.CoordinatorPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return grpcServer, listener, nil
}

// loadCoordinatorTLSCredentials loads server (and, with caFile set, mutual)
// TLS credentials, mirroring the teacher's loadCoordinatorTLSCredentials.
func loadCoordinatorTLSCredentials(certFile, keyFile, caFile string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificates: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

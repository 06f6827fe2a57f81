// Package config holds process-level configuration for the coordinator
// and worker daemons: bus DSN, listen address, poll cadences, grace
// periods. Loaded with spf13/viper and bound to cobra flags, mirroring the
// teacher's --coordinator.host/--peer.cert-file flag families
// (internal/cli/coordinator.go).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// PeerTLS mirrors the teacher's mTLS peer configuration for the
// coordinator's gRPC health endpoint.
type PeerTLS struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
	Insecure     bool
}

// Config is the daemon-level configuration shared by coordinator and
// worker processes.
type Config struct {
	// Bus is the DSN for the durable control-bus/run store. A sqlite
	// path ("file:/var/lib/benchctl/bus.db") runs single-machine; an
	// http(s) URL addresses a remote coordinator's bus HTTP API.
	BusDSN string

	CoordinatorHost string
	CoordinatorPort int

	// BusListenAddr is the coordinator daemon's HTTP bus API listen
	// address (internal/bus/httpapi), separate from CoordinatorPort's
	// gRPC health endpoint.
	BusListenAddr string

	Peer PeerTLS

	// Cadences, per spec §4.4.
	ControlEventPollInterval time.Duration
	HeartbeatPollInterval    time.Duration

	// Grace periods, per spec §5.
	RegistrationGrace time.Duration
	StopGrace         time.Duration
	AbortGrace        time.Duration
	LivenessTimeout   time.Duration

	// MaxDeadFraction is the fraction of total_workers_expected whose
	// death triggers an ABORT (spec §4.7).
	MaxDeadFraction float64

	// BusFailureGrace bounds how long the coordinator tolerates a BusError
	// streak before failing the run (spec §7).
	BusFailureGrace time.Duration

	MetricsListenAddr string
	OTLPEndpoint      string

	LogFormat string
}

// Defaults returns a Config populated with the defaults named in spec §4-§7.
func Defaults() *Config {
	return &Config{
		CoordinatorHost:          "127.0.0.1",
		CoordinatorPort:          50055,
		BusListenAddr:            ":8089",
		ControlEventPollInterval: 500 * time.Millisecond,
		HeartbeatPollInterval:    1 * time.Second,
		RegistrationGrace:        30 * time.Second,
		StopGrace:                30 * time.Second,
		AbortGrace:               5 * time.Second,
		LivenessTimeout:          10 * time.Second,
		MaxDeadFraction:          0.25,
		BusFailureGrace:          30 * time.Second,
		MetricsListenAddr:        ":9090",
		LogFormat:                "text",
	}
}

// Load builds a Config from defaults, a viper instance bound to flags, and
// environment variables prefixed BENCHCTL_.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()

	v.SetEnvPrefix("benchctl")
	v.AutomaticEnv()

	if v.IsSet("bus-dsn") {
		cfg.BusDSN = v.GetString("bus-dsn")
	}
	if v.IsSet("coordinator.host") {
		cfg.CoordinatorHost = v.GetString("coordinator.host")
	}
	if v.IsSet("coordinator.port") {
		cfg.CoordinatorPort = v.GetInt("coordinator.port")
	}
	if v.IsSet("bus-listen-addr") {
		cfg.BusListenAddr = v.GetString("bus-listen-addr")
	}
	if v.IsSet("peer.cert-file") {
		cfg.Peer.CertFile = v.GetString("peer.cert-file")
	}
	if v.IsSet("peer.key-file") {
		cfg.Peer.KeyFile = v.GetString("peer.key-file")
	}
	if v.IsSet("peer.client-ca-file") {
		cfg.Peer.ClientCAFile = v.GetString("peer.client-ca-file")
	}
	if v.IsSet("peer.insecure") {
		cfg.Peer.Insecure = v.GetBool("peer.insecure")
	}
	if v.IsSet("metrics-listen-addr") {
		cfg.MetricsListenAddr = v.GetString("metrics-listen-addr")
	}
	if v.IsSet("otlp-endpoint") {
		cfg.OTLPEndpoint = v.GetString("otlp-endpoint")
	}
	if v.IsSet("log-format") {
		cfg.LogFormat = v.GetString("log-format")
	}

	return cfg, nil
}

// Package commands implements the relay server CLI.
package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/punchchat/logging"
	"github.com/opd-ai/punchchat/metrics"
	"github.com/opd-ai/punchchat/relay"
)

type relayFlags struct {
	config             string
	port               uint16
	seed               uint8
	secret             string
	ipv6               bool
	allow              []string
	maxCircuitDuration time.Duration
	maxReservations    int
	rendezvous         bool
	metricsAddr        string
	logLevel           string
	logFile            string
}

// Execute runs the relay CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	f := &relayFlags{}

	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Circuit relay server for punchchat peers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.relayConfig(cmd)
			if err != nil {
				return err
			}

			closer, err := logging.Setup(f.logLevel, f.logFile)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.MetricsAddr != "" {
				metrics.Serve(ctx, cfg.MetricsAddr)
			}

			srv, err := relay.NewServer(*cfg)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Local peer id:", srv.ID())
			for _, addr := range srv.Addrs() {
				fmt.Fprintln(cmd.OutOrStdout(), "Listening on", addr)
			}
			return srv.Run(ctx)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "YAML config file")
	fl.Uint16Var(&f.port, "port", relay.DefaultPort, "TCP port to listen on, on all interfaces")
	fl.Uint8Var(&f.seed, "secret-key-seed", 0, "value deriving a deterministic peer id")
	fl.StringVar(&f.secret, "secret", "", "secret deriving the peer id, instead of --secret-key-seed")
	fl.BoolVar(&f.ipv6, "ipv6", false, "listen on IPv6 instead of IPv4")
	fl.StringSliceVar(&f.allow, "allow", nil, "peer ids allowed to reserve (default: everyone)")
	fl.DurationVar(&f.maxCircuitDuration, "max-circuit-duration", relay.DefaultMaxCircuitDuration, "maximum lifetime of a relayed connection")
	fl.IntVar(&f.maxReservations, "max-reservations", 0, "maximum concurrent reservations (default: libp2p default)")
	fl.BoolVar(&f.rendezvous, "rendezvous", false, "serve a rendezvous registry for peer discovery")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level")
	fl.StringVar(&f.logFile, "log-file", "", "log file (default stderr)")
	return cmd
}

// relayConfig merges defaults, the config file and the flags that were set.
func (f *relayFlags) relayConfig(cmd *cobra.Command) (*relay.Config, error) {
	cfg := relay.DefaultConfig()
	if f.config != "" {
		loaded, err := relay.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("secret-key-seed") {
		cfg.SeedByte = f.seed
	}
	if changed("secret") {
		cfg.Secret = f.secret
	}
	if changed("ipv6") {
		cfg.IPv6 = f.ipv6
	}
	if changed("allow") {
		cfg.Allow = f.allow
	}
	if changed("max-circuit-duration") {
		cfg.MaxCircuitDuration = f.maxCircuitDuration
	}
	if changed("max-reservations") {
		cfg.MaxReservations = f.maxReservations
	}
	if changed("rendezvous") {
		cfg.Rendezvous = f.rendezvous
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

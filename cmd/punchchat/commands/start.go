package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/punchchat"
	"github.com/opd-ai/punchchat/connect"
	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/logging"
	"github.com/opd-ai/punchchat/tui"
)

// LogFileName is the log file used under the state dir while the terminal
// UI owns the screen.
const LogFileName = "punchchat.log"

type startFlags struct {
	mode         string
	key          string
	name         string
	relayAddress string
	remoteID     string
	config       string
	logFile      string
	logLevel     string
	metricsAddr  string
	topic        string
	listenGrace  time.Duration
	noTUI        bool
}

// start: establish the connection and chat.
func startCmd(g *globals) *cobra.Command {
	f := &startFlags{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Connect through the relay and start chatting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd, g)
			if err != nil {
				return err
			}

			closer, err := logging.Setup(opts.LogLevel, opts.LogFile)
			if err != nil {
				return err
			}
			defer closer.Close()

			secret, err := f.secret(g)
			if err != nil {
				return err
			}
			id, err := crypto.DeriveIdentity(secret)
			if err != nil {
				return err
			}

			client, err := punchchat.NewClient(opts, id)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Peer ID: %s\nEstablishing connection (%s mode)...\n", id.ID, opts.Mode)

			var ui punchchat.UI = func(ctx context.Context, uiToNet chan<- string, netToUI <-chan string) error {
				return tui.Run(ctx, opts.Name, uiToNet, netToUI)
			}
			if f.noTUI {
				ui = func(ctx context.Context, uiToNet chan<- string, netToUI <-chan string) error {
					return tui.RunPlain(ctx, opts.Name, cmd.InOrStdin(), cmd.OutOrStdout(), uiToNet, netToUI)
				}
			}

			if err := client.Run(ctx, ui); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "start",
					"error":    err.Error(),
				}).Error("Chat failed")
				return err
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.mode, "mode", "", "dial or listen")
	fl.StringVar(&f.key, "key", "", "secret to derive the identity from (default: the stored secret)")
	fl.StringVar(&f.name, "name", "", "display name")
	fl.StringVar(&f.relayAddress, "relay-address", "", "relay multiaddr ending in /p2p/<id> (default "+punchchat.DefaultRelayAddress+")")
	fl.StringVar(&f.remoteID, "remote-id", "", "peer id to connect to (dial mode)")
	fl.StringVar(&f.config, "config", "", "YAML config file")
	fl.StringVar(&f.logFile, "log-file", "", "log file (default <home>/"+LogFileName+" with the terminal UI)")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (default info)")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	fl.StringVar(&f.topic, "topic", "", "gossip topic")
	fl.DurationVar(&f.listenGrace, "listen-grace", 0, "time to collect local listen addresses")
	fl.BoolVar(&f.noTUI, "no-tui", false, "line-oriented stdin/stdout instead of the terminal UI")
	return cmd
}

// options merges defaults, the config file and the flags that were set,
// in that order.
func (f *startFlags) options(cmd *cobra.Command, g *globals) (*punchchat.Options, error) {
	opts := punchchat.NewOptions()
	if f.config != "" {
		loaded, err := punchchat.LoadOptions(f.config)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		mode, err := connect.ParseMode(f.mode)
		if err != nil {
			return nil, err
		}
		opts.Mode = mode
	}
	if changed("name") {
		opts.Name = f.name
	}
	if changed("relay-address") {
		opts.RelayAddress = f.relayAddress
	}
	if changed("remote-id") {
		opts.RemoteID = f.remoteID
	}
	if changed("log-file") {
		opts.LogFile = f.logFile
	}
	if changed("log-level") {
		opts.LogLevel = f.logLevel
	}
	if changed("metrics-addr") {
		opts.MetricsAddr = f.metricsAddr
	}
	if changed("topic") {
		opts.Topic = f.topic
	}
	if changed("listen-grace") {
		opts.ListenGrace = f.listenGrace
	}

	if homeFlag := cmd.Flag("home"); (homeFlag == nil || !homeFlag.Changed) && opts.Home != "" {
		g.home = opts.Home
	}
	opts.Home = g.home

	if !f.noTUI && opts.LogFile == "" {
		opts.LogFile = filepath.Join(g.home, LogFileName)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (f *startFlags) secret(g *globals) (string, error) {
	if f.key != "" {
		return punchchat.ResolveSecret(f.key, nil)
	}
	store, err := g.secretStore()
	if err != nil {
		return "", err
	}
	defer closeStore(store)
	return punchchat.ResolveSecret("", store)
}

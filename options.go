package punchchat

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/punchchat/connect"
	"github.com/opd-ai/punchchat/session"
	"github.com/opd-ai/punchchat/transport"
)

// DefaultRelayAddress is the public relay used when none is configured.
const DefaultRelayAddress = "/ip4/1.12.76.121/tcp/4001/p2p/12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN"

var (
	// ErrInvalidMode is returned for a mode other than dial or listen.
	ErrInvalidMode = connect.ErrInvalidMode
	// ErrInvalidName is returned for an empty or blank display name.
	ErrInvalidName = errors.New("name must not be empty")
)

// Options configures a chat client.
type Options struct {
	Mode         connect.Mode  `yaml:"mode"`
	Name         string        `yaml:"name"`
	RelayAddress string        `yaml:"relayAddress"`
	RemoteID     string        `yaml:"remoteID"`
	Home         string        `yaml:"home"`
	ListenGrace  time.Duration `yaml:"listenGrace"`
	LogLevel     string        `yaml:"logLevel"`
	LogFile      string        `yaml:"logFile"`
	MetricsAddr  string        `yaml:"metricsAddr"`
	Topic        string        `yaml:"topic"`
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Mode:         connect.ModeListen,
		RelayAddress: DefaultRelayAddress,
		ListenGrace:  time.Second,
		LogLevel:     "info",
		Topic:        session.DefaultTopic,
	}
}

// LoadOptions reads a YAML file over the defaults. The result is not
// validated, since flags may still override it.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	opts := NewOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks the options without touching the network.
func (o *Options) Validate() error {
	if o.Mode != connect.ModeDial && o.Mode != connect.ModeListen {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(o.Mode))
	}
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, o.Name)
	}
	if _, err := o.relayAddress(); err != nil {
		return err
	}
	if _, err := o.remotePeer(); err != nil {
		return err
	}
	if o.ListenGrace < 0 {
		return errors.New("listen grace cannot be negative")
	}
	if o.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

func (o *Options) relayAddress() (ma.Multiaddr, error) {
	if o.RelayAddress == "" {
		return nil, fmt.Errorf("%w: relay address is empty", connect.ErrInvalidRelayAddress)
	}
	addr, _, err := transport.ParseRelayAddress(o.RelayAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connect.ErrInvalidRelayAddress, err)
	}
	return addr, nil
}

func (o *Options) remotePeer() (peer.ID, error) {
	if o.RemoteID == "" {
		if o.Mode == connect.ModeDial {
			return "", connect.ErrMissingRemotePeer
		}
		return "", nil
	}
	id, err := peer.Decode(o.RemoteID)
	if err != nil {
		return "", fmt.Errorf("invalid remote peer id %q: %w", o.RemoteID, err)
	}
	return id, nil
}

// ConnectConfig converts the options for the orchestrator.
func (o *Options) ConnectConfig() (connect.Config, error) {
	if err := o.Validate(); err != nil {
		return connect.Config{}, err
	}
	relay, _ := o.relayAddress()
	remote, _ := o.remotePeer()

	cfg := connect.DefaultConfig()
	cfg.Mode = o.Mode
	cfg.RelayAddress = relay
	cfg.RemotePeer = remote
	if o.ListenGrace > 0 {
		cfg.ListenGrace = o.ListenGrace
	}
	return cfg, nil
}

// SessionConfig converts the options for the session.
func (o *Options) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if o.Topic != "" {
		cfg.Topic = o.Topic
	}
	return cfg
}

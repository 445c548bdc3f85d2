package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"

	"github.com/opd-ai/punchchat/crypto"
)

const (
	// DefaultProtocolVersion is announced through identify.
	DefaultProtocolVersion = "/punchchat/0.0.1"
	// DefaultUserAgent is announced through identify.
	DefaultUserAgent = "punchchat"
)

// Config controls the transport stack.
type Config struct {
	ProtocolVersion string
	UserAgent       string
	// ResourceManager replaces the default limiter when set.
	ResourceManager network.ResourceManager
	// HolePunchTracer receives DCUtR traces when set.
	HolePunchTracer holepunch.EventTracer
	// Connection manager watermarks.
	LowWater    int
	HighWater   int
	GracePeriod time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion: DefaultProtocolVersion,
		UserAgent:       DefaultUserAgent,
		LowWater:        16,
		HighWater:       64,
		GracePeriod:     time.Minute,
	}
}

// BuildOptions returns the libp2p options for a relay-capable,
// hole-punching host owned by id.
func BuildOptions(id *crypto.Identity, cfg Config) ([]libp2p.Option, error) {
	if id == nil || id.PrivKey == nil {
		return nil, errors.New("identity cannot be nil")
	}

	defaults := DefaultConfig()
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = defaults.ProtocolVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.HighWater <= 0 {
		cfg.LowWater = defaults.LowWater
		cfg.HighWater = defaults.HighWater
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaults.GracePeriod
	}

	cm, err := connmgr.NewConnManager(cfg.LowWater, cfg.HighWater, connmgr.WithGracePeriod(cfg.GracePeriod))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	var holePunchOpts []holepunch.Option
	if cfg.HolePunchTracer != nil {
		holePunchOpts = append(holePunchOpts, holepunch.WithTracer(cfg.HolePunchTracer))
	}

	opts := []libp2p.Option{
		libp2p.Identity(id.PrivKey),
		// Listening is driven explicitly by the session.
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(holePunchOpts...),
		libp2p.Ping(true),
		libp2p.ProtocolVersion(cfg.ProtocolVersion),
		libp2p.UserAgent(cfg.UserAgent),
	}

	if cfg.ResourceManager != nil {
		opts = append(opts, libp2p.ResourceManager(cfg.ResourceManager))
	}

	logrus.WithFields(logrus.Fields{
		"function":         "BuildOptions",
		"peer_id":          id.ID.String(),
		"protocol_version": cfg.ProtocolVersion,
		"low_water":        cfg.LowWater,
		"high_water":       cfg.HighWater,
	}).Debug("Built transport options")

	return opts, nil
}

// ServerOptions returns the libp2p options for a publicly reachable host
// owned by id listening on listen, such as a relay server. Hole punching
// and the relay client are left out.
func ServerOptions(id *crypto.Identity, cfg Config, listen ...ma.Multiaddr) ([]libp2p.Option, error) {
	if id == nil || id.PrivKey == nil {
		return nil, errors.New("identity cannot be nil")
	}
	if len(listen) == 0 {
		return nil, errors.New("at least one listen address is required")
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	opts := []libp2p.Option{
		libp2p.Identity(id.PrivKey),
		libp2p.ListenAddrs(listen...),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.DisableRelay(),
		libp2p.ForceReachabilityPublic(),
		libp2p.Ping(true),
		libp2p.ProtocolVersion(cfg.ProtocolVersion),
		libp2p.UserAgent(cfg.UserAgent),
	}
	if cfg.ResourceManager != nil {
		opts = append(opts, libp2p.ResourceManager(cfg.ResourceManager))
	}

	logrus.WithFields(logrus.Fields{
		"function":         "ServerOptions",
		"peer_id":          id.ID.String(),
		"protocol_version": cfg.ProtocolVersion,
		"listen":           len(listen),
	}).Debug("Built server transport options")

	return opts, nil
}

// NewResourceManager returns a resource manager with the libp2p default
// limits scaled to the machine.
func NewResourceManager() (network.ResourceManager, error) {
	limits := rcmgr.DefaultLimits
	libp2p.SetDefaultServiceLimits(&limits)

	rm, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limits.AutoScale()))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}
	return rm, nil
}

package relay

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	relayv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	rvs "github.com/waku-org/go-libp2p-rendezvous"

	"github.com/opd-ai/punchchat/transport"
)

// UserAgent is announced by relay servers through identify.
const UserAgent = "punchchat-relay"

// Server is a circuit relay v2 service on its own libp2p host.
type Server struct {
	cfg   Config
	host  host.Host
	relay *relayv2.Relay
	acl   *ACL

	registry   *Registry
	rendezvous *rvs.RendezvousService
}

// NewServer builds the host, starts listening and enables the relay
// service.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}

	id, err := cfg.Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to derive relay identity: %w", err)
	}
	allowed, err := cfg.AllowedPeers()
	if err != nil {
		return nil, err
	}

	rm, err := transport.NewResourceManager()
	if err != nil {
		return nil, err
	}

	opts, err := transport.ServerOptions(id, transport.Config{
		UserAgent:       UserAgent,
		ResourceManager: rm,
	}, transport.ListenAllInterfacesOnPort(cfg.IPv6, cfg.Port))
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay host: %w", err)
	}

	acl := NewACL(allowed)
	r, err := relayv2.New(h, relayv2.WithResources(resources(cfg)), relayv2.WithACL(acl))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to start relay service: %w", err)
	}

	s := &Server{cfg: cfg, host: h, relay: r, acl: acl}
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    s.onConnected,
		DisconnectedF: s.onDisconnected,
	})
	if cfg.Rendezvous {
		s.startRendezvous()
	}

	logrus.WithFields(logrus.Fields{
		"function":             "NewServer",
		"peer_id":              h.ID().String(),
		"max_circuit_duration": cfg.MaxCircuitDuration.String(),
		"allowlist":            len(allowed),
		"rendezvous":           cfg.Rendezvous,
	}).Info("Relay server started")

	return s, nil
}

func resources(cfg Config) relayv2.Resources {
	res := relayv2.DefaultResources()
	limit := *res.Limit
	limit.Duration = cfg.MaxCircuitDuration
	res.Limit = &limit
	if cfg.MaxReservations > 0 {
		res.MaxReservations = cfg.MaxReservations
	}
	return res
}

// ID returns the relay's peer id.
func (s *Server) ID() peer.ID {
	return s.host.ID()
}

// ACL returns the server's access list.
func (s *Server) ACL() *ACL {
	return s.acl
}

// Registry returns the rendezvous registry, or nil when rendezvous is
// disabled.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addrs returns the full dialable addresses of the relay, each ending in
// /p2p/<id>.
func (s *Server) Addrs() []ma.Multiaddr {
	info := peer.AddrInfo{ID: s.host.ID(), Addrs: s.host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return addrs
}

// Run logs the listen addresses and blocks until ctx is cancelled, then
// closes the server.
func (s *Server) Run(ctx context.Context) error {
	for _, addr := range s.Addrs() {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"addr":     addr.String(),
		}).Info("Listening")
	}

	<-ctx.Done()
	return s.Close()
}

// Close stops the relay service and the host.
func (s *Server) Close() error {
	if err := s.relay.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"error":    err.Error(),
		}).Warn("Failed to stop relay service")
	}
	if err := s.host.Close(); err != nil {
		return fmt.Errorf("failed to close relay host: %w", err)
	}
	if s.registry != nil {
		s.registry.Close()
	}
	return nil
}

func (s *Server) onConnected(_ network.Network, c network.Conn) {
	logrus.WithFields(logrus.Fields{
		"function": "onConnected",
		"peer_id":  c.RemotePeer().String(),
		"addr":     c.RemoteMultiaddr().String(),
	}).Debug("Peer connected")
}

func (s *Server) onDisconnected(_ network.Network, c network.Conn) {
	logrus.WithFields(logrus.Fields{
		"function": "onDisconnected",
		"peer_id":  c.RemotePeer().String(),
	}).Debug("Peer disconnected")
}

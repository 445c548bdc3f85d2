package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/metrics"
	"github.com/opd-ai/punchchat/transport"
)

// ErrSessionClosed is returned by consumers that find the session gone.
var ErrSessionClosed = errors.New("session closed")

// EventBufferSize is the capacity of the session event channel.
const EventBufferSize = 256

// DefaultTopic is the gossip topic chat messages are exchanged on.
const DefaultTopic = "abc"

// limitedConnReason tags contexts allowed to use relayed connections.
const limitedConnReason = "punchchat"

// Config holds session tuning.
type Config struct {
	Topic             string
	Transport         transport.Config
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	GossipHeartbeat   time.Duration
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		Topic:             DefaultTopic,
		Transport:         transport.DefaultConfig(),
		KeepAliveInterval: 15 * time.Second,
		KeepAliveTimeout:  20 * time.Second,
		GossipHeartbeat:   10 * time.Second,
	}
}

// Session is a live libp2p host with the chat behaviours attached. All
// observations are delivered on Events in the order they are produced.
// The events channel is never closed; Done is closed by Close.
type Session struct {
	cfg    Config
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	keeper *transport.ReservationKeeper
}

// New builds the transport for id and starts a host with keep-alive,
// identify, relay client, hole punching and gossip attached. The host
// does not listen until Listen is called.
func New(ctx context.Context, id *crypto.Identity, cfg Config) (*Session, error) {
	if id == nil {
		return nil, errors.New("identity cannot be nil")
	}
	applyDefaults(&cfg)

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:    cfg,
		events: make(chan Event, EventBufferSize),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h, err := s.buildHost(id)
	if err != nil {
		cancel()
		return nil, err
	}
	s.host = h

	if err := s.watchIdentify(); err != nil {
		s.Close()
		return nil, err
	}

	h.Network().Notify(&network.NotifyBundle{
		ListenF:    s.onListen,
		ConnectedF: s.onConnected,
	})

	if err := s.joinGossip(); err != nil {
		s.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.keepAlive()

	logrus.WithFields(logrus.Fields{
		"function": "session.New",
		"peer_id":  h.ID().String(),
		"topic":    cfg.Topic,
	}).Info("Session started")

	return s, nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = defaults.Topic
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = defaults.KeepAliveTimeout
	}
	if cfg.GossipHeartbeat <= 0 {
		cfg.GossipHeartbeat = defaults.GossipHeartbeat
	}
}

func (s *Session) buildHost(id *crypto.Identity) (host.Host, error) {
	tcfg := s.cfg.Transport

	if tcfg.ResourceManager == nil {
		rm, err := transport.NewResourceManager()
		if err != nil {
			return nil, err
		}
		tcfg.ResourceManager = rm
	}
	tcfg.ResourceManager = transport.NewIdentifyWatcher(tcfg.ResourceManager, s.onPeerInfoSent)
	tcfg.HolePunchTracer = transport.NewHolePunchTracer(s.onHolePunch)

	opts, err := transport.BuildOptions(id, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}
	return h, nil
}

// ID returns the local peer id.
func (s *Session) ID() peer.ID {
	return s.host.ID()
}

// Host exposes the underlying libp2p host.
func (s *Session) Host() host.Host {
	return s.host
}

// Events returns the session event stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Listen starts listening on addr. One ListenAddressReady event follows
// per resolved local address.
func (s *Session) Listen(addr ma.Multiaddr) error {
	if err := s.host.Network().Listen(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return nil
}

// Dial connects to the peer named by the final /p2p/ component of addr,
// which may be a circuit address. The dial runs in the background: a
// Dialing event is emitted first and an OutgoingConnectionError on failure.
func (s *Session) Dial(addr ma.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("failed to parse dial address %s: %w", addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.emit(Event{Type: Dialing, Peer: info.ID, Addr: addr})

		ctx := network.WithAllowLimitedConn(s.ctx, limitedConnReason)
		if err := s.host.Connect(ctx, *info); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "Session.Dial",
				"peer_id":  info.ID.String(),
				"addr":     addr.String(),
				"error":    err.Error(),
			}).Warn("Outgoing connection failed")
			s.emit(Event{Type: OutgoingConnectionError, Peer: info.ID, Addr: addr, Err: err})
		}
	}()
	return nil
}

// Reserve listens on a relay circuit address (relay/p2p-circuit) and
// keeps a reservation on that relay for the lifetime of the session.
func (s *Session) Reserve(circuit ma.Multiaddr) error {
	if !transport.IsCircuitAddress(circuit) {
		return fmt.Errorf("not a circuit address: %s", circuit)
	}
	relayAddr := circuit.Decapsulate(ma.StringCast("/p2p-circuit"))
	info, err := transport.RelayAddrInfo(relayAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve relay: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keeper != nil {
		return errors.New("relay reservation already requested")
	}

	if err := s.host.Network().Listen(circuit); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", circuit, err)
	}

	s.keeper = transport.NewReservationKeeper(s.host, *info, s)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.keeper.Run(s.ctx); err != nil && s.ctx.Err() == nil {
			s.emit(Event{Type: RelayOther, Peer: info.ID, Err: err})
		}
	}()
	return nil
}

// ReservationAccepted implements transport.ReservationObserver.
func (s *Session) ReservationAccepted(r transport.Reservation) {
	s.emit(Event{
		Type:       RelayReservationAccepted,
		Peer:       r.Relay,
		Renewal:    r.Renewal,
		Expiration: r.Expiration,
	})
}

// ReservationFailed implements transport.ReservationObserver.
func (s *Session) ReservationFailed(relay peer.ID, attempt int, err error) {
	s.emit(Event{
		Type: RelayOther,
		Peer: relay,
		Err:  fmt.Errorf("reservation attempt %d: %w", attempt, err),
	})
}

// Close shuts the session down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)

		if s.sub != nil {
			s.sub.Cancel()
		}
		if s.topic != nil {
			s.topic.Close()
		}
		if s.host != nil {
			err = s.host.Close()
		}
		s.wg.Wait()

		logrus.WithFields(logrus.Fields{
			"function": "Session.Close",
		}).Info("Session closed")
	})
	return err
}

func (s *Session) emit(e Event) {
	metrics.SessionEvent(e.Type.String())
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

// tryEmit delivers e only if the buffer has room.
func (s *Session) tryEmit(e Event) bool {
	select {
	case s.events <- e:
		metrics.SessionEvent(e.Type.String())
		return true
	default:
		return false
	}
}

func (s *Session) onListen(_ network.Network, addr ma.Multiaddr) {
	for _, a := range transport.ExpandUnspecified(addr) {
		s.emit(Event{Type: ListenAddressReady, Addr: a})
	}
}

func (s *Session) onConnected(_ network.Network, c network.Conn) {
	s.emit(Event{Type: ConnectionEstablished, Peer: c.RemotePeer(), Addr: c.RemoteMultiaddr()})
}

func (s *Session) onPeerInfoSent(p peer.ID) {
	s.emit(Event{Type: PeerInfoSent, Peer: p})
}

func (s *Session) onHolePunch(a transport.HolePunchAttempt) {
	if a.Result == transport.HolePunchSuccess {
		s.emit(Event{Type: HolePunchSuccess, Peer: a.Remote, Direct: a.Direct})
		return
	}
	reason := a.Error
	if reason == "" {
		reason = a.Result.String()
	}
	s.emit(Event{Type: HolePunchFailure, Peer: a.Remote, Err: errors.New(reason)})
}

// watchIdentify forwards identify outcomes from the event bus.
func (s *Session) watchIdentify() error {
	sub, err := s.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerIdentificationFailed),
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to identify events: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()

		for {
			select {
			case <-s.ctx.Done():
				return
			case e, ok := <-sub.Out():
				if !ok {
					return
				}
				switch evt := e.(type) {
				case event.EvtPeerIdentificationCompleted:
					s.emit(Event{Type: PeerInfoReceived, Peer: evt.Peer, Addr: evt.ObservedAddr})
				case event.EvtPeerIdentificationFailed:
					s.emit(Event{Type: PeerInfoError, Peer: evt.Peer, Err: evt.Reason})
				}
			}
		}
	}()
	return nil
}

package connect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/metrics"
	"github.com/opd-ai/punchchat/session"
	"github.com/opd-ai/punchchat/transport"
)

// Session is the part of a live session the orchestrator drives.
type Session interface {
	ID() peer.ID
	Events() <-chan session.Event
	Listen(addr ma.Multiaddr) error
	Dial(addr ma.Multiaddr) error
	Reserve(circuit ma.Multiaddr) error
	Close() error
}

// SessionFactory builds a session for an identity.
type SessionFactory func(ctx context.Context, id *crypto.Identity) (Session, error)

// NewSessionFactory returns a factory creating libp2p sessions with cfg.
func NewSessionFactory(cfg session.Config) SessionFactory {
	return func(ctx context.Context, id *crypto.Identity) (Session, error) {
		return session.New(ctx, id, cfg)
	}
}

// Config holds establishment parameters.
type Config struct {
	Mode         Mode
	RelayAddress ma.Multiaddr
	// RemotePeer is required in dial mode.
	RemotePeer peer.ID
	// ListenAddr is the local listen address, all interfaces by default.
	ListenAddr ma.Multiaddr
	// ListenGrace is how long local listen notifications are collected.
	ListenGrace time.Duration
}

// DefaultConfig returns a listen-mode configuration without a relay.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeListen,
		ListenAddr:  transport.ListenAllInterfaces(false),
		ListenGrace: time.Second,
	}
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	if c.Mode != ModeDial && c.Mode != ModeListen {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(c.Mode))
	}
	if c.RelayAddress == nil {
		return fmt.Errorf("%w: relay address is empty", ErrInvalidRelayAddress)
	}
	if _, err := transport.RelayPeerID(c.RelayAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRelayAddress, err)
	}
	if c.Mode == ModeDial {
		if c.RemotePeer == "" {
			return ErrMissingRemotePeer
		}
		if err := c.RemotePeer.Validate(); err != nil {
			return fmt.Errorf("invalid remote peer id: %w", err)
		}
	}
	return nil
}

// StepResult records how one phase transition went.
type StepResult struct {
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Orchestrator drives a session from nothing to an established relayed
// or hole-punched connection. Each phase waits for its entry condition
// before the next begins; there are no retries.
type Orchestrator struct {
	cfg      Config
	identity *crypto.Identity
	factory  SessionFactory

	mu    sync.RWMutex
	state State
	steps []StepResult
}

// NewOrchestrator creates an orchestrator. The configuration is validated
// when Establish runs.
func NewOrchestrator(id *crypto.Identity, cfg Config, factory SessionFactory) (*Orchestrator, error) {
	if id == nil {
		return nil, errors.New("identity cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("session factory cannot be nil")
	}

	defaults := DefaultConfig()
	if cfg.ListenAddr == nil {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.ListenGrace <= 0 {
		cfg.ListenGrace = defaults.ListenGrace
	}

	return &Orchestrator{
		cfg:      cfg,
		identity: id,
		factory:  factory,
		state:    State{Phase: PhaseIdle, Mode: cfg.Mode},
	}, nil
}

// State returns a snapshot of the establishment flags.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	return o.State().Phase
}

// Steps returns the phase transitions performed so far.
func (o *Orchestrator) Steps() []StepResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]StepResult(nil), o.steps...)
}

func (o *Orchestrator) update(fn func(*State)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

// Establish runs all phases and returns the established session. On error
// the session, if one was created, is closed and the phase is Aborted.
func (o *Orchestrator) Establish(ctx context.Context) (Session, error) {
	if o.Phase() != PhaseIdle {
		return nil, errors.New("establishment already attempted")
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Establish",
		"mode":     o.cfg.Mode.String(),
		"peer_id":  o.identity.ID.String(),
	})

	if err := o.cfg.Validate(); err != nil {
		o.abort()
		logger.WithError(err).Error("Invalid establishment configuration")
		return nil, err
	}

	var s Session
	err := o.executeWithPhaseTracking(PhaseTransportReady, func() error {
		var err error
		s, err = o.factory(ctx, o.identity)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
	if err != nil {
		o.abort()
		return nil, err
	}

	steps := []struct {
		phase Phase
		run   func(context.Context, Session) error
	}{
		{PhaseListeningLocal, o.listenLocal},
		{PhaseObservedAddressExchanged, o.exchangeObservedAddr},
		{PhaseModeActionIssued, o.issueModeAction},
		{PhaseEstablished, o.awaitEstablished},
	}

	for _, step := range steps {
		err := o.executeWithPhaseTracking(step.phase, func() error {
			return step.run(ctx, s)
		})
		if err != nil {
			o.abort()
			s.Close()
			return nil, err
		}
	}

	state := o.State()
	fields := logrus.Fields{
		"reservation_accepted": state.ReservationAccepted,
		"punch_established":    state.PunchEstablished,
	}
	if state.ObservedAddr != nil {
		fields["observed_addr"] = state.ObservedAddr.String()
	}
	logger.WithFields(fields).Info("Connection established")

	return s, nil
}

// executeWithPhaseTracking runs operation and, on success, enters phase.
func (o *Orchestrator) executeWithPhaseTracking(phase Phase, operation func() error) error {
	start := time.Now()

	logrus.WithFields(logrus.Fields{
		"function": "executeWithPhaseTracking",
		"phase":    phase.String(),
		"mode":     o.cfg.Mode.String(),
	}).Debug("Entering phase")

	err := operation()
	elapsed := time.Since(start)

	o.mu.Lock()
	o.steps = append(o.steps, StepResult{Phase: phase, Duration: elapsed, Err: err})
	if err == nil {
		o.state.Phase = phase
	}
	o.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "executeWithPhaseTracking",
			"phase":    phase.String(),
			"error":    err.Error(),
			"elapsed":  elapsed,
		}).Error("Phase failed")
		return err
	}

	metrics.EstablishPhase(phase.String(), elapsed)
	logrus.WithFields(logrus.Fields{
		"function": "executeWithPhaseTracking",
		"phase":    phase.String(),
		"mode":     o.cfg.Mode.String(),
		"elapsed":  elapsed,
	}).Info("Phase complete")
	return nil
}

func (o *Orchestrator) abort() {
	o.update(func(s *State) { s.Phase = PhaseAborted })
}

// next waits for the next session event.
func next(ctx context.Context, s Session) (session.Event, error) {
	select {
	case <-ctx.Done():
		return session.Event{}, ctx.Err()
	case ev, ok := <-s.Events():
		if !ok {
			return session.Event{}, session.ErrSessionClosed
		}
		return ev, nil
	}
}

// listenLocal listens on all interfaces and collects listen notifications
// for the grace period. Any other event is fatal: nothing should reach us
// before local listening is settled.
func (o *Orchestrator) listenLocal(ctx context.Context, s Session) error {
	if err := s.Listen(o.cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to listen locally: %w", err)
	}

	timer := time.NewTimer(o.cfg.ListenGrace)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if !o.State().ListeningAllInterfaces {
				return ErrNoListenAddress
			}
			return nil
		case ev, ok := <-s.Events():
			if !ok {
				return session.ErrSessionClosed
			}
			if ev.Type != session.ListenAddressReady {
				return &UnexpectedEventError{Phase: PhaseListeningLocal, Event: ev}
			}
			logrus.WithFields(logrus.Fields{
				"function": "listenLocal",
				"event":    ev.String(),
			}).Info("Listening on local address")
			o.update(func(st *State) { st.ListeningAllInterfaces = true })
		}
	}
}

// exchangeObservedAddr dials the relay and waits until identify has run
// in both directions: the relay told us our public address and we told
// the relay ours.
func (o *Orchestrator) exchangeObservedAddr(ctx context.Context, s Session) error {
	if err := s.Dial(o.cfg.RelayAddress); err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	for !o.State().AddressesExchanged() {
		ev, err := next(ctx, s)
		if err != nil {
			return err
		}

		fields := logrus.Fields{
			"function": "exchangeObservedAddr",
			"event":    ev.String(),
		}

		switch ev.Type {
		case session.ListenAddressReady, session.Dialing, session.ConnectionEstablished,
			session.GossipMessageReceived, session.GossipPeer, session.KeepAlive:
			logrus.WithFields(fields).Debug("Ignoring event")
		case session.PeerInfoSent:
			logrus.WithFields(fields).Info("Told relay our observed address")
			o.update(func(st *State) { st.ToldRelayObservedAddr = true })
		case session.PeerInfoReceived:
			observed := ev.ObservedAddr()
			if observed == nil {
				logrus.WithFields(fields).Warn("Identify carried no observed address")
				continue
			}
			fields["observed_addr"] = observed.String()
			logrus.WithFields(fields).Info("Relay told us our observed address")
			o.update(func(st *State) {
				st.LearnedObservedAddr = true
				st.ObservedAddr = observed
			})
		default:
			return &UnexpectedEventError{Phase: PhaseObservedAddressExchanged, Event: ev}
		}
	}
	return nil
}

// issueModeAction dials the remote through the relay or requests a relay
// reservation.
func (o *Orchestrator) issueModeAction(_ context.Context, s Session) error {
	if !o.State().AddressesExchanged() {
		return fmt.Errorf("%w: mode action before observed address exchange", ErrInvariantViolation)
	}

	switch o.cfg.Mode {
	case ModeDial:
		addr, err := transport.CircuitDialAddress(o.cfg.RelayAddress, o.cfg.RemotePeer)
		if err != nil {
			return fmt.Errorf("failed to build circuit address: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "issueModeAction",
			"addr":     addr.String(),
		}).Info("Dialing remote peer through relay")
		if err := s.Dial(addr); err != nil {
			return fmt.Errorf("failed to dial through relay: %w", err)
		}
	case ModeListen:
		addr := transport.CircuitAddress(o.cfg.RelayAddress)
		logrus.WithFields(logrus.Fields{
			"function": "issueModeAction",
			"addr":     addr.String(),
		}).Info("Requesting relay reservation")
		if err := s.Reserve(addr); err != nil {
			return fmt.Errorf("failed to listen on relay circuit: %w", err)
		}
	}
	return nil
}

// awaitEstablished waits for the success signal of the mode: an accepted
// reservation when listening, a hole punch when dialing. A hole punch seen
// while listening is recorded but the reservation is still required.
func (o *Orchestrator) awaitEstablished(ctx context.Context, s Session) error {
	for {
		ev, err := next(ctx, s)
		if err != nil {
			return err
		}

		fields := logrus.Fields{
			"function": "awaitEstablished",
			"event":    ev.String(),
		}

		switch ev.Type {
		case session.RelayReservationAccepted:
			if o.cfg.Mode != ModeListen {
				return fmt.Errorf("%w: reservation accepted in %s mode", ErrInvariantViolation, o.cfg.Mode)
			}
			logrus.WithFields(fields).Info("Relay reservation accepted")
			o.update(func(st *State) { st.ReservationAccepted = true })
			return nil
		case session.HolePunchSuccess:
			logrus.WithFields(fields).Info("Hole punch succeeded")
			o.update(func(st *State) {
				st.PunchEstablished = true
				st.Remote = ev.Peer
			})
			if o.cfg.Mode == ModeDial {
				return nil
			}
		case session.OutgoingConnectionError, session.RelayOther, session.HolePunchFailure, session.PeerInfoError:
			logrus.WithFields(fields).Warn("Non-fatal event while establishing")
		case session.ListenAddressReady, session.Dialing, session.ConnectionEstablished,
			session.PeerInfoSent, session.PeerInfoReceived, session.KeepAlive,
			session.GossipMessageReceived, session.GossipPeer:
			logrus.WithFields(fields).Debug("Event while establishing")
		default:
			return &UnexpectedEventError{Phase: PhaseEstablished, Event: ev}
		}
	}
}

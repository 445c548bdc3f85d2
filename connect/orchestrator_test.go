package connect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/session"
	"github.com/opd-ai/punchchat/transport"
)

const testRelay = "/ip4/1.12.76.121/tcp/4001/p2p/12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN"

var observed = ma.StringCast("/ip4/203.0.113.7/tcp/53211")

// fakeSession answers each orchestrator call with a scripted batch of
// events, so every phase sees exactly the events of its own step.
type fakeSession struct {
	id     peer.ID
	events chan session.Event

	onListen     []session.Event
	onDialRelay  []session.Event
	onModeAction []session.Event

	listenErr  error
	dialErr    error
	reserveErr error

	// actionHook runs when the mode action is issued.
	actionHook func()

	mu      sync.Mutex
	calls   []string
	addrs   []ma.Multiaddr
	closed  bool
	closeCh chan struct{}
}

func newFakeSession(id peer.ID) *fakeSession {
	return &fakeSession{
		id:      id,
		events:  make(chan session.Event, session.EventBufferSize),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeSession) record(call string, addr ma.Multiaddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.addrs = append(f.addrs, addr)
}

func (f *fakeSession) push(evs []session.Event) {
	for _, ev := range evs {
		f.events <- ev
	}
}

func (f *fakeSession) ID() peer.ID                   { return f.id }
func (f *fakeSession) Events() <-chan session.Event { return f.events }

func (f *fakeSession) Listen(addr ma.Multiaddr) error {
	f.record("listen", addr)
	if f.listenErr != nil {
		return f.listenErr
	}
	f.push(f.onListen)
	return nil
}

func (f *fakeSession) Dial(addr ma.Multiaddr) error {
	if transport.IsCircuitAddress(addr) {
		f.record("dial-circuit", addr)
		if f.actionHook != nil {
			f.actionHook()
		}
		if f.dialErr != nil {
			return f.dialErr
		}
		f.push(f.onModeAction)
		return nil
	}
	f.record("dial-relay", addr)
	if f.dialErr != nil {
		return f.dialErr
	}
	f.push(f.onDialRelay)
	return nil
}

func (f *fakeSession) Reserve(addr ma.Multiaddr) error {
	f.record("reserve", addr)
	if f.actionHook != nil {
		f.actionHook()
	}
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.push(f.onModeAction)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	id      *crypto.Identity
	fake    *fakeSession
	orch    *Orchestrator
	created int
}

func newHarness(t *testing.T, secret string, cfg Config) *harness {
	t.Helper()
	id, err := crypto.DeriveIdentity(secret)
	require.NoError(t, err)

	h := &harness{id: id, fake: newFakeSession(id.ID)}
	if cfg.ListenGrace == 0 {
		cfg.ListenGrace = 20 * time.Millisecond
	}

	h.orch, err = NewOrchestrator(id, cfg, func(context.Context, *crypto.Identity) (Session, error) {
		h.created++
		return h.fake, nil
	})
	require.NoError(t, err)
	return h
}

func relayAddr() ma.Multiaddr {
	return ma.StringCast(testRelay)
}

func remotePeer(t *testing.T) peer.ID {
	t.Helper()
	id, err := crypto.DeriveIdentity("bob")
	require.NoError(t, err)
	return id.ID
}

func listenEvents() []session.Event {
	return []session.Event{
		{Type: session.ListenAddressReady, Addr: ma.StringCast("/ip4/127.0.0.1/tcp/4242")},
		{Type: session.ListenAddressReady, Addr: ma.StringCast("/ip4/192.168.1.5/tcp/4242")},
	}
}

func relayPeerID() peer.ID {
	id, _ := transport.RelayPeerID(ma.StringCast(testRelay))
	return id
}

func TestListenScenarioReachesEstablished(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
	relay := relayPeerID()

	h.fake.onListen = listenEvents()
	h.fake.onDialRelay = []session.Event{
		{Type: session.Dialing, Peer: relay},
		{Type: session.ConnectionEstablished, Peer: relay},
		{Type: session.PeerInfoSent, Peer: relay},
		{Type: session.KeepAlive, Peer: relay, RTT: 30 * time.Millisecond},
		{Type: session.PeerInfoReceived, Peer: relay, Addr: observed},
	}
	h.fake.onModeAction = []session.Event{
		{Type: session.ListenAddressReady, Addr: ma.StringCast(testRelay + "/p2p-circuit")},
		{Type: session.ConnectionEstablished, Peer: relay},
		{Type: session.RelayReservationAccepted, Peer: relay},
	}

	s, err := h.orch.Establish(context.Background())
	require.NoError(t, err)
	assert.Same(t, h.fake, s)

	state := h.orch.State()
	assert.Equal(t, PhaseEstablished, state.Phase)
	assert.True(t, state.ListeningAllInterfaces)
	assert.True(t, state.LearnedObservedAddr)
	assert.True(t, state.ToldRelayObservedAddr)
	assert.True(t, state.ReservationAccepted)
	assert.False(t, state.PunchEstablished)
	assert.Equal(t, observed, state.ObservedAddr)

	assert.Equal(t, []string{"listen", "dial-relay", "reserve"}, h.fake.callLog())
	assert.Equal(t, testRelay+"/p2p-circuit", h.fake.addrs[2].String())
	assert.False(t, h.fake.isClosed())

	steps := h.orch.Steps()
	require.Len(t, steps, 5)
	for i, phase := range []Phase{PhaseTransportReady, PhaseListeningLocal, PhaseObservedAddressExchanged, PhaseModeActionIssued, PhaseEstablished} {
		assert.Equal(t, phase, steps[i].Phase)
		assert.NoError(t, steps[i].Err)
	}
}

func TestDialScenarioReachesEstablished(t *testing.T) {
	remote := remotePeer(t)
	h := newHarness(t, "alice", Config{Mode: ModeDial, RelayAddress: relayAddr(), RemotePeer: remote})

	h.fake.onListen = listenEvents()
	h.fake.onDialRelay = []session.Event{
		{Type: session.PeerInfoReceived, Addr: observed},
		{Type: session.PeerInfoSent},
	}
	h.fake.onModeAction = []session.Event{
		{Type: session.Dialing, Peer: remote},
		{Type: session.ConnectionEstablished, Peer: remote},
		{Type: session.HolePunchFailure, Peer: remote, Err: errors.New("timeout")},
		{Type: session.OutgoingConnectionError, Peer: remote, Err: errors.New("refused")},
		{Type: session.HolePunchSuccess, Peer: remote},
	}

	_, err := h.orch.Establish(context.Background())
	require.NoError(t, err)

	state := h.orch.State()
	assert.Equal(t, PhaseEstablished, state.Phase)
	assert.True(t, state.PunchEstablished)
	assert.Equal(t, remote, state.Remote)

	assert.Equal(t, []string{"listen", "dial-relay", "dial-circuit"}, h.fake.callLog())
	assert.Equal(t, testRelay+"/p2p-circuit/p2p/"+remote.String(), h.fake.addrs[2].String())
}

func TestModeActionWaitsForBothFlags(t *testing.T) {
	sent := session.Event{Type: session.PeerInfoSent}
	received := session.Event{Type: session.PeerInfoReceived, Addr: observed}
	noise := session.Event{Type: session.GossipPeer, Joined: true}

	tests := []struct {
		name  string
		order []session.Event
	}{
		{"sent then received", []session.Event{sent, received}},
		{"received then sent", []session.Event{received, sent}},
		{"interleaved", []session.Event{noise, received, noise, sent}},
		{"repeated sent", []session.Event{sent, sent, received}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
			h.fake.onListen = listenEvents()
			h.fake.onDialRelay = tt.order
			h.fake.onModeAction = []session.Event{{Type: session.RelayReservationAccepted}}

			var atAction State
			h.fake.actionHook = func() { atAction = h.orch.State() }

			_, err := h.orch.Establish(context.Background())
			require.NoError(t, err)

			assert.True(t, atAction.LearnedObservedAddr)
			assert.True(t, atAction.ToldRelayObservedAddr)
			assert.Equal(t, PhaseObservedAddressExchanged, atAction.Phase)
		})
	}
}

func TestModeActionNotIssuedWithOneFlag(t *testing.T) {
	tests := []struct {
		name   string
		events []session.Event
	}{
		{"only sent", []session.Event{{Type: session.PeerInfoSent}}},
		{"only received", []session.Event{{Type: session.PeerInfoReceived, Addr: observed}}},
		{"received without observed address", []session.Event{
			{Type: session.PeerInfoSent},
			{Type: session.PeerInfoReceived},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
			h.fake.onListen = listenEvents()
			h.fake.onDialRelay = tt.events

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			_, err := h.orch.Establish(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.NotContains(t, h.fake.callLog(), "reserve")
			assert.Equal(t, PhaseAborted, h.orch.Phase())
			assert.True(t, h.fake.isClosed())
		})
	}
}

func TestListenModeRequiresReservation(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
	h.fake.onListen = listenEvents()
	h.fake.onDialRelay = []session.Event{
		{Type: session.PeerInfoSent},
		{Type: session.PeerInfoReceived, Addr: observed},
	}
	h.fake.onModeAction = []session.Event{
		{Type: session.ConnectionEstablished},
		{Type: session.OutgoingConnectionError, Err: errors.New("refused")},
		{Type: session.RelayOther, Err: errors.New("reservation attempt 1: refused")},
		{Type: session.HolePunchSuccess},
		{Type: session.PeerInfoReceived, Addr: observed},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := h.orch.Establish(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	state := h.orch.State()
	assert.Equal(t, PhaseAborted, state.Phase)
	assert.True(t, state.PunchEstablished)
	assert.False(t, state.ReservationAccepted)
}

func TestDialWithoutRemotePeerFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeDial, RelayAddress: relayAddr()})

	_, err := h.orch.Establish(context.Background())
	assert.ErrorIs(t, err, ErrMissingRemotePeer)
	assert.Equal(t, 0, h.created, "session factory must not be called")
	assert.Empty(t, h.fake.callLog())
	assert.Equal(t, PhaseAborted, h.orch.Phase())
}

func TestInvalidRelayAddress(t *testing.T) {
	tests := []struct {
		name  string
		relay ma.Multiaddr
	}{
		{"nil", nil},
		{"no peer id", ma.StringCast("/ip4/1.12.76.121/tcp/4001")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: tt.relay})

			_, err := h.orch.Establish(context.Background())
			assert.ErrorIs(t, err, ErrInvalidRelayAddress)
			assert.Equal(t, 0, h.created)
		})
	}
}

func TestUnexpectedEventDuringLocalListen(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
	h.fake.onListen = append(listenEvents(), session.Event{Type: session.PeerInfoSent})

	_, err := h.orch.Establish(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	var unexpected *UnexpectedEventError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, PhaseListeningLocal, unexpected.Phase)
	assert.Equal(t, session.PeerInfoSent, unexpected.Event.Type)
	assert.Equal(t, []string{"listen"}, h.fake.callLog())
	assert.True(t, h.fake.isClosed())
}

func TestUnexpectedEventDuringAddressExchange(t *testing.T) {
	tests := []struct {
		name  string
		event session.Event
	}{
		{"outgoing connection error", session.Event{Type: session.OutgoingConnectionError, Err: errors.New("refused")}},
		{"relay event", session.Event{Type: session.RelayReservationAccepted}},
		{"hole punch", session.Event{Type: session.HolePunchSuccess}},
		{"identify failure", session.Event{Type: session.PeerInfoError, Err: errors.New("reset")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
			h.fake.onListen = listenEvents()
			h.fake.onDialRelay = []session.Event{{Type: session.PeerInfoSent}, tt.event}

			_, err := h.orch.Establish(context.Background())
			var unexpected *UnexpectedEventError
			require.True(t, errors.As(err, &unexpected))
			assert.Equal(t, PhaseObservedAddressExchanged, unexpected.Phase)
			assert.Equal(t, tt.event.Type, unexpected.Event.Type)
		})
	}
}

func TestReservationInDialModeIsInvariantViolation(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeDial, RelayAddress: relayAddr(), RemotePeer: remotePeer(t)})
	h.fake.onListen = listenEvents()
	h.fake.onDialRelay = []session.Event{
		{Type: session.PeerInfoSent},
		{Type: session.PeerInfoReceived, Addr: observed},
	}
	h.fake.onModeAction = []session.Event{{Type: session.RelayReservationAccepted}}

	_, err := h.orch.Establish(context.Background())
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, PhaseAborted, h.orch.Phase())
}

func TestNoListenAddressWithinGrace(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})

	_, err := h.orch.Establish(context.Background())
	assert.ErrorIs(t, err, ErrNoListenAddress)
	assert.NotContains(t, h.fake.callLog(), "dial-relay")
}

func TestSynchronousFailuresAreFatal(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(*fakeSession)
		phase Phase
	}{
		{"listen", func(f *fakeSession) { f.listenErr = boom }, PhaseListeningLocal},
		{"dial relay", func(f *fakeSession) { f.dialErr = boom }, PhaseObservedAddressExchanged},
		{"reserve", func(f *fakeSession) { f.reserveErr = boom }, PhaseModeActionIssued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
			h.fake.onListen = listenEvents()
			h.fake.onDialRelay = []session.Event{
				{Type: session.PeerInfoSent},
				{Type: session.PeerInfoReceived, Addr: observed},
			}
			tt.setup(h.fake)

			_, err := h.orch.Establish(context.Background())
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, PhaseAborted, h.orch.Phase())
			assert.True(t, h.fake.isClosed())

			steps := h.orch.Steps()
			last := steps[len(steps)-1]
			assert.Equal(t, tt.phase, last.Phase)
			assert.ErrorIs(t, last.Err, boom)
		})
	}
}

func TestSessionFactoryFailure(t *testing.T) {
	id, err := crypto.DeriveIdentity("alice")
	require.NoError(t, err)
	boom := errors.New("no transport")

	orch, err := NewOrchestrator(id, Config{Mode: ModeListen, RelayAddress: relayAddr()},
		func(context.Context, *crypto.Identity) (Session, error) { return nil, boom })
	require.NoError(t, err)

	_, err = orch.Establish(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, PhaseAborted, orch.Phase())
}

func TestSessionClosedWhileWaiting(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeListen, RelayAddress: relayAddr()})
	h.fake.onListen = listenEvents()
	h.fake.onDialRelay = nil

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(h.fake.events)
	}()

	_, err := h.orch.Establish(context.Background())
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestEstablishOnlyOnce(t *testing.T) {
	h := newHarness(t, "alice", Config{Mode: ModeDial, RelayAddress: relayAddr()})

	_, err := h.orch.Establish(context.Background())
	require.Error(t, err)

	_, err = h.orch.Establish(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, h.created)
}

func TestNewOrchestratorValidation(t *testing.T) {
	id, err := crypto.DeriveIdentity("alice")
	require.NoError(t, err)
	factory := func(context.Context, *crypto.Identity) (Session, error) { return nil, nil }

	_, err = NewOrchestrator(nil, DefaultConfig(), factory)
	assert.Error(t, err)

	_, err = NewOrchestrator(id, DefaultConfig(), nil)
	assert.Error(t, err)

	orch, err := NewOrchestrator(id, Config{Mode: ModeListen}, factory)
	require.NoError(t, err)
	assert.Equal(t, time.Second, orch.cfg.ListenGrace)
	assert.Equal(t, "/ip4/0.0.0.0/tcp/0", orch.cfg.ListenAddr.String())
	assert.Equal(t, PhaseIdle, orch.Phase())
}

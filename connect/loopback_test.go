package connect

import (
	"context"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/relay"
	"github.com/opd-ai/punchchat/session"
)

func startLoopbackRelay(t *testing.T) ma.Multiaddr {
	t.Helper()

	cfg := relay.DefaultConfig()
	cfg.Port = 0
	cfg.SeedByte = 42

	srv, err := relay.NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	for _, addr := range srv.Addrs() {
		if manet.IsIPLoopback(addr) {
			return addr
		}
	}
	t.Fatalf("relay has no loopback address among %v", srv.Addrs())
	return nil
}

func TestListenModeAgainstLocalRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback relay test in short mode")
	}

	relayAddr := startLoopbackRelay(t)

	id, err := crypto.DeriveIdentity("alice")
	require.NoError(t, err)

	orch, err := NewOrchestrator(id, Config{
		Mode:         ModeListen,
		RelayAddress: relayAddr,
		ListenAddr:   ma.StringCast("/ip4/127.0.0.1/tcp/0"),
		ListenGrace:  500 * time.Millisecond,
	}, NewSessionFactory(session.DefaultConfig()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := orch.Establish(ctx)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, id.ID, s.ID())

	state := orch.State()
	assert.Equal(t, PhaseEstablished, state.Phase)
	assert.True(t, state.ListeningAllInterfaces)
	assert.True(t, state.LearnedObservedAddr)
	assert.True(t, state.ToldRelayObservedAddr)
	assert.True(t, state.ReservationAccepted)
	require.NotNil(t, state.ObservedAddr)
	assert.True(t, manet.IsIPLoopback(state.ObservedAddr))
}

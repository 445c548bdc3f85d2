package transport

import (
	"testing"

	"github.com/libp2p/go-libp2p"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/punchchat/crypto"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultProtocolVersion, cfg.ProtocolVersion)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Less(t, cfg.LowWater, cfg.HighWater)
}

func TestBuildOptionsRequiresIdentity(t *testing.T) {
	_, err := BuildOptions(nil, DefaultConfig())
	assert.Error(t, err)

	_, err = BuildOptions(&crypto.Identity{}, DefaultConfig())
	assert.Error(t, err)
}

func TestBuildOptionsHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping libp2p host construction in short mode")
	}

	id, err := crypto.DeriveIdentity("alice")
	require.NoError(t, err)

	rm, err := NewResourceManager()
	require.NoError(t, err)
	watcher := NewIdentifyWatcher(rm, nil)

	opts, err := BuildOptions(id, Config{
		ResourceManager: watcher,
		HolePunchTracer: NewHolePunchTracer(nil),
	})
	require.NoError(t, err)

	h, err := libp2p.New(opts...)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, id.ID, h.ID())

	// The relay client always listens on /p2p-circuit; no socket is bound.
	var direct []ma.Multiaddr
	for _, addr := range h.Network().ListenAddresses() {
		if !IsCircuitAddress(addr) {
			direct = append(direct, addr)
		}
	}
	assert.Empty(t, direct)
}

func TestServerOptionsValidation(t *testing.T) {
	id, err := crypto.IdentityFromSeedByte(1)
	require.NoError(t, err)

	_, err = ServerOptions(nil, DefaultConfig(), ListenAllInterfacesOnPort(false, 0))
	assert.Error(t, err)

	_, err = ServerOptions(id, DefaultConfig())
	assert.Error(t, err)

	opts, err := ServerOptions(id, Config{}, ListenAllInterfacesOnPort(false, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

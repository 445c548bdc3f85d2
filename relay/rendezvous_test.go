package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(start time.Time) (*Registry, *time.Time) {
	now := start
	r := NewRegistry()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegistryRegisterAndDiscover(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))
	alice, bob := testPeer(t, 1), testPeer(t, 2)

	_, err := r.Register(alice, "chat", []byte("alice-record"), 60)
	require.NoError(t, err)
	_, err = r.Register(bob, "chat", []byte("bob-record"), 60)
	require.NoError(t, err)
	_, err = r.Register(bob, "other", []byte("bob-other"), 60)
	require.NoError(t, err)

	count, err := r.CountRegistrations(bob)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records, cookie, err := r.Discover("chat", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, alice, records[0].Id)
	assert.Equal(t, []byte("alice-record"), records[0].SignedPeerRecord)
	assert.Equal(t, "chat", records[0].Ns)
	assert.Equal(t, 60, records[0].Ttl)
	assert.Equal(t, bob, records[1].Id)
	assert.True(t, r.ValidCookie("chat", cookie))
	assert.False(t, r.ValidCookie("other", cookie))

	all, _, err := r.Discover("", nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRegistryDiscoverPaging(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))
	for i := byte(1); i <= 5; i++ {
		_, err := r.Register(testPeer(t, i), "chat", nil, 60)
		require.NoError(t, err)
	}

	first, cookie, err := r.Discover("chat", nil, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, cookie, err := r.Discover("chat", cookie, 2)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.NotEqual(t, first[0].Id, second[0].Id)

	rest, cookie, err := r.Discover("chat", cookie, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, _, err := r.Discover("chat", cookie, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRegistryReregisterReplaces(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))
	alice := testPeer(t, 1)

	_, err := r.Register(alice, "chat", []byte("old"), 60)
	require.NoError(t, err)
	_, err = r.Register(alice, "chat", []byte("new"), 60)
	require.NoError(t, err)

	records, _, err := r.Discover("chat", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("new"), records[0].SignedPeerRecord)
}

func TestRegistryExpiryAndUnregister(t *testing.T) {
	r, now := newTestRegistry(time.Unix(1000, 0))
	alice, bob := testPeer(t, 1), testPeer(t, 2)

	_, err := r.Register(alice, "chat", nil, 10)
	require.NoError(t, err)
	_, err = r.Register(bob, "chat", nil, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	*now = now.Add(10 * time.Second)
	assert.Equal(t, 1, r.Len())
	count, err := r.CountRegistrations(alice)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, r.Unregister(bob, "chat"))
	assert.Zero(t, r.Len())
}

func TestRegistryInvalidCookie(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.ValidCookie("chat", nil))
	assert.False(t, r.ValidCookie("chat", []byte{1, 2, 3}))
	assert.True(t, r.ValidCookie("chat", makeCookie(4, "chat")))
}

func TestServerRendezvousToggle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping relay host in short mode")
	}

	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.SeedByte = 11

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	assert.Nil(t, srv.Registry())
	require.NoError(t, srv.Close())

	cfg.Rendezvous = true
	srv, err = NewServer(cfg)
	require.NoError(t, err)
	defer srv.Close()
	require.NotNil(t, srv.Registry())
	assert.Zero(t, srv.Registry().Len())
}

package punchchat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/punchchat/connect"
	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/session"
)

func testPeerID(t *testing.T, secret string) string {
	t.Helper()
	id, err := crypto.DeriveIdentity(secret)
	require.NoError(t, err)
	return id.ID.String()
}

func validOptions() *Options {
	opts := NewOptions()
	opts.Name = "alice"
	return opts
}

func TestNewOptions(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, connect.ModeListen, opts.Mode)
	assert.Equal(t, DefaultRelayAddress, opts.RelayAddress)
	assert.Equal(t, time.Second, opts.ListenGrace)
	assert.Equal(t, "info", opts.LogLevel)
	assert.Equal(t, session.DefaultTopic, opts.Topic)
}

func TestOptionsValidate(t *testing.T) {
	bob := testPeerID(t, "bob")

	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr error
	}{
		{"valid listen", func(*Options) {}, nil},
		{"valid dial", func(o *Options) { o.Mode = connect.ModeDial; o.RemoteID = bob }, nil},
		{"bad mode", func(o *Options) { o.Mode = connect.Mode(9) }, ErrInvalidMode},
		{"empty name", func(o *Options) { o.Name = "" }, ErrInvalidName},
		{"blank name", func(o *Options) { o.Name = "  " }, ErrInvalidName},
		{"comma in name", func(o *Options) { o.Name = "bob,alice" }, nil},
		{"empty relay", func(o *Options) { o.RelayAddress = "" }, connect.ErrInvalidRelayAddress},
		{"relay without peer id", func(o *Options) { o.RelayAddress = "/ip4/1.2.3.4/tcp/4001" }, connect.ErrInvalidRelayAddress},
		{"garbage relay", func(o *Options) { o.RelayAddress = "relay.example.com" }, connect.ErrInvalidRelayAddress},
		{"dial without remote", func(o *Options) { o.Mode = connect.ModeDial }, connect.ErrMissingRemotePeer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.modify(opts)
			err := opts.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOptionsValidateOtherErrors(t *testing.T) {
	for name, modify := range map[string]func(*Options){
		"bad remote":     func(o *Options) { o.RemoteID = "not-a-peer" },
		"negative grace": func(o *Options) { o.ListenGrace = -time.Second },
		"empty topic":    func(o *Options) { o.Topic = "" },
		"bad log level":  func(o *Options) { o.LogLevel = "loud" },
	} {
		t.Run(name, func(t *testing.T) {
			opts := validOptions()
			modify(opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestLoadOptions(t *testing.T) {
	bob := testPeerID(t, "bob")
	path := filepath.Join(t.TempDir(), "punchchat.yaml")
	doc := "mode: dial\nname: alice\nremoteID: " + bob + "\nlistenGrace: 2s\ntopic: lobby\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, connect.ModeDial, opts.Mode)
	assert.Equal(t, "alice", opts.Name)
	assert.Equal(t, bob, opts.RemoteID)
	assert.Equal(t, 2*time.Second, opts.ListenGrace)
	assert.Equal(t, "lobby", opts.Topic)
	assert.Equal(t, DefaultRelayAddress, opts.RelayAddress, "unset keys keep their defaults")
	assert.NoError(t, opts.Validate())
}

func TestLoadOptionsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadOptions(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mode: sideways\n"), 0o600))
	_, err = LoadOptions(bad)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestConnectConfig(t *testing.T) {
	opts := validOptions()
	opts.Mode = connect.ModeDial
	opts.RemoteID = testPeerID(t, "bob")
	opts.ListenGrace = 3 * time.Second

	cfg, err := opts.ConnectConfig()
	require.NoError(t, err)
	assert.Equal(t, connect.ModeDial, cfg.Mode)
	assert.Equal(t, DefaultRelayAddress, cfg.RelayAddress.String())
	assert.Equal(t, opts.RemoteID, cfg.RemotePeer.String())
	assert.Equal(t, 3*time.Second, cfg.ListenGrace)
	assert.NotNil(t, cfg.ListenAddr)

	opts.RemoteID = ""
	_, err = opts.ConnectConfig()
	assert.ErrorIs(t, err, connect.ErrMissingRemotePeer)
}

func TestSessionConfig(t *testing.T) {
	opts := validOptions()
	opts.Topic = "lobby"
	assert.Equal(t, "lobby", opts.SessionConfig().Topic)
}

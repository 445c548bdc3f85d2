package transport

import (
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/protocol/identify"
)

// IdentifyWatcher is a resource manager that reports when this host has
// finished answering an identify request. It delegates all accounting to
// the wrapped manager.
type IdentifyWatcher struct {
	network.ResourceManager

	mu     sync.RWMutex
	onSent func(peer.ID)
}

// NewIdentifyWatcher wraps rm. onSent may be nil and set later.
func NewIdentifyWatcher(rm network.ResourceManager, onSent func(peer.ID)) *IdentifyWatcher {
	return &IdentifyWatcher{ResourceManager: rm, onSent: onSent}
}

// SetCallback replaces the callback invoked when identify info was sent.
func (w *IdentifyWatcher) SetCallback(onSent func(peer.ID)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSent = onSent
}

func (w *IdentifyWatcher) notify(p peer.ID) {
	w.mu.RLock()
	fn := w.onSent
	w.mu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// OpenStream wraps inbound stream scopes so the identify protocol can be
// recognised once negotiated.
func (w *IdentifyWatcher) OpenStream(p peer.ID, dir network.Direction) (network.StreamManagementScope, error) {
	scope, err := w.ResourceManager.OpenStream(p, dir)
	if err != nil || dir != network.DirInbound {
		return scope, err
	}
	return &identifyScope{StreamManagementScope: scope, peer: p, watcher: w}, nil
}

// identifyScope marks a stream once it is bound to the identify protocol
// and reports it when the stream is released.
type identifyScope struct {
	network.StreamManagementScope

	peer     peer.ID
	watcher  *IdentifyWatcher
	identify atomic.Bool
	once     sync.Once
}

func (s *identifyScope) SetProtocol(proto protocol.ID) error {
	if err := s.StreamManagementScope.SetProtocol(proto); err != nil {
		return err
	}
	if proto == identify.ID {
		s.identify.Store(true)
	}
	return nil
}

func (s *identifyScope) Done() {
	s.StreamManagementScope.Done()
	if s.identify.Load() {
		s.once.Do(func() { s.watcher.notify(s.peer) })
	}
}

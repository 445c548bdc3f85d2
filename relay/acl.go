package relay

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/metrics"
)

// ACL decides and logs relay requests. With an empty allowlist every
// peer may reserve. Connect requests are always allowed: the destination
// already had to pass the reservation check.
type ACL struct {
	mu    sync.RWMutex
	allow map[peer.ID]struct{}
}

// NewACL creates an ACL restricted to peers, or an open one if peers is empty.
func NewACL(peers []peer.ID) *ACL {
	allow := make(map[peer.ID]struct{}, len(peers))
	for _, p := range peers {
		allow[p] = struct{}{}
	}
	return &ACL{allow: allow}
}

// Add puts p on the allowlist.
func (a *ACL) Add(p peer.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allow[p] = struct{}{}
}

// Remove takes p off the allowlist. Removing the last entry opens the relay.
func (a *ACL) Remove(p peer.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allow, p)
}

func (a *ACL) allowed(p peer.ID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.allow) == 0 {
		return true
	}
	_, ok := a.allow[p]
	return ok
}

// AllowReserve implements the circuit relay ACL filter.
func (a *ACL) AllowReserve(p peer.ID, addr ma.Multiaddr) bool {
	ok := a.allowed(p)
	metrics.RelayRequest("reserve", ok)

	entry := logrus.WithFields(logrus.Fields{
		"function": "AllowReserve",
		"peer_id":  p.String(),
		"addr":     addrString(addr),
	})
	if ok {
		entry.Info("Reservation request accepted")
	} else {
		entry.Warn("Reservation request denied: peer not on allowlist")
	}
	return ok
}

// AllowConnect implements the circuit relay ACL filter.
func (a *ACL) AllowConnect(src peer.ID, srcAddr ma.Multiaddr, dest peer.ID) bool {
	metrics.RelayRequest("connect", true)
	logrus.WithFields(logrus.Fields{
		"function": "AllowConnect",
		"src":      src.String(),
		"src_addr": addrString(srcAddr),
		"dest":     dest.String(),
	}).Info("Circuit request")
	return true
}

func addrString(addr ma.Multiaddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

package relay

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	rvs "github.com/waku-org/go-libp2p-rendezvous"
	rvsdb "github.com/waku-org/go-libp2p-rendezvous/db"

	"github.com/opd-ai/punchchat/metrics"
)

// cookieCounterSize is the length of the registration counter that
// prefixes every discovery cookie.
const cookieCounterSize = 8

type registration struct {
	counter uint64
	peer    peer.ID
	ns      string
	record  []byte
	expires time.Time
}

type registrationKey struct {
	peer peer.ID
	ns   string
}

// Registry is the in-memory store behind the relay's rendezvous service.
// Registrations expire after their TTL; discovery pages through them with
// a cookie holding the last counter handed out.
type Registry struct {
	mu      sync.Mutex
	counter uint64
	regs    map[registrationKey]*registration
	now     func() time.Time
}

var _ rvsdb.DB = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		regs: make(map[registrationKey]*registration),
		now:  time.Now,
	}
}

// Close drops all registrations.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = make(map[registrationKey]*registration)
	return nil
}

// Register stores or replaces the registration of p in ns.
func (r *Registry) Register(p peer.ID, ns string, signedPeerRecord []byte, ttl int) (uint64, error) {
	r.mu.Lock()
	r.counter++
	counter := r.counter
	r.regs[registrationKey{peer: p, ns: ns}] = &registration{
		counter: counter,
		peer:    p,
		ns:      ns,
		record:  append([]byte(nil), signedPeerRecord...),
		expires: r.now().Add(time.Duration(ttl) * time.Second),
	}
	r.mu.Unlock()

	metrics.RendezvousRequest("register")
	logrus.WithFields(logrus.Fields{
		"function":  "Register",
		"peer_id":   p.String(),
		"namespace": ns,
		"ttl":       ttl,
	}).Info("Peer registered")

	return counter, nil
}

// Unregister removes the registration of p in ns, if any.
func (r *Registry) Unregister(p peer.ID, ns string) error {
	r.mu.Lock()
	delete(r.regs, registrationKey{peer: p, ns: ns})
	r.mu.Unlock()

	metrics.RendezvousRequest("unregister")
	logrus.WithFields(logrus.Fields{
		"function":  "Unregister",
		"peer_id":   p.String(),
		"namespace": ns,
	}).Info("Peer unregistered")

	return nil
}

// CountRegistrations returns the number of live registrations of p.
func (r *Registry) CountRegistrations(p peer.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()
	count := 0
	for key := range r.regs {
		if key.peer == p {
			count++
		}
	}
	return count, nil
}

// Discover returns up to limit live registrations in ns (all namespaces
// when ns is empty) made after the one the cookie points at, and the
// cookie for the next page.
func (r *Registry) Discover(ns string, cookie []byte, limit int) ([]rvsdb.RegistrationRecord, []byte, error) {
	r.mu.Lock()
	r.expireLocked()

	var after uint64
	if len(cookie) >= cookieCounterSize {
		after = binary.BigEndian.Uint64(cookie[:cookieCounterSize])
	}

	now := r.now()
	var found []*registration
	for _, reg := range r.regs {
		if reg.counter <= after {
			continue
		}
		if ns != "" && reg.ns != ns {
			continue
		}
		found = append(found, reg)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].counter < found[j].counter })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	records := make([]rvsdb.RegistrationRecord, 0, len(found))
	last := after
	for _, reg := range found {
		records = append(records, rvsdb.RegistrationRecord{
			Id:               reg.peer,
			SignedPeerRecord: reg.record,
			Ns:               reg.ns,
			Ttl:              int(reg.expires.Sub(now) / time.Second),
		})
		last = reg.counter
	}
	r.mu.Unlock()

	metrics.RendezvousRequest("discover")
	logrus.WithFields(logrus.Fields{
		"function":  "Discover",
		"namespace": ns,
		"returned":  len(records),
	}).Info("Discover served")

	return records, makeCookie(last, ns), nil
}

// ValidCookie reports whether cookie was issued for ns.
func (r *Registry) ValidCookie(ns string, cookie []byte) bool {
	if len(cookie) < cookieCounterSize {
		return false
	}
	return bytes.Equal(cookie[cookieCounterSize:], []byte(ns))
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	return len(r.regs)
}

func (r *Registry) expireLocked() {
	now := r.now()
	for key, reg := range r.regs {
		if !now.Before(reg.expires) {
			delete(r.regs, key)
		}
	}
}

func makeCookie(counter uint64, ns string) []byte {
	cookie := make([]byte, cookieCounterSize, cookieCounterSize+len(ns))
	binary.BigEndian.PutUint64(cookie, counter)
	return append(cookie, ns...)
}

// startRendezvous attaches the rendezvous protocol to the relay host.
func (s *Server) startRendezvous() {
	s.registry = NewRegistry()
	s.rendezvous = rvs.NewRendezvousService(s.host, s.registry)

	logrus.WithFields(logrus.Fields{
		"function": "startRendezvous",
		"peer_id":  s.host.ID().String(),
	}).Info("Rendezvous registry enabled")
}

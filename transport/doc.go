// Package transport assembles the libp2p transport stack used by punchchat
// sessions and provides the relay and NAT traversal helpers that sit on top
// of it.
//
// # Stack
//
// [BuildOptions] composes a host from the derived identity: TCP as the base
// stream transport, noise for security, yamux for multiplexing, the circuit
// relay v2 client and DCUtR hole punching. The host starts without listen
// addresses; callers listen explicitly so the resulting notifications can
// be observed in order.
//
//	opts, err := transport.BuildOptions(id, transport.Config{
//	    ResourceManager: watcher,
//	    HolePunchTracer: tracer,
//	})
//	h, err := libp2p.New(opts...)
//
// # Addresses
//
// Relay addresses must end in /p2p/<relay-id>. [CircuitAddress] and
// [CircuitDialAddress] extend them with a circuit hop for reservations and
// relayed dials respectively.
//
// # Observation hooks
//
// go-libp2p does not publish an event when this host answers an identify
// request. [IdentifyWatcher] wraps the resource manager and reports every
// completed inbound identify stream. [HolePunchTracer] turns DCUtR traces
// into success and failure results, and [ReservationKeeper] holds a relay
// reservation open, refreshing it before expiry.
package transport

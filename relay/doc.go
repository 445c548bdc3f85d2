// Package relay runs the public relay peers use to reach each other
// before a direct connection exists.
//
// A [Server] is a libp2p host with a deterministic identity, listening on
// all interfaces, that offers circuit relay v2 reservations. Circuits live
// at most [Config.MaxCircuitDuration]. Every reservation and connect
// request goes through the [ACL], which logs it, counts it in Prometheus
// and optionally restricts reservations to an allowlist.
//
// With [Config.Rendezvous] set the host also serves the rendezvous
// protocol from an in-memory [Registry].
package relay

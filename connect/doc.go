// Package connect drives a session through relay-assisted connection
// establishment.
//
// The [Orchestrator] walks a strictly linear sequence of phases:
//
//	Idle → TransportReady → ListeningLocal → ObservedAddressExchanged
//	     → ModeActionIssued → Established
//
// Local listening settles first. The relay is then dialed and identify
// must run both ways, so that the relay knows our address and we know the
// public address it observed for us. Only then is the mode action issued:
// a dial through the relay circuit to the remote peer, or a reservation
// on the relay. The connection counts as established on a successful hole
// punch (dial) or an accepted reservation (listen).
//
// Events outside the vocabulary a phase expects abort establishment with
// an [*UnexpectedEventError]; nothing is retried.
package connect

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// EventType identifies a session event.
type EventType uint8

const (
	// ListenAddressReady reports a new local listen address.
	ListenAddressReady EventType = iota
	// Dialing reports that an outgoing dial was started.
	Dialing
	// ConnectionEstablished reports a new connection to a peer.
	ConnectionEstablished
	// OutgoingConnectionError reports a failed outgoing dial.
	OutgoingConnectionError
	// PeerInfoSent reports that this host answered an identify request.
	PeerInfoSent
	// PeerInfoReceived reports a completed identify carrying the address
	// the remote observed for us.
	PeerInfoReceived
	// PeerInfoError reports a failed identify exchange.
	PeerInfoError
	// RelayReservationAccepted reports an accepted or renewed reservation.
	RelayReservationAccepted
	// RelayOther reports any other relay client outcome.
	RelayOther
	// HolePunchSuccess reports a direct connection upgrade.
	HolePunchSuccess
	// HolePunchFailure reports a failed direct connection upgrade.
	HolePunchFailure
	// GossipMessageReceived carries a payload from the chat topic.
	GossipMessageReceived
	// GossipPeer reports a peer joining or leaving the chat topic.
	GossipPeer
	// KeepAlive reports a ping result.
	KeepAlive
)

var eventTypeNames = [...]string{
	ListenAddressReady:       "ListenAddressReady",
	Dialing:                  "Dialing",
	ConnectionEstablished:    "ConnectionEstablished",
	OutgoingConnectionError:  "OutgoingConnectionError",
	PeerInfoSent:             "PeerInfoSent",
	PeerInfoReceived:         "PeerInfoReceived",
	PeerInfoError:            "PeerInfoError",
	RelayReservationAccepted: "RelayReservationAccepted",
	RelayOther:               "RelayOther",
	HolePunchSuccess:         "HolePunchSuccess",
	HolePunchFailure:         "HolePunchFailure",
	GossipMessageReceived:    "GossipMessageReceived",
	GossipPeer:               "GossipPeer",
	KeepAlive:                "KeepAlive",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Event is one observation from the session. Only the fields relevant to
// Type are set.
type Event struct {
	Type EventType
	Peer peer.ID
	// Addr is the listen address, the connection's remote address, or the
	// observed address for PeerInfoReceived.
	Addr    ma.Multiaddr
	Payload []byte
	RTT     time.Duration
	// Renewal marks a refreshed reservation.
	Renewal    bool
	Expiration time.Time
	// Joined distinguishes GossipPeer joins from leaves.
	Joined bool
	// Direct marks a hole punch that succeeded on the first direct dial.
	Direct bool
	Err    error
}

// ObservedAddr returns the address the remote saw for this host.
func (e Event) ObservedAddr() ma.Multiaddr {
	if e.Type != PeerInfoReceived {
		return nil
	}
	return e.Addr
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Type.String())

	var parts []string
	if e.Peer != "" {
		parts = append(parts, "peer="+e.Peer.String())
	}
	if e.Addr != nil {
		parts = append(parts, "addr="+e.Addr.String())
	}
	switch e.Type {
	case RelayReservationAccepted:
		parts = append(parts, fmt.Sprintf("renewal=%t", e.Renewal))
	case GossipMessageReceived:
		parts = append(parts, fmt.Sprintf("bytes=%d", len(e.Payload)))
	case GossipPeer:
		parts = append(parts, fmt.Sprintf("joined=%t", e.Joined))
	case KeepAlive:
		if e.Err == nil {
			parts = append(parts, "rtt="+e.RTT.String())
		}
	}
	if e.Err != nil {
		parts = append(parts, "error="+e.Err.Error())
	}

	if len(parts) > 0 {
		b.WriteString("{")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString("}")
	}
	return b.String()
}

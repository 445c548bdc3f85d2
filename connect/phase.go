package connect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Phase is a connection establishment phase. Phases only move forward.
type Phase int

const (
	// PhaseIdle is the state before anything was built.
	PhaseIdle Phase = iota
	// PhaseTransportReady means the session exists.
	PhaseTransportReady
	// PhaseListeningLocal means local listen addresses are settled.
	PhaseListeningLocal
	// PhaseObservedAddressExchanged means the relay and this peer know
	// each other's addresses.
	PhaseObservedAddressExchanged
	// PhaseModeActionIssued means the relayed dial or reservation was issued.
	PhaseModeActionIssued
	// PhaseEstablished means the connection is ready for chat traffic.
	PhaseEstablished
	// PhaseAborted is the terminal failure state.
	PhaseAborted
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseTransportReady:
		return "TransportReady"
	case PhaseListeningLocal:
		return "ListeningLocal"
	case PhaseObservedAddressExchanged:
		return "ObservedAddressExchanged"
	case PhaseModeActionIssued:
		return "ModeActionIssued"
	case PhaseEstablished:
		return "Established"
	case PhaseAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Mode selects which side of the relayed connection this peer plays.
type Mode int

const (
	// ModeDial connects to a remote peer through the relay.
	ModeDial Mode = iota
	// ModeListen reserves a relay slot and waits for the remote.
	ModeListen
)

// ErrInvalidMode is returned for unknown mode names.
var ErrInvalidMode = errors.New("mode must be dial or listen")

func (m Mode) String() string {
	switch m {
	case ModeDial:
		return "dial"
	case ModeListen:
		return "listen"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "dial" or "listen", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dial":
		return ModeDial, nil
	case "listen":
		return ModeListen, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeDial, ModeListen:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is a snapshot of the establishment flags.
type State struct {
	Phase                  Phase
	Mode                   Mode
	ListeningAllInterfaces bool
	LearnedObservedAddr    bool
	ToldRelayObservedAddr  bool
	PunchEstablished       bool
	ReservationAccepted    bool
	// ObservedAddr is the public address the relay reported for us.
	ObservedAddr ma.Multiaddr
	// Remote is the peer the direct upgrade succeeded with.
	Remote peer.ID
}

// AddressesExchanged reports whether both observed-address flags are set.
func (s State) AddressesExchanged() bool {
	return s.LearnedObservedAddr && s.ToldRelayObservedAddr
}

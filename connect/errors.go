package connect

import (
	"errors"
	"fmt"

	"github.com/opd-ai/punchchat/session"
)

var (
	// ErrMissingRemotePeer is returned when dial mode has no remote peer id.
	ErrMissingRemotePeer = errors.New("dial mode requires a remote peer id")
	// ErrInvalidRelayAddress is returned for a relay address without a peer id.
	ErrInvalidRelayAddress = errors.New("relay address must end in /p2p/<relay-peer-id>")
	// ErrUnexpectedEvent matches every *UnexpectedEventError.
	ErrUnexpectedEvent = errors.New("unexpected session event")
	// ErrInvariantViolation reports an event inconsistent with the mode.
	ErrInvariantViolation = errors.New("establishment invariant violated")
	// ErrNoListenAddress is returned when local listening produced no address.
	ErrNoListenAddress = errors.New("no local listen address reported")
)

// UnexpectedEventError is returned when an event outside the expected
// vocabulary arrives while waiting to enter Phase.
type UnexpectedEventError struct {
	Phase Phase
	Event session.Event
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("unexpected event %s while waiting for %s", e.Event, e.Phase)
}

// Is makes errors.Is(err, ErrUnexpectedEvent) hold.
func (e *UnexpectedEventError) Is(target error) bool {
	return target == ErrUnexpectedEvent
}

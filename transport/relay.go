package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	relayclient "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"
)

// RelayState represents the current state of a relay reservation.
type RelayState uint8

const (
	// RelayStateDisconnected means no reservation has been requested.
	RelayStateDisconnected RelayState = iota
	// RelayStateConnecting means a reservation request is in flight.
	RelayStateConnecting
	// RelayStateConnected means a reservation is held.
	RelayStateConnected
	// RelayStateFailed means the keeper gave up after repeated failures.
	RelayStateFailed
)

func (s RelayState) String() string {
	switch s {
	case RelayStateDisconnected:
		return "disconnected"
	case RelayStateConnecting:
		return "connecting"
	case RelayStateConnected:
		return "connected"
	case RelayStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reservation describes an accepted relay reservation.
type Reservation struct {
	Relay      peer.ID
	Expiration time.Time
	// Renewal is set for every reservation after the first.
	Renewal bool
}

// ReservationObserver receives reservation outcomes.
type ReservationObserver interface {
	ReservationAccepted(r Reservation)
	ReservationFailed(relay peer.ID, attempt int, err error)
}

// ReserveFunc requests a reservation slot from a relay.
type ReserveFunc func(ctx context.Context, h host.Host, relay peer.AddrInfo) (time.Time, error)

// ReservationKeeper requests a reservation on a relay and keeps it alive,
// renewing it ahead of expiry. Failed requests are retried a bounded
// number of times.
type ReservationKeeper struct {
	host     host.Host
	relay    peer.AddrInfo
	observer ReservationObserver
	reserve  ReserveFunc

	reconnectDelay time.Duration
	maxReconnects  int
	refreshMargin  time.Duration
	minRefresh     time.Duration

	mu    sync.RWMutex
	state RelayState
}

// NewReservationKeeper creates a keeper for relay. observer must not be nil.
func NewReservationKeeper(h host.Host, relay peer.AddrInfo, observer ReservationObserver) *ReservationKeeper {
	return &ReservationKeeper{
		host:           h,
		relay:          relay,
		observer:       observer,
		reserve:        reserveCircuit,
		reconnectDelay: 5 * time.Second,
		maxReconnects:  3,
		refreshMargin:  2 * time.Minute,
		minRefresh:     time.Second,
		state:          RelayStateDisconnected,
	}
}

func reserveCircuit(ctx context.Context, h host.Host, relay peer.AddrInfo) (time.Time, error) {
	rsvp, err := relayclient.Reserve(ctx, h, relay)
	if err != nil {
		return time.Time{}, err
	}
	return rsvp.Expiration, nil
}

// State returns the current reservation state.
func (k *ReservationKeeper) State() RelayState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

func (k *ReservationKeeper) setState(s RelayState) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

// Run holds the reservation until ctx is cancelled. It returns ctx.Err()
// on cancellation, or an error once maxReconnects consecutive requests
// have failed.
func (k *ReservationKeeper) Run(ctx context.Context) error {
	failures := 0
	renewal := false

	for {
		k.setState(RelayStateConnecting)

		expiration, err := k.reserve(ctx, k.host, k.relay)
		if err != nil {
			if ctx.Err() != nil {
				k.setState(RelayStateDisconnected)
				return ctx.Err()
			}

			failures++
			logrus.WithFields(logrus.Fields{
				"function": "ReservationKeeper.Run",
				"relay":    k.relay.ID.String(),
				"attempt":  failures,
				"error":    err.Error(),
			}).Warn("Relay reservation failed")

			k.observer.ReservationFailed(k.relay.ID, failures, err)

			if failures > k.maxReconnects {
				k.setState(RelayStateFailed)
				return fmt.Errorf("failed to reserve relay slot after %d attempts: %w", failures, err)
			}

			if !sleepCtx(ctx, k.reconnectDelay) {
				k.setState(RelayStateDisconnected)
				return ctx.Err()
			}
			continue
		}

		failures = 0
		k.setState(RelayStateConnected)

		logrus.WithFields(logrus.Fields{
			"function":   "ReservationKeeper.Run",
			"relay":      k.relay.ID.String(),
			"expiration": expiration.Format(time.RFC3339),
			"renewal":    renewal,
		}).Info("Relay reservation accepted")

		k.observer.ReservationAccepted(Reservation{
			Relay:      k.relay.ID,
			Expiration: expiration,
			Renewal:    renewal,
		})
		renewal = true

		if !sleepCtx(ctx, k.refreshIn(expiration)) {
			k.setState(RelayStateDisconnected)
			return ctx.Err()
		}
	}
}

// refreshIn returns how long to wait before renewing a reservation that
// expires at expiration.
func (k *ReservationKeeper) refreshIn(expiration time.Time) time.Duration {
	d := time.Until(expiration) - k.refreshMargin
	if d < k.minRefresh {
		return k.minRefresh
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

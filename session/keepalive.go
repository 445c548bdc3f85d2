package session

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/sirupsen/logrus"
)

// keepAlive pings every connected peer once per interval. Results are
// informational and dropped when the event buffer is full.
func (s *Session) keepAlive() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.host.Network().Peers() {
				s.wg.Add(1)
				go s.pingPeer(p)
			}
		}
	}
}

func (s *Session) pingPeer(p peer.ID) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.KeepAliveTimeout)
	defer cancel()
	ctx = network.WithAllowLimitedConn(ctx, limitedConnReason)

	res, ok := <-ping.Ping(ctx, s.host, p)
	if !ok || s.ctx.Err() != nil {
		return
	}

	if !s.tryEmit(Event{Type: KeepAlive, Peer: p, RTT: res.RTT, Err: res.Error}) {
		logrus.WithFields(logrus.Fields{
			"function": "Session.pingPeer",
			"peer_id":  p.String(),
		}).Debug("Dropped keep-alive result, event buffer full")
	}
}

package session

import (
	"context"
	"encoding/hex"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// MessageID is the content address of a gossip payload: the hex encoded
// BLAKE3-256 digest of its bytes. Identical payloads share an id and are
// delivered once.
func MessageID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func gossipMessageID(m *pb.Message) string {
	return MessageID(m.GetData())
}

func (s *Session) joinGossip() error {
	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = s.cfg.GossipHeartbeat

	ps, err := pubsub.NewGossipSub(s.ctx, s.host,
		pubsub.WithMessageIdFn(gossipMessageID),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithGossipSubParams(params),
	)
	if err != nil {
		return fmt.Errorf("failed to create gossipsub: %w", err)
	}
	s.pubsub = ps

	topic, err := ps.Join(s.cfg.Topic)
	if err != nil {
		return fmt.Errorf("failed to join topic %q: %w", s.cfg.Topic, err)
	}
	s.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %q: %w", s.cfg.Topic, err)
	}
	s.sub = sub

	handler, err := topic.EventHandler()
	if err != nil {
		return fmt.Errorf("failed to watch topic peers: %w", err)
	}

	s.wg.Add(2)
	go s.readMessages(sub)
	go s.readPeerEvents(handler)
	return nil
}

// Publish sends data to the chat topic.
func (s *Session) Publish(ctx context.Context, data []byte) error {
	if err := s.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish to topic %q: %w", s.cfg.Topic, err)
	}
	return nil
}

// TopicPeers returns the peers known to be subscribed to the chat topic.
func (s *Session) TopicPeers() int {
	return len(s.topic.ListPeers())
}

func (s *Session) readMessages(sub *pubsub.Subscription) {
	defer s.wg.Done()

	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "Session.readMessages",
					"error":    err.Error(),
				}).Warn("Gossip subscription ended")
			}
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		s.emit(Event{Type: GossipMessageReceived, Peer: msg.GetFrom(), Payload: msg.GetData()})
	}
}

func (s *Session) readPeerEvents(handler *pubsub.TopicEventHandler) {
	defer s.wg.Done()
	defer handler.Cancel()

	for {
		evt, err := handler.NextPeerEvent(s.ctx)
		if err != nil {
			return
		}
		s.emit(Event{Type: GossipPeer, Peer: evt.Peer, Joined: evt.Type == pubsub.PeerJoin})
	}
}

package messaging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/punchchat/metrics"
	"github.com/opd-ai/punchchat/session"
)

// PublishFailureWarnThreshold is the number of consecutive publish
// failures after which the pump logs a warning instead of an info line.
const PublishFailureWarnThreshold = 5

// Network is the part of a session the pump uses.
type Network interface {
	Events() <-chan session.Event
	Done() <-chan struct{}
	Publish(ctx context.Context, data []byte) error
}

// topicPeerCounter is implemented by sessions that know how many peers
// share the topic.
type topicPeerCounter interface {
	TopicPeers() int
}

// Pump moves chat lines between the UI channels and the gossip topic.
type Pump struct {
	name         string
	timeProvider TimeProvider

	publishFailures int
}

// NewPump creates a pump publishing as name. A nil TimeProvider uses the
// system clock.
func NewPump(name string, tp TimeProvider) *Pump {
	return &Pump{
		name:         name,
		timeProvider: getTimeProvider(tp),
	}
}

// ConsecutivePublishFailures returns the current failure streak.
func (p *Pump) ConsecutivePublishFailures() int {
	return p.publishFailures
}

// Run pumps until ctx is cancelled, uiToNet is closed (nil) or the session
// goes away (session.ErrSessionClosed). Publish failures are never fatal.
func (p *Pump) Run(ctx context.Context, net Network, uiToNet <-chan string, netToUI chan<- string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"name":     p.name,
	}).Info("Message pump started")

	events := net.Events()
	done := net.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return session.ErrSessionClosed
		case line, ok := <-uiToNet:
			if !ok {
				logrus.WithField("function", "Run").Info("UI channel closed, stopping message pump")
				return nil
			}
			p.publish(ctx, net, line)
		case ev, ok := <-events:
			if !ok {
				return session.ErrSessionClosed
			}
			if err := p.deliver(ctx, ev, netToUI); err != nil {
				return err
			}
		}
	}
}

func (p *Pump) publish(ctx context.Context, net Network, line string) {
	data := Encode(NewMessage(line, p.name))
	if err := net.Publish(ctx, data); err != nil {
		p.publishFailures++
		metrics.PublishFailed()

		entry := logrus.WithFields(logrus.Fields{
			"function":             "publish",
			"error":                err.Error(),
			"consecutive_failures": p.publishFailures,
		})
		if p.publishFailures >= PublishFailureWarnThreshold {
			if counter, ok := net.(topicPeerCounter); ok {
				entry = entry.WithField("topic_peers", counter.TopicPeers())
			}
			entry.Warnf("Publish failed %d times in a row, are any peers subscribed?", p.publishFailures)
		} else {
			entry.Info("Failed to publish message")
		}
		return
	}

	p.publishFailures = 0
	metrics.MessagePublished()
	logrus.WithFields(logrus.Fields{
		"function": "publish",
		"bytes":    len(data),
	}).Debug("Published message")
}

// deliver forwards a received gossip message to the UI. Only ctx
// cancellation interrupts the blocking send.
func (p *Pump) deliver(ctx context.Context, ev session.Event, netToUI chan<- string) error {
	if ev.Type != session.GossipMessageReceived {
		return nil
	}

	msg := Decode(ev.Payload)
	metrics.MessageReceived()
	logrus.WithFields(logrus.Fields{
		"function": "deliver",
		"from":     ev.Peer.String(),
		"bytes":    len(ev.Payload),
	}).Debug("Received message")

	select {
	case netToUI <- Format(msg, p.timeProvider.Now()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package punchchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/punchchat/connect"
	"github.com/opd-ai/punchchat/crypto"
	"github.com/opd-ai/punchchat/messaging"
	"github.com/opd-ai/punchchat/metrics"
)

// UI is the user-facing side of the chat. It returns when the user quits
// or ctx is cancelled.
type UI func(ctx context.Context, uiToNet chan<- string, netToUI <-chan string) error

// Client wires an identity, the establishment orchestrator and the
// message pump.
type Client struct {
	opts     *Options
	identity *crypto.Identity
	factory  connect.SessionFactory
	clock    messaging.TimeProvider

	orchestrator *connect.Orchestrator
}

// NewClient validates opts and prepares a client for identity.
func NewClient(opts *Options, identity *crypto.Identity) (*Client, error) {
	if opts == nil {
		return nil, errors.New("options cannot be nil")
	}
	if identity == nil {
		return nil, errors.New("identity cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		opts:     opts,
		identity: identity,
		factory:  connect.NewSessionFactory(opts.SessionConfig()),
		clock:    messaging.DefaultTimeProvider{},
	}, nil
}

// SetSessionFactory replaces the libp2p session factory.
func (c *Client) SetSessionFactory(factory connect.SessionFactory) {
	c.factory = factory
}

// SetTimeProvider sets the clock used to stamp received messages.
func (c *Client) SetTimeProvider(tp messaging.TimeProvider) {
	c.clock = tp
}

// Identity returns the client's identity.
func (c *Client) Identity() *crypto.Identity {
	return c.identity
}

// Orchestrator returns the orchestrator of the current or last Run, or nil.
func (c *Client) Orchestrator() *connect.Orchestrator {
	return c.orchestrator
}

// Run establishes the connection, then pumps messages between the session
// and ui until the user quits (nil), ctx is cancelled (nil) or the
// session fails.
func (c *Client) Run(ctx context.Context, ui UI) error {
	cfg, err := c.opts.ConnectConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.opts.MetricsAddr != "" {
		metrics.Serve(ctx, c.opts.MetricsAddr)
	}

	orchestrator, err := connect.NewOrchestrator(c.identity, cfg, c.factory)
	if err != nil {
		return err
	}
	c.orchestrator = orchestrator

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"peer_id":  c.identity.ID.String(),
		"mode":     cfg.Mode.String(),
		"relay":    cfg.RelayAddress.String(),
	}).Info("Establishing connection")

	sess, err := orchestrator.Establish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to establish connection: %w", err)
	}
	defer sess.Close()

	net, ok := sess.(messaging.Network)
	if !ok {
		return fmt.Errorf("session %T cannot publish messages", sess)
	}

	uiToNet := make(chan string, messaging.ChannelCapacity)
	netToUI := make(chan string, messaging.ChannelCapacity)
	pump := messaging.NewPump(c.opts.Name, c.clock)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := pump.Run(gctx, net, uiToNet, netToUI)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return ui(gctx, uiToNet, netToUI)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("chat stopped: %w", err)
	}

	logrus.WithField("function", "Run").Info("Chat finished")
	return nil
}

// ResolveSecret returns key when given, and the stored secret otherwise.
func ResolveSecret(key string, store crypto.SecretStore) (string, error) {
	if key != "" {
		return key, nil
	}
	if store == nil {
		return "", crypto.ErrNoSecret
	}
	return store.Load()
}

// Package session owns a live libp2p host and the behaviours attached to
// it: ping keep-alive, identify, the circuit relay client, DCUtR hole
// punching and a gossipsub chat topic.
//
// Everything the host observes is translated into a small event
// vocabulary ([EventType]) and delivered in order on a single buffered
// channel, so the connection orchestrator can drive establishment as a
// plain state machine:
//
//	s, err := session.New(ctx, id, session.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	s.Listen(transport.ListenAllInterfaces(false))
//	for ev := range s.Events() {
//	    fmt.Println(ev)
//	}
//
// Event producers block while the buffer is full, except keep-alive
// results which are dropped. Gossip messages carry content-addressed ids
// ([MessageID]) and must be signed by their author.
package session

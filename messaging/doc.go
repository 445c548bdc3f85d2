// Package messaging carries chat lines between the terminal UI and the
// gossip topic.
//
// A [Message] is encoded on the wire as "<content>,<name>" and decoded by
// splitting on the first comma. Decoding is lossy rather than fallible:
// invalid UTF-8 becomes U+FFFD.
//
// The [Pump] owns the network side once a connection is established. It
// multiplexes two inputs with a single select:
//
//   - lines typed by the user, read from the ui-to-net channel, encoded and
//     published on the topic
//   - session events, from which received gossip messages are decoded,
//     formatted and forwarded on the net-to-ui channel
//
// Both channels are bounded at [ChannelCapacity]; a full channel blocks
// its sender, which is the backpressure between the two sides.
//
// Example:
//
//	uiToNet := make(chan string, messaging.ChannelCapacity)
//	netToUI := make(chan string, messaging.ChannelCapacity)
//	pump := messaging.NewPump("alice", nil)
//	err := pump.Run(ctx, sess, uiToNet, netToUI)
package messaging

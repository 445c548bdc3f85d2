// Package punchchat is a peer-to-peer chat for peers behind NATs.
//
// Two peers meet on a public relay. Each dials the relay and learns,
// through identify, the public address the relay observed for it. The
// listening peer then reserves a slot on the relay; the dialing peer
// connects to it through the relay circuit and both sides attempt a hole
// punch to upgrade to a direct connection. Chat lines travel over a
// gossipsub topic, directly or relayed.
//
// # Getting Started
//
//	opts := punchchat.NewOptions()
//	opts.Mode = connect.ModeListen
//	opts.Name = "alice"
//
//	id, err := crypto.DeriveIdentity(secret)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := punchchat.NewClient(opts, id)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = client.Run(ctx, func(ctx context.Context, out chan<- string, in <-chan string) error {
//	    return tui.Run(ctx, opts.Name, out, in)
//	})
//
// The building blocks live in subpackages: crypto derives identities and
// stores secrets, transport and session wrap go-libp2p, connect drives
// establishment, messaging pumps chat lines and tui renders them. The
// relay package is the server side.
package punchchat

package transport

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ErrMissingPeerID is returned for relay addresses without a /p2p/ component.
var ErrMissingPeerID = errors.New("address does not contain a /p2p/ peer id")

var circuitComponent = ma.StringCast("/p2p-circuit")

// ListenAllInterfaces returns the unspecified TCP address with an ephemeral port.
func ListenAllInterfaces(ipv6 bool) ma.Multiaddr {
	if ipv6 {
		return ma.StringCast("/ip6/::/tcp/0")
	}
	return ma.StringCast("/ip4/0.0.0.0/tcp/0")
}

// ListenAllInterfacesOnPort is ListenAllInterfaces with a fixed port.
func ListenAllInterfacesOnPort(ipv6 bool, port uint16) ma.Multiaddr {
	if ipv6 {
		return ma.StringCast(fmt.Sprintf("/ip6/::/tcp/%d", port))
	}
	return ma.StringCast(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port))
}

// ParseRelayAddress parses s and checks that it names a relay peer.
func ParseRelayAddress(s string) (ma.Multiaddr, peer.ID, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse relay address %q: %w", s, err)
	}
	id, err := RelayPeerID(addr)
	if err != nil {
		return nil, "", err
	}
	return addr, id, nil
}

// RelayPeerID extracts the relay's peer id from the final /p2p/ component.
func RelayPeerID(addr ma.Multiaddr) (peer.ID, error) {
	if addr == nil {
		return "", errors.New("relay address cannot be nil")
	}
	_, last := ma.SplitLast(addr)
	if last == nil || last.Protocol().Code != ma.P_P2P {
		return "", ErrMissingPeerID
	}
	id, err := peer.Decode(last.Value())
	if err != nil {
		return "", fmt.Errorf("invalid relay peer id: %w", err)
	}
	return id, nil
}

// RelayAddrInfo converts a relay address into the dialable AddrInfo.
func RelayAddrInfo(addr ma.Multiaddr) (*peer.AddrInfo, error) {
	if _, err := RelayPeerID(addr); err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(addr)
}

// CircuitAddress returns relay/p2p-circuit, the address to listen on when
// requesting a reservation.
func CircuitAddress(relay ma.Multiaddr) ma.Multiaddr {
	return relay.Encapsulate(circuitComponent)
}

// CircuitDialAddress returns relay/p2p-circuit/p2p/remote.
func CircuitDialAddress(relay ma.Multiaddr, remote peer.ID) (ma.Multiaddr, error) {
	if remote == "" {
		return nil, errors.New("remote peer id cannot be empty")
	}
	target, err := ma.NewMultiaddr("/p2p/" + remote.String())
	if err != nil {
		return nil, fmt.Errorf("failed to build peer component: %w", err)
	}
	return CircuitAddress(relay).Encapsulate(target), nil
}

// IsCircuitAddress reports whether addr goes through a relay.
func IsCircuitAddress(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	_, err := addr.ValueForProtocol(ma.P_CIRCUIT)
	return err == nil
}

// ExpandUnspecified replaces an unspecified IP (0.0.0.0 or ::) with one
// address per local interface. Other addresses are returned unchanged.
func ExpandUnspecified(addr ma.Multiaddr) []ma.Multiaddr {
	if !manet.IsIPUnspecified(addr) {
		return []ma.Multiaddr{addr}
	}

	ifaceAddrs, err := manet.InterfaceMultiaddrs()
	if err != nil {
		return []ma.Multiaddr{addr}
	}

	resolved, err := manet.ResolveUnspecifiedAddress(addr, ifaceAddrs)
	if err != nil || len(resolved) == 0 {
		return []ma.Multiaddr{addr}
	}
	return resolved
}

package onion

import "crypto/rsa"

// Hop is one mix relay along a path: enough to RSA-OAEP-encrypt a
// subheader to it and to address it from the previous hop's routing info.
type Hop interface {
	// PublicKey is the RSA key this hop's subheader is encrypted under.
	PublicKey() *rsa.PublicKey

	// RoutingTo returns the routing type and routing info that tells this
	// hop how to reach next.
	RoutingTo(next Hop) (routingType uint16, routingInfo []byte)
}

// RoutingSwapForward is the routing type placed in the final subheader of
// a two-leg packet's first leg: it tells the crossover relay to discard
// whatever remains of header1 and continue routing using header2, which
// travels alongside header1 in the same packet. It is disjoint from both
// the ordinary intra-path routing types a Hop implementation uses and the
// packet.MinExitType range reserved for real exit-handler types.
const RoutingSwapForward uint16 = 0x0001

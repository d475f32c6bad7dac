package onion

import (
	"crypto/rsa"
	"fmt"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

// Action is what a relay does with a packet once ProcessHop has finished
// peeling its own layer.
type Action int

const (
	// ActionForward means Packet should be handed to another relay,
	// addressed by RoutingInfo (an intermediate-hop keyid, or, at the
	// crossover, whatever address form the crossover relay was given).
	ActionForward Action = iota
	// ActionExit means this hop's subheader carried a final routing
	// type (RoutingType >= packet.MinExitType): Packet.Payload is ready
	// for decode.DecodePayload, with RoutingInfo holding tag||exitInfo.
	ActionExit
)

// ProcessResult is what one relay does with a received packet after
// re-entering the onion transform for it, mirroring spec.md's "relay:
// re-enter Onion transform for next hop) or (exit: Payload Decoder)"
// data-flow step.
type ProcessResult struct {
	Action      Action
	RoutingType uint16
	RoutingInfo []byte
	Packet      packet.Packet
}

// ProcessHop peels one subheader layer from pkt.Header1 using priv (this
// relay's own private key), applies this relay's per-hop secret to
// Header2 and Payload, and — if this relay is the crossover point
// (RoutingType == RoutingSwapForward) — additionally performs the
// self-keyed swap that binds the new Header2 to Payload (spec.md
// §4.2.2's swap, undone in reverse here: peeling instead of
// constructing).
//
// The returned Packet is what this relay forwards on. Ordinarily Header1
// is the padded header the next path1 hop will peel and Header2 carries
// this hop's layer removed from the still-wrapped second leg. At the
// crossover, path1 is finished, so the freshly swapped header (what
// path2's first hop will peel) is placed into Header1 instead, and
// Header2 is left zeroed — nothing reads it again.
func ProcessHop(pkt packet.Packet, priv *rsa.PrivateKey) (ProcessResult, error) {
	res, err := PeelHeader(pkt.Header1, priv)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("onion: process hop: %w", err)
	}

	ks := xcrypto.NewKeyset(res.Secret)
	h2 := xcrypto.LionessDecrypt(pkt.Header2[:], ks.LionessKeys(xcrypto.ModeHeaderEncrypt))
	p := xcrypto.LionessDecrypt(pkt.Payload, ks.LionessKeys(xcrypto.ModePayloadEncrypt))

	var out packet.Packet
	if res.RoutingType == RoutingSwapForward {
		p = xcrypto.LionessDecrypt(p, xcrypto.LionessKeysFromHeader(h2))
		h2 = xcrypto.LionessDecrypt(h2, xcrypto.LionessKeysFromPayload(p))

		// path1 ends here: the header path2's first hop peels is what
		// we've been carrying as Header2, so it takes over the wire's
		// Header1 slot for the rest of the journey. The old Header1
		// slot (res.NextHeader) is a path1 continuation nothing reads
		// anymore.
		copy(out.Header1[:], h2[:packet.HeaderLen])
	} else {
		out.Header1 = res.NextHeader
		copy(out.Header2[:], h2[:packet.HeaderLen])
	}
	out.Payload = packet.Payload(p)

	if res.RoutingType >= packet.MinExitType {
		if len(res.RoutingInfo) < packet.TagLen {
			return ProcessResult{}, ErrInvalidExitInfo
		}
		return ProcessResult{
			Action:      ActionExit,
			RoutingType: res.RoutingType,
			RoutingInfo: res.RoutingInfo,
			Packet:      out,
		}, nil
	}

	return ProcessResult{
		Action:      ActionForward,
		RoutingType: res.RoutingType,
		RoutingInfo: res.RoutingInfo,
		Packet:      out,
	}, nil
}

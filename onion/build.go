package onion

import (
	"crypto/rsa"
	"fmt"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

func generateSecrets(n int, prng xcrypto.PRNG) ([][packet.SecretLen]byte, error) {
	secrets := make([][packet.SecretLen]byte, n)
	for i := range secrets {
		b, err := prng.Bytes(packet.SecretLen)
		if err != nil {
			return nil, fmt.Errorf("onion: generate per-hop secret: %w", err)
		}
		copy(secrets[i][:], b)
	}
	return secrets, nil
}

// constructMessage assembles the final two-header packet: it LIONESS-wraps
// the payload under path2's secrets (innermost first), binds header2 and
// the payload to each other via the swap step, then LIONESS-wraps both
// header2 and the payload under path1's secrets (outermost last, applied
// in reverse so the first hop peels first).
func constructMessage(secrets1, secrets2 [][packet.SecretLen]byte, header1, header2 [packet.HeaderLen]byte, payload packet.Payload) packet.Packet {
	p := append(packet.Payload{}, payload...)

	for i := len(secrets2) - 1; i >= 0; i-- {
		keys := xcrypto.NewKeyset(secrets2[i]).LionessKeys(xcrypto.ModePayloadEncrypt)
		p = xcrypto.LionessEncrypt(p, keys)
	}

	h2 := append([]byte{}, header2[:]...)
	h2 = xcrypto.LionessEncrypt(h2, xcrypto.LionessKeysFromPayload(p))
	p = xcrypto.LionessEncrypt(p, xcrypto.LionessKeysFromHeader(h2))

	for i := len(secrets1) - 1; i >= 0; i-- {
		ks := xcrypto.NewKeyset(secrets1[i])
		h2 = xcrypto.LionessEncrypt(h2, ks.LionessKeys(xcrypto.ModeHeaderEncrypt))
		p = xcrypto.LionessEncrypt(p, ks.LionessKeys(xcrypto.ModePayloadEncrypt))
	}

	var out packet.Packet
	out.Header1 = header1
	copy(out.Header2[:], h2)
	out.Payload = p
	return out
}

// BuildForward builds a forward packet routed through path1 then path2,
// handed off to exitType/exitInfo at path2's last hop. Both legs must be
// non-empty: the packet format always carries two headers, joined at the
// crossover relay where path1 ends.
//
// Unless suppressTag is set, a fresh random TagLen-byte tag is generated
// and prepended to exitInfo, mirroring buildForwardPacket: an exit hop's
// routing info is otherwise not guaranteed to be at least TagLen bytes
// long, and both decode.DecodePayload and relay.Handler's exit path
// always read a leading tag off of it. BuildEncryptedForward suppresses
// this — its own exitInfo already carries a tag derived from the
// encrypted-forward ciphertext, so a second, unrelated random one would
// only be dead weight.
func BuildForward(payload packet.Payload, exitType uint16, exitInfo []byte, path1, path2 []Hop, suppressTag bool, prng xcrypto.PRNG) (packet.Packet, error) {
	if len(path1) == 0 || len(path2) == 0 {
		return packet.Packet{}, ErrEmptyPath
	}
	if err := CheckPathLength(path1, path2, exitType, exitInfo, suppressTag); err != nil {
		return packet.Packet{}, err
	}

	if !suppressTag {
		tag, err := xcrypto.RandomTag(prng)
		if err != nil {
			return packet.Packet{}, fmt.Errorf("onion: generate forward tag: %w", err)
		}
		exitInfo = append(append([]byte{}, tag[:]...), exitInfo...)
	}

	secrets1, err := generateSecrets(len(path1), prng)
	if err != nil {
		return packet.Packet{}, err
	}
	secrets2, err := generateSecrets(len(path2), prng)
	if err != nil {
		return packet.Packet{}, err
	}

	header2, err := BuildHeader(path2, secrets2, exitType, exitInfo, prng)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("onion: build second-leg header: %w", err)
	}
	// The crossover relay (path1's last hop) still needs to know where to
	// physically forward the packet once it finishes the swap, so its
	// subheader's routing info is path2's first hop addressed the same
	// way any intermediate hop addresses its successor -- only the
	// routing type differs (RoutingSwapForward instead of whatever
	// RoutingTo would have returned), marking it as the crossover.
	_, swapInfo := path1[len(path1)-1].RoutingTo(path2[0])
	header1, err := BuildHeader(path1, secrets1, RoutingSwapForward, swapInfo, prng)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("onion: build first-leg header: %w", err)
	}

	return constructMessage(secrets1, secrets2, header1, header2, payload), nil
}

// BuildEncryptedForward builds a forward packet end-to-end encrypted to
// recipientPub: a fresh session key and a prefix of msg are RSA-OAEP
// encrypted together (one block), the rest of msg is LIONESS-encrypted
// under a key derived from the session key, and the first TagLen bytes of
// the combined result become the packet's decoding tag (prepended to
// exitInfo so the exit hop's routing info carries it).
func BuildEncryptedForward(msg []byte, exitType uint16, exitInfo []byte, path1, path2 []Hop, recipientPub *rsa.PublicKey, prng xcrypto.PRNG) (packet.Packet, error) {
	const packedInlineCapacity = packet.ModulusBytes - packet.OAEPOverhead
	prefixCap := packet.ModulusBytes - packet.TagLen - packet.EncFwdOverhead
	suffixLen := packet.PayloadLen - (packet.ModulusBytes - packet.TagLen)
	maxMsgLen := prefixCap + suffixLen
	if len(msg) > maxMsgLen {
		return packet.Packet{}, fmt.Errorf("%w: message %d bytes, room for %d", ErrMessageTooLong, len(msg), maxMsgLen)
	}

	sessionKeyBytes, err := prng.Bytes(packet.SecretLen)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("onion: generate session key: %w", err)
	}
	var sessionKey [packet.SecretLen]byte
	copy(sessionKey[:], sessionKeyBytes)

	prefixLen := len(msg)
	if prefixLen > prefixCap {
		prefixLen = prefixCap
	}
	prefix := msg[:prefixLen]
	suffix := msg[prefixLen:]

	rsaPlain := append(append([]byte{}, sessionKeyBytes...), prefix...)
	if len(rsaPlain) > packedInlineCapacity {
		return packet.Packet{}, fmt.Errorf("%w: session key plus prefix exceeds one RSA block", ErrMessageTooLong)
	}
	rsaCipher, err := xcrypto.RSAEncryptOAEP(recipientPub, rsaPlain, prng)
	if err != nil {
		return packet.Packet{}, err
	}

	pad, err := prng.Bytes(suffixLen - len(suffix))
	if err != nil {
		return packet.Packet{}, fmt.Errorf("onion: pad encrypted-forward suffix: %w", err)
	}
	suffixPadded := append(append([]byte{}, suffix...), pad...)
	lionessKeys := xcrypto.NewKeyset(sessionKey).LionessKeys(xcrypto.ModeEndToEndEncrypt)
	encSuffix := xcrypto.LionessEncrypt(suffixPadded, lionessKeys)

	combined := append(append([]byte{}, rsaCipher...), encSuffix...)
	if len(combined) != packet.TagLen+packet.PayloadLen {
		return packet.Packet{}, fmt.Errorf("onion: assembled encrypted-forward body is %d bytes, want %d", len(combined), packet.TagLen+packet.PayloadLen)
	}

	tag := combined[:packet.TagLen]
	payload := packet.Payload(combined[packet.TagLen:])

	fullExitInfo := append(append([]byte{}, tag...), exitInfo...)
	return BuildForward(payload, exitType, fullExitInfo, path1, path2, true, prng)
}

// BuildReply builds a reply packet for a single-use reply block: header2
// and the payload's end-to-end encryption key are already fixed (chosen by
// whoever built the SURB), so only path1 is routed fresh. payload is first
// LIONESS-decrypted under the SURB's encryption key, undoing the
// encryption a stateless decode will re-apply with the same key. Unlike
// BuildForward, the payload is not additionally layered under path2's
// per-hop secrets here — the ReplyBlock carries header2 and shared_key
// only (no secrets), so whoever holds a SURB to reply with never learns
// path2's per-hop secrets in the first place.
//
// firstHopInfo is the crossover subheader's routing info: since path1's
// last hop never sees path2 as a list of Hops (only the opaque header2
// the SURB owner built), the caller supplies it from the ReplyBlockData
// the SURB was minted with (surb.ReplyBlockData.FirstHopRoutingInfo).
func BuildReply(payload packet.Payload, path1 []Hop, header2 [packet.HeaderLen]byte, firstHopInfo []byte, encryptionKey [packet.SecretLen]byte, prng xcrypto.PRNG) (packet.Packet, error) {
	if len(path1) == 0 {
		return packet.Packet{}, ErrEmptyPath
	}

	keys := xcrypto.NewKeyset(encryptionKey).LionessKeys(xcrypto.ModePayloadEncrypt)
	pre := xcrypto.LionessDecrypt(payload, keys)

	secrets1, err := generateSecrets(len(path1), prng)
	if err != nil {
		return packet.Packet{}, err
	}
	header1, err := BuildHeader(path1, secrets1, RoutingSwapForward, firstHopInfo, prng)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("onion: build reply header: %w", err)
	}

	return constructMessage(secrets1, nil, header1, header2, packet.Payload(pre)), nil
}

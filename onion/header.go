package onion

import (
	"crypto/rsa"
	"crypto/subtle"
	"fmt"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

// BuildHeader assembles a packet.HeaderLen-byte header routing through
// path, one subheader per hop, terminating in exitType/exitInfo at the
// final hop. secrets holds one per-hop master secret, in path order.
//
// Construction proceeds from the last hop backward: at each step the
// subheader for hop i is RSA-OAEP encrypted (with any routing info past
// inlineRoutingCapacity spilling into plaintext immediately after the RSA
// block), and the header built for hop i+1 is AES-CTR encrypted under a
// key only hop i can derive, then appended. The very first hop therefore
// can only reveal hop i+1's header bytes by applying its own key; it
// cannot read past its own RSA block into a hop it has not yet decrypted
// for. The junk each hop appends after peeling is precomputed and placed
// in the innermost padding, so every hop receives exactly the header its
// digest was computed over.
func BuildHeader(path []Hop, secrets [][packet.SecretLen]byte, exitType uint16, exitInfo []byte, prng xcrypto.PRNG) ([packet.HeaderLen]byte, error) {
	if len(path) != len(secrets) {
		return [packet.HeaderLen]byte{}, fmt.Errorf("onion: %d hops but %d secrets", len(path), len(secrets))
	}

	entries, _, err := getRouting(path, exitType, exitInfo)
	if err != nil {
		return [packet.HeaderLen]byte{}, err
	}

	cur, err := prng.Bytes(packet.HeaderLen)
	if err != nil {
		return [packet.HeaderLen]byte{}, fmt.Errorf("onion: seed innermost header padding: %w", err)
	}

	// junk is what hops 0..n-2 leave at the end of the header the last hop
	// receives; store it, pre-encrypted for the last hop, where its tail ends.
	var junk []byte
	for i := 0; i < len(path)-1; i++ {
		ks := xcrypto.NewKeyset(secrets[i])
		junk = xcrypto.CTRCrypt(junk, ks.AESKey(xcrypto.ModeHeaderSecret), packet.HeaderLen-entries[i].size-len(junk))
		junk = append(junk, xcrypto.Prng(ks.AESKey(xcrypto.ModeRandomJunk), entries[i].size)...)
	}
	last := len(path) - 1
	end := packet.HeaderLen - entries[last].size
	lastKey := xcrypto.NewKeyset(secrets[last]).AESKey(xcrypto.ModeHeaderSecret)
	copy(cur[end-len(junk):end], xcrypto.CTRCrypt(junk, lastKey, end-len(junk)))

	for i := len(path) - 1; i >= 0; i-- {
		next, err := wrapOneHop(path[i].PublicKey(), secrets[i], entries[i], cur, prng)
		if err != nil {
			return [packet.HeaderLen]byte{}, fmt.Errorf("onion: wrap hop %d: %w", i, err)
		}
		cur = next
	}

	var out [packet.HeaderLen]byte
	copy(out[:], cur)
	return out, nil
}

// wrapOneHop prepends one hop's encrypted subheader to inner (the header
// as hop i+1 will see it), producing a new packet.HeaderLen-byte header.
func wrapOneHop(pub *rsa.PublicKey, secret [packet.SecretLen]byte, entry routingEntry, inner []byte, prng xcrypto.PRNG) ([]byte, error) {
	size := entry.size
	ks := xcrypto.NewKeyset(secret)
	headerKey := ks.AESKey(xcrypto.ModeHeaderSecret)

	tail := xcrypto.CTRCrypt(inner[:packet.HeaderLen-size], headerKey, 0)
	digest := xcrypto.SHA1(tail)

	sh := packet.Subheader{
		Major:       packet.MajorNo,
		Minor:       packet.MinorNo,
		Secret:      secret,
		Digest:      digest,
		RoutingType: entry.routingType,
		RoutingInfo: entry.routingInfo,
	}
	packed := sh.Pack()

	const packedInlineCapacity = packet.ModulusBytes - packet.OAEPOverhead // fixed fields + inlineRoutingCapacity

	inline := packed
	var overflow []byte
	if len(packed) > packedInlineCapacity {
		inline = packed[:packedInlineCapacity]
		overflow = packed[packedInlineCapacity:]
	}

	encBlock, err := xcrypto.RSAEncryptOAEP(pub, inline, prng)
	if err != nil {
		return nil, fmt.Errorf("encrypt subheader: %w", err)
	}

	out := make([]byte, 0, packet.HeaderLen)
	out = append(out, encBlock...)
	out = append(out, overflow...)
	out = append(out, tail...)
	if len(out) != packet.HeaderLen {
		return nil, fmt.Errorf("onion: assembled header is %d bytes, want %d", len(out), packet.HeaderLen)
	}
	return out, nil
}

// PeelResult is what remains after a relay strips its own layer from a
// header: the routing instruction it was given, and the header to hand
// to the next hop.
type PeelResult struct {
	RoutingType uint16
	RoutingInfo []byte
	Secret      [packet.SecretLen]byte
	NextHeader  [packet.HeaderLen]byte
}

// PeelHeader decrypts the subheader at the front of header using priv,
// verifies its digest against the header bytes that follow, and returns
// the routing instruction plus a freshly padded header to forward.
func PeelHeader(header [packet.HeaderLen]byte, priv *rsa.PrivateKey) (PeelResult, error) {
	encBlock := header[:packet.EncSubheaderLen]
	inline, err := xcrypto.RSADecryptOAEP(priv, encBlock)
	if err != nil {
		return PeelResult{}, fmt.Errorf("%w: decrypt subheader: %v", xcrypto.ErrCryptoFailure, err)
	}

	riLen, err := packet.DeclaredRoutingInfoLen(inline)
	if err != nil {
		return PeelResult{}, err
	}
	inlineRiLen := len(inline) - packet.MinSubheaderLen
	overflowLen := riLen - inlineRiLen
	if overflowLen < 0 {
		overflowLen = 0
	}
	size := packet.EncSubheaderLen + overflowLen
	if size > packet.HeaderLen {
		return PeelResult{}, fmt.Errorf("%w: subheader claims %d bytes", ErrPathTooLong, size)
	}

	full := inline
	if overflowLen > 0 {
		full = append(append([]byte{}, inline...), header[packet.EncSubheaderLen:packet.EncSubheaderLen+overflowLen]...)
	}
	sh, err := packet.ParseSubheader(full)
	if err != nil {
		return PeelResult{}, err
	}

	tail := header[size:]
	gotDigest := xcrypto.SHA1(tail[:])
	if subtle.ConstantTimeCompare(gotDigest[:], sh.Digest[:]) != 1 {
		return PeelResult{}, ErrCorruptHeader
	}

	headerKey := xcrypto.NewKeyset(sh.Secret).AESKey(xcrypto.ModeHeaderSecret)
	decrypted := xcrypto.CTRCrypt(tail[:], headerKey, 0)

	junkKey := xcrypto.NewKeyset(sh.Secret).AESKey(xcrypto.ModeRandomJunk)
	junk := xcrypto.Prng(junkKey, size)

	var next [packet.HeaderLen]byte
	copy(next[:], decrypted)
	copy(next[packet.HeaderLen-size:], junk)

	return PeelResult{
		RoutingType: sh.RoutingType,
		RoutingInfo: sh.RoutingInfo,
		Secret:      sh.Secret,
		NextHeader:  next,
	}, nil
}

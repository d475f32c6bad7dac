package packet

import (
	"encoding/binary"
	"fmt"
)

// Subheader is the per-hop routing instruction prepended to a header's
// RSA-encrypted block: a protocol version, the hop's shared secret, a
// digest binding it to the rest of the header, and routing info naming
// the next hop (or, at the final hop, the exit type and exit info).
type Subheader struct {
	Major, Minor uint8
	Secret       [SecretLen]byte
	Digest       [DigestLen]byte
	RoutingType  uint16
	RoutingInfo  []byte
}

// Pack serializes the subheader's fixed fields followed by its full
// RoutingInfo. Callers that need to split inline-vs-overflow routing info
// across the RSA block boundary do so themselves (see onion.wrapOneHop).
func (s Subheader) Pack() []byte {
	out := make([]byte, MinSubheaderLen+len(s.RoutingInfo))
	out[0] = s.Major
	out[1] = s.Minor
	copy(out[2:2+SecretLen], s.Secret[:])
	copy(out[2+SecretLen:2+SecretLen+DigestLen], s.Digest[:])
	binary.BigEndian.PutUint16(out[2+SecretLen+DigestLen:], s.RoutingType)
	binary.BigEndian.PutUint16(out[4+SecretLen+DigestLen:], uint16(len(s.RoutingInfo)))
	copy(out[MinSubheaderLen:], s.RoutingInfo)
	return out
}

// ParseSubheader parses a subheader's fixed fields from the front of b.
// RoutingInfo is truncated to however many bytes are actually present in
// b; a caller expecting overflow routing info spilled past an RSA block
// reassembles it separately via DeclaredRoutingInfoLen.
func ParseSubheader(b []byte) (Subheader, error) {
	if len(b) < MinSubheaderLen {
		return Subheader{}, fmt.Errorf("%w: subheader shorter than %d bytes", ErrMalformedPayload, MinSubheaderLen)
	}
	var s Subheader
	s.Major = b[0]
	s.Minor = b[1]
	copy(s.Secret[:], b[2:2+SecretLen])
	copy(s.Digest[:], b[2+SecretLen:2+SecretLen+DigestLen])
	s.RoutingType = binary.BigEndian.Uint16(b[2+SecretLen+DigestLen:])
	riLen := int(binary.BigEndian.Uint16(b[4+SecretLen+DigestLen:]))

	avail := b[MinSubheaderLen:]
	if riLen <= len(avail) {
		s.RoutingInfo = append([]byte(nil), avail[:riLen]...)
	} else {
		s.RoutingInfo = append([]byte(nil), avail...)
	}
	return s, nil
}

// DeclaredRoutingInfoLen reports the ri_len field without requiring the
// full routing info to already be present in b — the header compiler
// needs this to learn how many overflow bytes follow the RSA block before
// it has decrypted anything past the subheader's fixed fields.
func DeclaredRoutingInfoLen(b []byte) (int, error) {
	if len(b) < MinSubheaderLen {
		return 0, fmt.Errorf("%w: subheader shorter than %d bytes", ErrMalformedPayload, MinSubheaderLen)
	}
	return int(binary.BigEndian.Uint16(b[4+SecretLen+DigestLen:])), nil
}

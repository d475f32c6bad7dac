package packet

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/corvidrelay/corvid/xcrypto"
)

// Payload is a fixed PayloadLen-byte packet payload, either a Singleton
// (a whole message, possibly padded) or a Fragment (one piece of a
// message too large for one packet).
type Payload []byte

// IsFragment reports whether p is a Fragment payload.
func (p Payload) IsFragment() bool {
	return p[0]&flagFragment != 0
}

// IsCompressed reports whether p's data region is DEFLATE-compressed.
func (p Payload) IsCompressed() bool {
	return p[0]&flagCompressed != 0
}

// PackSingleton builds a Singleton payload carrying data (already
// compressed by the caller if desired), hashed and padded out to
// PayloadLen with bytes drawn from prng.
func PackSingleton(data []byte, compressed bool, prng xcrypto.PRNG) (Payload, error) {
	room := PayloadLen - SingletonPayloadOverhead
	if len(data) > room {
		return nil, fmt.Errorf("%w: singleton data exceeds %d bytes", ErrMalformedPayload, room)
	}
	pad, err := prng.Bytes(room - len(data))
	if err != nil {
		return nil, fmt.Errorf("packet: pad singleton payload: %w", err)
	}

	body := make([]byte, 0, room)
	body = append(body, data...)
	body = append(body, pad...)
	hash := xcrypto.SHA1(body)

	out := make(Payload, PayloadLen)
	if compressed {
		out[0] |= flagCompressed
	}
	binary.BigEndian.PutUint16(out[singletonSizeOffset:singletonSizeOffset+2], uint16(len(data)))
	copy(out[singletonHashOffset:singletonHashOffset+DigestLen], hash[:])
	copy(out[SingletonPayloadOverhead:], body)
	return out, nil
}

// PackFragment builds one Fragment payload: a slice of a larger message,
// tagged with the message's ID and this fragment's position, hashed and
// padded out to PayloadLen.
func PackFragment(messageID [FragmentMessageIDLen]byte, index, count uint16, data []byte, compressed bool, prng xcrypto.PRNG) (Payload, error) {
	room := PayloadLen - FragmentPayloadOverhead
	if len(data) > room {
		return nil, fmt.Errorf("%w: fragment data exceeds %d bytes", ErrMalformedPayload, room)
	}
	pad, err := prng.Bytes(room - len(data))
	if err != nil {
		return nil, fmt.Errorf("packet: pad fragment payload: %w", err)
	}

	meta := make([]byte, fragmentMetaLen)
	copy(meta[:FragmentMessageIDLen], messageID[:])
	binary.BigEndian.PutUint16(meta[FragmentMessageIDLen:], index)
	binary.BigEndian.PutUint16(meta[FragmentMessageIDLen+2:], count)

	hashed := make([]byte, 0, fragmentMetaLen+len(data)+len(pad))
	hashed = append(hashed, meta...)
	hashed = append(hashed, data...)
	hashed = append(hashed, pad...)
	hash := xcrypto.SHA1(hashed)

	out := make(Payload, PayloadLen)
	out[0] = flagFragment
	if compressed {
		out[0] |= flagCompressed
	}
	copy(out[fragmentHashOffset:fragmentHashOffset+DigestLen], hash[:])
	copy(out[FragmentPayloadOverhead-fragmentMetaLen:FragmentPayloadOverhead], meta)
	copy(out[FragmentPayloadOverhead:], data)
	copy(out[FragmentPayloadOverhead+len(data):], pad)
	return out, nil
}

// FragmentMeta is the identifying metadata carried by a Fragment payload.
type FragmentMeta struct {
	MessageID [FragmentMessageIDLen]byte
	Index     uint16
	Count     uint16
}

// CheckPayload verifies p's embedded hash. On success it returns the body
// (for a Singleton: the first size message bytes, padding removed; for a
// Fragment: the message bytes plus padding that follow the metadata
// fields) and the parsed Fragment metadata, if any.
func CheckPayload(p Payload) (body []byte, meta *FragmentMeta, ok bool) {
	if len(p) != PayloadLen {
		return nil, nil, false
	}

	if p.IsFragment() {
		region := p[FragmentPayloadOverhead-fragmentMetaLen:]
		want := xcrypto.SHA1(region)
		if subtle.ConstantTimeCompare(want[:], p[fragmentHashOffset:fragmentHashOffset+DigestLen]) != 1 {
			return nil, nil, false
		}
		m := &FragmentMeta{
			Index: binary.BigEndian.Uint16(region[FragmentMessageIDLen:]),
			Count: binary.BigEndian.Uint16(region[FragmentMessageIDLen+2:]),
		}
		copy(m.MessageID[:], region[:FragmentMessageIDLen])
		return region[fragmentMetaLen:], m, true
	}

	region := p[SingletonPayloadOverhead:]
	want := xcrypto.SHA1(region)
	if subtle.ConstantTimeCompare(want[:], p[singletonHashOffset:singletonHashOffset+DigestLen]) != 1 {
		return nil, nil, false
	}
	size := binary.BigEndian.Uint16(p[singletonSizeOffset : singletonSizeOffset+2])
	if int(size) > len(region) {
		return nil, nil, false
	}
	return region[:size], nil, true
}

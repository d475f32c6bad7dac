package packet

import "fmt"

// PacketLen is the total wire size of a packet: two headers plus a
// payload.
const PacketLen = 2*HeaderLen + PayloadLen

// Packet is a complete on-the-wire packet: two onion-wrapped headers and
// one onion-wrapped payload.
type Packet struct {
	Header1 [HeaderLen]byte
	Header2 [HeaderLen]byte
	Payload Payload
}

// Pack serializes p into a PacketLen-byte slice.
func (p Packet) Pack() []byte {
	out := make([]byte, PacketLen)
	copy(out[0:HeaderLen], p.Header1[:])
	copy(out[HeaderLen:2*HeaderLen], p.Header2[:])
	copy(out[2*HeaderLen:], p.Payload)
	return out
}

// ParsePacket parses a PacketLen-byte slice into a Packet.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) != PacketLen {
		return Packet{}, fmt.Errorf("%w: packet is %d bytes, want %d", ErrMalformedPayload, len(b), PacketLen)
	}
	var p Packet
	copy(p.Header1[:], b[0:HeaderLen])
	copy(p.Header2[:], b[HeaderLen:2*HeaderLen])
	p.Payload = append(Payload(nil), b[2*HeaderLen:]...)
	return p, nil
}

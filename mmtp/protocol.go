// Package mmtp implements the Mix Minion Transport Protocol server and
// client sides: the asynchronous, reactor-driven connection that carries
// SEND/JUNK packets between relays over TLS, per spec.md §4.5.
package mmtp

import (
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/corvidrelay/corvid/packet"
)

// ProtocolVersion is the only MMTP version this build speaks.
const ProtocolVersion = "0.3"

const (
	// controlLineLen is the fixed length of a message's control line,
	// including its trailing CRLF: "SEND\r\n" or "JUNK\r\n".
	controlLineLen = 6
	// checksumLen is the length of the trailing SHA-1 checksum on a
	// message, and of the digest in a server acknowledgement.
	checksumLen = sha1.Size
)

// wireMessageLen is the exact byte length of one MMTP message: 6-byte
// control line + packet.PacketLen-byte packet + 20-byte checksum, per
// spec.md §4.5.2. packet.PacketLen (two headers plus a payload) is
// exactly 32768 bytes, matching spec.md's literal "6+32768+20=32794".
const wireMessageLen = controlLineLen + wirePacketLen + checksumLen

// wirePacketLen is the fixed size of the packet travelling inside one
// MMTP message: a full two-leg onion packet, header1+header2+payload.
const wirePacketLen = packet.PacketLen

const (
	controlSend = "SEND\r\n"
	controlJunk = "JUNK\r\n"
)

const (
	ackReceived = "RECEIVED\r\n"
	ackRejected = "REJECTED\r\n"
	// ackControlLen is the length of an ack's control line; both forms
	// are the same length ("RECEIVED\r\n"/"REJECTED\r\n", 10 bytes).
	ackControlLen = len(ackReceived)
	// ackLen is the fixed total length of one server-to-client
	// acknowledgement: control line plus checksum.
	ackLen = ackControlLen + checksumLen
)

var (
	// ErrUnsupportedVersion is returned when a peer's protocol line
	// names no version this build speaks.
	ErrUnsupportedVersion = errors.New("mmtp: unsupported protocol version")
	// ErrProtocolViolation covers every malformed-wire-data condition
	// spec.md §7 treats as connection-fatal: an unrecognized control
	// line, a bad message checksum, or a message or ack buffer of the
	// wrong length. A connection that ends part-way through a message is
	// closed as a normal close, not as a violation.
	ErrProtocolViolation = errors.New("mmtp: protocol violation")
)

// messageChecksum computes SHA-1(wirePacket || label), the checksum
// scheme spec.md §4.5.2 uses both for a client's outgoing message
// (label "SEND" or "JUNK") and a server's acknowledgement (label
// "RECEIVED", "RECEIVED JUNK", or "REJECTED").
func messageChecksum(wirePacket []byte, label string) [checksumLen]byte {
	h := sha1.New()
	h.Write(wirePacket)
	h.Write([]byte(label))
	var out [checksumLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// clientMessage is one decoded inbound message: which control line it
// carried, and the wire packet bytes (already checksum-verified).
type clientMessage struct {
	junk       bool
	wirePacket []byte
}

// parseControlLine validates a 6-byte control line and reports whether
// it is JUNK.
func parseControlLine(line []byte) (junk bool, err error) {
	switch string(line) {
	case controlSend:
		return false, nil
	case controlJunk:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unrecognized control line %q", ErrProtocolViolation, line)
	}
}

// decodeMessage parses one fixed-length MMTP message (control line,
// packet, checksum) and verifies its checksum. A checksum mismatch is
// connection-fatal per spec.md §4.5.2, not merely message-rejected.
func decodeMessage(raw []byte) (clientMessage, error) {
	if len(raw) != wireMessageLen {
		return clientMessage{}, fmt.Errorf("%w: message length %d, want %d", ErrProtocolViolation, len(raw), wireMessageLen)
	}
	junk, err := parseControlLine(raw[:controlLineLen])
	if err != nil {
		return clientMessage{}, err
	}
	wirePacket := raw[controlLineLen : controlLineLen+wirePacketLen]
	gotChecksum := raw[controlLineLen+wirePacketLen:]

	label := controlSend[:len(controlSend)-2]
	if junk {
		label = controlJunk[:len(controlJunk)-2]
	}
	want := messageChecksum(wirePacket, label)
	if !constantTimeEqual(gotChecksum, want[:]) {
		return clientMessage{}, fmt.Errorf("%w: checksum mismatch", ErrProtocolViolation)
	}
	return clientMessage{junk: junk, wirePacket: wirePacket}, nil
}

// encodeMessage builds the wire bytes for an outbound SEND/JUNK message.
func encodeMessage(wirePacket []byte, junk bool) ([]byte, error) {
	if len(wirePacket) != wirePacketLen {
		return nil, fmt.Errorf("mmtp: packet length %d, want %d", len(wirePacket), wirePacketLen)
	}
	control := controlSend
	label := "SEND"
	if junk {
		control = controlJunk
		label = "JUNK"
	}
	sum := messageChecksum(wirePacket, label)
	out := make([]byte, 0, wireMessageLen)
	out = append(out, control...)
	out = append(out, wirePacket...)
	out = append(out, sum[:]...)
	return out, nil
}

// ackKind names which acknowledgement a server sends back for a
// received message.
type ackKind int

const (
	ackAccepted ackKind = iota
	ackAcceptedJunk
	ackDenied
)

// encodeAck builds the server's acknowledgement for wirePacket per
// spec.md §4.5.2's three ack forms.
func encodeAck(wirePacket []byte, kind ackKind) []byte {
	var control, label string
	switch kind {
	case ackAccepted:
		control, label = ackReceived, "RECEIVED"
	case ackAcceptedJunk:
		control, label = ackReceived, "RECEIVED JUNK"
	case ackDenied:
		control, label = ackRejected, "REJECTED"
	}
	sum := messageChecksum(wirePacket, label)
	out := make([]byte, 0, len(control)+checksumLen)
	out = append(out, control...)
	out = append(out, sum[:]...)
	return out
}

// decodeAck parses a fixed-length server acknowledgement and verifies
// its checksum against wirePacket, the packet the client believes this
// ack answers. Ordering is FIFO per connection (spec.md §5), so the
// caller is responsible for matching acks to outstanding sends in send
// order; decodeAck only validates the one it is handed.
func decodeAck(raw []byte, wirePacket []byte) (accepted bool, err error) {
	if len(raw) != ackLen {
		return false, fmt.Errorf("%w: ack length %d, want %d", ErrProtocolViolation, len(raw), ackLen)
	}
	control := string(raw[:ackControlLen])
	checksum := raw[ackControlLen:]

	var label string
	switch control {
	case ackReceived:
		accepted = true
		label = "RECEIVED"
	case ackRejected:
		accepted = false
		label = "REJECTED"
	default:
		return false, fmt.Errorf("%w: unrecognized ack control line %q", ErrProtocolViolation, control)
	}
	want := messageChecksum(wirePacket, label)
	if !constantTimeEqual(checksum, want[:]) {
		// A RECEIVED-JUNK ack uses a different label than a plain
		// RECEIVED ack for the same bytes; try it before giving up,
		// since junk acks are otherwise indistinguishable on the wire.
		wantJunk := messageChecksum(wirePacket, "RECEIVED JUNK")
		if control == ackReceived && constantTimeEqual(checksum, wantJunk[:]) {
			return true, nil
		}
		return false, fmt.Errorf("%w: ack checksum mismatch", ErrProtocolViolation)
	}
	return accepted, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

package mmtp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/corvidrelay/corvid/packet"
)

func randomWirePacket(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, wirePacketLen)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func TestWireMessageLenMatchesSpec(t *testing.T) {
	if wireMessageLen != 32794 {
		t.Fatalf("wireMessageLen = %d, want 32794", wireMessageLen)
	}
	if wirePacketLen != packet.PacketLen {
		t.Fatalf("wirePacketLen = %d, want packet.PacketLen = %d", wirePacketLen, packet.PacketLen)
	}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	wirePacket := randomWirePacket(t)
	for _, junk := range []bool{false, true} {
		raw, err := encodeMessage(wirePacket, junk)
		if err != nil {
			t.Fatalf("encodeMessage(junk=%v): %v", junk, err)
		}
		if len(raw) != wireMessageLen {
			t.Fatalf("encodeMessage length = %d, want %d", len(raw), wireMessageLen)
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			t.Fatalf("decodeMessage: %v", err)
		}
		if msg.junk != junk {
			t.Fatalf("decodeMessage junk = %v, want %v", msg.junk, junk)
		}
		if !bytes.Equal(msg.wirePacket, wirePacket) {
			t.Fatalf("decodeMessage wirePacket mismatch")
		}
	}
}

func TestDecodeMessageBadChecksumIsProtocolViolation(t *testing.T) {
	wirePacket := randomWirePacket(t)
	raw, err := encodeMessage(wirePacket, false)
	if err != nil {
		t.Fatalf("encodeMessage: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	_, err = decodeMessage(raw)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("decodeMessage with bad checksum: err = %v, want ErrProtocolViolation", err)
	}
}

func TestDecodeMessageUnrecognizedControlLine(t *testing.T) {
	wirePacket := randomWirePacket(t)
	raw, err := encodeMessage(wirePacket, false)
	if err != nil {
		t.Fatalf("encodeMessage: %v", err)
	}
	copy(raw[:controlLineLen], []byte("NOPE!\n"))
	_, err = decodeMessage(raw)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("decodeMessage with bad control line: err = %v, want ErrProtocolViolation", err)
	}
}

func TestDecodeMessageWrongLength(t *testing.T) {
	_, err := decodeMessage(make([]byte, wireMessageLen-1))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("decodeMessage with short buffer: err = %v, want ErrProtocolViolation", err)
	}
}

func TestEncodeAckForms(t *testing.T) {
	wirePacket := randomWirePacket(t)
	accepted := encodeAck(wirePacket, ackAccepted)
	acceptedJunk := encodeAck(wirePacket, ackAcceptedJunk)
	denied := encodeAck(wirePacket, ackDenied)

	if !bytes.HasPrefix(accepted, []byte(ackReceived)) {
		t.Fatalf("accepted ack does not start with RECEIVED")
	}
	if !bytes.HasPrefix(acceptedJunk, []byte(ackReceived)) {
		t.Fatalf("accepted-junk ack does not start with RECEIVED")
	}
	if !bytes.HasPrefix(denied, []byte(ackRejected)) {
		t.Fatalf("denied ack does not start with REJECTED")
	}
	if bytes.Equal(accepted[len(ackReceived):], acceptedJunk[len(ackReceived):]) {
		t.Fatalf("accepted and accepted-junk ack checksums collide (distinct labels should differ)")
	}
}

package mmtp

import (
	"io"
	"net"
	"testing"
	"time"
)

func waitEvent(t *testing.T, events chan any, timeout time.Duration) any {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for connection event")
		return nil
	}
}

func TestConnHandshakeMessageAckRoundTrip(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()

	serverEvents := make(chan any, 8)
	clientEvents := make(chan any, 8)
	bucket := NewTokenBucket(0, 0, nil)

	serverConn := newConn(serverRaw, RoleServer, bucket, serverEvents, nil)
	clientConn := newConn(clientRaw, RoleClient, bucket, clientEvents, nil)

	go serverConn.run(time.Second)
	go clientConn.run(time.Second)

	wirePacket := make([]byte, wirePacketLen)
	for i := range wirePacket {
		wirePacket[i] = byte(i)
	}

	if err := clientConn.Send(wirePacket, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitEvent(t, serverEvents, 2*time.Second)
	pe, ok := ev.(packetEvent)
	if !ok {
		t.Fatalf("server event = %T, want packetEvent", ev)
	}
	if pe.junk {
		t.Fatal("packetEvent.junk = true for a SEND message")
	}
	if string(pe.wirePacket) != string(wirePacket) {
		t.Fatal("server received a different wire packet than the client sent")
	}

	ev = waitEvent(t, clientEvents, 2*time.Second)
	ae, ok := ev.(ackEvent)
	if !ok {
		t.Fatalf("client event = %T, want ackEvent", ev)
	}
	if !ae.accepted {
		t.Fatal("ackEvent.accepted = false, want true")
	}

	_ = clientConn.Close()
	_ = serverConn.Close()

	ev = waitEvent(t, clientEvents, 2*time.Second)
	if _, ok := ev.(closedEvent); !ok {
		t.Fatalf("client final event = %T, want closedEvent", ev)
	}
	ev = waitEvent(t, serverEvents, 2*time.Second)
	if _, ok := ev.(closedEvent); !ok {
		t.Fatalf("server final event = %T, want closedEvent", ev)
	}
}

func TestConnJunkMessageNotDelivered(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()

	serverEvents := make(chan any, 8)
	clientEvents := make(chan any, 8)
	bucket := NewTokenBucket(0, 0, nil)

	serverConn := newConn(serverRaw, RoleServer, bucket, serverEvents, nil)
	clientConn := newConn(clientRaw, RoleClient, bucket, clientEvents, nil)

	go serverConn.run(time.Second)
	go clientConn.run(time.Second)
	defer func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	}()

	wirePacket := make([]byte, wirePacketLen)
	if err := clientConn.Send(wirePacket, true); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitEvent(t, clientEvents, 2*time.Second)
	ae, ok := ev.(ackEvent)
	if !ok {
		t.Fatalf("client event = %T, want ackEvent", ev)
	}
	if !ae.accepted {
		t.Fatal("junk message was not acknowledged as accepted")
	}

	select {
	case ev := <-serverEvents:
		if _, ok := ev.(packetEvent); ok {
			t.Fatal("server posted a packetEvent for a junk message")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnRejectModeDeniesMessage(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()

	serverEvents := make(chan any, 8)
	clientEvents := make(chan any, 8)
	bucket := NewTokenBucket(0, 0, nil)

	serverConn := newConn(serverRaw, RoleServer, bucket, serverEvents, nil)
	serverConn.SetRejectMode(true)
	clientConn := newConn(clientRaw, RoleClient, bucket, clientEvents, nil)

	go serverConn.run(time.Second)
	go clientConn.run(time.Second)
	defer func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	}()

	wirePacket := make([]byte, wirePacketLen)
	if err := clientConn.Send(wirePacket, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := waitEvent(t, clientEvents, 2*time.Second)
	ae, ok := ev.(ackEvent)
	if !ok {
		t.Fatalf("client event = %T, want ackEvent", ev)
	}
	if ae.accepted {
		t.Fatal("reject-mode server acknowledged a message as accepted")
	}
}

func TestConnUnsupportedVersionFailsHandshake(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()

	serverEvents := make(chan any, 8)
	clientEvents := make(chan any, 8)
	bucket := NewTokenBucket(0, 0, nil)

	serverConn := newConn(serverRaw, RoleServer, bucket, serverEvents, nil)
	go serverConn.run(time.Second)

	go func() {
		_, _ = clientRaw.Write([]byte("MMTP 9.9\r\n"))
	}()
	// net.Pipe is unbuffered: read the server's version reply so its
	// writer can finish and the connection can close.
	go func() { _, _ = io.Copy(io.Discard, clientRaw) }()
	defer clientRaw.Close()

	ev := waitEvent(t, serverEvents, 2*time.Second)
	ce, ok := ev.(closedEvent)
	if !ok {
		t.Fatalf("server event = %T, want closedEvent", ev)
	}
	if ce.reason != closeProtocolViolation && ce.reason != closeNetworkError {
		t.Fatalf("close reason = %v, want protocol violation or network error", ce.reason)
	}
}

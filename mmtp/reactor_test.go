package mmtp

import (
	"net"
	"sync"
	"testing"
	"time"
)

type fakeConsumer struct {
	mu      sync.Mutex
	packets [][]byte
}

func (f *fakeConsumer) OnPacket(wirePacket []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(wirePacket))
	copy(cp, wirePacket)
	f.packets = append(f.packets, cp)
}

func (f *fakeConsumer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

func TestReactorAcceptDeliversPacketToConsumer(t *testing.T) {
	consumer := &fakeConsumer{}
	r := NewReactor(ReactorConfig{Consumer: consumer})
	go r.Run()
	defer r.Stop()

	clientRaw, serverRaw := net.Pipe()
	r.Accept(serverRaw)

	clientConn := newConn(clientRaw, RoleClient, r.bucket, make(chan any, 8), nil)
	go clientConn.run(time.Second)
	defer clientConn.Close()

	wirePacket := make([]byte, wirePacketLen)
	if err := clientConn.Send(wirePacket, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for consumer.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("consumer never received the packet")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReactorStopClosesRegisteredConnections(t *testing.T) {
	r := NewReactor(ReactorConfig{})
	go r.Run()

	clientRaw, serverRaw := net.Pipe()
	r.Accept(serverRaw)

	// give the registration a moment to land on the reactor goroutine
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// the underlying connection should now be unusable
	_, err := clientRaw.Write([]byte("x"))
	if err == nil {
		t.Fatal("write succeeded on a connection Stop should have closed")
	}
}

package onion

import (
	"bytes"
	"testing"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

// driveProcessHop feeds pkt through ProcessHop at every hop in path1 then
// path2, as a real chain of relays would, stopping at the first
// ActionExit.
func driveProcessHop(t *testing.T, path1, path2 []Hop, pkt packet.Packet) ProcessResult {
	t.Helper()
	cur := pkt
	var res ProcessResult
	allHops := append(append([]Hop{}, path1...), path2...)
	for i, hop := range allHops {
		var err error
		res, err = ProcessHop(cur, hop.(*testHop).priv)
		if err != nil {
			t.Fatalf("hop %d: ProcessHop: %v", i, err)
		}
		if res.Action == ActionExit {
			return res
		}
		cur = res.Packet
	}
	return res
}

func TestProcessHopForwardRoundTrip(t *testing.T) {
	path1 := generateTestHops(t, 2)
	path2 := generateTestHops(t, 2)
	prng := xcrypto.SystemPRNG()

	data := []byte("relay this onward")
	payload, err := packet.PackSingleton(data, false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}

	const exitType = packet.MinExitType + 7
	exitInfo := []byte("destination-mailbox-0001")

	pkt, err := BuildForward(payload, exitType, exitInfo, path1, path2, true, prng)
	if err != nil {
		t.Fatalf("BuildForward: %v", err)
	}

	res := driveProcessHop(t, path1, path2, pkt)
	if res.Action != ActionExit {
		t.Fatalf("action = %v, want ActionExit", res.Action)
	}
	if res.RoutingType != exitType {
		t.Fatalf("exit type = %d, want %d", res.RoutingType, exitType)
	}
	if !bytes.Equal(res.RoutingInfo, exitInfo) {
		t.Fatalf("exit info = %q, want %q", res.RoutingInfo, exitInfo)
	}

	body, _, ok := packet.CheckPayload(res.Packet.Payload)
	if !ok {
		t.Fatalf("CheckPayload failed on relayed payload")
	}
	if !bytes.Equal(body, data) {
		t.Fatalf("recovered body = %q, want %q", body, data)
	}
}

func TestProcessHopIntermediateAndCrossoverRouting(t *testing.T) {
	path1 := generateTestHops(t, 2)
	path2 := generateTestHops(t, 2)
	prng := xcrypto.SystemPRNG()

	payload, err := packet.PackSingleton([]byte("x"), false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}
	pkt, err := BuildForward(payload, packet.MinExitType, []byte("exit"), path1, path2, true, prng)
	if err != nil {
		t.Fatalf("BuildForward: %v", err)
	}

	res, err := ProcessHop(pkt, path1[0].(*testHop).priv)
	if err != nil {
		t.Fatalf("ProcessHop hop0: %v", err)
	}
	if res.Action != ActionForward {
		t.Fatalf("action = %v, want ActionForward", res.Action)
	}
	if res.RoutingType != 2 {
		t.Fatalf("routing type = %d, want 2 (testHop.RoutingTo)", res.RoutingType)
	}
	wantNextAddr := []byte(path1[1].(*testHop).addr)
	if !bytes.Equal(res.RoutingInfo, wantNextAddr) {
		t.Fatalf("routing info = %q, want %q", res.RoutingInfo, wantNextAddr)
	}

	res, err = ProcessHop(res.Packet, path1[1].(*testHop).priv)
	if err != nil {
		t.Fatalf("ProcessHop crossover: %v", err)
	}
	if res.RoutingType != RoutingSwapForward {
		t.Fatalf("routing type = %d, want RoutingSwapForward (%d)", res.RoutingType, RoutingSwapForward)
	}
	wantSwapInfo := []byte(path2[0].(*testHop).addr)
	if !bytes.Equal(res.RoutingInfo, wantSwapInfo) {
		t.Fatalf("crossover routing info = %q, want %q", res.RoutingInfo, wantSwapInfo)
	}

	// The next hop (path2's first) must be able to peel what the
	// crossover placed in Header1.
	res, err = ProcessHop(res.Packet, path2[0].(*testHop).priv)
	if err != nil {
		t.Fatalf("ProcessHop path2 hop0: %v", err)
	}
	if res.Action != ActionForward {
		t.Fatalf("action = %v, want ActionForward", res.Action)
	}
}

func TestProcessHopRejectsCorruptHeader(t *testing.T) {
	path1 := generateTestHops(t, 1)
	path2 := generateTestHops(t, 1)
	prng := xcrypto.SystemPRNG()

	payload, err := packet.PackSingleton([]byte("y"), false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}
	pkt, err := BuildForward(payload, packet.MinExitType, []byte("exit"), path1, path2, true, prng)
	if err != nil {
		t.Fatalf("BuildForward: %v", err)
	}

	pkt.Header1[100] ^= 0xFF

	if _, err := ProcessHop(pkt, path1[0].(*testHop).priv); err == nil {
		t.Fatalf("expected an error for a corrupted header")
	}
}

func TestProcessHopSingleHopEachLegIsImmediateCrossover(t *testing.T) {
	path1 := generateTestHops(t, 1)
	path2 := generateTestHops(t, 1)
	prng := xcrypto.SystemPRNG()

	const exitType = packet.MinExitType + 1
	exitInfo := []byte("one-hop-each-way-exit-info")
	payload, err := packet.PackSingleton([]byte("short path"), false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}
	pkt, err := BuildForward(payload, exitType, exitInfo, path1, path2, true, prng)
	if err != nil {
		t.Fatalf("BuildForward: %v", err)
	}

	res, err := ProcessHop(pkt, path1[0].(*testHop).priv)
	if err != nil {
		t.Fatalf("ProcessHop path1[0]: %v", err)
	}
	if res.RoutingType != RoutingSwapForward {
		t.Fatalf("routing type = %d, want RoutingSwapForward", res.RoutingType)
	}

	res, err = ProcessHop(res.Packet, path2[0].(*testHop).priv)
	if err != nil {
		t.Fatalf("ProcessHop path2[0]: %v", err)
	}
	if res.Action != ActionExit {
		t.Fatalf("action = %v, want ActionExit", res.Action)
	}
	if res.RoutingType != exitType {
		t.Fatalf("exit type = %d, want %d", res.RoutingType, exitType)
	}
	if !bytes.Equal(res.RoutingInfo, exitInfo) {
		t.Fatalf("exit info = %q, want %q", res.RoutingInfo, exitInfo)
	}
}

package xcrypto

import (
	"bytes"
	"testing"
)

func testLionessKeys() LionessKeys {
	var secret [SecretLen]byte
	copy(secret[:], []byte("lioness test key"))
	return NewKeyset(secret).LionessKeys(ModeHeaderEncrypt)
}

func TestLionessRoundTrip(t *testing.T) {
	k := testLionessKeys()
	block := make([]byte, 2048)
	for i := range block {
		block[i] = byte(i * 7)
	}

	ct := LionessEncrypt(block, k)
	if bytes.Equal(ct, block) {
		t.Fatalf("ciphertext equals plaintext")
	}

	pt := LionessDecrypt(ct, k)
	if !bytes.Equal(pt, block) {
		t.Fatalf("LionessDecrypt(LionessEncrypt(x)) != x")
	}
}

func TestLionessDiffusion(t *testing.T) {
	k := testLionessKeys()
	block := make([]byte, 256)

	ct1 := LionessEncrypt(block, k)

	block[len(block)-1] ^= 0x01
	ct2 := LionessEncrypt(block, k)

	diff := 0
	for i := range ct1 {
		if ct1[i] != ct2[i] {
			diff++
		}
	}
	if diff < len(ct1)/4 {
		t.Fatalf("flipping one plaintext byte only changed %d/%d ciphertext bytes; expected full-block diffusion", diff, len(ct1))
	}
}

func TestLionessDifferentKeysDifferentOutput(t *testing.T) {
	var s1, s2 [SecretLen]byte
	copy(s1[:], []byte("key number one!!"))
	copy(s2[:], []byte("key number two!!"))

	k1 := NewKeyset(s1).LionessKeys(ModeHeaderEncrypt)
	k2 := NewKeyset(s2).LionessKeys(ModeHeaderEncrypt)

	block := bytes.Repeat([]byte{0xAB}, 128)
	if bytes.Equal(LionessEncrypt(block, k1), LionessEncrypt(block, k2)) {
		t.Fatalf("distinct keys produced identical ciphertext")
	}
}

func TestLionessKeysFromPayloadAndHeaderDiffer(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 64)
	header := bytes.Repeat([]byte{0x22}, 64)

	kp := LionessKeysFromPayload(payload)
	kh := LionessKeysFromHeader(header)

	if kp == kh {
		t.Fatalf("LionessKeysFromPayload and LionessKeysFromHeader must use distinct tagged modes")
	}
}

func TestLionessRejectsShortBlocks(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for a block shorter than the digest length")
		}
	}()
	LionessEncrypt(make([]byte, DigestLen), testLionessKeys())
}

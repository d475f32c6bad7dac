package decode

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/surb"
	"github.com/corvidrelay/corvid/xcrypto"
)

func TestDecodePayloadForward(t *testing.T) {
	prng := xcrypto.SystemPRNG()
	data := []byte("a plain forward message")
	payload, err := packet.PackSingleton(data, false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}

	res, ok, err := DecodePayload(payload, nil, nil, nil)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !ok {
		t.Fatalf("expected a forward decode to succeed")
	}
	if res.Kind != Forward {
		t.Fatalf("kind = %v, want Forward", res.Kind)
	}
	if !bytes.Equal(res.Body, data) {
		t.Fatalf("body = %q, want %q", res.Body, data)
	}
}

// findValidatingTag brute-forces a tag whose Validate digest against
// userKey ends in 0x00, exactly like surb.BuildReplyBlock's seed search.
func findValidatingTag(t *testing.T, userKey []byte) [packet.TagLen]byte {
	t.Helper()
	for i := 0; i < 1<<16; i++ {
		tag, err := xcrypto.RandomTag(xcrypto.SystemPRNG())
		if err != nil {
			t.Fatalf("RandomTag: %v", err)
		}
		digest := xcrypto.SHA1(tag[:], userKey, []byte("Validate"))
		if digest[packet.DigestLen-1] == 0x00 {
			return tag
		}
	}
	t.Fatalf("exhausted search for a validating tag")
	return [packet.TagLen]byte{}
}

func TestDecodePayloadReply(t *testing.T) {
	userKey := []byte("alice's long-term user key")
	tag := findValidatingTag(t, userKey)

	const pathLen = 3
	_, sharedKey := surb.RegenerateSecrets(tag, userKey, pathLen)

	prng := xcrypto.SystemPRNG()
	data := []byte("a reply to alice")
	rawPayload, err := packet.PackSingleton(data, false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}

	// Mirror what onion.BuildReply does to the payload with the SURB's
	// shared key: the decoder's trial LionessEncrypt must undo exactly
	// this.
	keys := xcrypto.NewKeyset(sharedKey).LionessKeys(xcrypto.ModePayloadEncrypt)
	hidden := packet.Payload(xcrypto.LionessDecrypt(rawPayload, keys))

	res, ok, err := DecodePayload(hidden, tag[:], nil, []UserKey{{Name: "alice", Key: userKey}})
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !ok {
		t.Fatalf("expected a reply decode to succeed")
	}
	if res.Kind != Reply {
		t.Fatalf("kind = %v, want Reply", res.Kind)
	}
	if res.Nym != "alice" {
		t.Fatalf("nym = %q, want %q", res.Nym, "alice")
	}
	if !bytes.Equal(res.Body, data) {
		t.Fatalf("body = %q, want %q", res.Body, data)
	}
}

func TestDecodePayloadReplyExhaustedTrialsIsCorrupt(t *testing.T) {
	userKey := []byte("bob's long-term user key")
	tag := findValidatingTag(t, userKey)

	prng := xcrypto.SystemPRNG()
	garbage, err := prng.Bytes(packet.PayloadLen)
	if err != nil {
		t.Fatalf("generate garbage payload: %v", err)
	}

	_, _, err = DecodePayload(packet.Payload(garbage), tag[:], nil, []UserKey{{Name: "bob", Key: userKey}})
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("err = %v, want ErrCorruptPayload", err)
	}
}

func TestDecodePayloadEncryptedForward(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, packet.ModulusBytes*8)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	prng := xcrypto.SystemPRNG()

	data := []byte("end-to-end encrypted content")
	rawPayload, err := packet.PackSingleton(data, false, prng)
	if err != nil {
		t.Fatalf("PackSingleton: %v", err)
	}

	const prefixCap = packet.ModulusBytes - packet.OAEPOverhead - packet.SecretLen
	prefix := rawPayload[:prefixCap]
	suffix := rawPayload[prefixCap:]

	sessionKeyBytes, err := prng.Bytes(packet.SecretLen)
	if err != nil {
		t.Fatalf("generate session key: %v", err)
	}
	var sessionKey [packet.SecretLen]byte
	copy(sessionKey[:], sessionKeyBytes)

	rsaPlain := append(append([]byte{}, sessionKeyBytes...), prefix...)
	rsaCipher, err := xcrypto.RSAEncryptOAEP(&priv.PublicKey, rsaPlain, prng)
	if err != nil {
		t.Fatalf("RSAEncryptOAEP: %v", err)
	}

	keys := xcrypto.NewKeyset(sessionKey).LionessKeys(xcrypto.ModeEndToEndEncrypt)
	encSuffix := xcrypto.LionessEncrypt(suffix, keys)

	combined := append(append([]byte{}, rsaCipher...), encSuffix...)
	tag := combined[:packet.TagLen]
	payload := packet.Payload(combined[packet.TagLen:])

	res, ok, err := DecodePayload(payload, tag, priv, nil)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !ok {
		t.Fatalf("expected an encrypted-forward decode to succeed")
	}
	if res.Kind != EncryptedForward {
		t.Fatalf("kind = %v, want EncryptedForward", res.Kind)
	}
	if !bytes.Equal(res.Body[:len(rawPayload)], rawPayload) {
		t.Fatalf("recovered body does not match the original payload")
	}
}

func TestDecodePayloadNoneMatches(t *testing.T) {
	prng := xcrypto.SystemPRNG()
	garbage, err := prng.Bytes(packet.PayloadLen)
	if err != nil {
		t.Fatalf("generate garbage payload: %v", err)
	}
	tag, err := prng.Bytes(packet.TagLen)
	if err != nil {
		t.Fatalf("generate tag: %v", err)
	}

	_, ok, err := DecodePayload(packet.Payload(garbage), tag, nil, nil)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if ok {
		t.Fatalf("expected no decode path to match")
	}
}

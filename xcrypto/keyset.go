package xcrypto

import (
	"crypto/sha1"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Mode labels for the tagged key schedule. Each mode expands a 16-byte
// per-hop master secret into key material that is cryptographically
// independent of every other mode's expansion, even though they all derive
// from the same secret — the same role filippo's ntor handshake gives its
// HKDF "info" parameter, generalized to five fixed labels instead of one.
const (
	ModeHeaderSecret    = "Header secret"
	ModeHeaderEncrypt   = "Header encrypt"
	ModePayloadEncrypt  = "Payload encrypt"
	ModeRandomJunk      = "Random junk"
	ModeEndToEndEncrypt = "End-to-end encrypt"
)

// Keyset derives mode-specific key material from a single 16-byte master
// secret, the same way Mixminion's Crypto.Keyset(secret).get(mode) does,
// but via HKDF-SHA1 rather than ad-hoc concatenation hashing.
type Keyset struct {
	secret [SecretLen]byte
}

// NewKeyset wraps a per-hop master secret for key derivation.
func NewKeyset(secret [SecretLen]byte) Keyset {
	return Keyset{secret: secret}
}

// Zero overwrites the wrapped secret so it does not linger in memory after
// use, mirroring the teacher's clear() discipline in ntor.Close.
func (k *Keyset) Zero() {
	for i := range k.secret {
		k.secret[i] = 0
	}
}

func (k Keyset) expand(mode string, n int) []byte {
	r := hkdf.New(sha1.New, k.secret[:], nil, []byte(mode))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("xcrypto: hkdf expansion failed: " + err.Error())
	}
	return out
}

// AESKey derives a single 16-byte AES-CTR key for the given mode. Used for
// HEADER_SECRET_MODE (the per-hop header CTR key) and RANDOM_JUNK_MODE
// (the junk a hop appends after peeling).
func (k Keyset) AESKey(mode string) [SecretLen]byte {
	var out [SecretLen]byte
	copy(out[:], k.expand(mode, SecretLen))
	return out
}

// LionessKeys is the 4-tuple (K1..K4) that parameterizes one LIONESS
// operation: K1/K3 key the hash rounds, K2/K4 key the stream-cipher rounds.
type LionessKeys struct {
	K1, K2, K3, K4 [DigestLen]byte
}

// LionessKeys derives a full 4-round LIONESS key tuple for the given mode.
// Used for HEADER_ENCRYPT_MODE, PAYLOAD_ENCRYPT_MODE, and
// END_TO_END_ENCRYPT_MODE.
func (k Keyset) LionessKeys(mode string) LionessKeys {
	raw := k.expand(mode, 4*DigestLen)
	var lk LionessKeys
	copy(lk.K1[:], raw[0*DigestLen:1*DigestLen])
	copy(lk.K2[:], raw[1*DigestLen:2*DigestLen])
	copy(lk.K3[:], raw[2*DigestLen:3*DigestLen])
	copy(lk.K4[:], raw[3*DigestLen:4*DigestLen])
	return lk
}

// lionessKeysFromBytes derives a LIONESS key tuple from an arbitrary byte
// string rather than a 16-byte secret — used for the "swap" step, where the
// header2/payload are each other's key material (§4.2.2).
func lionessKeysFromBytes(data []byte, mode string) LionessKeys {
	r := hkdf.New(sha1.New, data, nil, []byte(mode))
	raw := make([]byte, 4*DigestLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		panic("xcrypto: hkdf expansion failed: " + err.Error())
	}
	var lk LionessKeys
	copy(lk.K1[:], raw[0*DigestLen:1*DigestLen])
	copy(lk.K2[:], raw[1*DigestLen:2*DigestLen])
	copy(lk.K3[:], raw[2*DigestLen:3*DigestLen])
	copy(lk.K4[:], raw[3*DigestLen:4*DigestLen])
	return lk
}

// LionessKeysFromPayload derives the LIONESS keys used to encrypt header2
// under the swap step, keyed by the (already payload-encrypted) payload.
func LionessKeysFromPayload(payload []byte) LionessKeys {
	return lionessKeysFromBytes(payload, "Header swap")
}

// LionessKeysFromHeader derives the LIONESS keys used to encrypt the
// payload under the swap step, keyed by the (already encrypted) header2.
func LionessKeysFromHeader(header []byte) LionessKeys {
	return lionessKeysFromBytes(header, "Payload swap")
}

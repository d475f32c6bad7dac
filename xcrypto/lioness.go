package xcrypto

import "crypto/sha1"

// minLionessBlock is the smallest block LIONESS can operate on: the L half
// must be at least as large as the hash output it is XORed with.
const minLionessBlock = DigestLen + 1

// LionessEncrypt runs the four-round unbalanced Feistel cipher over block
// in place conceptually (a new slice is returned): block is split into a
// DigestLen-byte left half L and an arbitrarily large right half R, then
//
//	L ^= H(K1 ‖ R)
//	R ^= S(K2 ‖ L)
//	L ^= H(K3 ‖ R)
//	R ^= S(K4 ‖ L)
//
// where H is SHA-1 and S is an AES-CTR keystream keyed by SHA1(K‖L)[:16].
// LionessDecrypt runs the same rounds in reverse order and is its exact
// inverse.
func LionessEncrypt(block []byte, k LionessKeys) []byte {
	if len(block) < minLionessBlock {
		panic("xcrypto: lioness block too short")
	}
	l, r := splitBlock(block)

	xorInto(l, lionessHash(k.K1, r)[:])
	xorInto(r, lionessStream(k.K2, l, len(r)))
	xorInto(l, lionessHash(k.K3, r)[:])
	xorInto(r, lionessStream(k.K4, l, len(r)))

	return joinBlock(l, r)
}

// LionessDecrypt inverts LionessEncrypt.
func LionessDecrypt(block []byte, k LionessKeys) []byte {
	if len(block) < minLionessBlock {
		panic("xcrypto: lioness block too short")
	}
	l, r := splitBlock(block)

	xorInto(r, lionessStream(k.K4, l, len(r)))
	xorInto(l, lionessHash(k.K3, r)[:])
	xorInto(r, lionessStream(k.K2, l, len(r)))
	xorInto(l, lionessHash(k.K1, r)[:])

	return joinBlock(l, r)
}

func splitBlock(block []byte) (l, r []byte) {
	l = make([]byte, DigestLen)
	copy(l, block[:DigestLen])
	r = make([]byte, len(block)-DigestLen)
	copy(r, block[DigestLen:])
	return l, r
}

func joinBlock(l, r []byte) []byte {
	out := make([]byte, len(l)+len(r))
	copy(out, l)
	copy(out[len(l):], r)
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// lionessHash is the H round function: SHA1(key ‖ r).
func lionessHash(key [DigestLen]byte, r []byte) []byte {
	h := sha1.New()
	h.Write(key[:])
	h.Write(r)
	return h.Sum(nil)
}

// lionessStream is the S round function: an AES-CTR keystream of length n
// keyed by the first 16 bytes of SHA1(key ‖ l).
func lionessStream(key [DigestLen]byte, l []byte, n int) []byte {
	h := sha1.New()
	h.Write(key[:])
	h.Write(l)
	seed := h.Sum(nil)
	var aesKey [SecretLen]byte
	copy(aesKey[:], seed[:SecretLen])
	return ctrKeystream(aesKey[:], n)
}

package xcrypto

import (
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
)

// maxOAEPRetries bounds the retry loop in RSAEncryptOAEP. Each attempt
// rejects ciphertexts whose leading bit is set with probability roughly
// one half, so in practice this never comes close to the limit; the bound
// only exists to turn a catastrophic RNG failure into an error instead of
// an infinite loop.
const maxOAEPRetries = 256

// RSAEncryptOAEP RSA-OAEP encrypts plaintext under pub using SHA-1 as both
// the hash and MGF1 hash, retrying with fresh randomness whenever the
// resulting ciphertext's most significant bit is set. Rejecting high-bit
// ciphertexts keeps the encrypted subheader indistinguishable from the
// plaintext spillover region that follows it in the header, which would
// otherwise leak the modulus size to an observer who only sees the header
// bytes.
func RSAEncryptOAEP(pub *rsa.PublicKey, plaintext []byte, prng PRNG) ([]byte, error) {
	for i := 0; i < maxOAEPRetries; i++ {
		ct, err := rsa.EncryptOAEP(sha1.New(), prng, pub, plaintext, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa oaep encrypt: %v", ErrCryptoFailure, err)
		}
		if ct[0]&0x80 == 0 {
			return ct, nil
		}
	}
	return nil, fmt.Errorf("%w: rsa oaep encrypt: exhausted %d retries", ErrCryptoFailure, maxOAEPRetries)
}

// RSADecryptOAEP RSA-OAEP decrypts ciphertext under priv using SHA-1 as
// both the hash and MGF1 hash.
func RSADecryptOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha1.New(), nil, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa oaep decrypt: %v", ErrCryptoFailure, err)
	}
	return pt, nil
}

// ModulusBytes returns the size in bytes of pub's modulus — the fixed
// width of every RSA-OAEP ciphertext produced under it.
func ModulusBytes(pub *rsa.PublicKey) int {
	return (pub.N.BitLen() + 7) / 8
}

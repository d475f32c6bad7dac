package xcrypto

import "crypto/sha1"

// SHA1 returns the SHA-1 digest of the concatenation of parts, matching the
// "sha1(a ‖ b ‖ c)" notation used throughout the protocol's digest chains
// and tag-validation checks.
func SHA1(parts ...[]byte) [DigestLen]byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [DigestLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

package decode

import (
	"crypto/rsa"
	"fmt"

	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

const (
	modeValidate = "Validate"
	modeGenerate = "Generate"

	// maxReplySecretTrials bounds the stateless reply decode's search for
	// the secret a sender's BuildReply call used: one trial per possible
	// path length up to the protocol's longest allowed path.
	maxReplySecretTrials = 17
)

// Kind identifies which of the three ways a payload was decoded.
type Kind int

const (
	// Forward is a plain message: check_payload on the payload itself
	// succeeded with no tag involved at all.
	Forward Kind = iota
	// Reply is a message routed back through a single-use reply block
	// this node built earlier, recovered via a user key and the tag.
	Reply
	// EncryptedForward is a message end-to-end encrypted to a local RSA
	// key, recovered by decrypting the tag-plus-payload's leading RSA
	// block and then the LIONESS-encrypted remainder.
	EncryptedForward
)

// UserKey names a long-term key a local user has registered for reply
// decoding, paired with the name decode reports back when a reply resolves
// against it.
type UserKey struct {
	Name string
	Key  []byte
}

// Result is the outcome of a successful DecodePayload call.
type Result struct {
	Kind Kind
	Body []byte
	Meta *packet.FragmentMeta
	// Nym is the UserKey.Name that resolved a Reply decode; empty for the
	// other two kinds.
	Nym string
}

// DecodePayload determines what payload (accompanied by the decoding tag
// an exit hop peeled off the packet's final subheader) actually is, and
// decodes it.
//
// It tries, in order:
//  1. Forward: payload's own embedded hash checks out unmodified.
//  2. Reply: tag passes the fast-reject test against one of userKeys, and
//     one of a bounded number of trial secrets derived from that key and
//     the tag recovers a valid payload.
//  3. EncryptedForward: rsaKey (if given) decrypts the leading RSA block
//     of tag‖payload, and the session key it yields decrypts the rest.
//
// ok is false with a nil error when none of the three apply — the caller
// should treat the payload as undecodable junk, not an error condition.
// err is non-nil only when the tag passed the Reply fast-reject for some
// userKey, that key's trial search found no valid payload, and neither
// another key nor the EncryptedForward path decoded it. The
// EncryptedForward path never returns an error: once its RSA block
// decrypts, its output is returned without any hash check.
func DecodePayload(payload packet.Payload, tag []byte, rsaKey *rsa.PrivateKey, userKeys []UserKey) (Result, bool, error) {
	if body, meta, ok := packet.CheckPayload(payload); ok {
		return Result{Kind: Forward, Body: body, Meta: meta}, true, nil
	}

	if len(tag) != packet.TagLen {
		return Result{}, false, nil
	}

	var lastErr error
	for _, uk := range userKeys {
		if len(uk.Key) == 0 {
			continue
		}
		digest := xcrypto.SHA1(tag, uk.Key, []byte(modeValidate))
		if digest[packet.DigestLen-1] != 0x00 {
			continue
		}

		res, ok, err := decodeReply(payload, tag, uk)
		if err != nil {
			// A Validate pass is a 1-in-2^depth heuristic, not proof the
			// tag was built for uk: exhausting decodeReply's trials is as
			// consistent with a false-positive fast-reject against this
			// key as with real corruption, so it must not stop other
			// userKeys or the RSA path from getting their turn. The error
			// is remembered, not discarded: if nothing else decodes the
			// payload either, it is still worth surfacing rather than
			// silently treating a payload that committed to a key as
			// undecodable junk.
			lastErr = err
			continue
		}
		if ok {
			return res, true, nil
		}
	}

	if rsaKey != nil {
		res, ok := decodeEncryptedForward(payload, tag, rsaKey)
		if ok {
			return res, true, nil
		}
	}

	if lastErr != nil {
		return Result{}, false, lastErr
	}
	return Result{}, false, nil
}

// decodeReply is the stateless reply decode: once tag has passed the
// Validate fast-reject test against uk, the payload is assumed to be a
// reply encrypted under one of a short, deterministic sequence of trial
// secrets drawn from an AES-CTR PRNG seeded by SHA1(tag‖uk.Key‖"Generate").
// Each trial LIONESS-encrypts the payload (the inverse of what BuildReply
// did to it with the matching secret) and tests the result's hash.
// Exhausting every trial without a match means either the payload is
// corrupt or the tag's Validate pass was a false positive (a 1-in-256
// chance for a tag not built for uk); decodeReply reports both as
// ErrCorruptPayload, and DecodePayload returns that error only if no
// other decode path succeeds.
func decodeReply(payload packet.Payload, tag []byte, uk UserKey) (Result, bool, error) {
	genSeed := xcrypto.SHA1(tag, uk.Key, []byte(modeGenerate))
	var aesKey [packet.SecretLen]byte
	copy(aesKey[:], genSeed[:packet.SecretLen])
	rng := xcrypto.NewAESCounterPRNG(aesKey)

	for i := 0; i < maxReplySecretTrials; i++ {
		secretBytes, err := rng.Bytes(packet.SecretLen)
		if err != nil {
			return Result{}, false, fmt.Errorf("decode: draw reply trial secret: %w", err)
		}
		var secret [packet.SecretLen]byte
		copy(secret[:], secretBytes)

		keys := xcrypto.NewKeyset(secret).LionessKeys(xcrypto.ModePayloadEncrypt)
		candidate := packet.Payload(xcrypto.LionessEncrypt(payload, keys))

		if body, meta, ok := packet.CheckPayload(candidate); ok {
			return Result{Kind: Reply, Body: body, Meta: meta, Nym: uk.Name}, true, nil
		}
	}

	return Result{}, false, fmt.Errorf("%w: exhausted %d reply trial secrets for %q", ErrCorruptPayload, maxReplySecretTrials, uk.Name)
}

// decodeEncryptedForward attempts the end-to-end encrypted decode: the
// leading ModulusBytes of tag‖payload is an RSA-OAEP block carrying a
// session key and a short plaintext prefix; the rest is that prefix's
// message continued, LIONESS-encrypted under a key derived from the same
// session key. A failed RSA decrypt is not distinguishable from "this
// payload was never meant for this key" — OAEP's own padding check is the
// only integrity signal this path has, so there is no separate checksum
// to fail once decryption succeeds.
func decodeEncryptedForward(payload packet.Payload, tag []byte, rsaKey *rsa.PrivateKey) (Result, bool) {
	combined := make([]byte, 0, len(tag)+len(payload))
	combined = append(combined, tag...)
	combined = append(combined, payload...)
	if len(combined) < packet.ModulusBytes {
		return Result{}, false
	}

	rsaCipher := combined[:packet.ModulusBytes]
	encSuffix := combined[packet.ModulusBytes:]

	plain, err := xcrypto.RSADecryptOAEP(rsaKey, rsaCipher)
	if err != nil || len(plain) < packet.SecretLen {
		return Result{}, false
	}

	var sessionKey [packet.SecretLen]byte
	copy(sessionKey[:], plain[:packet.SecretLen])
	prefix := plain[packet.SecretLen:]

	keys := xcrypto.NewKeyset(sessionKey).LionessKeys(xcrypto.ModeEndToEndEncrypt)
	suffix := xcrypto.LionessDecrypt(encSuffix, keys)

	msg := make([]byte, 0, len(prefix)+len(suffix))
	msg = append(msg, prefix...)
	msg = append(msg, suffix...)

	return Result{Kind: EncryptedForward, Body: msg}, true
}

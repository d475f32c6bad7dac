// Package surb builds single-use reply blocks: a header routed to the
// block's owner, reached via a deterministically-regenerable secret so the
// owner can later validate and decode a reply without storing any
// per-block state beyond the seed and their own long-term user key.
package surb

import (
	"errors"
	"fmt"
	"time"

	"github.com/corvidrelay/corvid/onion"
	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/xcrypto"
)

const (
	modeValidate = "Validate"
	modeGenerate = "Generate"

	// maxValidateTrials bounds the search for a seed whose Validate hash
	// ends in 0x00. Each trial succeeds with probability 1/256, so this
	// is generous headroom over the ~256-trial expectation.
	maxValidateTrials = 1 << 16
)

var (
	// ErrNilUserKey is returned when BuildReplyBlock is called without a
	// user key. Earlier reply-block designs fell back to a stateful SURB
	// keyed only by a locally-stored secret when no user key was given;
	// this implementation rejects that case outright instead.
	ErrNilUserKey = errors.New("surb: user key is nil")

	// ErrValidateSearchExhausted is returned if no seed satisfying the
	// fast-reject property turns up within maxValidateTrials attempts —
	// only plausible given a broken PRNG.
	ErrValidateSearchExhausted = errors.New("surb: exhausted seed search")
)

// DialableHop is a path element that can also report how a client should
// connect to it over MMTP — distinct from onion.Hop.RoutingTo, which
// describes routing *within* a header rather than how to open the
// transport connection to hop zero in the first place.
type DialableHop interface {
	onion.Hop
	// DialInfo returns the routing type/info that addresses hop zero;
	// BuildReplyBlock records it as the block's first-hop routing info.
	DialInfo() (routingType uint16, routingInfo []byte)
}

// ReplyBlockData is a single-use reply block (SURB): everything needed to
// route a reply to its owner, without exposing any of the per-hop secrets
// baked into Header. Only Header, Expiry, the first-hop dial info, and
// SharedKey travel with the block — matching the canonical on-wire
// ReplyBlock shape exactly, so whoever holds a block to reply with never
// learns path2's per-hop secrets.
type ReplyBlockData struct {
	Header              [packet.HeaderLen]byte
	Expiry              time.Time
	FirstHopRoutingType uint16
	FirstHopRoutingInfo []byte
	SharedKey           [packet.SecretLen]byte
}

// BuildReplyBlock builds a ReplyBlockData routing to exitType/exitInfo
// through path, decodable later by whoever holds userKey. prng supplies
// randomness for header padding and RSA-OAEP blinding (not for the
// deterministic secret schedule, which is derived entirely from the seed
// and userKey so the owner can regenerate it from nothing more than those
// two values at decode time).
func BuildReplyBlock(path []DialableHop, exitType uint16, exitInfo []byte, userKey []byte, expiry time.Time, prng xcrypto.PRNG) (ReplyBlockData, error) {
	if len(userKey) == 0 {
		return ReplyBlockData{}, ErrNilUserKey
	}
	if len(path) == 0 {
		return ReplyBlockData{}, onion.ErrEmptyPath
	}

	seed, err := findValidatingSeed(userKey, prng)
	if err != nil {
		return ReplyBlockData{}, err
	}

	secrets, sharedKey := RegenerateSecrets(seed, userKey, len(path))

	hops := make([]onion.Hop, len(path))
	for i, h := range path {
		hops[i] = h
	}

	taggedExitInfo := append(append([]byte{}, seed[:]...), exitInfo...)
	header, err := onion.BuildHeader(hops, secrets, exitType, taggedExitInfo, prng)
	if err != nil {
		return ReplyBlockData{}, fmt.Errorf("surb: build reply header: %w", err)
	}

	firstRT, firstRI := path[0].DialInfo()

	return ReplyBlockData{
		Header:              header,
		Expiry:              expiry,
		FirstHopRoutingType: firstRT,
		FirstHopRoutingInfo: firstRI,
		SharedKey:           sharedKey,
	}, nil
}

// findValidatingSeed draws candidate tags until SHA1(seed‖userKey‖"Validate")
// ends in 0x00 — the fast-reject property a decoder tests before
// attempting the full stateless reply decode.
func findValidatingSeed(userKey []byte, prng xcrypto.PRNG) ([packet.TagLen]byte, error) {
	for i := 0; i < maxValidateTrials; i++ {
		seed, err := xcrypto.RandomTag(prng)
		if err != nil {
			return [packet.TagLen]byte{}, fmt.Errorf("surb: generate candidate seed: %w", err)
		}
		digest := xcrypto.SHA1(seed[:], userKey, []byte(modeValidate))
		if digest[packet.DigestLen-1] == 0x00 {
			return seed, nil
		}
	}
	return [packet.TagLen]byte{}, ErrValidateSearchExhausted
}

// RegenerateSecrets deterministically re-derives a reply block's per-hop
// header secrets and shared key from its seed and the owner's user key —
// the same computation BuildReplyBlock performs once at construction time,
// replayable later at decode time with nothing but (seed, userKey).
//
// An AES-CTR PRNG seeded by SHA1(seed‖userKey‖"Generate")[:16] produces
// pathLen+1 secrets; the last is the shared key, the first pathLen are
// reversed into header-secret order so the path's first hop's layer ends
// up outermost, matching the order BuildHeader expects.
func RegenerateSecrets(seed [packet.TagLen]byte, userKey []byte, pathLen int) ([][packet.SecretLen]byte, [packet.SecretLen]byte) {
	genSeed := xcrypto.SHA1(seed[:], userKey, []byte(modeGenerate))
	var aesKey [packet.SecretLen]byte
	copy(aesKey[:], genSeed[:packet.SecretLen])

	rng := xcrypto.NewAESCounterPRNG(aesKey)
	raw := make([][packet.SecretLen]byte, pathLen+1)
	for i := range raw {
		b, err := rng.Bytes(packet.SecretLen)
		if err != nil {
			panic("surb: AES-CTR PRNG exhausted: " + err.Error())
		}
		copy(raw[i][:], b)
	}

	sharedKey := raw[pathLen]

	headerSecrets := make([][packet.SecretLen]byte, pathLen)
	for i := 0; i < pathLen; i++ {
		headerSecrets[i] = raw[pathLen-1-i]
	}

	return headerSecrets, sharedKey
}

// Package onion builds and peels the onion-wrapped headers and payload
// that make up a packet: per-hop RSA-OAEP subheader encryption, the
// CTR-layered header chain, and the LIONESS "swap" step that binds
// header2 to the payload.
package onion

import "errors"

var (
	// ErrPathTooLong is returned when a leg's routed subheaders would not
	// fit within packet.HeaderLen.
	ErrPathTooLong = errors.New("onion: path too long for header")

	// ErrEmptyPath is returned when a leg has no hops.
	ErrEmptyPath = errors.New("onion: path is empty")

	// ErrCorruptHeader is returned when a peeled subheader's digest does
	// not match the header bytes that follow it.
	ErrCorruptHeader = errors.New("onion: header digest mismatch")

	// ErrInvalidExitInfo is returned when exit info is missing or too
	// short for a well-formed final hop.
	ErrInvalidExitInfo = errors.New("onion: invalid exit info")

	// ErrMessageTooLong is returned when a message handed to
	// BuildEncryptedForward does not fit in a single payload once its
	// session key and RSA-OAEP expansion are accounted for.
	ErrMessageTooLong = errors.New("onion: message too long for encrypted-forward payload")
)

// Package decode implements the receiving side of a payload: given the
// payload and decoding tag an exit hop peeled off a packet, it determines
// whether the payload is a plain forward message, a reply routed through a
// single-use reply block the local node built earlier, or a message
// end-to-end encrypted to a local RSA key — and decodes it accordingly.
package decode

import "errors"

// ErrCorruptPayload is returned when a payload's tag passes a user key's
// Reply fast-reject test but none of that key's trial secrets yields a
// payload whose hash checks out. The encrypted-forward decode path does
// not return it.
var ErrCorruptPayload = errors.New("decode: corrupt payload")

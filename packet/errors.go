package packet

import "errors"

var (
	// ErrMalformedPayload is returned when a byte slice cannot possibly be
	// the wire form it claims to be — wrong length, a field pointing past
	// the end of the buffer, and so on.
	ErrMalformedPayload = errors.New("packet: malformed payload")

	// ErrCorruptPayload is returned when a payload is the right shape but
	// its embedded hash does not match its contents.
	ErrCorruptPayload = errors.New("packet: corrupt payload")

	// ErrPathTooLong is returned when a routed header would overflow
	// HeaderLen.
	ErrPathTooLong = errors.New("packet: path too long for header")

	// ErrEmptyPath is returned when a path has no hops.
	ErrEmptyPath = errors.New("packet: path is empty")

	// ErrHeaderTooBig is returned when a single subheader (fixed fields
	// plus inline routing info) cannot fit within EncSubheaderLen plus
	// whatever spillover room remains in the header.
	ErrHeaderTooBig = errors.New("packet: header too big")
)

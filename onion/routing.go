package onion

import (
	"fmt"

	"github.com/corvidrelay/corvid/packet"
)

// inlineRoutingCapacity is how many bytes of a packed subheader fit
// inside the RSA-OAEP-protected block alongside its fixed fields; routing
// info beyond this spills into the plaintext region right after the RSA
// block.
const inlineRoutingCapacity = packet.ModulusBytes - packet.OAEPOverhead - packet.MinSubheaderLen

type routingEntry struct {
	routingType uint16
	routingInfo []byte
	size        int // bytes this hop's subheader consumes in the header
}

// getRouting computes, for each hop in path, the routing type/info that
// addresses the next hop (or, at the final hop, exitType/exitInfo), and
// the number of header bytes that entry will consume once RSA-encrypted
// with any routing-info overflow appended in plaintext.
func getRouting(path []Hop, exitType uint16, exitInfo []byte) ([]routingEntry, int, error) {
	if len(path) == 0 {
		return nil, 0, ErrEmptyPath
	}

	entries := make([]routingEntry, len(path))
	total := 0
	for i, hop := range path {
		var rt uint16
		var ri []byte
		if i == len(path)-1 {
			rt, ri = exitType, exitInfo
		} else {
			rt, ri = hop.RoutingTo(path[i+1])
		}

		size := packet.EncSubheaderLen
		if overflow := len(ri) - inlineRoutingCapacity; overflow > 0 {
			size += overflow
		}
		entries[i] = routingEntry{routingType: rt, routingInfo: ri, size: size}
		total += size
	}

	if total > packet.HeaderLen {
		return nil, 0, fmt.Errorf("%w: routed subheaders need %d bytes, header holds %d", ErrPathTooLong, total, packet.HeaderLen)
	}
	return entries, total, nil
}

// CheckPathLength simulates getRouting on both legs of a forward packet
// before any of its key material is generated, so a path that cannot
// possibly fit is rejected with a PathTooLong naming which leg overflowed
// rather than surfacing as an opaque failure partway through BuildHeader.
// Mirrors check_path_length's "dummy 20-byte tag" simulation: unless
// suppressTag, BuildForward will prepend a fresh TagLen-byte tag to
// exitInfo, so the same padding is simulated here for an accurate budget.
func CheckPathLength(path1, path2 []Hop, exitType uint16, exitInfo []byte, suppressTag bool) error {
	if len(path1) == 0 || len(path2) == 0 {
		return ErrEmptyPath
	}

	simExitInfo := exitInfo
	if !suppressTag {
		simExitInfo = append(make([]byte, packet.TagLen), exitInfo...)
	}
	if _, _, err := getRouting(path2, exitType, simExitInfo); err != nil {
		return fmt.Errorf("%w: second leg", ErrPathTooLong)
	}

	_, swapInfo := path1[len(path1)-1].RoutingTo(path2[0])
	if _, _, err := getRouting(path1, RoutingSwapForward, swapInfo); err != nil {
		return fmt.Errorf("%w: first leg", ErrPathTooLong)
	}
	return nil
}

package packet

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/corvidrelay/corvid/xcrypto"
)

// CompressMessage DEFLATE-compresses msg before it is encoded into one or
// more payloads. A DEFLATE stream is self-delimiting, so a Singleton's
// trailing PRNG padding never confuses the decompressor on the far end.
func CompressMessage(msg []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("packet: new flate writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return nil, fmt.Errorf("packet: compress message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("packet: flush compressed message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressMessage reverses CompressMessage.
func DecompressMessage(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("packet: decompress message: %w", err)
	}
	return out, nil
}

// NPacketsToEncode reports how many packets a message needs once
// compressed: 1 if the compressed form fits in a single Singleton
// (accounting for overhead bytes a wrapping packet type reserves, e.g.
// EncFwdOverhead), otherwise the number of Fragment-sized chunks it would
// split into. This mirrors getNPacketsToEncode without implementing the
// fragment reassembly state machine, which stays out of scope.
func NPacketsToEncode(msg []byte, overhead int) (int, error) {
	compressed, err := CompressMessage(msg)
	if err != nil {
		return 0, err
	}
	if len(compressed) <= PayloadLen-SingletonPayloadOverhead-overhead {
		return 1, nil
	}
	chunk := PayloadLen - FragmentPayloadOverhead - overhead
	if chunk <= 0 {
		return 0, fmt.Errorf("%w: overhead %d leaves no room for fragment data", ErrMalformedPayload, overhead)
	}
	return (len(compressed) + chunk - 1) / chunk, nil
}

// EncodeSingleton compresses msg and, if the result fits in one Singleton
// payload after reserving overhead bytes for whatever packet type will
// wrap it, packs and returns that payload.
func EncodeSingleton(msg []byte, overhead int, prng xcrypto.PRNG) (Payload, error) {
	compressed, err := CompressMessage(msg)
	if err != nil {
		return nil, err
	}
	room := PayloadLen - SingletonPayloadOverhead - overhead
	if len(compressed) > room {
		return nil, fmt.Errorf("%w: message does not fit in one packet (compressed %d bytes, room %d)", ErrMalformedPayload, len(compressed), room)
	}
	return PackSingleton(compressed, true, prng)
}

// BuildRandomPayload returns a payload filled entirely with prng-sourced
// junk, used for DROP-type link padding.
func BuildRandomPayload(prng xcrypto.PRNG) (Payload, error) {
	b, err := prng.Bytes(PayloadLen)
	if err != nil {
		return nil, fmt.Errorf("packet: build random payload: %w", err)
	}
	return Payload(b), nil
}

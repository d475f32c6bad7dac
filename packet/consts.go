// Package packet implements the wire format of a type-III remailer
// packet: fixed-size headers and payloads, the per-hop subheader that
// carries routing instructions, and the Singleton/Fragment payload
// encodings a message is split into before it is wrapped in an onion.
package packet

// Packet geometry. These sizes are fixed by the wire protocol, not a
// tuning knob — every onion, decode, and mmtp component assumes them.
const (
	HeaderLen  = 2048
	PayloadLen = 28672
	TagLen     = 20
	SecretLen  = 16
	DigestLen  = 20

	SingletonPayloadOverhead = 23
	FragmentPayloadOverhead  = 47
	EncFwdOverhead           = 42
	MinExitType              = 0x100

	ModulusBytes         = 128 // 1024-bit RSA packet keys
	OAEPOverhead         = 42  // 2*SHA-1 digest length + 2, per PKCS#1 OAEP
	MinSubheaderLen      = 42  // major(1) + minor(1) + secret(16) + digest(20) + rt(2) + ri_len(2)
	EncSubheaderLen      = ModulusBytes
	FragmentMessageIDLen = 20

	MajorNo = 0
	MinorNo = 3
)

const (
	flagFragment   byte = 0x80
	flagCompressed byte = 0x40

	singletonSizeOffset = 1
	singletonHashOffset = 3
	fragmentHashOffset  = 3
	fragmentMetaLen     = FragmentMessageIDLen + 2 + 2 // messageID + index + count
)

// Package serverinfo implements the ServerInfo collaborator contract from
// spec.md §6 against a YAML-described static server list: not a live
// directory-protocol client (out of scope per spec.md §1, left external),
// just enough of a directory to give the MMTP transport and onion builder
// a concrete, testable collaborator.
package serverinfo

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/corvidrelay/corvid/onion"
	"gopkg.in/yaml.v3"
)

// RoutingTypeForward is the routing type a ServerInfo hop places in a
// subheader to tell the receiving relay to decrypt the next subheader and
// continue routing. It is disjoint from onion.RoutingSwapForward (0x0001)
// and from packet.MinExitType (0x0100), the two other routing-type
// ranges a subheader may carry.
const RoutingTypeForward uint16 = 0x0002

// HostInfo is the dial-side address of a server: enough for an MMTP
// client to open a TLS connection to hop zero.
type HostInfo struct {
	Address string
	Port    uint16
}

// entry is one server's YAML-described directory record.
type entry struct {
	Nickname          string    `yaml:"nickname"`
	Address           string    `yaml:"address"`
	Port              uint16    `yaml:"port"`
	PublicKeyPEM      string    `yaml:"public_key_pem"`
	ValidUntil        time.Time `yaml:"valid_until"`
	SupportsPacketVer bool      `yaml:"supports_packet_version"`
}

// Server is one node's ServerInfo: the parsed form of an entry, with its
// RSA public key decoded and its keyid (SHA-1 of the DER-encoded key,
// matching the fingerprint convention the rest of the module uses for
// tags and trace IDs) precomputed.
type Server struct {
	nickname   string
	host       HostInfo
	pub        *rsa.PublicKey
	keyid      string
	validUntil time.Time
	supportsV  bool
}

// PacketKey returns the RSA public key onion subheaders are encrypted
// under for this server.
func (s *Server) PacketKey() *rsa.PublicKey { return s.pub }

// PublicKey satisfies onion.Hop and surb.DialableHop.
func (s *Server) PublicKey() *rsa.PublicKey { return s.pub }

// KeyID returns the hex-encoded SHA-1 fingerprint of this server's RSA
// public key.
func (s *Server) KeyID() string { return s.keyid }

// Nickname returns this server's configured name.
func (s *Server) Nickname() string { return s.nickname }

// SupportsPacketVersion reports whether this server accepts the packet
// format version this build emits (MajorNo/MinorNo in package packet).
func (s *Server) SupportsPacketVersion() bool { return s.supportsV }

// ValidUntil returns the time after which this directory entry should no
// longer be trusted for routing decisions.
func (s *Server) ValidUntil() time.Time { return s.validUntil }

// MMTPHostInfo returns the address an MMTP client dials to reach this
// server.
func (s *Server) MMTPHostInfo() HostInfo { return s.host }

// RoutingTo returns the routing type/info the previous hop in a path
// places in its subheader to route to this server next: the routing
// info is simply this server's keyid, which the receiving relay's own
// directory lookup resolves back to an address and key. next must be a
// *Server; any other onion.Hop implementation has no keyid this
// directory-backed routing scheme can express.
func (s *Server) RoutingTo(next onion.Hop) (uint16, []byte) {
	n, ok := next.(*Server)
	if !ok {
		return RoutingTypeForward, nil
	}
	id, err := hex.DecodeString(n.keyid)
	if err != nil {
		return RoutingTypeForward, nil
	}
	return RoutingTypeForward, id
}

// DialInfo returns the routing type/info a client dials hop zero with;
// for a ServerInfo hop this is identical to RoutingTo addressed at
// itself, since the first hop's "routing info" a SURB records is just
// enough to find the server again.
func (s *Server) DialInfo() (uint16, []byte) {
	id, _ := hex.DecodeString(s.keyid)
	return RoutingTypeForward, id
}

// Directory is a static, in-memory set of servers keyed by keyid.
type Directory struct {
	byKeyID map[string]*Server
}

// Load parses a YAML server list from path into a Directory.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("serverinfo: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML server list from data into a Directory.
func Parse(data []byte) (*Directory, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("serverinfo: parse directory: %w", err)
	}
	dir := &Directory{byKeyID: make(map[string]*Server, len(entries))}
	for _, e := range entries {
		srv, err := fromEntry(e)
		if err != nil {
			return nil, fmt.Errorf("serverinfo: server %q: %w", e.Nickname, err)
		}
		dir.byKeyID[srv.keyid] = srv
	}
	return dir, nil
}

func fromEntry(e entry) (*Server, error) {
	block, _ := pem.Decode([]byte(e.PublicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public_key_pem")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}
	digest := sha1.Sum(block.Bytes)
	return &Server{
		nickname:   e.Nickname,
		host:       HostInfo{Address: e.Address, Port: e.Port},
		pub:        pub,
		keyid:      hex.EncodeToString(digest[:]),
		validUntil: e.ValidUntil,
		supportsV:  e.SupportsPacketVer,
	}, nil
}

// ByKeyID looks up a server by its hex keyid.
func (d *Directory) ByKeyID(keyid string) (*Server, bool) {
	s, ok := d.byKeyID[keyid]
	return s, ok
}

// All returns every server in the directory, in no particular order.
func (d *Directory) All() []*Server {
	out := make([]*Server, 0, len(d.byKeyID))
	for _, s := range d.byKeyID {
		out = append(out, s)
	}
	return out
}

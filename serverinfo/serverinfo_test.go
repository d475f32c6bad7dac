package serverinfo

import (
	"testing"

	"github.com/corvidrelay/corvid/onion"
	"github.com/corvidrelay/corvid/surb"
)

const testPubPEM = `-----BEGIN RSA PUBLIC KEY-----
MIGJAoGBAOQ2ZFp1PY+u0ixSekSCLKugIVvg7o+pYfhsCeVqjxwkuS8bUVDWEW4l
g5jxaSfiW2TSc98ipbyOpL22y8oG3Y4B+9R0SSDV8Vt26tvlotMcbsZPfwpjasxu
kFG6u6FEv6iexB+thMlDw14hZn4RZmeP7TRWkmMijEUOJ+9RkbVVAgMBAAE=
-----END RSA PUBLIC KEY-----
`

func testYAML() []byte {
	return []byte(`
- nickname: relay-a
  address: 10.0.0.1
  port: 8080
  public_key_pem: |
` + indent(testPubPEM) + `
  valid_until: 2030-01-01T00:00:00Z
  supports_packet_version: true
`)
}

func indent(s string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += "    " + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func TestParseDirectory(t *testing.T) {
	dir, err := Parse(testYAML())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	servers := dir.All()
	if len(servers) != 1 {
		t.Fatalf("All() = %d servers, want 1", len(servers))
	}
	srv := servers[0]
	if srv.Nickname() != "relay-a" {
		t.Fatalf("Nickname() = %q", srv.Nickname())
	}
	if !srv.SupportsPacketVersion() {
		t.Fatalf("SupportsPacketVersion() = false, want true")
	}
	if srv.ValidUntil().Year() != 2030 {
		t.Fatalf("ValidUntil() = %v", srv.ValidUntil())
	}
	if srv.MMTPHostInfo().Address != "10.0.0.1" || srv.MMTPHostInfo().Port != 8080 {
		t.Fatalf("MMTPHostInfo() = %+v", srv.MMTPHostInfo())
	}
	if _, ok := dir.ByKeyID(srv.KeyID()); !ok {
		t.Fatalf("ByKeyID(%q) not found after All()", srv.KeyID())
	}
}

func TestServerSatisfiesHopContracts(t *testing.T) {
	dir, err := Parse(testYAML())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	srv := dir.All()[0]

	var _ onion.Hop = srv
	var _ surb.DialableHop = srv

	rt, ri := srv.RoutingTo(srv)
	if rt != RoutingTypeForward || len(ri) == 0 {
		t.Fatalf("RoutingTo(self) = (%d, %x)", rt, ri)
	}

	drt, dri := srv.DialInfo()
	if drt != RoutingTypeForward || len(dri) == 0 {
		t.Fatalf("DialInfo() = (%d, %x)", drt, dri)
	}
}

func TestParseRejectsMissingPEM(t *testing.T) {
	_, err := Parse([]byte(`
- nickname: broken
  address: 10.0.0.2
  port: 9090
`))
	if err == nil {
		t.Fatalf("Parse with no public_key_pem succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/does-not-exist.yaml"); err == nil {
		t.Fatalf("Load of nonexistent file succeeded")
	}
}

package packet

import (
	"bytes"
	"testing"
)

func TestSubheaderRoundTrip(t *testing.T) {
	var s Subheader
	s.Major = MajorNo
	s.Minor = MinorNo
	for i := range s.Secret {
		s.Secret[i] = byte(i)
	}
	for i := range s.Digest {
		s.Digest[i] = byte(0xff - i)
	}
	s.RoutingType = 0x0102
	s.RoutingInfo = []byte("192.0.2.1:4001 deadbeef")

	packed := s.Pack()
	if len(packed) != MinSubheaderLen+len(s.RoutingInfo) {
		t.Fatalf("packed length = %d, want %d", len(packed), MinSubheaderLen+len(s.RoutingInfo))
	}

	got, err := ParseSubheader(packed)
	if err != nil {
		t.Fatalf("ParseSubheader: %v", err)
	}
	if got.Major != s.Major || got.Minor != s.Minor {
		t.Fatalf("version mismatch: got %d.%d want %d.%d", got.Major, got.Minor, s.Major, s.Minor)
	}
	if got.Secret != s.Secret {
		t.Fatalf("secret mismatch")
	}
	if got.Digest != s.Digest {
		t.Fatalf("digest mismatch")
	}
	if got.RoutingType != s.RoutingType {
		t.Fatalf("routing type mismatch")
	}
	if !bytes.Equal(got.RoutingInfo, s.RoutingInfo) {
		t.Fatalf("routing info mismatch: got %q want %q", got.RoutingInfo, s.RoutingInfo)
	}
}

func TestSubheaderTruncatedRoutingInfo(t *testing.T) {
	var s Subheader
	s.RoutingInfo = []byte("this routing info overflows the RSA block")
	packed := s.Pack()

	declared, err := DeclaredRoutingInfoLen(packed)
	if err != nil {
		t.Fatalf("DeclaredRoutingInfoLen: %v", err)
	}
	if declared != len(s.RoutingInfo) {
		t.Fatalf("declared length = %d, want %d", declared, len(s.RoutingInfo))
	}

	truncated := packed[:MinSubheaderLen+5]
	got, err := ParseSubheader(truncated)
	if err != nil {
		t.Fatalf("ParseSubheader on truncated input: %v", err)
	}
	if len(got.RoutingInfo) != 5 {
		t.Fatalf("expected 5 bytes of inline routing info, got %d", len(got.RoutingInfo))
	}
}

func TestParseSubheaderRejectsShortInput(t *testing.T) {
	_, err := ParseSubheader(make([]byte, MinSubheaderLen-1))
	if err == nil {
		t.Fatalf("expected an error for input shorter than MinSubheaderLen")
	}
}

package config

import "testing"

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Incoming.MMTP.ListenIP != defaultListenIP {
		t.Fatalf("ListenIP = %q, want %q", c.Incoming.MMTP.ListenIP, defaultListenIP)
	}
	if c.Outgoing.MMTP.MaxConnections != defaultMaxConnections {
		t.Fatalf("MaxConnections = %d, want %d", c.Outgoing.MMTP.MaxConnections, defaultMaxConnections)
	}
	if c.Server.Timeout != defaultTimeout {
		t.Fatalf("Timeout = %v, want %v", c.Server.Timeout, defaultTimeout)
	}
}

func TestParseExplicitValues(t *testing.T) {
	doc := `
incoming:
  mmtp:
    listen_ip: 127.0.0.1
    listen_port: 4252
outgoing:
  mmtp:
    max_connections: 4
server:
  max_bandwidth: 1000000
  timeout: 45s
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Incoming.MMTP.ListenIP != "127.0.0.1" || c.Incoming.MMTP.ListenPort != 4252 {
		t.Fatalf("incoming.mmtp = %+v", c.Incoming.MMTP)
	}
	if c.Outgoing.MMTP.MaxConnections != 4 {
		t.Fatalf("MaxConnections = %d", c.Outgoing.MMTP.MaxConnections)
	}
	if c.Server.MaxBandwidth != 1000000 {
		t.Fatalf("MaxBandwidth = %d", c.Server.MaxBandwidth)
	}
	if c.Server.MaxBandwidthSpike != 1000000*defaultBandwidthSpikeX {
		t.Fatalf("MaxBandwidthSpike = %d, want 5x max_bandwidth", c.Server.MaxBandwidthSpike)
	}
	if c.Server.Timeout.String() != "45s" {
		t.Fatalf("Timeout = %v, want 45s", c.Server.Timeout)
	}
}

func TestParseExplicitBandwidthSpikeNotOverridden(t *testing.T) {
	doc := `
server:
  max_bandwidth: 1000
  max_bandwidth_spike: 1500
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Server.MaxBandwidthSpike != 1500 {
		t.Fatalf("MaxBandwidthSpike = %d, want explicit 1500", c.Server.MaxBandwidthSpike)
	}
}

func TestParseInvalidTimeout(t *testing.T) {
	if _, err := Parse([]byte("server:\n  timeout: not-a-duration\n")); err == nil {
		t.Fatalf("Parse with invalid timeout succeeded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/corvid-config.yaml"); err == nil {
		t.Fatalf("Load of nonexistent file succeeded")
	}
}

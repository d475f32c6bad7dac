// Package config parses the on-disk configuration surface spec.md §6
// names as relevant to the core: listen address/port, outbound
// connection limits, and bandwidth/timeout policy for the MMTP
// transport. Everything else a full node would configure (key
// management, mixing policy, directory publication) stays out of scope
// per spec.md §1.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Incoming is the inbound MMTP listener's configuration.
type Incoming struct {
	MMTP struct {
		ListenIP   string `yaml:"listen_ip"`
		ListenPort uint16 `yaml:"listen_port"`
	} `yaml:"mmtp"`
}

// Outgoing is the outbound MMTP client pool's configuration.
type Outgoing struct {
	MMTP struct {
		MaxConnections int `yaml:"max_connections"`
	} `yaml:"mmtp"`
}

// Server holds the reactor-wide bandwidth and timeout policy.
type Server struct {
	MaxBandwidth      int64         `yaml:"max_bandwidth"`
	MaxBandwidthSpike int64         `yaml:"max_bandwidth_spike"`
	Timeout           time.Duration `yaml:"-"`
}

// UnmarshalYAML lets server.timeout be written as a Go duration string
// ("30s", "5m") rather than a raw nanosecond count, matching how
// operators actually write these values.
func (s *Server) UnmarshalYAML(value *yaml.Node) error {
	var plain struct {
		MaxBandwidth      int64  `yaml:"max_bandwidth"`
		MaxBandwidthSpike int64  `yaml:"max_bandwidth_spike"`
		Timeout           string `yaml:"timeout"`
	}
	if err := value.Decode(&plain); err != nil {
		return err
	}
	s.MaxBandwidth = plain.MaxBandwidth
	s.MaxBandwidthSpike = plain.MaxBandwidthSpike
	if plain.Timeout != "" {
		d, err := time.ParseDuration(plain.Timeout)
		if err != nil {
			return fmt.Errorf("server.timeout: %w", err)
		}
		s.Timeout = d
	}
	return nil
}

// Config is the full parsed configuration document.
type Config struct {
	Incoming   Incoming `yaml:"incoming"`
	Outgoing   Outgoing `yaml:"outgoing"`
	Server     Server   `yaml:"server"`
	ServerList string   `yaml:"server_list"`
}

const (
	defaultListenIP        = "0.0.0.0"
	defaultMaxConnections  = 16
	defaultTimeout         = 5 * time.Minute
	defaultBandwidthSpikeX = 5
)

// applyDefaults fills in the defaults spec.md §6 names: listen_ip
// defaults to 0.0.0.0, max_connections defaults to 16, and
// max_bandwidth_spike defaults to 5x max_bandwidth when a positive
// max_bandwidth was given but no spike override.
func (c *Config) applyDefaults() {
	if c.Incoming.MMTP.ListenIP == "" {
		c.Incoming.MMTP.ListenIP = defaultListenIP
	}
	if c.Outgoing.MMTP.MaxConnections == 0 {
		c.Outgoing.MMTP.MaxConnections = defaultMaxConnections
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = defaultTimeout
	}
	if c.Server.MaxBandwidthSpike == 0 && c.Server.MaxBandwidth > 0 {
		c.Server.MaxBandwidthSpike = c.Server.MaxBandwidth * defaultBandwidthSpikeX
	}
}

// Load reads and parses a YAML config document from path, applying the
// spec-mandated defaults for any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML config document from data, applying the
// spec-mandated defaults for any field left unset.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

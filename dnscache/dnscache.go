// Package dnscache implements the DNSCache collaborator contract from
// spec.md §6: asynchronous hostname resolution for the MMTP transport's
// outbound dispatch path, so a connect attempt to a host-based routing
// target never blocks the reactor goroutine.
package dnscache

import (
	"context"
	"log/slog"
	"net"
)

// Family names the address family a lookup resolved to, or the sentinel
// meaning resolution found nothing.
type Family int

const (
	// AFINET is an IPv4 result.
	AFINET Family = iota
	// AFINET6 is an IPv6 result.
	AFINET6
	// NoEnt means the hostname has no address records.
	NoEnt
)

func (f Family) String() string {
	switch f {
	case AFINET:
		return "AF_INET"
	case AFINET6:
		return "AF_INET6"
	case NoEnt:
		return "NOENT"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single lookup.
type Result struct {
	Family Family
	Addr   net.IP
}

// Callback receives a lookup's outcome. It may be invoked on any
// goroutine — the caller (the MMTP reactor's outbound dispatch path)
// must not assume it runs on the goroutine that called Lookup, matching
// spec.md §6's note that the DNS cache's callback may fire on any
// thread.
type Callback func(hostname string, result Result)

// DNSCache resolves hostnames to addresses without blocking the caller.
type DNSCache interface {
	Lookup(hostname string, cb Callback)
}

// Resolver is a DNSCache backed by net.DefaultResolver, each lookup
// spawning its own goroutine so callers never block waiting on the
// resolver.
type Resolver struct {
	logger   *slog.Logger
	resolver *net.Resolver
}

// NewResolver creates a Resolver. logger defaults to slog.Default() when
// nil; resolver defaults to net.DefaultResolver when nil.
func NewResolver(resolver *net.Resolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Resolver{logger: logger, resolver: resolver}
}

// Lookup resolves hostname on its own goroutine and reports the first
// usable address to cb, preferring an IPv4 result when both families are
// present (matching outbound MMTP dispatch's IPv4-first preference per
// spec.md §4.5.3).
func (r *Resolver) Lookup(hostname string, cb Callback) {
	go func() {
		ips, err := r.resolver.LookupIP(context.Background(), "ip", hostname)
		if err != nil || len(ips) == 0 {
			r.logger.Debug("dnscache: lookup failed", "hostname", hostname, "err", err)
			cb(hostname, Result{Family: NoEnt})
			return
		}
		var v6 net.IP
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				cb(hostname, Result{Family: AFINET, Addr: v4})
				return
			}
			if v6 == nil {
				v6 = ip
			}
		}
		cb(hostname, Result{Family: AFINET6, Addr: v6})
	}()
}

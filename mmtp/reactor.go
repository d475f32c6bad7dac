package mmtp

import (
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/corvidrelay/corvid/dnscache"
	"github.com/corvidrelay/corvid/eventlog"
	"github.com/corvidrelay/corvid/pinglog"
)

// PacketConsumer receives every accepted SEND packet's wire bytes, once
// per message, per spec.md §6.
type PacketConsumer interface {
	OnPacket(wirePacket []byte)
}

// Reactor owns the connection registry, the shared token bucket, and
// the periodic tick/timeout sweep spec.md §4.5.1 assigns to a
// single-threaded event loop. Per REDESIGN FLAG 1, the literal
// poll/select loop is replaced by one goroutine per connection
// communicating over the events channel with this single reactor
// goroutine, which runs every tick, timeout sweep, pending-queue drain
// and connection event. The connection registry (connsMu) and the
// dispatcher's maps (its own mutex) are lock-guarded, because Accept
// and SendPacketsByRouting may also be called from other goroutines.
type Reactor struct {
	tlsConfig    *tls.Config
	bucket       *TokenBucket
	timeout      time.Duration
	consumer     PacketConsumer
	events       eventlog.EventLog
	pings        pinglog.PingLog
	dnsCache     dnscache.DNSCache
	maxClients   int
	logger       *slog.Logger

	connEvents chan any
	connsMu    sync.Mutex
	conns      map[string]*Conn
	dispatcher *dispatcher

	stop chan struct{}
	done chan struct{}
}

// ReactorConfig bundles the reactor's construction-time dependencies.
type ReactorConfig struct {
	TLSConfig      *tls.Config
	BytesPerTick   int64 // server.max_bandwidth; 0 = unlimited
	MaxBucket      int64 // server.max_bandwidth_spike; 0 = 5x BytesPerTick
	Timeout        time.Duration
	MaxConnections int // outgoing/mmtp.max_connections
	Consumer       PacketConsumer
	EventLog       eventlog.EventLog
	PingLog        pinglog.PingLog
	DNSCache       dnscache.DNSCache
	Logger         *slog.Logger
}

// NewReactor constructs a Reactor. Call Run to start its goroutine.
func NewReactor(cfg ReactorConfig) *Reactor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reactor{
		tlsConfig:  cfg.TLSConfig,
		bucket:     NewTokenBucket(cfg.BytesPerTick, cfg.MaxBucket, logger),
		timeout:    cfg.Timeout,
		consumer:   cfg.Consumer,
		events:     cfg.EventLog,
		pings:      cfg.PingLog,
		dnsCache:   cfg.DNSCache,
		maxClients: cfg.MaxConnections,
		logger:     logger,
		connEvents: make(chan any, 64),
		conns:      make(map[string]*Conn),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.dispatcher = newDispatcher(r)
	return r
}

// Accept registers an already-accepted inbound net.Conn (a raw TCP
// conn the caller has wrapped in tls.Server, or a plain conn for
// non-TLS testing) and starts its protocol state machine.
func (r *Reactor) Accept(nc net.Conn) {
	c := newConn(nc, RoleServer, r.bucket, r.connEvents, r.logger)
	r.registerAndRun(c)
	r.countEvent(eventlog.ReceivedConnection, "")
}

// dialClient opens a new outbound client connection to addr (host:port)
// and starts its protocol state machine, tagging it with keyid for
// ping-log and routing purposes. Used only by the dispatcher.
func (r *Reactor) dialClient(addr, keyid string) (*Conn, error) {
	r.countEvent(eventlog.AttemptedConnect, keyid)
	raw, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		r.countEvent(eventlog.FailedConnect, keyid)
		if r.pings != nil {
			r.pings.ConnectFailed(keyid)
		}
		return nil, err
	}
	var nc net.Conn = raw
	if r.tlsConfig != nil {
		nc = tls.Client(raw, r.tlsConfig)
	}
	c := newConn(nc, RoleClient, r.bucket, r.connEvents, r.logger)
	c.KeyID = keyid
	r.registerAndRun(c)
	return c, nil
}

func (r *Reactor) registerAndRun(c *Conn) {
	r.connsMu.Lock()
	r.conns[c.TraceID] = c
	r.connsMu.Unlock()
	handshakeTimeout := 30 * time.Second
	go c.run(handshakeTimeout)
}

// countEvent is a nil-safe EventLog.Count call.
func (r *Reactor) countEvent(event eventlog.Event, arg string) {
	if r.events != nil {
		r.events.Count(event, arg)
	}
}

// Run starts the reactor's goroutine: the tick/timeout sweep and the
// connection-event dispatch loop. It returns once Stop is called.
func (r *Reactor) Run() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.bucket.Tick()
			r.sweepTimeouts()
			r.dispatcher.drainPending()
		case ev := <-r.connEvents:
			r.handleEvent(ev)
		}
	}
}

// Stop halts the reactor goroutine and closes every registered
// connection.
func (r *Reactor) Stop() {
	close(r.stop)
	<-r.done
	r.connsMu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.connsMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (r *Reactor) handleEvent(ev any) {
	switch e := ev.(type) {
	case closedEvent:
		r.onClosed(e)
	case packetEvent:
		r.onPacket(e)
	case ackEvent:
		r.dispatcher.onAck(e.conn, e.accepted)
	case dnsResolvedEvent:
		r.dispatcher.handleDNSResolved(e)
	}
}

// SendPacketsByRouting is the reactor's public outbound entry point,
// exposed for callers (the onion relay/exit path) that need to deliver
// freshly-built packets: spec.md §4.5.3's send_packets_by_routing.
func (r *Reactor) SendPacketsByRouting(routing Routing, deliverables []*Deliverable) {
	r.dispatcher.SendPacketsByRouting(routing, deliverables)
}

func (r *Reactor) onPacket(e packetEvent) {
	if e.junk {
		return
	}
	r.countEvent(eventlog.ReceivedPacket, "")
	if r.consumer != nil {
		r.consumer.OnPacket(e.wirePacket)
	}
}

func (r *Reactor) onClosed(e closedEvent) {
	r.connsMu.Lock()
	delete(r.conns, e.conn.TraceID)
	r.connsMu.Unlock()
	r.logger.Debug("connection closed", "conn", e.conn.TraceID, "reason", e.reason)

	if e.conn.Role == RoleClient {
		if e.reason == closeNormal && e.conn.State() != AwaitingTLSHandshake && e.conn.State() != AwaitingProtocolLine {
			if r.pings != nil {
				r.pings.Connected(e.conn.KeyID)
			}
		} else if e.conn.State() == AwaitingTLSHandshake || e.conn.State() == AwaitingProtocolLine {
			if r.pings != nil {
				r.pings.ConnectFailed(e.conn.KeyID)
			}
		}
		r.dispatcher.onConnClosed(e.conn)
	}
}

func (r *Reactor) sweepTimeouts() {
	if r.timeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.timeout)
	r.connsMu.Lock()
	stale := make([]*Conn, 0)
	for id, c := range r.conns {
		if c.LastActivity().Before(cutoff) {
			r.logger.Debug("closing idle connection", "conn", id)
			stale = append(stale, c)
		}
	}
	r.connsMu.Unlock()
	for _, c := range stale {
		_ = c.Close()
	}
}

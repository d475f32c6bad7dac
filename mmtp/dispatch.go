package mmtp

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/corvidrelay/corvid/dnscache"
	"github.com/corvidrelay/corvid/eventlog"
)

// dialBurst and dialRate bound how fast drainPending reopens connections
// for a large backlog of spilled-over deliverables: without this, a
// pending queue that built up while the pool was saturated would retry
// every address the instant a slot freed up, producing a connect storm
// against whichever peers happen to be at the front of the map. This is
// a distinct concern from TokenBucket's per-tick byte budget, which
// paces bytes already flowing over open connections, not new dial
// attempts.
const (
	dialRate  = 5 // connection attempts per second
	dialBurst = 5
)

// Routing names where to deliver a set of packets: either already a
// literal address, or a hostname the dispatcher must resolve via the
// reactor's DNSCache first.
type Routing struct {
	Host  string // IPv4/IPv6 literal or hostname
	Port  uint16
	KeyID string
}

// Deliverable is one packet awaiting outbound delivery, with its result
// callback. OnResult is invoked at most once: on the reactor goroutine
// for an ack, a connection close or a DNS result, or on the goroutine
// driving sendPackets when delivery fails at once (no DNSCache, a dial
// error, a closed connection).
type Deliverable struct {
	WirePacket []byte
	Junk       bool
	OnResult   func(err error, retriable bool)
}

// dispatcher implements send_packets_by_routing (spec.md §4.5.3):
// connection pooling per (addr, port, keyid), DNS resolution for
// hostname targets, and a pending-packet spillover queue when the
// outbound connection pool is full. Its maps are mutex-guarded because
// SendPacketsByRouting may be called from any goroutine (the relay/exit
// path handing off a freshly-built packet), but the DNS callback itself
// still only ever posts a dnsResolvedEvent onto the reactor's event
// channel rather than touching dispatcher state directly from the
// lookup goroutine — matching spec.md §5's "auxiliary threads
// communicate only by posting to the message queue" rule.
type dispatcher struct {
	reactor *Reactor

	mu             sync.Mutex
	clientConns    map[string]*Conn          // addrKey -> active client Conn
	connQueues     map[string][]*Deliverable // conn.TraceID -> outstanding deliverables, FIFO
	pendingPackets map[string][]pendingSend  // addrKey -> deliverables waiting for a free connection slot
	openClients    int

	dialLimiter *rate.Limiter // paces new outbound dial attempts, independent of the connection-count cap
}

type pendingSend struct {
	addr  string
	port  uint16
	keyid string
	d     *Deliverable
}

// dnsResolvedEvent is posted onto the reactor's event channel once a
// hostname lookup completes, so the lookup goroutine never touches the
// dispatcher's maps; handleDNSResolved runs on the reactor goroutine.
type dnsResolvedEvent struct {
	hostname string
	result   dnscache.Result
	port     uint16
	keyid    string
	deliverables []*Deliverable
}

func newDispatcher(r *Reactor) *dispatcher {
	return &dispatcher{
		reactor:        r,
		clientConns:    make(map[string]*Conn),
		connQueues:     make(map[string][]*Deliverable),
		pendingPackets: make(map[string][]pendingSend),
		dialLimiter:    rate.NewLimiter(rate.Limit(dialRate), dialBurst),
	}
}

func addrKey(addr string, port uint16, keyid string) string {
	return fmt.Sprintf("%s:%d#%s", addr, port, keyid)
}

// SendPacketsByRouting is the dispatcher's public entry point: resolves
// routing.Host if needed, then hands the deliverables to sendPackets
// once an address is known. May be called from any goroutine.
func (d *dispatcher) SendPacketsByRouting(routing Routing, deliverables []*Deliverable) {
	if ip := net.ParseIP(routing.Host); ip != nil {
		d.sendPackets(routing.Host, routing.Port, routing.KeyID, deliverables)
		return
	}
	if d.reactor.dnsCache == nil {
		d.failAll(deliverables, fmt.Errorf("mmtp: no DNSCache configured for hostname %q", routing.Host), true)
		return
	}
	host, port, keyid := routing.Host, routing.Port, routing.KeyID
	d.reactor.dnsCache.Lookup(host, func(name string, result dnscache.Result) {
		d.reactor.connEvents <- dnsResolvedEvent{
			hostname: name, result: result, port: port, keyid: keyid, deliverables: deliverables,
		}
	})
}

// handleDNSResolved processes a dnsResolvedEvent on the reactor
// goroutine.
func (d *dispatcher) handleDNSResolved(e dnsResolvedEvent) {
	if e.result.Family == dnscache.NoEnt {
		d.failAll(e.deliverables, fmt.Errorf("mmtp: no address found for %s", e.hostname), true)
		return
	}
	d.sendPackets(e.result.Addr.String(), e.port, e.keyid, e.deliverables)
}

// sendPackets implements the pool-or-queue decision from spec.md
// §4.5.3: reuse an active connection to (addr, port, keyid), open a new
// one if under the configured cap, or spill to pendingPackets for the
// next drain.
func (d *dispatcher) sendPackets(addr string, port uint16, keyid string, deliverables []*Deliverable) {
	key := addrKey(addr, port, keyid)

	d.mu.Lock()
	conn, ok := d.clientConns[key]
	d.mu.Unlock()
	if ok {
		d.enqueueOn(conn, deliverables)
		return
	}

	d.mu.Lock()
	underCap := d.reactor.maxClients <= 0 || d.openClients < d.reactor.maxClients
	d.mu.Unlock()
	if !underCap || !d.dialLimiter.Allow() {
		d.mu.Lock()
		for _, dl := range deliverables {
			d.pendingPackets[key] = append(d.pendingPackets[key], pendingSend{addr: addr, port: port, keyid: keyid, d: dl})
		}
		d.mu.Unlock()
		return
	}

	dialAddr := net.JoinHostPort(addr, fmt.Sprintf("%d", port))
	conn, err := d.reactor.dialClient(dialAddr, keyid)
	if err != nil {
		d.failAll(deliverables, fmt.Errorf("mmtp: dial %s: %w", dialAddr, err), true)
		return
	}
	d.mu.Lock()
	d.clientConns[key] = conn
	d.openClients++
	d.mu.Unlock()
	d.enqueueOn(conn, deliverables)
}

// enqueueOn appends deliverables to conn's outstanding FIFO queue and
// writes them onto the wire.
func (d *dispatcher) enqueueOn(conn *Conn, deliverables []*Deliverable) {
	d.mu.Lock()
	d.connQueues[conn.TraceID] = append(d.connQueues[conn.TraceID], deliverables...)
	d.mu.Unlock()
	for _, dl := range deliverables {
		if err := conn.Send(dl.WirePacket, dl.Junk); err != nil {
			// Fail dl here only if onConnClosed has not already taken it
			// off the queue and failed it itself.
			d.mu.Lock()
			q := d.connQueues[conn.TraceID]
			owned := false
			for i, queued := range q {
				if queued == dl {
					d.connQueues[conn.TraceID] = append(q[:i:i], q[i+1:]...)
					owned = true
					break
				}
			}
			d.mu.Unlock()
			if owned {
				d.failAll([]*Deliverable{dl}, err, true)
			}
		}
	}
}

// onAck resolves the oldest outstanding deliverable on conn, per the
// FIFO ordering spec.md §5 guarantees within a connection.
func (d *dispatcher) onAck(conn *Conn, accepted bool) {
	d.mu.Lock()
	q := d.connQueues[conn.TraceID]
	if len(q) == 0 {
		d.mu.Unlock()
		return
	}
	dl := q[0]
	d.connQueues[conn.TraceID] = q[1:]
	d.mu.Unlock()

	if accepted {
		d.reactor.countEvent(eventlog.SuccessfulDelivery, conn.KeyID)
		if dl.OnResult != nil {
			dl.OnResult(nil, false)
		}
		return
	}
	d.reactor.countEvent(eventlog.UnretriableDelivery, conn.KeyID)
	if dl.OnResult != nil {
		dl.OnResult(fmt.Errorf("mmtp: peer rejected packet"), false)
	}
}

// onConnClosed fails every deliverable still queued on conn as
// retriable, per spec.md §5's "closing triggers on_closed, which marks
// all still-queued deliverables failed(retriable=true)".
func (d *dispatcher) onConnClosed(conn *Conn) {
	d.mu.Lock()
	q := d.connQueues[conn.TraceID]
	delete(d.connQueues, conn.TraceID)
	for key, c := range d.clientConns {
		if c == conn {
			delete(d.clientConns, key)
			d.openClients--
		}
	}
	d.mu.Unlock()
	d.failAll(q, fmt.Errorf("mmtp: connection closed mid-delivery"), true)
}

// drainPending retries opening connections for addresses with
// spilled-over deliverables, called once per reactor tick.
func (d *dispatcher) drainPending() {
	d.mu.Lock()
	if len(d.pendingPackets) == 0 {
		d.mu.Unlock()
		return
	}
	pending := d.pendingPackets
	d.pendingPackets = make(map[string][]pendingSend)
	d.mu.Unlock()

	for _, sends := range pending {
		type addrPort struct {
			addr  string
			port  uint16
			keyid string
		}
		byAddr := make(map[addrPort][]*Deliverable)
		var order []addrPort
		seen := make(map[addrPort]bool)
		for _, s := range sends {
			ap := addrPort{addr: s.addr, port: s.port, keyid: s.keyid}
			if !seen[ap] {
				seen[ap] = true
				order = append(order, ap)
			}
			byAddr[ap] = append(byAddr[ap], s.d)
		}
		for _, ap := range order {
			d.sendPackets(ap.addr, ap.port, ap.keyid, byAddr[ap])
		}
	}
}

func (d *dispatcher) failAll(deliverables []*Deliverable, err error, retriable bool) {
	for _, dl := range deliverables {
		if dl.OnResult != nil {
			dl.OnResult(err, retriable)
		}
	}
}

package mmtp

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is one stage of the per-connection protocol state machine from
// spec.md §4.5.2.
type State int

const (
	AwaitingTLSHandshake State = iota
	AwaitingProtocolLine
	WritingProtocolAck
	AwaitingMessage
	WritingAck
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingTLSHandshake:
		return "awaiting_tls_handshake"
	case AwaitingProtocolLine:
		return "awaiting_protocol_line"
	case WritingProtocolAck:
		return "writing_protocol_ack"
	case AwaitingMessage:
		return "awaiting_message"
	case WritingAck:
		return "writing_ack"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes a server-accepted connection from one this process
// dialed outbound.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// closeReason names why a connection ended, for on-close bookkeeping
// (ping-log reporting, deliverable failure).
type closeReason int

const (
	closeNormal closeReason = iota
	closeProtocolViolation
	closeTimeout
	closeNetworkError
)

// closedEvent is posted to the reactor when a connection's goroutines
// exit, regardless of cause.
type closedEvent struct {
	conn   *Conn
	reason closeReason
	err    error
}

// packetEvent is posted to the reactor once per accepted SEND message,
// carrying the decoded wire packet for delivery to the PacketConsumer.
type packetEvent struct {
	conn       *Conn
	wirePacket []byte
	junk       bool
}

// ackEvent is posted to the reactor once per acknowledgement a client
// connection receives, in the FIFO send order spec.md §5 requires. The
// dispatcher matches it against the oldest outstanding deliverable on
// that connection.
type ackEvent struct {
	conn     *Conn
	accepted bool
}

// Conn is one MMTP connection: a TLS socket, its protocol state, and the
// two goroutines (reader, writer) that drive its I/O independently of
// the reactor goroutine, per REDESIGN FLAG 1. The reactor never calls
// Read/Write directly; it only inspects state and posts outbound
// messages onto outbox.
type Conn struct {
	TraceID string
	Role    Role
	KeyID   string // remote server's keyid, set for client connections

	nc     net.Conn
	bucket *TokenBucket
	logger *slog.Logger

	state        State
	lastActivity time.Time

	outbox chan []byte // raw bytes the writer goroutine should send
	sent   chan []byte // wire packets enqueued by Send, in FIFO order, awaiting their ack (client role only)
	events chan<- any  // reactor's shared event channel (closedEvent, packetEvent, ackEvent)
	stop   chan struct{}

	rejectMode bool // when true, accepted SEND messages are acknowledged REJECTED
}

// newConn wraps an accepted or dialed net.Conn. events is the reactor's
// shared inbound channel; the connection posts closedEvent/packetEvent
// onto it and never reads from it.
func newConn(nc net.Conn, role Role, bucket *TokenBucket, events chan<- any, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Conn{
		TraceID:      id,
		Role:         role,
		nc:           nc,
		bucket:       bucket,
		logger:       logger.With("conn", id, "role", roleString(role)),
		state:        AwaitingTLSHandshake,
		lastActivity: time.Now(),
		outbox:       make(chan []byte, 4),
		sent:         make(chan []byte, 64),
		events:       events,
		stop:         make(chan struct{}),
	}
}

func roleString(r Role) string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State returns the connection's current protocol state. Safe to call
// from the reactor goroutine only; the I/O goroutines own all writes to
// c.state.
func (c *Conn) State() State { return c.state }

// LastActivity reports the last time a read or write completed
// successfully, for the reactor's idle-timeout sweep.
func (c *Conn) LastActivity() time.Time { return c.lastActivity }

// Send enqueues a SEND/JUNK message for a client connection's writer
// goroutine. It blocks until both the connection's sent queue and its
// outbox have room, and returns an error if the connection is closed
// first.
func (c *Conn) Send(wirePacket []byte, junk bool) error {
	raw, err := encodeMessage(wirePacket, junk)
	if err != nil {
		return err
	}
	select {
	case c.sent <- wirePacket:
	case <-c.stop:
		return fmt.Errorf("mmtp: connection closed")
	}
	select {
	case c.outbox <- raw:
		return nil
	case <-c.stop:
		return fmt.Errorf("mmtp: connection closed")
	}
}

// SetRejectMode toggles whether this server connection acknowledges
// future SEND messages as REJECTED rather than RECEIVED, per spec.md's
// reject-mode ack form.
func (c *Conn) SetRejectMode(reject bool) { c.rejectMode = reject }

// Close tears down the connection's goroutines and the underlying
// socket.
func (c *Conn) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	return c.nc.Close()
}

// run drives the connection's entire protocol state machine on its own
// goroutine pair: a reader goroutine blocks on I/O and advances state,
// a writer goroutine drains outbox. When the connection ends, for any
// reason, run posts one closedEvent onto c.events. run is started once per accepted/dialed
// connection and returns once the connection is fully torn down.
func (c *Conn) run(handshakeTimeout time.Duration) {
	reason := closeNormal
	var runErr error
	defer func() {
		c.state = Closed
		_ = c.nc.Close()
		c.events <- closedEvent{conn: c, reason: reason, err: runErr}
	}()

	if tlsConn, ok := c.nc.(*tls.Conn); ok {
		_ = tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			reason, runErr = closeNetworkError, fmt.Errorf("tls handshake: %w", err)
			return
		}
		_ = tlsConn.SetDeadline(time.Time{})
	}
	c.state = AwaitingProtocolLine
	c.touch()

	br := bufio.NewReader(&bucketedReader{r: c.nc, bucket: c.bucket})

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)
	defer func() { <-writerDone }()

	// Close may already have closed c.stop from another goroutine.
	stopIO := func() {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}

	if c.Role == RoleClient {
		if err := c.clientHandshake(br); err != nil {
			reason, runErr = closeNetworkError, err
			stopIO()
			return
		}
		c.state = AwaitingMessage
		reason, runErr = c.clientLoop(br)
		stopIO()
		return
	}

	if err := c.serverHandshake(br); err != nil {
		reason = closeProtocolViolation
		if !errors.Is(err, ErrProtocolViolation) {
			reason = closeNetworkError
		}
		runErr = err
		stopIO()
		return
	}
	c.state = AwaitingMessage
	reason, runErr = c.serverLoop(br)
	stopIO()
}

// serverLoop reads and acknowledges SEND/JUNK messages until the
// connection ends.
func (c *Conn) serverLoop(br *bufio.Reader) (closeReason, error) {
	for {
		raw := make([]byte, wireMessageLen)
		if _, err := io.ReadFull(br, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return closeNormal, nil
			}
			return closeNetworkError, err
		}
		c.touch()
		msg, err := decodeMessage(raw)
		if err != nil {
			return closeProtocolViolation, err
		}
		c.state = WritingAck
		kind := ackAccepted
		if msg.junk {
			kind = ackAcceptedJunk
		}
		if c.rejectMode {
			kind = ackDenied
		}
		ack := encodeAck(msg.wirePacket, kind)
		select {
		case c.outbox <- ack:
		case <-c.stop:
			return closeNormal, nil
		}
		if kind == ackAccepted {
			c.events <- packetEvent{conn: c, wirePacket: msg.wirePacket, junk: msg.junk}
		}
		c.state = AwaitingMessage
	}
}

// clientLoop reads acknowledgements for messages Send enqueued, in the
// FIFO order spec.md §5 requires, and reports each outcome via
// c.events as an ackEvent so the dispatcher can resolve the matching
// deliverable.
func (c *Conn) clientLoop(br *bufio.Reader) (closeReason, error) {
	for {
		var wirePacket []byte
		select {
		case wirePacket = <-c.sent:
		case <-c.stop:
			return closeNormal, nil
		}
		raw := make([]byte, ackLen)
		if _, err := io.ReadFull(br, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return closeNormal, nil
			}
			return closeNetworkError, err
		}
		c.touch()
		accepted, err := decodeAck(raw, wirePacket)
		if err != nil {
			return closeProtocolViolation, err
		}
		c.events <- ackEvent{conn: c, accepted: accepted}
	}
}

// clientHandshake sends the protocol line and waits for the server's
// echo, per spec.md §4.5.2.
func (c *Conn) clientHandshake(br *bufio.Reader) error {
	line := fmt.Sprintf("MMTP %s\r\n", ProtocolVersion)
	select {
	case c.outbox <- []byte(line):
	case <-c.stop:
		return fmt.Errorf("mmtp: connection closed before handshake")
	}
	c.state = WritingProtocolAck
	resp, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read protocol ack: %w", err)
	}
	if !strings.Contains(resp, ProtocolVersion) {
		return fmt.Errorf("%w: server echoed %q", ErrUnsupportedVersion, strings.TrimSpace(resp))
	}
	c.touch()
	return nil
}

// serverHandshake reads the client's offered versions and replies with
// the one this build supports, or errors if none match.
func (c *Conn) serverHandshake(br *bufio.Reader) error {
	line, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read protocol line: %w", err)
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "MMTP ") {
		return fmt.Errorf("%w: malformed protocol line %q", ErrProtocolViolation, line)
	}
	offered := strings.Split(strings.TrimPrefix(line, "MMTP "), ",")
	supported := false
	for _, v := range offered {
		if strings.TrimSpace(v) == ProtocolVersion {
			supported = true
			break
		}
	}
	c.state = WritingProtocolAck
	reply := fmt.Sprintf("MMTP %s\r\n", ProtocolVersion)
	select {
	case c.outbox <- []byte(reply):
	case <-c.stop:
		return fmt.Errorf("mmtp: connection closed before handshake ack")
	}
	if !supported {
		return fmt.Errorf("%w: client offered %v", ErrUnsupportedVersion, offered)
	}
	c.touch()
	return nil
}

// writeLoop drains outbox onto the socket until stop fires or the
// channel is closed by the caller tearing the connection down.
func (c *Conn) writeLoop(done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case raw, ok := <-c.outbox:
			if !ok {
				return
			}
			w := &bucketedWriter{w: c.nc, bucket: c.bucket}
			if _, err := w.Write(raw); err != nil {
				c.logger.Debug("write error", "err", err)
				return
			}
			c.touch()
		case <-c.stop:
			return
		}
	}
}

func (c *Conn) touch() { c.lastActivity = time.Now() }

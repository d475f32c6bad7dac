// Package relay wires the onion transform into the MMTP transport: it is
// the mmtp.PacketConsumer implementation a running node installs on its
// Reactor, turning "a packet arrived" into "peel it, then forward it or
// hand it to the payload decoder" (spec.md §1's relay/exit data-flow
// step).
package relay

import (
	"crypto/rsa"
	"encoding/hex"
	"log/slog"

	"github.com/corvidrelay/corvid/decode"
	"github.com/corvidrelay/corvid/eventlog"
	"github.com/corvidrelay/corvid/mmtp"
	"github.com/corvidrelay/corvid/onion"
	"github.com/corvidrelay/corvid/packet"
	"github.com/corvidrelay/corvid/serverinfo"
)

// ExitSink receives a packet's decoded body once this node resolves as
// its final hop. Delivery policy (mailbox storage, SMTP hand-off, a nym
// server) lives entirely behind this interface; relay itself only peels
// and routes.
type ExitSink interface {
	Deliver(result decode.Result)
}

// Handler is the mmtp.PacketConsumer a node's Reactor feeds every
// accepted packet to. It holds this node's own onion private key, a
// directory for resolving the next hop a forwarded packet names, and an
// ExitSink for packets that terminate here.
type Handler struct {
	Key       *rsa.PrivateKey
	Directory *serverinfo.Directory
	UserKeys  []decode.UserKey
	Reactor   *mmtp.Reactor
	Sink      ExitSink
	Events    eventlog.EventLog
	Logger    *slog.Logger
}

// OnPacket implements mmtp.PacketConsumer.
func (h *Handler) OnPacket(wirePacket []byte) {
	pkt, err := packet.ParsePacket(wirePacket)
	if err != nil {
		h.logger().Warn("discarding malformed packet", "err", err)
		return
	}
	h.countEvent(eventlog.ReceivedPacket, "")

	res, err := onion.ProcessHop(pkt, h.Key)
	if err != nil {
		h.logger().Debug("discarding packet: onion peel failed", "err", err)
		return
	}

	switch res.Action {
	case onion.ActionExit:
		h.handleExit(res)
	case onion.ActionForward:
		h.handleForward(res)
	}
}

// handleExit runs the payload decoder against a packet whose final
// subheader named this node as the destination. RoutingInfo is tag then
// whatever exitInfo the sender/SURB supplied; DecodePayload only needs
// the tag, so the suffix is left for a delivery layer this package
// doesn't implement.
func (h *Handler) handleExit(res onion.ProcessResult) {
	if len(res.RoutingInfo) < packet.TagLen {
		h.logger().Warn("exit routing info shorter than a tag, dropping", "len", len(res.RoutingInfo))
		return
	}
	tag := res.RoutingInfo[:packet.TagLen]

	result, ok, err := decode.DecodePayload(res.Packet.Payload, tag, h.Key, h.UserKeys)
	if err != nil {
		h.logger().Warn("exit payload failed its own integrity check", "err", err)
		return
	}
	if !ok {
		h.logger().Debug("exit payload undecodable, treating as junk traffic")
		return
	}

	if h.Sink != nil {
		h.Sink.Deliver(result)
	}
}

// handleForward resolves RoutingInfo (a directory-server keyid, whether
// this hop was an ordinary intermediate or the crossover) against
// Directory and hands the re-wrapped packet to the Reactor's dispatcher.
func (h *Handler) handleForward(res onion.ProcessResult) {
	keyid := hex.EncodeToString(res.RoutingInfo)
	next, ok := h.Directory.ByKeyID(keyid)
	if !ok {
		h.countEvent(eventlog.FailedRelay, keyid)
		h.logger().Warn("forward: unknown next hop", "keyid", keyid)
		return
	}

	host := next.MMTPHostInfo()
	routing := mmtp.Routing{Host: host.Address, Port: host.Port, KeyID: keyid}

	h.countEvent(eventlog.AttemptedRelay, keyid)
	h.Reactor.SendPacketsByRouting(routing, []*mmtp.Deliverable{
		{
			WirePacket: res.Packet.Pack(),
			OnResult: func(err error, retriable bool) {
				if err == nil {
					h.countEvent(eventlog.SuccessfulRelay, keyid)
					return
				}
				if retriable {
					h.countEvent(eventlog.FailedRelay, keyid)
				} else {
					h.countEvent(eventlog.UnretriableRelay, keyid)
				}
				h.logger().Debug("forward delivery failed", "keyid", keyid, "err", err, "retriable", retriable)
			},
		},
	})
}

func (h *Handler) countEvent(e eventlog.Event, arg string) {
	if h.Events != nil {
		h.Events.Count(e, arg)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

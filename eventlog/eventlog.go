// Package eventlog implements the EventLog collaborator contract: counter
// sinks for the transport's connection and delivery lifecycle events,
// optionally tagged with an argument string (a keyid, an address, a reject
// reason).
package eventlog

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Event names one of the countable lifecycle events the transport reports.
type Event int

const (
	ReceivedPacket Event = iota
	ReceivedConnection
	AttemptedConnect
	SuccessfulConnect
	FailedConnect
	AttemptedRelay
	SuccessfulRelay
	FailedRelay
	UnretriableRelay
	AttemptedDelivery
	SuccessfulDelivery
	FailedDelivery
	UnretriableDelivery
)

func (e Event) String() string {
	switch e {
	case ReceivedPacket:
		return "received_packet"
	case ReceivedConnection:
		return "received_connection"
	case AttemptedConnect:
		return "attempted_connect"
	case SuccessfulConnect:
		return "successful_connect"
	case FailedConnect:
		return "failed_connect"
	case AttemptedRelay:
		return "attempted_relay"
	case SuccessfulRelay:
		return "successful_relay"
	case FailedRelay:
		return "failed_relay"
	case UnretriableRelay:
		return "unretriable_relay"
	case AttemptedDelivery:
		return "attempted_delivery"
	case SuccessfulDelivery:
		return "successful_delivery"
	case FailedDelivery:
		return "failed_delivery"
	case UnretriableDelivery:
		return "unretriable_delivery"
	default:
		return "unknown"
	}
}

// EventLog is the collaborator contract the MMTP transport and the relay
// handler report lifecycle events to.
type EventLog interface {
	Count(event Event, arg string)
}

// Prometheus is an EventLog backed by a single labeled counter vector,
// registered against a caller-supplied registerer so tests can use their
// own registry instead of the global default.
type Prometheus struct {
	counter *prometheus.CounterVec
	logger  *slog.Logger
}

// NewPrometheus creates a Prometheus event log and registers its counter
// vector against reg. logger defaults to slog.Default() when nil.
func NewPrometheus(reg prometheus.Registerer, logger *slog.Logger) *Prometheus {
	if logger == nil {
		logger = slog.Default()
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corvid",
		Name:      "events_total",
		Help:      "Count of transport and onion-builder lifecycle events by kind and argument.",
	}, []string{"event", "arg"})
	reg.MustRegister(counter)
	return &Prometheus{counter: counter, logger: logger}
}

// Count increments the counter for event, labeled with arg (empty string
// if the event carries none).
func (p *Prometheus) Count(event Event, arg string) {
	p.counter.WithLabelValues(event.String(), arg).Inc()
	p.logger.Debug("event", "event", event.String(), "arg", arg)
}

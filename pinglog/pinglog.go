// Package pinglog implements the optional PingLog collaborator: a record
// of which remote keyids a node has successfully reached recently, used by
// path selection elsewhere in the system (out of scope here). Reporting is
// fire-and-forget from the transport's perspective — a nil PingLog is a
// valid no-op.
package pinglog

import (
	"log/slog"
	"sync"
	"time"
)

// PingLog receives connection-level reachability signals keyed by a
// remote server's keyid. No other connection event is reported.
type PingLog interface {
	// Connected is called once a client connection to keyid completes the
	// MMTP handshake.
	Connected(keyid string)
	// ConnectFailed is called when a connection to keyid closes without
	// ever completing the handshake.
	ConnectFailed(keyid string)
}

// entry is the last-seen state for one keyid.
type entry struct {
	lastSuccess time.Time
	lastFailure time.Time
}

// Memory is an in-process PingLog: the last success/failure time per
// keyid, guarded by a mutex since connection goroutines report
// concurrently. There is no persistence — restart loses the history,
// matching spec.md §6's "no persisted state at the core level".
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	logger  *slog.Logger
}

// NewMemory creates an empty Memory ping log. logger defaults to
// slog.Default() when nil.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{entries: make(map[string]entry), logger: logger}
}

func (m *Memory) Connected(keyid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[keyid]
	e.lastSuccess = time.Now()
	m.entries[keyid] = e
	m.logger.Debug("ping: connected", "keyid", keyid)
}

func (m *Memory) ConnectFailed(keyid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[keyid]
	e.lastFailure = time.Now()
	m.entries[keyid] = e
	m.logger.Debug("ping: connect failed", "keyid", keyid)
}

// LastSuccess reports the last time keyid was seen to connect
// successfully, and whether it has ever done so.
func (m *Memory) LastSuccess(keyid string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[keyid]
	return e.lastSuccess, ok && !e.lastSuccess.IsZero()
}

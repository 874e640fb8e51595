// Package connection owns the set of live client connections, their metadata,
// and heartbeat-based liveness detection.
//
// A Registry is not safe for concurrent use. It is driven from the hub's event
// loop, which runs transport callbacks, heartbeat sweeps, and handlers one at a
// time.
package connection

import (
	"fmt"
	"time"
)

// Transport is the underlying connection handle owned by a Connection.
// Implementations must not block: Send and Ping queue or fail immediately.
type Transport interface {
	// Send queues one encoded frame for delivery.
	Send(frame []byte) error
	// Ping queues a liveness probe. The acknowledgment is reported back through
	// Registry.MarkAlive.
	Ping() error
	// Close tears the transport down. It must be safe to call more than once.
	Close() error
	// RemoteAddr returns the peer address, or "" if unknown.
	RemoteAddr() string
}

// State is the transport state of a Connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Close reasons reported to the lifecycle hook and metrics.
const (
	ReasonClosed    = "closed"
	ReasonHeartbeat = "heartbeat"
	ReasonWrite     = "write_error"
	ReasonShutdown  = "shutdown"
)

// Connection is a registered client connection.
type Connection struct {
	id        string
	transport Transport
	metadata  map[string]any
	addr      string
	state     State
	alive     bool

	connectedAt  time.Time
	lastActivity time.Time
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// State returns the transport state.
func (c *Connection) State() State { return c.state }

// RemoteAddr returns the peer address captured at accept time.
func (c *Connection) RemoteAddr() string { return c.addr }

// ConnectedAt returns when the connection was accepted.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns the time of the last inbound frame or probe acknowledgment.
func (c *Connection) LastActivity() time.Time { return c.lastActivity }

func (c *Connection) metadataCopy() map[string]any {
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

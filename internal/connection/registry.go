package connection

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/observability"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// LifecycleFunc is called with protocol.EventClientConnected after a
// connection enters StateOpen and with protocol.EventClientDisconnected after
// it reaches StateClosed.
type LifecycleFunc func(event, clientID string)

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator replaces the UUID generator. Intended for tests.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records connection counts on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry tracks every live connection by id.
type Registry struct {
	conns     map[string]*Connection
	lifecycle LifecycleFunc
	logger    *zap.Logger
	metrics   *observability.Metrics
	newID     func() string
	now       func() time.Time
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil. lifecycle may be nil.
// Postcondition: Returns a Registry with no connections.
func NewRegistry(logger *zap.Logger, lifecycle LifecycleFunc, opts ...Option) *Registry {
	if logger == nil {
		panic("connection.NewRegistry: logger must not be nil")
	}
	r := &Registry{
		conns:     make(map[string]*Connection),
		lifecycle: lifecycle,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept registers t under a fresh id and sends it the identity message.
//
// Postcondition: On success the connection is open and client-connected has
// been raised. If the identity message cannot be written the transport is
// closed, nothing is registered, and an error is returned.
func (r *Registry) Accept(t Transport) (string, error) {
	id := r.newID()
	if _, exists := r.conns[id]; exists {
		_ = t.Close()
		return "", fmt.Errorf("connection id %q already in use", id)
	}

	now := r.now()
	c := &Connection{
		id:           id,
		transport:    t,
		metadata:     make(map[string]any),
		addr:         t.RemoteAddr(),
		state:        StateConnecting,
		alive:        true,
		connectedAt:  now,
		lastActivity: now,
	}
	r.conns[id] = c

	frame, err := protocol.Encode(protocol.Init(id))
	if err == nil {
		err = t.Send(frame)
	}
	if err != nil {
		c.state = StateClosing
		_ = t.Close()
		delete(r.conns, id)
		c.state = StateClosed
		return "", fmt.Errorf("sending identity to %s: %w", id, err)
	}

	c.state = StateOpen
	r.metrics.ConnectionOpened()
	r.logger.Debug("connection accepted",
		zap.String("client_id", id),
		zap.String("remote_addr", c.addr),
	)
	r.notify(protocol.EventClientConnected, id)
	return id, nil
}

// Disconnect removes the connection after its transport closed.
// Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.Evict(id, ReasonClosed)
}

// Evict closes and removes the connection, recording reason.
// Unknown or already closing ids are ignored.
//
// Postcondition: id is absent from IDs(); client-disconnected was raised once.
func (r *Registry) Evict(id, reason string) {
	c, ok := r.conns[id]
	if !ok || c.state >= StateClosing {
		return
	}

	c.state = StateClosing
	if err := c.transport.Close(); err != nil {
		r.logger.Debug("closing transport",
			zap.String("client_id", id),
			zap.Error(err),
		)
	}
	delete(r.conns, id)
	c.state = StateClosed

	r.metrics.ConnectionClosed(reason)
	r.logger.Debug("connection removed",
		zap.String("client_id", id),
		zap.String("reason", reason),
		zap.Duration("duration", r.now().Sub(c.connectedAt)),
	)
	r.notify(protocol.EventClientDisconnected, id)
}

// Send serializes msg and writes it to the connection.
//
// Postcondition: Returns true if the frame was handed to the transport.
// Returns false if the connection is unknown or not open, if msg cannot be
// encoded, or if the write failed; a failed write evicts the connection.
func (r *Registry) Send(id string, msg any) bool {
	c, ok := r.conns[id]
	if !ok || c.state != StateOpen {
		return false
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encoding outbound message",
			zap.String("client_id", id),
			zap.Error(err),
		)
		return false
	}
	return r.write(c, frame)
}

// Broadcast sends msg to every open connection. A failed write evicts only
// that connection; delivery to the rest continues.
func (r *Registry) Broadcast(msg any) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encoding broadcast message", zap.Error(err))
		return
	}
	for _, id := range r.IDs() {
		c, ok := r.conns[id]
		if !ok || c.state != StateOpen {
			continue
		}
		r.write(c, frame)
	}
}

func (r *Registry) write(c *Connection, frame []byte) bool {
	if err := c.transport.Send(frame); err != nil {
		r.logger.Warn("write failed, evicting connection",
			zap.String("client_id", c.id),
			zap.Error(err),
		)
		r.Evict(c.id, ReasonWrite)
		return false
	}
	return true
}

// SetMetadata shallow-merges patch into the connection's metadata: keys in
// patch overwrite, all other keys are kept. Unknown ids are ignored.
func (r *Registry) SetMetadata(id string, patch map[string]any) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	for k, v := range patch {
		c.metadata[k] = v
	}
}

// Metadata returns a copy of the connection's metadata.
//
// Postcondition: Returns (nil, false) for unknown ids.
func (r *Registry) Metadata(id string) (map[string]any, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.metadataCopy(), true
}

// Lookup returns the connection for id.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// IDs returns a sorted snapshot of all registered ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return len(r.conns)
}

// Touch records inbound activity on the connection.
func (r *Registry) Touch(id string) {
	if c, ok := r.conns[id]; ok {
		c.lastActivity = r.now()
	}
}

// MarkAlive records a liveness probe acknowledgment.
func (r *Registry) MarkAlive(id string) {
	if c, ok := r.conns[id]; ok {
		c.alive = true
		c.lastActivity = r.now()
	}
}

// Sweep runs one heartbeat pass. A connection that has not acknowledged the
// probe sent by the previous pass is evicted; every other connection has its
// liveness flag cleared and is sent a new probe. An unresponsive peer is
// therefore evicted within two sweep periods of its last acknowledgment.
//
// Postcondition: Returns the number of evicted connections.
func (r *Registry) Sweep() int {
	evicted := 0
	for _, id := range r.IDs() {
		c, ok := r.conns[id]
		if !ok || c.state != StateOpen {
			continue
		}
		if !c.alive {
			r.logger.Info("connection failed heartbeat",
				zap.String("client_id", id),
				zap.Time("last_activity", c.lastActivity),
			)
			r.Evict(id, ReasonHeartbeat)
			evicted++
			continue
		}
		c.alive = false
		if err := c.transport.Ping(); err != nil {
			r.logger.Warn("sending heartbeat probe",
				zap.String("client_id", id),
				zap.Error(err),
			)
			r.Evict(id, ReasonHeartbeat)
			evicted++
		}
	}
	return evicted
}

// CloseAll evicts every connection.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Evict(id, ReasonShutdown)
	}
}

func (r *Registry) notify(event, id string) {
	if r.lifecycle != nil {
		r.lifecycle(event, id)
	}
}

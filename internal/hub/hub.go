// Package hub wires the connection registry, event dispatcher, reply router,
// and plugin host together and serializes all work on one event loop.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/connection"
	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/httphook"
	"github.com/cory-johannsen/switchboard/internal/observability"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/protocol"
	"github.com/cory-johannsen/switchboard/internal/reply"
)

var (
	// ErrStopped is returned for work submitted after the hub stopped.
	ErrStopped = errors.New("hub stopped")
	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("hub already running")
)

const defaultQueueSize = 1024

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records hub activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithHeartbeat sets the liveness sweep period. Zero disables the sweep.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) { h.heartbeat = d }
}

// WithQueueSize sets the capacity of the task queue.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithConnectionOptions passes opts to the connection registry.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(h *Hub) { h.connOpts = append(h.connOpts, opts...) }
}

// Hub is the server context. Every registry it owns is touched only from the
// loop goroutine started by Run. Transports and embedders hand work to the
// loop through Attach, Receive, Alive, Detach, Post, and Do.
//
// The facade methods (Subscribe, Emit, RegisterPlugin, ...) act on the
// registries directly; call them from handlers, from Do, or before Run.
// HandleHTTP is the exception and may be called from any goroutine.
type Hub struct {
	registry   *connection.Registry
	dispatcher *event.Dispatcher
	router     *reply.Router
	plugins    *plugin.Host
	hooks      *httphook.Registry

	logger    *zap.Logger
	metrics   *observability.Metrics
	heartbeat time.Duration
	queueSize int
	connOpts  []connection.Option

	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// New builds a Hub with empty registries.
//
// Precondition: logger must be non-nil.
// Postcondition: The loop is not running; call Run or Start.
func New(logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		panic("hub.New: logger must not be nil")
	}
	h := &Hub{
		logger:    logger,
		heartbeat: 30 * time.Second,
		queueSize: defaultQueueSize,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.tasks = make(chan func(), h.queueSize)
	h.hooks = httphook.NewRegistry()
	h.dispatcher = event.NewDispatcher(observability.Component(logger, "event"), h.metrics)
	h.router = reply.NewRouter(observability.Component(logger, "reply"), h.metrics)
	connOpts := append([]connection.Option{connection.WithMetrics(h.metrics)}, h.connOpts...)
	h.registry = connection.NewRegistry(observability.Component(logger, "connection"), h.lifecycle, connOpts...)
	h.plugins = plugin.NewHost(h.registry, h.dispatcher, observability.Component(logger, "plugin"), h.metrics)
	return h
}

func (h *Hub) lifecycle(ev, clientID string) {
	h.dispatcher.Dispatch(protocol.SystemNamespace, ev, map[string]any{
		protocol.FieldClientID: clientID,
	})
}

// Run executes queued tasks and heartbeat sweeps until ctx is cancelled or
// Stop is called, then shuts down: every connection is closed, every plugin
// is unregistered, and the handler and responder registries are cleared.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(h.done)
	defer h.stopOnce.Do(func() { close(h.quit) })

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	h.logger.Info("hub running", zap.Duration("heartbeat", h.heartbeat))
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case <-h.quit:
			h.shutdown()
			return nil
		case fn := <-h.tasks:
			h.exec(fn)
		case <-tick:
			if n := h.registry.Sweep(); n > 0 {
				h.logger.Info("heartbeat sweep evicted connections", zap.Int("evicted", n))
			}
		}
	}
}

// Start runs the loop until Stop is called.
func (h *Hub) Start() error {
	return h.Run(context.Background())
}

// Stop ends the loop and waits for shutdown to finish. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	if h.running.Load() {
		<-h.done
	}
}

func (h *Hub) shutdown() {
	start := time.Now()
	count := h.registry.Count()
	h.registry.CloseAll()
	h.plugins.Shutdown()
	h.dispatcher.Clear()
	h.router.Clear()
	h.logger.Info("hub stopped",
		zap.Int("connections_closed", count),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (h *Hub) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
}

// Post queues fn to run on the loop. It blocks while the queue is full and
// reports false once the hub is stopping, whether through Stop or through
// cancellation of the context given to Run. Never call Post from the loop.
func (h *Hub) Post(fn func()) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case <-h.quit:
		return false
	case h.tasks <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !h.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers a new transport and returns its client id once the
// identity message has been handed to it.
func (h *Hub) Attach(ctx context.Context, t connection.Transport) (string, error) {
	var (
		id  string
		err error
	)
	if doErr := h.Do(ctx, func() { id, err = h.registry.Accept(t) }); doErr != nil {
		return "", fmt.Errorf("attaching transport: %w", doErr)
	}
	return id, err
}

// Receive queues an inbound frame from id.
func (h *Hub) Receive(id string, frame []byte) {
	h.Post(func() { h.HandleFrame(id, frame) })
}

// Alive queues a liveness acknowledgment from id.
func (h *Hub) Alive(id string) {
	h.Post(func() { h.registry.MarkAlive(id) })
}

// Detach queues removal of id after its transport closed.
func (h *Hub) Detach(id string) {
	h.Post(func() { h.registry.Disconnect(id) })
}

// HandleFrame decodes one frame from id and routes it. Frames carrying a
// reply_id go to the reply router and the result, if any, is sent back to id
// with the same reply_id; all others go to the event dispatcher. Malformed
// frames and frames for the reserved system namespace are logged and dropped.
// Runs on the loop.
func (h *Hub) HandleFrame(id string, frame []byte) {
	c, ok := h.registry.Lookup(id)
	if !ok || c.State() != connection.StateOpen {
		return
	}
	h.metrics.FrameReceived()

	in, err := protocol.Decode(frame)
	if err != nil {
		h.metrics.FrameDropped("malformed")
		h.logger.Warn("dropping malformed frame",
			zap.String("client_id", id),
			zap.Int("bytes", len(frame)),
			zap.Error(err),
		)
		return
	}
	if in.Namespace == protocol.SystemNamespace {
		h.metrics.FrameDropped("reserved")
		h.logger.Warn("dropping frame for reserved namespace",
			zap.String("client_id", id),
			zap.String("event", in.Event),
		)
		return
	}
	h.registry.Touch(id)

	meta, _ := h.registry.Metadata(id)
	raw := protocol.Decorate(in.Data, id, meta, hostOnly(c.RemoteAddr()))

	if !in.IsRequest() {
		h.dispatcher.Dispatch(in.Namespace, in.Event, raw)
		return
	}
	result, ok := h.router.Invoke(in.Namespace, in.Event, raw)
	if !ok {
		return
	}
	h.registry.Send(id, protocol.Envelope{
		Namespace: in.Namespace,
		Event:     in.Event,
		Data:      result,
		ReplyID:   in.ReplyID,
	})
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

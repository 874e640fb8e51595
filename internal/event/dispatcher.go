// Package event implements namespaced publish/subscribe dispatch of inbound
// domain events to subscriber handlers.
package event

import (
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/observability"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// Handler reacts to one event. data never contains protocol-only fields; the
// originating connection is described by caller. A returned error or a panic
// is logged and does not affect other handlers.
type Handler func(caller protocol.Caller, data map[string]any) error

// handlerRef is the opaque identity of one subscription. The set below is
// keyed by pointer so removal is O(1).
type handlerRef struct {
	fn      Handler
	removed bool
}

// Dispatcher maps (namespace, event) to the set of subscribed handlers.
// It is not safe for concurrent use; see package connection.
type Dispatcher struct {
	handlers map[string]map[string]map[*handlerRef]struct{}
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewDispatcher creates an empty Dispatcher. metrics may be nil.
//
// Precondition: logger must be non-nil.
func NewDispatcher(logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		panic("event.NewDispatcher: logger must not be nil")
	}
	return &Dispatcher{
		handlers: make(map[string]map[string]map[*handlerRef]struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// Subscribe registers h for (namespace, event).
//
// Postcondition: Returns a function that removes exactly this subscription;
// calling it more than once has no further effect.
func (d *Dispatcher) Subscribe(namespace, event string, h Handler) func() {
	events, ok := d.handlers[namespace]
	if !ok {
		events = make(map[string]map[*handlerRef]struct{})
		d.handlers[namespace] = events
	}
	set, ok := events[event]
	if !ok {
		set = make(map[*handlerRef]struct{})
		events[event] = set
	}

	ref := &handlerRef{fn: h}
	set[ref] = struct{}{}

	return func() {
		if ref.removed {
			return
		}
		ref.removed = true
		d.remove(namespace, event, ref)
	}
}

func (d *Dispatcher) remove(namespace, event string, ref *handlerRef) {
	events, ok := d.handlers[namespace]
	if !ok {
		return
	}
	set, ok := events[event]
	if !ok {
		return
	}
	delete(set, ref)
	if len(set) == 0 {
		delete(events, event)
	}
	if len(events) == 0 {
		delete(d.handlers, namespace)
	}
}

// Dispatch delivers a decorated payload to every handler subscribed to
// (namespace, event) when the call begins. Handlers unsubscribed while the
// dispatch is running are skipped. An unknown key is a no-op.
func (d *Dispatcher) Dispatch(namespace, event string, raw map[string]any) {
	set := d.handlers[namespace][event]
	if len(set) == 0 {
		return
	}

	snapshot := make([]*handlerRef, 0, len(set))
	for ref := range set {
		snapshot = append(snapshot, ref)
	}

	caller, data := protocol.SplitCaller(raw)
	start := time.Now()
	for _, ref := range snapshot {
		if ref.removed {
			continue
		}
		if err := invoke(ref.fn, caller, data); err != nil {
			d.metrics.HandlerFailed("event")
			d.logger.Error("event handler failed",
				zap.String("namespace", namespace),
				zap.String("event", event),
				zap.String("client_id", caller.ID),
				zap.Error(err),
			)
		}
	}
	d.metrics.ObserveDispatch("event", time.Since(start))
}

// invoke runs one handler, converting a panic into an error. Each handler gets
// its own shallow copy of the payload and of the caller metadata.
func invoke(h Handler, caller protocol.Caller, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if caller.Metadata != nil {
		caller.Metadata = maps.Clone(caller.Metadata)
	}
	return h(caller, maps.Clone(data))
}

// Handlers returns the number of handlers subscribed to (namespace, event).
func (d *Dispatcher) Handlers(namespace, event string) int {
	return len(d.handlers[namespace][event])
}

// Clear removes every subscription. Outstanding unsubscribe functions become no-ops.
func (d *Dispatcher) Clear() {
	for _, events := range d.handlers {
		for _, set := range events {
			for ref := range set {
				ref.removed = true
			}
		}
	}
	d.handlers = make(map[string]map[string]map[*handlerRef]struct{})
}

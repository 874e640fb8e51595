// Package reply routes correlated requests to a single responder per
// (namespace, event) and returns its result for the caller to send back.
package reply

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/observability"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// ErrResponderConflict is returned when a responder is already installed for
// the requested key.
var ErrResponderConflict = errors.New("responder already registered")

// Responder answers one request. Its result becomes the data of the reply.
type Responder func(caller protocol.Caller, data map[string]any) (any, error)

type responderRef struct {
	fn Responder
}

// Router holds at most one responder per (namespace, event).
// It is not safe for concurrent use; see package connection.
type Router struct {
	responders map[string]map[string]*responderRef
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewRouter creates an empty Router. metrics may be nil.
//
// Precondition: logger must be non-nil.
func NewRouter(logger *zap.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		panic("reply.NewRouter: logger must not be nil")
	}
	return &Router{
		responders: make(map[string]map[string]*responderRef),
		logger:     logger,
		metrics:    metrics,
	}
}

// SetResponder installs r for (namespace, event).
//
// Postcondition: Returns an idempotent unregister function, or an error
// wrapping ErrResponderConflict if the key is occupied. A conflicting call has
// no effect on the installed responder.
func (rt *Router) SetResponder(namespace, event string, r Responder) (func(), error) {
	events, ok := rt.responders[namespace]
	if !ok {
		events = make(map[string]*responderRef)
		rt.responders[namespace] = events
	}
	if _, taken := events[event]; taken {
		return nil, fmt.Errorf("%s/%s: %w", namespace, event, ErrResponderConflict)
	}

	ref := &responderRef{fn: r}
	events[event] = ref

	return func() {
		events, ok := rt.responders[namespace]
		if !ok || events[event] != ref {
			return
		}
		delete(events, event)
		if len(events) == 0 {
			delete(rt.responders, namespace)
		}
	}, nil
}

// Has reports whether a responder is installed for (namespace, event).
func (rt *Router) Has(namespace, event string) bool {
	_, ok := rt.responders[namespace][event]
	return ok
}

// Invoke runs the responder for (namespace, event) against a decorated payload.
//
// Postcondition: Returns (result, true) on success. Returns (nil, false) when
// no responder is installed or the responder failed; failures are logged.
func (rt *Router) Invoke(namespace, event string, raw map[string]any) (any, bool) {
	ref, ok := rt.responders[namespace][event]
	if !ok {
		return nil, false
	}

	caller, data := protocol.SplitCaller(raw)
	start := time.Now()
	result, err := call(ref.fn, caller, data)
	rt.metrics.ObserveDispatch("reply", time.Since(start))
	if err != nil {
		rt.metrics.HandlerFailed("reply")
		rt.logger.Error("responder failed",
			zap.String("namespace", namespace),
			zap.String("event", event),
			zap.String("client_id", caller.ID),
			zap.Error(err),
		)
		return nil, false
	}
	return result, true
}

func call(r Responder, caller protocol.Caller, data map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r(caller, data)
}

// Clear removes every responder. Outstanding unregister functions become no-ops.
func (rt *Router) Clear() {
	rt.responders = make(map[string]map[string]*responderRef)
}

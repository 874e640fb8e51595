package plugin

import (
	"fmt"
	"runtime/debug"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/observability"
)

type entry struct {
	plugin Plugin
	api    *scopedAPI
}

// Host owns the set of registered plugins.
// It is not safe for concurrent use; see package connection.
type Host struct {
	plugins map[string]*entry
	conns   Connections
	events  Subscriber
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHost creates a Host whose plugins act on conns and events. metrics may be nil.
//
// Precondition: conns, events, and logger must be non-nil.
func NewHost(conns Connections, events Subscriber, logger *zap.Logger, metrics *observability.Metrics) *Host {
	if conns == nil || events == nil {
		panic("plugin.NewHost: conns and events must not be nil")
	}
	if logger == nil {
		panic("plugin.NewHost: logger must not be nil")
	}
	return &Host{
		plugins: make(map[string]*entry),
		conns:   conns,
		events:  events,
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds p and runs its Initialize hook with a fresh API.
//
// Postcondition: On success p is registered and the returned function
// unregisters it. A nil plugin is reported as ErrMissingID. On ErrMissingID or
// ErrDuplicateID nothing changes. If
// Initialize fails or panics the registration is rolled back and the error is
// returned.
func (h *Host) Register(p Plugin) (func(), error) {
	if p == nil {
		return nil, ErrMissingID
	}
	id := p.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	if _, exists := h.plugins[id]; exists {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrDuplicateID)
	}

	e := &entry{plugin: p, api: newScopedAPI(h.conns, h.events)}
	h.plugins[id] = e

	if in, ok := p.(Initializer); ok {
		if err := safely(func() error { return in.Initialize(e.api) }); err != nil {
			e.api.revoke()
			if h.plugins[id] == e {
				delete(h.plugins, id)
			}
			return nil, fmt.Errorf("initializing plugin %q: %w", id, err)
		}
	}

	h.metrics.SetPlugins(len(h.plugins))
	h.logger.Info("plugin registered", zap.String("plugin", id))

	return func() {
		if h.plugins[id] == e {
			h.Unregister(id)
		}
	}, nil
}

// Unregister runs the plugin's Cleanup hook, revokes its API, and removes it.
// Cleanup failures are logged. Unknown ids are ignored.
func (h *Host) Unregister(id string) {
	e, ok := h.plugins[id]
	if !ok {
		return
	}
	delete(h.plugins, id)

	if c, ok := e.plugin.(Cleaner); ok {
		if err := safely(c.Cleanup); err != nil {
			h.metrics.HandlerFailed("cleanup")
			h.logger.Error("plugin cleanup failed",
				zap.String("plugin", id),
				zap.Error(err),
			)
		}
	}
	e.api.revoke()

	h.metrics.SetPlugins(len(h.plugins))
	h.logger.Info("plugin unregistered", zap.String("plugin", id))
}

// Shutdown unregisters every plugin.
func (h *Host) Shutdown() {
	for _, id := range h.ids() {
		h.Unregister(id)
	}
}

// Plugins returns the registered plugins ordered by id.
func (h *Host) Plugins() []Plugin {
	ids := h.ids()
	out := make([]Plugin, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.plugins[id].plugin)
	}
	return out
}

// Len returns the number of registered plugins.
func (h *Host) Len() int {
	return len(h.plugins)
}

func (h *Host) ids() []string {
	ids := make([]string, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

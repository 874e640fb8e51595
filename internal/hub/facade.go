package hub

import (
	"net/http"

	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/httphook"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/protocol"
	"github.com/cory-johannsen/switchboard/internal/reply"
)

// Subscribe registers h for (namespace, event).
func (h *Hub) Subscribe(namespace, ev string, fn event.Handler) func() {
	return h.dispatcher.Subscribe(namespace, ev, fn)
}

// SetResponder installs the single responder for (namespace, event).
func (h *Hub) SetResponder(namespace, ev string, r reply.Responder) (func(), error) {
	return h.router.SetResponder(namespace, ev, r)
}

// Emit sends {namespace, event, data} to target, or to every client when
// target is "*".
func (h *Hub) Emit(target, namespace, ev string, data any) bool {
	msg := protocol.Envelope{Namespace: namespace, Event: ev, Data: data}
	if target == protocol.Wildcard {
		h.registry.Broadcast(msg)
		return true
	}
	return h.registry.Send(target, msg)
}

// EmitTo sends {namespace, event, data} to each listed client and returns how
// many accepted it.
func (h *Hub) EmitTo(ids []string, namespace, ev string, data any) int {
	msg := protocol.Envelope{Namespace: namespace, Event: ev, Data: data}
	sent := 0
	for _, id := range ids {
		if h.registry.Send(id, msg) {
			sent++
		}
	}
	return sent
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg any) {
	h.registry.Broadcast(msg)
}

// ClientMetadata returns a copy of the client's metadata.
func (h *Hub) ClientMetadata(id string) (map[string]any, bool) {
	return h.registry.Metadata(id)
}

// SetClientMetadata shallow-merges patch into the client's metadata.
func (h *Hub) SetClientMetadata(id string, patch map[string]any) {
	h.registry.SetMetadata(id, patch)
}

// ConnectedIDs returns a sorted snapshot of connected client ids.
func (h *Hub) ConnectedIDs() []string {
	return h.registry.IDs()
}

// ConnectedCount returns the number of connected clients.
func (h *Hub) ConnectedCount() int {
	return h.registry.Count()
}

// RegisterPlugin registers p with the plugin host.
func (h *Hub) RegisterPlugin(p plugin.Plugin) (func(), error) {
	return h.plugins.Register(p)
}

// UnregisterPlugin removes the plugin with the given id.
func (h *Hub) UnregisterPlugin(id string) {
	h.plugins.Unregister(id)
}

// Plugins returns the registered plugins ordered by id.
func (h *Hub) Plugins() []plugin.Plugin {
	return h.plugins.Plugins()
}

// HandleHTTP installs h for requests matching method and the exact path,
// ahead of static files. The returned function removes the route.
func (h *Hub) HandleHTTP(method, path string, handler http.Handler) func() {
	return h.hooks.Handle(method, path, handler)
}

// HTTPHooks returns the routes installed with HandleHTTP.
func (h *Hub) HTTPHooks() *httphook.Registry {
	return h.hooks
}

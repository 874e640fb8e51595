package plugin

import (
	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// scopedAPI forwards to the core on behalf of one registered plugin and
// tracks the subscriptions it made so they can be dropped on unregistration.
// After revoke every method is a no-op.
type scopedAPI struct {
	conns   Connections
	events  Subscriber
	unsubs  []func()
	revoked bool
}

func newScopedAPI(conns Connections, events Subscriber) *scopedAPI {
	return &scopedAPI{conns: conns, events: events}
}

func (a *scopedAPI) Subscribe(namespace, ev string, h event.Handler) func() {
	if a.revoked {
		return func() {}
	}
	unsub := a.events.Subscribe(namespace, ev, h)
	a.unsubs = append(a.unsubs, unsub)
	return unsub
}

func (a *scopedAPI) Broadcast(msg any) {
	if a.revoked {
		return
	}
	a.conns.Broadcast(msg)
}

func (a *scopedAPI) Emit(target, namespace, ev string, data any) bool {
	if a.revoked {
		return false
	}
	msg := protocol.Envelope{Namespace: namespace, Event: ev, Data: data}
	if target == protocol.Wildcard {
		a.conns.Broadcast(msg)
		return true
	}
	return a.conns.Send(target, msg)
}

func (a *scopedAPI) EmitTo(ids []string, namespace, ev string, data any) int {
	if a.revoked {
		return 0
	}
	return sendEach(a.conns, ids, protocol.Envelope{Namespace: namespace, Event: ev, Data: data})
}

// sendEach sends msg to every id in order and counts the deliveries.
func sendEach(conns Connections, ids []string, msg protocol.Envelope) int {
	sent := 0
	for _, id := range ids {
		if conns.Send(id, msg) {
			sent++
		}
	}
	return sent
}

func (a *scopedAPI) ClientMetadata(id string) (map[string]any, bool) {
	if a.revoked {
		return nil, false
	}
	return a.conns.Metadata(id)
}

func (a *scopedAPI) SetClientMetadata(id string, patch map[string]any) {
	if a.revoked {
		return
	}
	a.conns.SetMetadata(id, patch)
}

func (a *scopedAPI) ConnectedIDs() []string {
	if a.revoked {
		return nil
	}
	return a.conns.IDs()
}

func (a *scopedAPI) ConnectedCount() int {
	if a.revoked {
		return 0
	}
	return a.conns.Count()
}

func (a *scopedAPI) PluginType() string { return TypeServer }

func (a *scopedAPI) revoke() {
	if a.revoked {
		return
	}
	a.revoked = true
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

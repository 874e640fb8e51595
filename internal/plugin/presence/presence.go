// Package presence is a built-in plugin announcing client arrivals and
// departures and answering who is online.
package presence

import (
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// ID is the plugin id used in configuration.
const ID = "presence"

// Events emitted and handled under Namespace.
const (
	Namespace   = "presence"
	EventJoined = "joined"
	EventLeft   = "left"
	EventList   = "list"
)

// Plugin broadcasts presence/joined and presence/left and replies to
// presence/list with the connected ids.
type Plugin struct {
	api plugin.API
}

// New returns an unregistered presence plugin.
func New() *Plugin {
	return &Plugin{}
}

// ID implements plugin.Plugin.
func (p *Plugin) ID() string { return ID }

// Initialize implements plugin.Initializer.
func (p *Plugin) Initialize(api plugin.API) error {
	p.api = api
	api.Subscribe(protocol.SystemNamespace, protocol.EventClientConnected, p.announce(EventJoined))
	api.Subscribe(protocol.SystemNamespace, protocol.EventClientDisconnected, p.announce(EventLeft))
	api.Subscribe(Namespace, EventList, p.list)
	return nil
}

func (p *Plugin) announce(ev string) func(protocol.Caller, map[string]any) error {
	return func(caller protocol.Caller, _ map[string]any) error {
		p.api.Emit(protocol.Wildcard, Namespace, ev, map[string]any{
			"id":    caller.ID,
			"count": p.api.ConnectedCount(),
		})
		return nil
	}
}

func (p *Plugin) list(caller protocol.Caller, _ map[string]any) error {
	p.api.Emit(caller.ID, Namespace, EventList, map[string]any{
		"ids": p.api.ConnectedIDs(),
	})
	return nil
}

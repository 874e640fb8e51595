// Package plugin registers extensions and hands each one a capability-scoped
// API. Plugins never receive references to the core registries.
package plugin

import (
	"errors"

	"github.com/cory-johannsen/switchboard/internal/event"
)

var (
	// ErrMissingID is returned by Register for a plugin with an empty id.
	ErrMissingID = errors.New("plugin id is required")
	// ErrDuplicateID is returned by Register when the id is already registered.
	ErrDuplicateID = errors.New("plugin id already registered")
)

// Plugin is the minimal contract every extension satisfies.
type Plugin interface {
	ID() string
}

// Initializer is implemented by plugins that need setup. Initialize is called
// synchronously during Register with the plugin's API.
type Initializer interface {
	Initialize(api API) error
}

// Cleaner is implemented by plugins that release resources on unregistration.
type Cleaner interface {
	Cleanup() error
}

// API is the full set of operations a plugin may perform.
type API interface {
	// Subscribe registers h for (namespace, event) and returns an idempotent
	// unsubscribe function.
	Subscribe(namespace, event string, h event.Handler) func()
	// Broadcast sends msg to every connected client.
	Broadcast(msg any)
	// Emit sends {namespace, event, data} to target, or to everyone when target
	// is "*". Reports whether the message was handed to at least the target.
	Emit(target, namespace, event string, data any) bool
	// EmitTo sends {namespace, event, data} to each listed client and returns
	// how many accepted it.
	EmitTo(ids []string, namespace, event string, data any) int
	// ClientMetadata returns a copy of the client's metadata.
	ClientMetadata(id string) (map[string]any, bool)
	// SetClientMetadata shallow-merges patch into the client's metadata.
	SetClientMetadata(id string, patch map[string]any)
	// ConnectedIDs returns a sorted snapshot of connected client ids.
	ConnectedIDs() []string
	// ConnectedCount returns the number of connected clients.
	ConnectedCount() int
	// PluginType identifies the side the plugin runs on.
	PluginType() string
}

// TypeServer is the PluginType reported to every plugin hosted in-process.
const TypeServer = "server"

// Subscriber is the part of the event dispatcher the host needs.
type Subscriber interface {
	Subscribe(namespace, event string, h event.Handler) func()
}

// Connections is the part of the connection registry the host needs.
type Connections interface {
	Send(id string, msg any) bool
	Broadcast(msg any)
	Metadata(id string) (map[string]any, bool)
	SetMetadata(id string, patch map[string]any)
	IDs() []string
	Count() int
}

// Func adapts a pair of functions to Plugin. Either hook may be nil.
type Func struct {
	Name    string
	OnInit  func(api API) error
	OnClean func() error
}

// ID implements Plugin.
func (f Func) ID() string { return f.Name }

// Initialize implements Initializer.
func (f Func) Initialize(api API) error {
	if f.OnInit == nil {
		return nil
	}
	return f.OnInit(api)
}

// Cleanup implements Cleaner.
func (f Func) Cleanup() error {
	if f.OnClean == nil {
		return nil
	}
	return f.OnClean()
}

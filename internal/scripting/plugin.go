package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

// Lua globals a plugin script may define.
const (
	HookInitialize = "initialize"
	HookCleanup    = "cleanup"
)

// Plugin is a Lua plugin adapted to plugin.Plugin. Its VM exists between
// Initialize and Cleanup. Every entry into Lua runs under the instruction
// limit; nested entries (a handler raised by an emit from Lua) share the
// outermost budget.
type Plugin struct {
	manifest *Manifest
	limit    int
	logger   *zap.Logger

	L     *lua.LState
	api   plugin.API
	depth int
}

// ID implements plugin.Plugin.
func (p *Plugin) ID() string { return p.manifest.ID }

// Manifest returns the plugin's descriptor.
func (p *Plugin) Manifest() Manifest { return *p.manifest }

// Initialize implements plugin.Initializer: it creates the VM, installs the
// switchboard table, runs the entry script, then calls initialize() if the
// script defines it.
func (p *Plugin) Initialize(api plugin.API) error {
	p.api = api
	p.L = NewSandboxedState()
	p.registerModule()

	path := p.manifest.EntryPath()
	if err := p.enter(func() error { return p.L.DoFile(path) }); err != nil {
		p.close()
		return fmt.Errorf("scripting: loading %q: %w", path, err)
	}
	if err := p.callHook(HookInitialize); err != nil {
		p.close()
		return err
	}
	p.logger.Debug("lua plugin initialized", zap.String("entry", path))
	return nil
}

// Cleanup implements plugin.Cleaner: it calls cleanup() if defined and closes
// the VM.
func (p *Plugin) Cleanup() error {
	if p.L == nil {
		return nil
	}
	defer p.close()
	return p.callHook(HookCleanup)
}

func (p *Plugin) close() {
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
}

func (p *Plugin) callHook(name string) error {
	fn := p.L.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if err := p.call(fn); err != nil {
		return fmt.Errorf("scripting: %s(): %w", name, err)
	}
	return nil
}

func (p *Plugin) call(fn lua.LValue, args ...lua.LValue) error {
	return p.enter(func() error {
		return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
	})
}

func (p *Plugin) enter(fn func() error) error {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > 1 {
		return fn()
	}
	return Budgeted(p.L, p.limit, fn)
}

// handler adapts a Lua function to event.Handler. The function receives
// (caller, data) where caller is {id, metadata, ip}.
func (p *Plugin) handler(ns, ev string, fn *lua.LFunction) event.Handler {
	return func(caller protocol.Caller, data map[string]any) error {
		if p.L == nil {
			return nil
		}
		if err := p.call(fn, p.callerTable(caller), toLua(p.L, data)); err != nil {
			return fmt.Errorf("lua handler %s/%s: %w", ns, ev, err)
		}
		return nil
	}
}

func (p *Plugin) callerTable(c protocol.Caller) *lua.LTable {
	tbl := p.L.CreateTable(0, 3)
	tbl.RawSetString("id", lua.LString(c.ID))
	tbl.RawSetString("ip", lua.LString(c.IP))
	tbl.RawSetString("metadata", toLua(p.L, c.Metadata))
	return tbl
}

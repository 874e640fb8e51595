package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// registerModule installs the switchboard global. Each function forwards to
// the plugin's API:
//
//	switchboard.subscribe(ns, ev, fn(caller, data)) -> unsubscribe()
//	switchboard.emit(target, ns, ev, data)          -> bool
//	switchboard.emit({id, ...}, ns, ev, data)       -> number sent
//	switchboard.broadcast(msg)
//	switchboard.get_metadata(id)                    -> table | nil
//	switchboard.set_metadata(id, patch)
//	switchboard.ids()                               -> {id, ...}
//	switchboard.count()                             -> number
//	switchboard.plugin_type()                       -> "server"
//	switchboard.log.info(msg) / .warn(msg) / .error(msg)
func (p *Plugin) registerModule() {
	L := p.L
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"subscribe":    p.luaSubscribe,
		"emit":         p.luaEmit,
		"broadcast":    p.luaBroadcast,
		"get_metadata": p.luaGetMetadata,
		"set_metadata": p.luaSetMetadata,
		"ids":          p.luaIDs,
		"count":        p.luaCount,
		"plugin_type":  p.luaPluginType,
	})

	log := L.NewTable()
	L.SetFuncs(log, map[string]lua.LGFunction{
		"info":  p.luaLog(zap.InfoLevel),
		"warn":  p.luaLog(zap.WarnLevel),
		"error": p.luaLog(zap.ErrorLevel),
	})
	L.SetField(mod, "log", log)

	L.SetGlobal("switchboard", mod)
}

func (p *Plugin) luaSubscribe(L *lua.LState) int {
	ns := L.CheckString(1)
	ev := L.CheckString(2)
	fn := L.CheckFunction(3)
	unsub := p.api.Subscribe(ns, ev, p.handler(ns, ev, fn))
	L.Push(L.NewFunction(func(*lua.LState) int {
		unsub()
		return 0
	}))
	return 1
}

// luaEmit targets one id, "*" for everyone, or a list of ids.
func (p *Plugin) luaEmit(L *lua.LState) int {
	ns := L.CheckString(2)
	ev := L.CheckString(3)
	data := fromLua(L.Get(4))
	switch target := L.Get(1).(type) {
	case lua.LString:
		L.Push(lua.LBool(p.api.Emit(string(target), ns, ev, data)))
	case *lua.LTable:
		var ids []string
		target.ForEach(func(_, v lua.LValue) {
			if id, ok := v.(lua.LString); ok {
				ids = append(ids, string(id))
			}
		})
		L.Push(lua.LNumber(p.api.EmitTo(ids, ns, ev, data)))
	default:
		L.ArgError(1, "string or table of ids expected")
	}
	return 1
}

// luaBroadcast sends a table as a JSON object, or a string as a raw frame.
func (p *Plugin) luaBroadcast(L *lua.LState) int {
	switch msg := L.Get(1).(type) {
	case lua.LString:
		p.api.Broadcast(string(msg))
	case *lua.LTable:
		p.api.Broadcast(fromLua(msg))
	default:
		L.ArgError(1, "table or string expected")
	}
	return 0
}

func (p *Plugin) luaGetMetadata(L *lua.LState) int {
	meta, ok := p.api.ClientMetadata(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, meta))
	return 1
}

func (p *Plugin) luaSetMetadata(L *lua.LState) int {
	id := L.CheckString(1)
	patch := L.CheckTable(2)
	p.api.SetClientMetadata(id, fromLuaTable(patch))
	return 0
}

func (p *Plugin) luaIDs(L *lua.LState) int {
	L.Push(toLua(L, p.api.ConnectedIDs()))
	return 1
}

func (p *Plugin) luaCount(L *lua.LState) int {
	L.Push(lua.LNumber(p.api.ConnectedCount()))
	return 1
}

func (p *Plugin) luaPluginType(L *lua.LState) int {
	L.Push(lua.LString(p.api.PluginType()))
	return 1
}

func (p *Plugin) luaLog(level zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		if ce := p.logger.Check(level, L.CheckString(1)); ce != nil {
			ce.Write(zap.String("source", "lua"))
		}
		return 0
	}
}

package scripting

import (
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a JSON-shaped Go value into a Lua value. Unsupported types
// become nil.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			tbl.RawSetInt(i+1, toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value into a JSON-shaped Go value. A table whose keys
// are exactly 1..n becomes []any; any other table becomes map[string]any with
// non-string keys dropped. Functions and userdata become nil.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && isSequence(val, n) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			if key, ok := k.(lua.LString); ok {
				out[string(key)] = fromLua(item)
			}
		})
		return out
	default:
		return nil
	}
}

func isSequence(tbl *lua.LTable, n int) bool {
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })
	return count == n
}

// fromLuaTable is fromLua for a table that must become an object.
func fromLuaTable(tbl *lua.LTable) map[string]any {
	out := make(map[string]any)
	if tbl == nil {
		return out
	}
	tbl.ForEach(func(k, item lua.LValue) {
		if key, ok := k.(lua.LString); ok {
			out[string(key)] = fromLua(item)
		}
	})
	return out
}

package scripting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/switchboard/internal/connection"
	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/protocol"
	"github.com/cory-johannsen/switchboard/internal/scripting"
)

type recorder struct {
	frames []string
}

func (r *recorder) Send(frame []byte) error { r.frames = append(r.frames, string(frame)); return nil }
func (r *recorder) Ping() error             { return nil }
func (r *recorder) Close() error            { return nil }
func (r *recorder) RemoteAddr() string      { return "203.0.113.9" }

func (r *recorder) last() string { return r.frames[len(r.frames)-1] }

type env struct {
	reg  *connection.Registry
	d    *event.Dispatcher
	host *plugin.Host
	mgr  *scripting.Manager
}

func newEnv(t *testing.T, logger *zap.Logger, limit int) *env {
	t.Helper()
	d := event.NewDispatcher(logger, nil)
	ids := []string{"a", "b", "c"}
	n := 0
	reg := connection.NewRegistry(logger, nil, connection.WithIDGenerator(func() string {
		n++
		return ids[n-1]
	}))
	return &env{
		reg:  reg,
		d:    d,
		host: plugin.NewHost(reg, d, logger, nil),
		mgr:  scripting.NewManager(logger, limit),
	}
}

func (e *env) load(t *testing.T, script string) *scripting.Plugin {
	t.Helper()
	root := t.TempDir()
	writePlugin(t, root, "p", "id: echo\n", script)
	plugins, err := e.mgr.LoadDir(root)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	return plugins[0]
}

const echoScript = `
local count = 0

function initialize()
	switchboard.subscribe("chat", "say", function(caller, data)
		count = count + 1
		switchboard.set_metadata(caller.id, {last = data.text, ip = caller.ip})
		switchboard.emit(caller.id, "chat", "echo", {text = string.upper(data.text), n = count})
	end)
	switchboard.subscribe("chat", "boom", function() error("kaboom") end)
	switchboard.subscribe("chat", "spin", function() while true do end end)
	switchboard.subscribe("chat", "who", function(caller)
		switchboard.emit("*", "chat", "roster", {ids = switchboard.ids(), count = switchboard.count(), kind = switchboard.plugin_type()})
	end)
	switchboard.subscribe("chat", "shout", function(caller, data)
		local sent = switchboard.emit(data.to, "chat", "shouted", {from = caller.id})
		switchboard.emit(caller.id, "chat", "shout-result", {sent = sent})
	end)
	switchboard.log.info("echo ready")
end

function cleanup()
	switchboard.broadcast({namespace = "chat", event = "bye", data = {}})
end
`

func TestPlugin_HandlersUseAPI(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	p := e.load(t, echoScript)
	_, err := e.host.Register(p)
	require.NoError(t, err)

	tr := &recorder{}
	id, err := e.reg.Accept(tr)
	require.NoError(t, err)

	e.d.Dispatch("chat", "say", protocol.Decorate(map[string]any{"text": "hi"}, id, nil, "203.0.113.9"))
	assert.JSONEq(t, `{"namespace":"chat","event":"echo","data":{"text":"HI","n":1}}`, tr.last())

	meta, ok := e.reg.Metadata(id)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"last": "hi", "ip": "203.0.113.9"}, meta)

	e.d.Dispatch("chat", "who", protocol.Decorate(nil, id, nil, ""))
	assert.JSONEq(t, `{"namespace":"chat","event":"roster","data":{"ids":["a"],"count":1,"kind":"server"}}`, tr.last())
}

func TestPlugin_EmitToListOfIDs(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	_, err := e.host.Register(e.load(t, echoScript))
	require.NoError(t, err)

	trA, trB, trC := &recorder{}, &recorder{}, &recorder{}
	idA, _ := e.reg.Accept(trA)
	idB, _ := e.reg.Accept(trB)
	_, _ = e.reg.Accept(trC)

	data := map[string]any{"to": []any{idB, "ghost"}}
	e.d.Dispatch("chat", "shout", protocol.Decorate(data, idA, nil, ""))

	assert.JSONEq(t, `{"namespace":"chat","event":"shouted","data":{"from":"a"}}`, trB.last())
	assert.JSONEq(t, `{"namespace":"chat","event":"shout-result","data":{"sent":1}}`, trA.last())
	assert.Len(t, trC.frames, 1)
}

func TestPlugin_LuaErrorsAreIsolated(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := newEnv(t, zap.New(core), 5_000)
	_, err := e.host.Register(e.load(t, echoScript))
	require.NoError(t, err)

	tr := &recorder{}
	id, _ := e.reg.Accept(tr)

	e.d.Dispatch("chat", "boom", protocol.Decorate(nil, id, nil, ""))
	e.d.Dispatch("chat", "spin", protocol.Decorate(nil, id, nil, ""))
	assert.Equal(t, 2, logs.FilterMessage("event handler failed").Len())

	e.d.Dispatch("chat", "say", protocol.Decorate(map[string]any{"text": "still here"}, id, nil, ""))
	assert.JSONEq(t, `{"namespace":"chat","event":"echo","data":{"text":"STILL HERE","n":1}}`, tr.last())
	assert.Equal(t, 1, logs.FilterMessage("echo ready").Len())
}

func TestPlugin_CleanupRunsAndDropsSubscriptions(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	unregister, err := e.host.Register(e.load(t, echoScript))
	require.NoError(t, err)
	assert.Equal(t, 1, e.d.Handlers("chat", "say"))

	tr := &recorder{}
	_, _ = e.reg.Accept(tr)

	unregister()
	assert.JSONEq(t, `{"namespace":"chat","event":"bye","data":{}}`, tr.last())
	assert.Equal(t, 0, e.d.Handlers("chat", "say"))
	assert.Equal(t, 0, e.host.Len())
}

func TestPlugin_InitializeFailureRollsBack(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	p := e.load(t, `
		function initialize()
			switchboard.subscribe("x", "y", function() end)
			error("not today")
		end
	`)
	_, err := e.host.Register(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not today")
	assert.Equal(t, 0, e.host.Len())
	assert.Equal(t, 0, e.d.Handlers("x", "y"))
}

func TestPlugin_SyntaxErrorFailsRegistration(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	_, err := e.host.Register(e.load(t, `function initialize( end`))
	assert.Error(t, err)
	assert.Equal(t, 0, e.host.Len())
}

func TestPlugin_RunawayEntryScriptFails(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 1_000)
	_, err := e.host.Register(e.load(t, `while true do end`))
	assert.Error(t, err)
}

func TestPlugin_SandboxHidesUnsafeGlobals(t *testing.T) {
	e := newEnv(t, zaptest.NewLogger(t), 0)
	_, err := e.host.Register(e.load(t, `
		assert(os == nil and io == nil and require == nil and dofile == nil)
	`))
	assert.NoError(t, err)
}

func TestManager_LoadDirMissingEntry(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "p", "id: broken\n", "")
	_, err := scripting.NewManager(zaptest.NewLogger(t), 0).LoadDir(root)
	assert.Error(t, err)
}

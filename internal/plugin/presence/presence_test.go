package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/switchboard/internal/connection"
	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/plugin/presence"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

type recorder struct {
	frames []string
}

func (r *recorder) Send(frame []byte) error { r.frames = append(r.frames, string(frame)); return nil }
func (r *recorder) Ping() error             { return nil }
func (r *recorder) Close() error            { return nil }
func (r *recorder) RemoteAddr() string      { return "127.0.0.1:1" }

func (r *recorder) last() string { return r.frames[len(r.frames)-1] }

func setup(t *testing.T) (*connection.Registry, *event.Dispatcher) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	d := event.NewDispatcher(logger, nil)
	n := 0
	reg := connection.NewRegistry(logger, func(ev, id string) {
		d.Dispatch(protocol.SystemNamespace, ev, map[string]any{protocol.FieldClientID: id})
	}, connection.WithIDGenerator(func() string {
		n++
		return []string{"a", "b", "c"}[n-1]
	}))
	h := plugin.NewHost(reg, d, logger, nil)
	_, err := h.Register(presence.New())
	require.NoError(t, err)
	return reg, d
}

func TestPresence_AnnouncesJoinAndLeave(t *testing.T) {
	reg, _ := setup(t)
	first := &recorder{}
	_, err := reg.Accept(first)
	require.NoError(t, err)
	require.Len(t, first.frames, 2, "init then joined")
	assert.JSONEq(t, `{"namespace":"presence","event":"joined","data":{"id":"a","count":1}}`, first.last())

	second := &recorder{}
	_, err = reg.Accept(second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"namespace":"presence","event":"joined","data":{"id":"b","count":2}}`, first.last())

	reg.Disconnect("b")
	assert.JSONEq(t, `{"namespace":"presence","event":"left","data":{"id":"b","count":1}}`, first.last())
}

func TestPresence_ListRepliesToCaller(t *testing.T) {
	reg, d := setup(t)
	a, b := &recorder{}, &recorder{}
	_, _ = reg.Accept(a)
	_, _ = reg.Accept(b)
	before := len(b.frames)

	d.Dispatch(presence.Namespace, presence.EventList, protocol.Decorate(nil, "a", nil, ""))

	assert.JSONEq(t, `{"namespace":"presence","event":"list","data":{"ids":["a","b"]}}`, a.last())
	assert.Len(t, b.frames, before, "only the caller receives the list")
}

package event_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/switchboard/internal/event"
	"github.com/cory-johannsen/switchboard/internal/protocol"
)

func newTestDispatcher(t testing.TB) (*event.Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return event.NewDispatcher(zap.New(core), nil), logs
}

func TestDispatch_DeliversCallerSeparately(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var gotCaller protocol.Caller
	var gotData map[string]any
	d.Subscribe("chat", "say", func(caller protocol.Caller, data map[string]any) error {
		gotCaller = caller
		gotData = data
		return nil
	})

	raw := protocol.Decorate(map[string]any{"text": "hi"}, "c1", map[string]any{"nick": "al"}, "1.2.3.4")
	raw[protocol.FieldReplyID] = "stray"
	d.Dispatch("chat", "say", raw)

	assert.Equal(t, protocol.Caller{ID: "c1", Metadata: map[string]any{"nick": "al"}, IP: "1.2.3.4"}, gotCaller)
	assert.Equal(t, map[string]any{"text": "hi"}, gotData)
}

func TestDispatch_UnknownKeyIsNoOp(t *testing.T) {
	d, logs := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch("nobody", "listens", map[string]any{})
	})
	assert.Equal(t, 0, logs.Len())
}

func TestDispatch_HandlerIsolation(t *testing.T) {
	d, logs := newTestDispatcher(t)
	calls := 0
	d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
		return errors.New("boom")
	})
	d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
		panic("kaboom")
	})
	d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
		calls++
		return nil
	})

	assert.NotPanics(t, func() { d.Dispatch("ns", "ev", map[string]any{}) })
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, logs.FilterMessage("event handler failed").Len())
}

func TestDispatch_HandlerMutationIsNotShared(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var seen []any
	for i := 0; i < 2; i++ {
		d.Subscribe("ns", "ev", func(_ protocol.Caller, data map[string]any) error {
			seen = append(seen, data["k"])
			data["k"] = "mutated"
			return nil
		})
	}
	d.Dispatch("ns", "ev", map[string]any{"k": "orig"})
	assert.Equal(t, []any{"orig", "orig"}, seen)
}

func TestDispatch_CallerMetadataMutationIsNotShared(t *testing.T) {
	d, _ := newTestDispatcher(t)
	meta := map[string]any{"room": "lobby"}
	var seen []any
	for i := 0; i < 2; i++ {
		d.Subscribe("ns", "ev", func(caller protocol.Caller, _ map[string]any) error {
			seen = append(seen, caller.Metadata["room"])
			caller.Metadata["room"] = "mutated"
			return nil
		})
	}
	d.Dispatch("ns", "ev", map[string]any{"clientId": "c1", "metadata": meta})
	assert.Equal(t, []any{"lobby", "lobby"}, seen)
	assert.Equal(t, "lobby", meta["room"])
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	d, _ := newTestDispatcher(t)
	calls := 0
	unsub := d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
		calls++
		return nil
	})
	other := d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error { return nil })

	unsub()
	unsub()
	assert.Equal(t, 1, d.Handlers("ns", "ev"))

	d.Dispatch("ns", "ev", map[string]any{})
	assert.Equal(t, 0, calls)

	other()
	assert.Equal(t, 0, d.Handlers("ns", "ev"))
}

func TestUnsubscribe_DuringDispatchDoesNotBreakIteration(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var unsubs []func()
	calls := 0
	for i := 0; i < 5; i++ {
		unsubs = append(unsubs, d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
			calls++
			for _, u := range unsubs {
				u()
			}
			return nil
		}))
	}
	assert.NotPanics(t, func() { d.Dispatch("ns", "ev", map[string]any{}) })
	assert.Equal(t, 1, calls, "siblings removed mid-dispatch are skipped")
	assert.Equal(t, 0, d.Handlers("ns", "ev"))
}

func TestSubscribe_DuringDispatchNotInvokedThisRound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	late := 0
	d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
		d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error {
			late++
			return nil
		})
		return nil
	})
	d.Dispatch("ns", "ev", map[string]any{})
	assert.Equal(t, 0, late)
	assert.Equal(t, 2, d.Handlers("ns", "ev"))
}

func TestClear(t *testing.T) {
	d, _ := newTestDispatcher(t)
	unsub := d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error { return nil })
	d.Clear()
	assert.Equal(t, 0, d.Handlers("ns", "ev"))
	assert.NotPanics(t, unsub)

	d.Subscribe("ns", "ev", func(protocol.Caller, map[string]any) error { return nil })
	unsub()
	assert.Equal(t, 1, d.Handlers("ns", "ev"), "stale unsubscribe must not remove new handlers")
}

// TestPropertyOnlyRegisteredHandlersInvoked drives random subscribe and
// unsubscribe sequences and checks that a dispatch reaches exactly the
// handlers registered at the moment it begins.
func TestPropertyOnlyRegisteredHandlersInvoked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := event.NewDispatcher(zap.NewNop(), nil)
		keys := []string{"a", "b"}

		type sub struct {
			key   string
			unsub func()
			live  bool
		}
		var subs []*sub
		invoked := map[int]int{}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				idx := len(subs)
				key := rapid.SampledFrom(keys).Draw(t, "key")
				s := &sub{key: key, live: true}
				s.unsub = d.Subscribe("ns", key, func(protocol.Caller, map[string]any) error {
					invoked[idx]++
					return nil
				})
				subs = append(subs, s)
			case 1:
				if len(subs) == 0 {
					continue
				}
				s := subs[rapid.IntRange(0, len(subs)-1).Draw(t, "victim")]
				s.unsub()
				s.live = false
			case 2:
				key := rapid.SampledFrom(keys).Draw(t, "dispatch_key")
				for k := range invoked {
					delete(invoked, k)
				}
				d.Dispatch("ns", key, map[string]any{})
				for idx, s := range subs {
					want := 0
					if s.live && s.key == key {
						want = 1
					}
					if invoked[idx] != want {
						t.Fatalf("handler %d (key %s live %v) invoked %d times, want %d", idx, s.key, s.live, invoked[idx], want)
					}
				}
			}
		}

		for _, key := range keys {
			live := 0
			for _, s := range subs {
				if s.live && s.key == key {
					live++
				}
			}
			require.Equal(t, live, d.Handlers("ns", key), fmt.Sprintf("key %s", key))
		}
	})
}

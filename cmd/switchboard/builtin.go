package main

import (
	"fmt"
	"sort"

	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/plugin/presence"
)

// builtins maps configuration ids to compiled-in plugin constructors.
var builtins = map[string]func() plugin.Plugin{
	presence.ID: func() plugin.Plugin { return presence.New() },
}

// builtinPlugins constructs the configured built-in plugins in order.
func builtinPlugins(ids []string) ([]plugin.Plugin, error) {
	out := make([]plugin.Plugin, 0, len(ids))
	for _, id := range ids {
		ctor, ok := builtins[id]
		if !ok {
			return nil, fmt.Errorf("unknown built-in plugin %q (available: %v)", id, builtinIDs())
		}
		out = append(out, ctor())
	}
	return out, nil
}

func builtinIDs() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

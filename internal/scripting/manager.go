package scripting

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Manager discovers Lua plugins on disk and builds them with shared settings.
type Manager struct {
	limit  int
	logger *zap.Logger
}

// NewManager creates a Manager whose plugins run with instLimit opcodes per
// call (0 uses DefaultInstructionLimit).
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger, instLimit int) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{limit: instLimit, logger: logger}
}

// LoadDir discovers every plugin under root and returns them unregistered,
// ordered by id. No Lua runs until a plugin is registered.
//
// Postcondition: Every returned plugin has a readable entry script.
func (m *Manager) LoadDir(root string) ([]*Plugin, error) {
	manifests, err := Discover(root)
	if err != nil {
		return nil, err
	}

	plugins := make([]*Plugin, 0, len(manifests))
	for _, man := range manifests {
		if _, err := os.Stat(man.EntryPath()); err != nil {
			return nil, fmt.Errorf("scripting: plugin %q entry: %w", man.ID, err)
		}
		plugins = append(plugins, m.New(man))
	}

	m.logger.Info("lua plugins discovered",
		zap.String("dir", root),
		zap.Int("count", len(plugins)),
	)
	return plugins, nil
}

// New builds an unregistered plugin from man.
func (m *Manager) New(man *Manifest) *Plugin {
	return &Plugin{
		manifest: man,
		limit:    m.limit,
		logger:   m.logger.With(zap.String("plugin", man.ID)),
	}
}

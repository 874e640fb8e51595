package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the descriptor every Lua plugin directory holds.
const ManifestFile = "plugin.yaml"

const defaultEntry = "main.lua"

// Manifest describes one Lua plugin.
type Manifest struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// Entry is the script executed at load time, relative to Dir. Defaults to main.lua.
	Entry string `yaml:"entry"`

	// Dir is the plugin directory; set by the loader, not read from YAML.
	Dir string `yaml:"-"`
}

// Validate checks that the manifest satisfies basic invariants.
//
// Precondition: m must not be nil.
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return errors.New("plugin manifest: id must not be empty")
	}
	if filepath.IsAbs(m.Entry) || strings.HasPrefix(filepath.Clean(m.Entry), "..") {
		return fmt.Errorf("plugin manifest %q: entry %q must stay inside the plugin directory", m.ID, m.Entry)
	}
	if filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("plugin manifest %q: entry %q must be a .lua file", m.ID, m.Entry)
	}
	return nil
}

// EntryPath returns the absolute or Dir-relative path of the entry script.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Entry)
}

// LoadManifestFromBytes parses YAML bytes into a Manifest and validates it.
//
// Postcondition: Returns a valid Manifest or a non-nil error.
func LoadManifestFromBytes(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}
	if m.Entry == "" {
		m.Entry = defaultEntry
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads dir/plugin.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	m, err := LoadManifestFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	m.Dir = dir
	return m, nil
}

// Discover returns the manifests of every immediate subdirectory of root that
// contains a plugin.yaml, ordered by plugin id. Subdirectories without a
// manifest are skipped.
//
// Postcondition: Returned ids are unique, or an error is returned.
func Discover(root string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading plugin dir %q: %w", root, err)
	}

	var manifests []*Manifest
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		m, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("plugin id %q declared in both %q and %q", m.ID, prev, dir)
		}
		seen[m.ID] = dir
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests, nil
}

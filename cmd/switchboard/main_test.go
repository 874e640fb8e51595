package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/switchboard/internal/config"
	"github.com/cory-johannsen/switchboard/internal/hub"
	"github.com/cory-johannsen/switchboard/internal/plugin/presence"
)

func TestBuiltinPlugins(t *testing.T) {
	plugins, err := builtinPlugins([]string{presence.ID})
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, presence.ID, plugins[0].ID())

	_, err = builtinPlugins([]string{"nope"})
	assert.ErrorContains(t, err, "nope")
}

func TestLoadPlugins_BuiltinsThenLua(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "greeter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("id: greeter\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte("-- empty\n"), 0o644))

	plugins, err := loadPlugins(config.PluginsConfig{
		ScriptDir: root,
		Builtin:   []string{presence.ID},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, presence.ID, plugins[0].ID())
	assert.Equal(t, "greeter", plugins[1].ID())
}

func TestVersionCmd_Short(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestPluginsHandler(t *testing.T) {
	h := hub.New(zaptest.NewLogger(t), hub.WithHeartbeat(0))
	_, err := h.RegisterPlugin(presence.New())
	require.NoError(t, err)
	go func() { _ = h.Start() }()

	rec := httptest.NewRecorder()
	pluginsHandler(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"plugins":["presence"]}`, rec.Body.String())

	h.Stop()
	rec = httptest.NewRecorder()
	pluginsHandler(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:              "/ws",
			ReadTimeout:       90 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxMessageSize:    1 << 20,
			SendBuffer:        256,
			HeartbeatInterval: 30 * time.Second,
		},
		Hub: HubConfig{QueueSize: 1024},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "switchboard",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestServerAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 1024, cfg.Hub.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 4100
  public_dir: ./public
websocket:
  heartbeat_interval: 5s
  send_buffer: 32
plugins:
  script_dir: ./plugins
  builtin: [presence]
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "./public", cfg.Server.PublicDir)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 32, cfg.WebSocket.SendBuffer)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, []string{"presence"}, cfg.Plugins.Builtin)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWITCHBOARD_SERVER_PORT", "4555")
	t.Setenv("SWITCHBOARD_LOGGING_FORMAT", "console")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4555, cfg.Server.Port)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateWebSocketPath(t *testing.T) {
	cfg := validConfig()
	cfg.WebSocket.Path = "ws"
	assert.Error(t, cfg.Validate())
}

func TestValidateHeartbeatInterval(t *testing.T) {
	cfg := validConfig()
	cfg.WebSocket.HeartbeatInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateSendBuffer(t *testing.T) {
	cfg := validConfig()
	cfg.WebSocket.SendBuffer = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateQueueSize(t *testing.T) {
	cfg := validConfig()
	cfg.Hub.QueueSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateMetricsPathCollision(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Path = "/ws"
	assert.Error(t, cfg.Validate())

	cfg.Metrics.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	cfg.Hub.QueueSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "hub.queue_size")
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(0, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

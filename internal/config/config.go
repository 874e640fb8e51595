// Package config provides Viper-based configuration loading for the switchboard server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// PublicDir is an optional directory served as static files at "/".
	PublicDir string `mapstructure:"public_dir"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebSocketConfig holds per-connection transport settings.
type WebSocketConfig struct {
	// Path is the HTTP route upgraded to WebSocket.
	Path string `mapstructure:"path"`
	// ReadTimeout is the maximum silence tolerated on a connection before the read fails.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// SendBuffer is the outbound queue depth per connection.
	SendBuffer int `mapstructure:"send_buffer"`
	// HeartbeatInterval is the liveness sweep period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// CheckOrigin rejects cross-origin upgrades when true.
	CheckOrigin bool `mapstructure:"check_origin"`
}

// HubConfig holds event loop settings.
type HubConfig struct {
	// QueueSize is the depth of the event loop task queue.
	QueueSize int `mapstructure:"queue_size"`
}

// PluginsConfig holds plugin loading settings.
type PluginsConfig struct {
	// ScriptDir holds one subdirectory per Lua plugin. Empty disables Lua plugins.
	ScriptDir string `mapstructure:"script_dir"`
	// InstructionLimit caps Lua opcodes per hook call; 0 uses the scripting default.
	InstructionLimit int `mapstructure:"instruction_limit"`
	// Builtin lists the ids of compiled-in plugins to register at startup.
	Builtin []string `mapstructure:"builtin"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Hub       HubConfig       `mapstructure:"hub"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Hub.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("hub.queue_size must be >= 1, got %d", c.Hub.QueueSize))
	}
	if c.Plugins.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("plugins.instruction_limit must be >= 0, got %d", c.Plugins.InstructionLimit))
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMetrics(c.Metrics, c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with '/', got %q", w.Path))
	}
	if w.ReadTimeout < 0 {
		errs = append(errs, "websocket.read_timeout must not be negative")
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if w.HeartbeatInterval <= 0 {
		errs = append(errs, "websocket.heartbeat_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateMetrics(m MetricsConfig, w WebSocketConfig) error {
	if !m.Enabled {
		return nil
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", m.Path)
	}
	if m.Path == w.Path {
		return errors.New("metrics.path must differ from websocket.path")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with SWITCHBOARD_ prefix
	v.SetEnvPrefix("SWITCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
//
// Postcondition: The returned Config passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("config: defaults are invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.public_dir", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_timeout", "90s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.heartbeat_interval", "30s")
	v.SetDefault("websocket.check_origin", false)

	v.SetDefault("hub.queue_size", 1024)

	v.SetDefault("plugins.script_dir", "")
	v.SetDefault("plugins.instruction_limit", 0)
	v.SetDefault("plugins.builtin", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "switchboard")
}

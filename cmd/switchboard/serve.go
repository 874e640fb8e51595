package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/config"
	"github.com/cory-johannsen/switchboard/internal/frontend/websocket"
	"github.com/cory-johannsen/switchboard/internal/hub"
	"github.com/cory-johannsen/switchboard/internal/observability"
	"github.com/cory-johannsen/switchboard/internal/plugin"
	"github.com/cory-johannsen/switchboard/internal/scripting"
	"github.com/cory-johannsen/switchboard/internal/server"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	start := time.Now()

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting switchboard",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
	)

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(cfg.Metrics.Namespace, reg)
		gatherer = reg
	}

	h := hub.New(observability.Component(logger, "hub"),
		hub.WithMetrics(metrics),
		hub.WithHeartbeat(cfg.WebSocket.HeartbeatInterval),
		hub.WithQueueSize(cfg.Hub.QueueSize),
	)

	plugins, err := loadPlugins(cfg.Plugins, logger)
	if err != nil {
		return err
	}
	for _, p := range plugins {
		if _, err := h.RegisterPlugin(p); err != nil {
			return fmt.Errorf("registering plugin: %w", err)
		}
	}

	h.HandleHTTP(http.MethodGet, "/plugins", pluginsHandler(h))

	acceptor := websocket.NewAcceptor(cfg, h, gatherer, observability.Component(logger, "websocket"))

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("hub", h)
	lifecycle.Add("websocket", acceptor)

	logger.Info("server initialized",
		zap.Int("plugins", len(plugins)),
		zap.Duration("startup", time.Since(start)),
	)
	return lifecycle.Run(ctx)
}

// pluginsHandler answers with the ids of the registered plugins, read on the
// hub loop.
func pluginsHandler(h *hub.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		err := h.Do(r.Context(), func() {
			for _, p := range h.Plugins() {
				ids = append(ids, p.ID())
			}
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"plugins": ids})
	})
}

// loadPlugins builds the configured built-in plugins followed by every Lua
// plugin under the script directory.
func loadPlugins(cfg config.PluginsConfig, logger *zap.Logger) ([]plugin.Plugin, error) {
	plugins, err := builtinPlugins(cfg.Builtin)
	if err != nil {
		return nil, err
	}
	if cfg.ScriptDir == "" {
		return plugins, nil
	}

	mgr := scripting.NewManager(observability.Component(logger, "lua"), cfg.InstructionLimit)
	scripts, err := mgr.LoadDir(cfg.ScriptDir)
	if err != nil {
		return nil, fmt.Errorf("loading lua plugins: %w", err)
	}
	for _, s := range scripts {
		plugins = append(plugins, s)
	}
	return plugins, nil
}

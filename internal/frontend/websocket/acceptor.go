// Package websocket is the network frontend: an HTTP server that upgrades
// clients to WebSocket and feeds their frames to the hub.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/config"
	"github.com/cory-johannsen/switchboard/internal/connection"
	"github.com/cory-johannsen/switchboard/internal/httphook"
)

// Hub receives transport events. Every method must be safe to call from any
// goroutine.
type Hub interface {
	Attach(ctx context.Context, t connection.Transport) (string, error)
	Receive(id string, frame []byte)
	Alive(id string)
	Detach(id string)
	// HTTPHooks returns runtime-registered routes, or nil for none.
	HTTPHooks() *httphook.Registry
}

// Acceptor serves the WebSocket endpoint, health check, metrics, custom HTTP
// hooks, and optional static files.
type Acceptor struct {
	cfg      config.Config
	hub      Hub
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader

	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates an Acceptor. gatherer may be nil, in which case the
// metrics route is not mounted.
//
// Precondition: hub and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.Config, hub Hub, gatherer prometheus.Gatherer, logger *zap.Logger) *Acceptor {
	if hub == nil || logger == nil {
		panic("websocket.NewAcceptor: hub and logger must not be nil")
	}
	a := &Acceptor{
		cfg:      cfg,
		hub:      hub,
		gatherer: gatherer,
		logger:   logger,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowAnyOrigin,
	}
	if cfg.WebSocket.CheckOrigin {
		a.upgrader.CheckOrigin = sameOrigin
	}
	return a
}

// Handler returns the HTTP routes served by the acceptor.
func (a *Acceptor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	if a.cfg.Metrics.Enabled && a.gatherer != nil {
		r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get(a.cfg.WebSocket.Path, a.handleUpgrade)

	var static http.Handler
	if dir := a.cfg.Server.PublicDir; dir != "" {
		static = http.FileServer(http.Dir(dir))
	}
	if hooks := a.hub.HTTPHooks(); hooks != nil {
		r.Handle("/*", hooks.Fallback(static))
	} else if static != nil {
		r.Handle("/*", static)
	}
	return r
}

// ListenAndServe listens on the configured address and serves until Stop is
// called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()
	addr := a.cfg.Server.Addr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		_ = listener.Close()
		return errors.New("acceptor already running")
	}
	a.listener = listener
	a.srv = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.running = true
	srv := a.srv
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.WebSocket.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Start implements server.Service.
func (a *Acceptor) Start() error { return a.ListenAndServe() }

// Stop shuts the HTTP server down and waits for connection handlers to return.
// Open WebSocket connections end when the hub closes them.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	srv := a.srv
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.logger.Info("websocket acceptor stopped")
}

// Wait blocks until every upgraded connection handler has returned.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// Addr returns the listener's address, or nil before ListenAndServe.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// IsRunning reports whether the acceptor is serving.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Acceptor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	a.wg.Add(1)
	defer a.wg.Done()
	a.serve(r.Context(), ws, r.RemoteAddr)
}

// serve runs one connection: writer goroutine, attach, then the read loop on
// the calling goroutine until the socket fails.
func (a *Acceptor) serve(ctx context.Context, ws *websocket.Conn, addr string) {
	start := time.Now()
	wsCfg := a.cfg.WebSocket
	conn := NewConn(ws, addr, wsCfg.SendBuffer, wsCfg.WriteTimeout)
	defer conn.Close()

	go func() {
		if err := conn.WritePump(); err != nil {
			a.logger.Debug("write pump ended", zap.String("remote_addr", addr), zap.Error(err))
		}
	}()

	id, err := a.hub.Attach(ctx, conn)
	if err != nil {
		a.logger.Warn("attaching connection",
			zap.String("remote_addr", addr),
			zap.Error(err),
		)
		return
	}
	defer a.hub.Detach(id)

	ws.SetReadLimit(wsCfg.MaxMessageSize)
	a.extendRead(ws)
	ws.SetPongHandler(func(string) error {
		a.extendRead(ws)
		a.hub.Alive(id)
		return nil
	})

	for {
		kind, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("read failed",
					zap.String("client_id", id),
					zap.Error(err),
				)
			}
			break
		}
		a.extendRead(ws)
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		a.hub.Receive(id, frame)
	}

	a.logger.Debug("connection ended",
		zap.String("client_id", id),
		zap.String("remote_addr", addr),
		zap.Duration("duration", time.Since(start)),
	)
}

func (a *Acceptor) extendRead(ws *websocket.Conn) {
	if t := a.cfg.WebSocket.ReadTimeout; t > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(t))
	}
}

func allowAnyOrigin(*http.Request) bool { return true }

// sameOrigin accepts requests without an Origin header and requests whose
// Origin host matches the Host header.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && u.Host == r.Host
}

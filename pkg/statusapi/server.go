// Package statusapi serves the local admin surface: health, a status
// snapshot, and a websocket stream of status updates for dashboards.
//
// It binds to loopback by default and carries no authentication; anyone who
// can reach the port can read bridge status.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/dispatch"
	"github.com/tinyland-inc/wabridge/pkg/logger"
	"github.com/tinyland-inc/wabridge/pkg/session"
)

// streamInterval is how often the websocket pushes a fresh snapshot.
const streamInterval = 2 * time.Second

// SessionSource exposes the session snapshot. Satisfied by
// session.Supervisor.
type SessionSource interface {
	GetStatus() session.Status
}

// DispatchSource lists in-flight dispatches. Satisfied by both dispatcher
// implementations.
type DispatchSource interface {
	ActiveDispatches() []dispatch.Active
}

// Snapshot is the payload served on /status and streamed on /ws.
type Snapshot struct {
	Version    string            `json:"version"`
	Session    session.Status    `json:"session"`
	Dispatches []dispatch.Active `json:"dispatches"`
	Timestamp  time.Time         `json:"timestamp"`
}

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	sessions   SessionSource
	dispatches DispatchSource
	version    string
}

func NewServer(cfg config.GatewayConfig, sessions SessionSource, dispatches DispatchSource, version string) *Server {
	s := &Server{
		sessions:   sessions,
		dispatches: dispatches,
		version:    version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local admin surface; cross-origin dashboards are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	logger.InfoCF("statusapi", "Status API listening", map[string]any{
		"addr": s.httpServer.Addr,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) snapshot() Snapshot {
	return Snapshot{
		Version:    s.version,
		Session:    s.sessions.GetStatus(),
		Dispatches: s.dispatches.ActiveDispatches(),
		Timestamp:  time.Now().UTC(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

// handleWS streams snapshots until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("statusapi", "Websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	// Reader goroutine notices the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCF("statusapi", "Failed to encode response", map[string]any{
			"error": err.Error(),
		})
	}
}

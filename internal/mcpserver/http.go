package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agusx1211/spindle/internal/debug"
)

// HTTPServer hosts the MCP endpoint, the health check, and the live status
// WebSocket on a loopback listener.
type HTTPServer struct {
	core       *Server
	httpServer *http.Server
	addr       string
}

// NewHTTP wraps the MCP core in an HTTP server bound to host:port.
func NewHTTP(core *Server, host string, port int) *HTTPServer {
	if host == "" {
		host = "127.0.0.1"
	}
	srv := &HTTPServer{
		core: core,
		addr: fmt.Sprintf("%s:%d", host, port),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", srv.handleMCP)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /ws", srv.handleWS)

	srv.httpServer = &http.Server{
		Addr:              srv.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Addr returns the bind address.
func (srv *HTTPServer) Addr() string {
	return srv.addr
}

// ListenAndServe blocks serving requests until Shutdown.
func (srv *HTTPServer) ListenAndServe() error {
	debug.LogKV("http", "listening", "addr", srv.addr)
	err := srv.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (srv *HTTPServer) Shutdown(ctx context.Context) error {
	return srv.httpServer.Shutdown(ctx)
}

// handleMCP answers one JSON-RPC request per POST body.
func (srv *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineSize))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	resp := srv.core.Handle(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleHealth reports liveness for monitors and service managers.
func (srv *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	running, err := srv.core.sup.Store().CountRunning()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(srv.core.sup.Uptime().Seconds()),
		"running_spools": running,
		"max_concurrent": srv.core.sup.Config().MaxConcurrent,
	})
}

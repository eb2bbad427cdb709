// Package notify exposes sync completion events to local desktop clients
// over a WebSocket endpoint. Clients connect to GET /v1/events and receive
// one JSON message per completed sync run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"github.com/coder/websocket"

	syncengine "github.com/dealview/contactsync/internal/sync"
)

const writeTimeout = 5 * time.Second

// Server fans sync events out to connected WebSocket clients. A slow or
// dead client is dropped, never waited on.
type Server struct {
	addr   string
	events *syncengine.Broadcaster
	logger *slog.Logger

	listener net.Listener
	httpSrv  *http.Server
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup

	mu      gosync.Mutex
	closed  bool
	clients map[*websocket.Conn]struct{}
}

// NewServer creates a Server that will listen on addr and relay events
// from the given broadcaster.
func NewServer(addr string, events *syncengine.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:    addr,
		events:  events,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the listener and begins serving. It returns once the server
// is accepting connections; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("notify: listening on %s: %w", s.addr, err)
	}

	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.runCtx = ctx
	s.cancel = cancel

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.pump(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("event server listening", slog.String("addr", ln.Addr().String()))

		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("event server failed", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

// Stop closes every client connection and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	// closed is set under mu before Wait runs, and handleEvents only
	// adds reader goroutines under the same lock while closed is false,
	// so Wait sees every goroutine it must wait for.
	s.mu.Lock()
	s.closed = true
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("notify: shutting down: %w", err)
	}

	s.wg.Wait()

	return nil
}

// pump relays broadcaster events to every connected client until the
// server stops.
func (s *Server) pump(ctx context.Context) {
	defer s.wg.Done()

	ch, cancel := s.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshaling event", slog.String("error", err.Error()))
				continue
			}

			s.mu.Lock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.mu.Unlock()

			for _, conn := range conns {
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, data)
				wcancel()

				if err != nil {
					s.remove(conn)
				}
			}
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Local desktop clients connect from app origins, not the host.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))

		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")

		return
	}

	s.clients[conn] = struct{}{}
	total := len(s.clients)
	// Registered under the same lock as the shutdown flag so Stop's
	// Wait can never start before this goroutine is counted.
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("event client connected", slog.Int("clients", total))

	// Drain inbound frames so pings and closes are processed; clients
	// never send application messages. The server lifetime context, not
	// the request context, bounds the loop: the handler returns while
	// the hijacked connection stays open.
	go func() {
		defer s.wg.Done()
		defer s.remove(conn)

		for {
			if _, _, err := conn.Read(s.runCtx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	total := len(s.clients)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": total})
}

func (s *Server) remove(conn *websocket.Conn) {
	s.mu.Lock()
	_, exists := s.clients[conn]
	delete(s.clients, conn)
	total := len(s.clients)
	s.mu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("event client disconnected", slog.Int("clients", total))
	}
}

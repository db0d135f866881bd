// Package server is the relay's transport: a WebSocket channel to the
// browser extension, one WebSocket per side-panel port, and a small HTTP
// API. It also holds the clients the panel and CLI use to reach it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/protocol"
	"github.com/lotas/cognito/internal/relay"
)

const readLimit = 16 << 20 // 16 MB, inline image clips can be large

// Relay is what the transport drives.
type Relay interface {
	HandleExtension(m protocol.IncomingMsg) error
	Connect(p relay.Port) error
	PortMessage(p relay.Port, data []byte) error
	Disconnect(p relay.Port) error
	ActiveTab() (protocol.TabID, bool)
	Tabs(ctx context.Context) ([]relay.TabStatus, error)
}

// Server manages the extension connection and panel ports.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Server. gatherer may be nil to disable /metrics.
func New(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{addr: addr, gatherer: gatherer}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a command to the connected extension. With no extension
// connected the command is dropped.
func (s *Server) Send(ctx context.Context, msg protocol.OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		applog.Warn("ws.send.offline", "action", msg.Action)
		return nil
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns the relay's routes.
func (s *Server) Handler(rl Relay) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "extension": s.Connected()})
	})
	r.Get("/ext", s.extensionHandler(rl))
	r.Get("/port/{name}", portHandler(rl))
	r.Get("/api/active-tab", func(w http.ResponseWriter, _ *http.Request) {
		tab, ok := rl.ActiveTab()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active tab"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tabId": tab})
	})
	r.Post("/api/events", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, readLimit))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		msg, err := ParseIncoming(data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := rl.HandleExtension(msg); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})
	r.Get("/api/tabs", func(w http.ResponseWriter, r *http.Request) {
		tabs, err := rl.Tabs(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		if tabs == nil {
			tabs = []relay.TabStatus{}
		}
		writeJSON(w, http.StatusOK, tabs)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) extensionHandler(rl Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}
		conn.SetReadLimit(readLimit)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msg, err := ParseIncoming(data)
			if err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type)
			if err := rl.HandleExtension(msg); err != nil {
				if errors.Is(err, relay.ErrClosed) {
					conn.Close(websocket.StatusGoingAway, "relay stopped")
					return
				}
				applog.Error("ws.relay", err)
			}
		}
	}
}

// wsPort is a panel port backed by a WebSocket.
type wsPort struct {
	name string
	conn *websocket.Conn
}

func (p *wsPort) Name() string { return p.name }

func (p *wsPort) Send(ctx context.Context, m protocol.PortMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// Close runs asynchronously: the close handshake waits on the peer and
// the caller is the relay actor.
func (p *wsPort) Close(reason string) {
	go p.conn.Close(websocket.StatusNormalClosure, reason)
}

func portHandler(rl Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("port.accept", err)
			return
		}
		conn.SetReadLimit(readLimit)

		port := &wsPort{name: chi.URLParam(r, "name"), conn: conn}
		if err := rl.Connect(port); err != nil {
			conn.Close(websocket.StatusGoingAway, "relay stopped")
			return
		}
		defer func() {
			rl.Disconnect(port)
			conn.CloseNow()
		}()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := rl.PortMessage(port, data); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves the relay routes on the configured address until
// ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, rl Relay) error {
	applog.Info("server.start", "addr", s.addr)
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(rl)}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

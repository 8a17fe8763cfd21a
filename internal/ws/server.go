// Package ws handles the chat gateway's WebSocket transport: upgrading HTTP
// requests, keeping a registry of live connections, and dispatching incoming
// frames to message handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/metrics"
	"github.com/studybuddy/tooty/internal/protocol"
	"github.com/studybuddy/tooty/internal/ratelimit"
)

// UserHeader carries the user ID set by the upstream auth proxy.
const UserHeader = "X-User-ID"

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	MaxFrameBytes  int64         // larger data frames close the connection
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		MaxFrameBytes:  16 << 10,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// ConnectLimiter throttles new connections per user.
type ConnectLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server is the WebSocket server built on gobwas/ws. Each upgraded
// connection is served by its own goroutine.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	limiter      ConnectLimiter
	log          *zap.Logger
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	startedAt    time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewServer creates a Server. onMessage is called from the connection's
// goroutine for every complete text or binary frame. limiter may be nil.
func NewServer(config ServerConfig, limiter ConnectLimiter, log *zap.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:    config,
		conns:     NewConnectionManager(),
		limiter:   limiter,
		log:       log.With(zap.String("component", "ws")),
		onMessage: onMessage,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if config.Heartbeat.Interval > 0 {
		s.startHeartbeat(config.Heartbeat)
	}
	return s
}

// Handler returns the gateway's HTTP routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("max_conns", s.config.MaxConnections),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// userID extracts the caller's identity from the auth proxy header, falling
// back to the "user" query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		if ok, _ := s.limiter.Allow(r.Context(), user, ratelimit.RuleConnect); !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), user, conn, s.config.WriteTimeout)
	s.conns.Add(c)
	metrics.ConnectionsActive.Inc()

	sessionMsg, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
		UserID:    user,
	})
	if err == nil {
		err = c.WriteMessage(sessionMsg)
	}
	if err != nil {
		s.log.Warn("send session_created", zap.String("conn", c.ID), zap.Error(err))
		s.RemoveConnection(c)
		return
	}

	s.log.Debug("connection opened",
		zap.String("conn", c.ID),
		zap.String("user", user),
		zap.Int("total", s.conns.Count()),
	)

	// The hijacked connection is served on this goroutine.
	s.serve(c)
}

// serve reads frames until the connection fails or closes.
func (s *Server) serve(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.Touch()

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				payload, err := io.ReadAll(reader)
				if err != nil {
					return
				}
				if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
					return
				}
			default:
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
			}
			continue
		}

		if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
			s.log.Info("frame too large",
				zap.String("conn", c.ID),
				zap.Int64("length", header.Length),
			)
			return
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}

		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// RemoveConnection unregisters and closes c. It is safe to call more than
// once; only the first call has any effect.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsActive.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.log.Debug("connection closed", zap.String("conn", c.ID), zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.WriteMessage(data)
}

// SendToUser writes a text frame to every connection of userID and returns
// how many connections received it.
func (s *Server) SendToUser(userID string, data []byte) int {
	sent := 0
	for _, c := range s.conns.ForUser(userID) {
		if err := c.WriteMessage(data); err != nil {
			s.log.Debug("send to user", zap.String("conn", c.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, closes every connection and waits for
// their goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.log.Info("shutting down")

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("stopped")
	return err
}

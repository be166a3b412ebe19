// Package ws carries change-feed notifications over a WebSocket connection:
// Server bridges any core.ChangeFeed to WebSocket clients, Client implements
// core.ChangeFeed on top of such a connection.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

// Config holds connection timing.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultConfig returns the default connection timing.
func DefaultConfig() Config {
	return Config{WriteTimeout: 10 * time.Second, PingInterval: 30 * time.Second, PongTimeout: 60 * time.Second}
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Config Config
	// Authorize resolves the owner of the request. Defaults to the "owner"
	// query parameter.
	Authorize func(r *http.Request) (string, error)
	// CheckOrigin is passed to the upgrader. Defaults to same-origin checking.
	CheckOrigin func(r *http.Request) bool
	Logger      logging.Logger
}

// Server streams one owner's notifications to each connected client.
type Server struct {
	feed      core.ChangeFeed
	cfg       Config
	authorize func(r *http.Request) (string, error)
	upgrader  websocket.Upgrader
	logger    logging.Logger
}

// NewServer creates a Server for feed.
func NewServer(feed core.ChangeFeed, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{Config: DefaultConfig(), Authorize: ownerFromQuery}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Authorize == nil {
		opts.Authorize = ownerFromQuery
	}
	return &Server{
		feed:      feed,
		cfg:       opts.Config,
		authorize: opts.Authorize,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: opts.CheckOrigin},
		logger:    logging.OrNoOp(opts.Logger),
	}
}

type ownerError struct{}

func (ownerError) Error() string { return "owner is required" }

func ownerFromQuery(r *http.Request) (string, error) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		return "", ownerError{}
	}
	return owner, nil
}

// ServeHTTP upgrades the connection and forwards notifications until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner, err := s.authorize(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notifications, err := s.feed.Subscribe(ctx, owner)
	if err != nil {
		s.logger.Error("Change feed subscribe failed", "owner_id", owner, "error", err.Error())
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(s.cfg.WriteTimeout))
		return
	}

	// The read pump only handles control frames and detects disconnects.
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	s.logger.Info("Change feed client connected", "owner_id", owner)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		case n, ok := <-notifications:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(s.cfg.WriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Warn("Change feed write failed", "owner_id", owner, "error", err.Error())
				return
			}
		}
	}
}

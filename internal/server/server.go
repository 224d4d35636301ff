// Package server is the thin HTTP/WebSocket transport collaborator.
// It extracts the caller identity, decodes the intent and hands it to
// the match coordinator; it owns no game or room semantics of its own.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/match"
	"github.com/pengpeng/duel-server/internal/relay"
)

// Server serves the intent API and, when the push relay is deployed,
// per-room WebSocket subscriptions.
type Server struct {
	coordinator *match.Coordinator
	push        *relay.PushRelay
	logger      *zap.Logger
	httpServer  *http.Server
}

// New builds the transport around the coordinator. push may be nil
// when the deployment runs the poll relay; the subscription endpoint
// then reports itself unavailable.
func New(addr string, coordinator *match.Coordinator, push *relay.PushRelay, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coordinator: coordinator,
		push:        push,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/room", s.handleRoomIntent)
	mux.HandleFunc("POST /api/bot", s.handleBot)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /ws/rooms/{id}", s.handleSubscribe)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

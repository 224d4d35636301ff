package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/match"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Identity is already header-borne; origin policy belongs to the
	// gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribe upgrades to a WebSocket and streams relay messages
// for one room. Each frame is a full match-state snapshot; clients
// that miss frames lose nothing but latency.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		s.writeFailure(w, match.ErrorUnavailable, "push subscriptions are not enabled on this deployment")
		return
	}
	roomID := r.PathValue("id")
	if roomID == "" {
		s.writeFailure(w, match.ErrorValidation, "room id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}

	msgs, cancel := s.push.Subscribe(roomID)
	defer cancel()
	defer conn.Close()

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces close and pong events.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Replay what the relay retained so a late subscriber starts from
	// the latest known state.
	if backlog, err := s.push.Drain(r.Context(), roomID, 0); err == nil {
		for _, msg := range backlog {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("subscriber write failed",
					zap.String("room_id", roomID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

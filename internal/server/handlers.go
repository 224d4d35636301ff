package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/bot"
	"github.com/pengpeng/duel-server/internal/combat"
	"github.com/pengpeng/duel-server/internal/match"
)

// playerIDHeader carries the caller identity. Authentication itself
// is an upstream concern; the transport only forwards what it got.
const playerIDHeader = "X-Player-ID"

// roomIntent is the uniform request body of the intent endpoint,
// dispatched on Action the same way for every intent.
type roomIntent struct {
	Action   string        `json:"action"`
	RoomID   string        `json:"roomId,omitempty"`
	Code     string        `json:"code,omitempty"`
	Move     combat.Action `json:"move,omitempty"`
	AfterSeq int64         `json:"afterSeq,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, kind match.ErrorKind, msg string) {
	s.writeJSON(w, http.StatusOK, match.Result{ErrorKind: kind, Error: msg})
}

func callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(playerIDHeader))
}

func (s *Server) handleRoomIntent(w http.ResponseWriter, r *http.Request) {
	var intent roomIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		s.writeFailure(w, match.ErrorValidation, "invalid JSON body")
		return
	}
	caller := callerID(r)
	ctx := r.Context()

	// Errors surface inside the tagged result body, not as transport
	// status codes, so clients render every failure the same way.
	switch intent.Action {
	case "create":
		s.writeJSON(w, http.StatusOK, s.coordinator.Create(ctx, caller))
	case "find":
		s.writeJSON(w, http.StatusOK, s.coordinator.Find(ctx, caller, intent.Code))
	case "join":
		if intent.RoomID == "" {
			s.writeJSON(w, http.StatusOK, s.coordinator.QuickJoin(ctx, caller, intent.Code))
			return
		}
		s.writeJSON(w, http.StatusOK, s.coordinator.Join(ctx, caller, intent.RoomID))
	case "ready":
		s.writeJSON(w, http.StatusOK, s.coordinator.Ready(ctx, caller, intent.RoomID))
	case "act":
		s.writeJSON(w, http.StatusOK, s.coordinator.Act(ctx, caller, intent.RoomID, intent.Move))
	case "leave":
		s.writeJSON(w, http.StatusOK, s.coordinator.Leave(ctx, caller, intent.RoomID))
	case "poll":
		s.writeJSON(w, http.StatusOK, s.coordinator.Poll(ctx, caller, intent.RoomID, intent.AfterSeq))
	case "cleanMy":
		s.writeJSON(w, http.StatusOK, s.coordinator.PurgeMine(ctx, caller))
	default:
		s.writeFailure(w, match.ErrorValidation, "invalid action")
	}
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.ListRooms(r.Context()))
}

// botRequest asks the bot opponent for its move.
type botRequest struct {
	Action   string           `json:"action"`
	Level    bot.Level        `json:"level,omitempty"`
	Self     combat.Combatant `json:"self"`
	Opponent combat.Combatant `json:"opponent"`
}

type botResponse struct {
	match.Result
	Move    combat.Action `json:"move,omitempty"`
	Profile *bot.Profile  `json:"profile,omitempty"`
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, match.ErrorValidation, "invalid JSON body")
		return
	}

	switch req.Action {
	case "init":
		profile := bot.ProfileFor(req.Level)
		s.writeJSON(w, http.StatusOK, botResponse{
			Result:  match.Result{Success: true},
			Profile: &profile,
		})
	case "getAction":
		b := bot.New(req.Level, nil)
		move := b.ChooseAction(req.Self, req.Opponent)
		s.writeJSON(w, http.StatusOK, botResponse{
			Result: match.Result{Success: true},
			Move:   move,
		})
	default:
		s.writeFailure(w, match.ErrorValidation, "invalid action")
	}
}

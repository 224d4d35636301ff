// Package match glues the room lifecycle manager, the combat engine
// and the turn relay into the request/response contract consumed by
// the transport layer. Failures are per-request tagged results, never
// panics: the transport renders them uniformly.
package match

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/combat"
	"github.com/pengpeng/duel-server/internal/relay"
	"github.com/pengpeng/duel-server/internal/room"
)

// ErrorKind tags a failed result for uniform client rendering.
type ErrorKind string

const (
	ErrorValidation    ErrorKind = "validation"
	ErrorConflict      ErrorKind = "conflict"
	ErrorNotFound      ErrorKind = "not_found"
	ErrorUnavailable   ErrorKind = "unavailable"
	ErrorRuleViolation ErrorKind = "rule_violation"
	ErrorTerminal      ErrorKind = "terminal"
)

// Result is the common envelope of every intent response.
type Result struct {
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func failure(kind ErrorKind, msg string) Result {
	return Result{ErrorKind: kind, Error: msg}
}

// RoomView is the wire representation of a room, without the message
// backlog or store bookkeeping.
type RoomView struct {
	ID        string            `json:"roomId"`
	Code      string            `json:"code"`
	Status    room.Status       `json:"status"`
	Winner    int               `json:"winner"`
	Host      *room.Participant `json:"host,omitempty"`
	Guest     *room.Participant `json:"guest,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func viewOf(r *room.Room) *RoomView {
	if r == nil {
		return nil
	}
	state := r.MatchState()
	return &RoomView{
		ID:        r.ID,
		Code:      r.Code,
		Status:    state.Status,
		Winner:    state.Winner,
		Host:      state.Host,
		Guest:     state.Guest,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func viewsOf(rooms []*room.Room) []*RoomView {
	out := make([]*RoomView, len(rooms))
	for i, r := range rooms {
		out[i] = viewOf(r)
	}
	return out
}

// CreateResult answers a create intent.
type CreateResult struct {
	Result
	RoomID string    `json:"roomId,omitempty"`
	Code   string    `json:"code,omitempty"`
	Room   *RoomView `json:"room,omitempty"`
	// ExistingRoomID is set when the create was rejected because the
	// caller already occupies a room.
	ExistingRoomID string `json:"existingRoomId,omitempty"`
}

// FindResult answers a find intent.
type FindResult struct {
	Result
	Rooms []*RoomView `json:"rooms,omitempty"`
	// Existing is set when the caller already occupies a room; no
	// candidates are returned in that case.
	Existing     *RoomView `json:"existingMembership,omitempty"`
	ExistingRole room.Role `json:"existingRole,omitempty"`
}

// JoinResult answers a join intent.
type JoinResult struct {
	Result
	Role     room.Role `json:"role,omitempty"`
	Rejoined bool      `json:"rejoined,omitempty"`
	Room     *RoomView `json:"room,omitempty"`
}

// ReadyResult answers a ready intent.
type ReadyResult struct {
	Result
	Started bool      `json:"started"`
	Room    *RoomView `json:"room,omitempty"`
}

// ActResult answers an act intent.
type ActResult struct {
	Result
	Accepted bool           `json:"accepted"`
	Outcome  combat.Outcome `json:"outcome"`
	Winner   int            `json:"winner"`
	Room     *RoomView      `json:"room,omitempty"`
}

// LeaveResult answers a leave intent.
type LeaveResult struct {
	Result
	Accepted bool `json:"accepted"`
	Ended    bool `json:"ended"`
}

// PollResult answers a poll intent against the relay.
type PollResult struct {
	Result
	Messages []room.Message `json:"messages,omitempty"`
}

// ListResult answers an active-rooms listing.
type ListResult struct {
	Result
	Rooms []*RoomView `json:"rooms,omitempty"`
	Count int         `json:"count"`
}

// PurgeResult answers a clean-my-rooms request.
type PurgeResult struct {
	Result
	Removed int `json:"removed"`
}

// Errors raised by the coordinator's own guards.
var (
	errNotPlaying = errors.New("room is not in a playing state")
	errRoomEnded  = errors.New("match already ended")
)

// Coordinator is the single entry point for client intents.
type Coordinator struct {
	rooms  *room.Manager
	relay  relay.Relay
	logger *zap.Logger
	// listLimit caps ListRooms output.
	listLimit int
}

// NewCoordinator wires the coordinator's collaborators together.
func NewCoordinator(rooms *room.Manager, turnRelay relay.Relay, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		rooms:     rooms,
		relay:     turnRelay,
		logger:    logger,
		listLimit: 20,
	}
}

// classify maps an error from any collaborator to its taxonomy kind.
func classify(err error) (ErrorKind, string) {
	var already *room.AlreadyInRoomError
	switch {
	case errors.As(err, &already):
		return ErrorConflict, "already in a room"
	case errors.Is(err, combat.ErrAlreadyDefeated),
		errors.Is(err, combat.ErrDefenseBroken),
		errors.Is(err, combat.ErrInsufficientQi),
		errors.Is(err, combat.ErrUnknownAction):
		return ErrorRuleViolation, err.Error()
	case errors.Is(err, errRoomEnded):
		return ErrorTerminal, err.Error()
	case errors.Is(err, errNotPlaying):
		return ErrorValidation, err.Error()
	case errors.Is(err, room.ErrNotParticipant):
		return ErrorValidation, err.Error()
	case errors.Is(err, room.ErrNotFound), errors.Is(err, room.ErrNoJoinableRooms):
		return ErrorNotFound, "room no longer available"
	case errors.Is(err, room.ErrConflict), errors.Is(err, room.ErrCodeSpaceExhausted):
		return ErrorConflict, err.Error()
	case room.IsUnavailable(err):
		return ErrorUnavailable, err.Error()
	default:
		return ErrorUnavailable, err.Error()
	}
}

// Create opens a new room hosted by the caller.
func (c *Coordinator) Create(ctx context.Context, callerID string) CreateResult {
	if callerID == "" {
		return CreateResult{Result: failure(ErrorValidation, "caller identity is required")}
	}

	r, err := c.rooms.CreateRoom(ctx, callerID)
	if err != nil {
		var already *room.AlreadyInRoomError
		if errors.As(err, &already) {
			res := CreateResult{Result: failure(ErrorConflict, "already in a room")}
			res.ExistingRoomID = already.Room.ID
			return res
		}
		kind, msg := classify(err)
		return CreateResult{Result: failure(kind, msg)}
	}
	return CreateResult{
		Result: Result{Success: true},
		RoomID: r.ID,
		Code:   r.Code,
		Room:   viewOf(r),
	}
}

// Find returns joinable rooms, or the caller's existing membership if
// it already occupies one.
func (c *Coordinator) Find(ctx context.Context, callerID, code string) FindResult {
	if callerID == "" {
		return FindResult{Result: failure(ErrorValidation, "caller identity is required")}
	}

	existing, err := c.rooms.Membership(ctx, callerID)
	if err != nil {
		kind, msg := classify(err)
		return FindResult{Result: failure(kind, msg)}
	}
	if existing != nil {
		return FindResult{
			Result:       Result{Success: true},
			Existing:     viewOf(existing.Room),
			ExistingRole: existing.Role,
		}
	}

	rooms, err := c.rooms.FindJoinable(ctx, code)
	if err != nil {
		kind, msg := classify(err)
		return FindResult{Result: failure(kind, msg)}
	}
	return FindResult{Result: Result{Success: true}, Rooms: viewsOf(rooms)}
}

// Join takes the guest slot of a specific room, or reconnects the
// caller to a slot it already occupies.
func (c *Coordinator) Join(ctx context.Context, callerID, roomID string) JoinResult {
	if callerID == "" || roomID == "" {
		return JoinResult{Result: failure(ErrorValidation, "caller identity and room id are required")}
	}

	joined, err := c.rooms.JoinRoom(ctx, roomID, callerID)
	if err != nil {
		kind, msg := classify(err)
		return JoinResult{Result: failure(kind, msg)}
	}
	c.publishLifecycle(ctx, joined)
	return JoinResult{
		Result:   Result{Success: true},
		Role:     joined.Role,
		Rejoined: joined.Rejoined,
		Room:     viewOf(joined.Room),
	}
}

// QuickJoin matches the caller into any joinable room (optionally by
// code), retrying lost races against fresh candidates.
func (c *Coordinator) QuickJoin(ctx context.Context, callerID, code string) JoinResult {
	if callerID == "" {
		return JoinResult{Result: failure(ErrorValidation, "caller identity is required")}
	}

	joined, err := c.rooms.AutoJoin(ctx, callerID, code)
	if err != nil {
		kind, msg := classify(err)
		return JoinResult{Result: failure(kind, msg)}
	}
	c.publishLifecycle(ctx, joined)
	return JoinResult{
		Result:   Result{Success: true},
		Role:     joined.Role,
		Rejoined: joined.Rejoined,
		Room:     viewOf(joined.Room),
	}
}

func (c *Coordinator) publishLifecycle(ctx context.Context, joined *room.JoinResult) {
	if joined.Rejoined {
		return
	}
	r := joined.Room
	c.publish(ctx, r, room.Message{
		Kind:   room.MessagePlayerJoined,
		Sender: r.Guest.ID,
		State:  r.MatchState(),
	})
	if r.Status == room.StatusPlaying {
		c.publish(ctx, r, room.Message{
			Kind:  room.MessageGameStart,
			State: r.MatchState(),
		})
	}
}

// Ready records the caller's readiness; the match starts when both
// sides have signalled.
func (c *Coordinator) Ready(ctx context.Context, callerID, roomID string) ReadyResult {
	if callerID == "" || roomID == "" {
		return ReadyResult{Result: failure(ErrorValidation, "caller identity and room id are required")}
	}

	r, err := c.rooms.MarkReady(ctx, roomID, callerID)
	if err != nil {
		kind, msg := classify(err)
		return ReadyResult{Result: failure(kind, msg)}
	}

	c.publish(ctx, r, room.Message{
		Kind:   room.MessagePlayerReady,
		Sender: callerID,
		State:  r.MatchState(),
	})
	started := r.Status == room.StatusPlaying
	if started {
		c.publish(ctx, r, room.Message{
			Kind:  room.MessageGameStart,
			State: r.MatchState(),
		})
	}
	return ReadyResult{Result: Result{Success: true}, Started: started, Room: viewOf(r)}
}

// Act resolves one combat action by the caller. The whole resolution
// runs inside the store's conditional update, so the combatant pair
// read, mutated and persisted is one atomic step; losing a write race
// surfaces as a conflict rather than a silent double-apply.
func (c *Coordinator) Act(ctx context.Context, callerID, roomID string, action combat.Action) ActResult {
	if callerID == "" || roomID == "" {
		return ActResult{Result: failure(ErrorValidation, "caller identity and room id are required")}
	}
	if !combat.ValidAction(action) {
		return ActResult{Result: failure(ErrorValidation, "malformed action")}
	}

	var outcome combat.Outcome
	var winner int
	updated, err := c.rooms.Update(ctx, roomID, func(r *room.Room) error {
		if r.Terminal() {
			return errRoomEnded
		}
		if r.Status != room.StatusPlaying || !r.Full() {
			return errNotPlaying
		}
		role, ok := r.RoleOf(callerID)
		if !ok {
			return room.ErrNotParticipant
		}

		actor := r.ParticipantFor(role)
		opponent := r.OpponentOf(role)
		out, err := combat.ApplyAction(&actor.Combatant, &opponent.Combatant, action)
		if err != nil {
			return err
		}
		outcome = out

		winner = combat.CheckWinner(&r.Host.Combatant, &r.Guest.Combatant)
		if winner != 0 {
			r.Status = room.StatusEnded
			r.Winner = winner
		}
		return nil
	})
	if err != nil {
		kind, msg := classify(err)
		return ActResult{Result: failure(kind, msg)}
	}

	c.publish(ctx, updated, room.Message{
		Kind:   room.MessageAction,
		Sender: callerID,
		Action: action,
		State:  updated.MatchState(),
	})
	if winner != 0 {
		c.publish(ctx, updated, room.Message{
			Kind:  room.MessageGameOver,
			State: updated.MatchState(),
		})
		c.logger.Info("match ended",
			zap.String("room_id", updated.ID),
			zap.Int("winner", winner),
		)
	}

	return ActResult{
		Result:   Result{Success: true},
		Accepted: true,
		Outcome:  outcome,
		Winner:   winner,
		Room:     viewOf(updated),
	}
}

// Leave removes the caller from the room, forfeiting a live match
// when the leaver was required for it.
func (c *Coordinator) Leave(ctx context.Context, callerID, roomID string) LeaveResult {
	if callerID == "" || roomID == "" {
		return LeaveResult{Result: failure(ErrorValidation, "caller identity and room id are required")}
	}

	left, err := c.rooms.LeaveRoom(ctx, roomID, callerID)
	if err != nil {
		kind, msg := classify(err)
		return LeaveResult{Result: failure(kind, msg)}
	}

	c.publish(ctx, left.Room, room.Message{
		Kind:   room.MessagePlayerLeft,
		Sender: callerID,
		State:  left.Room.MatchState(),
	})
	if left.Ended {
		c.publish(ctx, left.Room, room.Message{
			Kind:  room.MessageGameOver,
			State: left.Room.MatchState(),
		})
	}
	return LeaveResult{Result: Result{Success: true}, Accepted: true, Ended: left.Ended}
}

// Poll drains relay messages newer than afterSeq for the room.
func (c *Coordinator) Poll(ctx context.Context, callerID, roomID string, afterSeq int64) PollResult {
	if callerID == "" || roomID == "" {
		return PollResult{Result: failure(ErrorValidation, "caller identity and room id are required")}
	}

	msgs, err := c.relay.Drain(ctx, roomID, afterSeq)
	if err != nil {
		kind, msg := classify(err)
		return PollResult{Result: failure(kind, msg)}
	}
	return PollResult{Result: Result{Success: true}, Messages: msgs}
}

// ListRooms returns the active rooms, newest first.
func (c *Coordinator) ListRooms(ctx context.Context) ListResult {
	rooms, err := c.rooms.ListActive(ctx, c.listLimit)
	if err != nil {
		kind, msg := classify(err)
		return ListResult{Result: failure(kind, msg)}
	}
	return ListResult{Result: Result{Success: true}, Rooms: viewsOf(rooms), Count: len(rooms)}
}

// PurgeMine deletes every room hosted by the caller.
func (c *Coordinator) PurgeMine(ctx context.Context, callerID string) PurgeResult {
	if callerID == "" {
		return PurgeResult{Result: failure(ErrorValidation, "caller identity is required")}
	}

	removed, err := c.rooms.PurgeHosted(ctx, callerID)
	if err != nil {
		kind, msg := classify(err)
		return PurgeResult{Result: failure(kind, msg)}
	}
	return PurgeResult{Result: Result{Success: true}, Removed: removed}
}

// publish hands a message to the relay; delivery failures are logged
// and swallowed because relayed state is reconstructable from the
// room document itself.
func (c *Coordinator) publish(ctx context.Context, r *room.Room, msg room.Message) {
	if err := c.relay.Publish(ctx, r.ID, msg); err != nil {
		c.logger.Warn("failed to publish relay message",
			zap.String("room_id", r.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
	}
}

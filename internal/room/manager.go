package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/retry"
)

// Lifecycle errors surfaced to the coordinator.
var (
	// ErrNoJoinableRooms means no waiting room with an open guest
	// slot matched the request.
	ErrNoJoinableRooms = errors.New("no joinable rooms available")
	// ErrNotParticipant means the caller occupies neither slot of the
	// room it tried to mutate.
	ErrNotParticipant = errors.New("caller is not a participant of this room")
	// ErrCodeSpaceExhausted means code generation kept colliding with
	// live waiting rooms.
	ErrCodeSpaceExhausted = errors.New("could not allocate an unused room code")
)

// AlreadyInRoomError rejects creating or auto-joining when the caller
// already occupies a slot in a non-terminal room. It carries the
// existing membership so clients can resume instead.
type AlreadyInRoomError struct {
	Room *Room
	Role Role
}

func (e *AlreadyInRoomError) Error() string {
	return fmt.Sprintf("already in room %s as %s", e.Room.ID, e.Role)
}

// Membership is an existing occupancy found for a caller.
type Membership struct {
	Room *Room
	Role Role
}

// JoinResult reports the slot a join resolved to.
type JoinResult struct {
	Room *Room
	Role Role
	// Rejoined is set when the caller already occupied the slot and
	// no mutation happened.
	Rejoined bool
}

// LeaveResult reports what leaving did to the room.
type LeaveResult struct {
	Room   *Room
	Ended  bool
	Winner int
}

// ManagerOptions configures a lifecycle manager.
type ManagerOptions struct {
	// AutoStart starts the match the moment the guest slot fills,
	// skipping the ready handshake.
	AutoStart bool
	// JoinRetry bounds the auto-join retry loop.
	JoinRetry retry.Policy
	Clock     clockwork.Clock
	Logger    *zap.Logger
	// CodeFunc overrides room code generation, for tests.
	CodeFunc func() string
}

// Manager orchestrates room creation, discovery, joining, leaving and
// stale reclamation. All cross-request coordination is delegated to
// the store's conditional updates; the manager itself holds no
// mutable state.
type Manager struct {
	store     Store
	clock     clockwork.Clock
	logger    *zap.Logger
	joinRetry retry.Policy
	autoStart bool
	codeFunc  func() string
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store Store, opts ManagerOptions) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	joinRetry := opts.JoinRetry
	if joinRetry.MaxAttempts == 0 {
		joinRetry = retry.Default()
	}
	codeFunc := opts.CodeFunc
	if codeFunc == nil {
		codeFunc = randomCode
	}
	return &Manager{
		store:     store,
		clock:     clock,
		logger:    logger,
		joinRetry: joinRetry,
		autoStart: opts.AutoStart,
		codeFunc:  codeFunc,
	}
}

// randomCode draws a 6-digit room code. Uniqueness is not guaranteed
// here; CreateRoom re-checks the live waiting rooms and redraws on
// collision.
func randomCode() string {
	return fmt.Sprintf("%06d", 100000+rand.IntN(900000))
}

// Membership returns the caller's existing occupancy in any
// non-terminal room, or nil.
func (m *Manager) Membership(ctx context.Context, participantID string) (*Membership, error) {
	rooms, err := m.store.FindByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	for _, r := range rooms {
		if r.Terminal() {
			continue
		}
		role, _ := r.RoleOf(participantID)
		return &Membership{Room: r, Role: role}, nil
	}
	return nil, nil
}

// CreateRoom opens a fresh waiting room hosted by hostID. A caller
// already occupying a non-terminal room gets an AlreadyInRoomError
// carrying that membership; at most one active match per participant.
func (m *Manager) CreateRoom(ctx context.Context, hostID string) (*Room, error) {
	existing, err := m.Membership(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &AlreadyInRoomError{Room: existing.Room, Role: existing.Role}
	}

	code, err := m.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	r := &Room{
		Code:   code,
		Status: StatusWaiting,
		Host:   NewParticipant(hostID, now),
	}
	if _, err := m.store.Create(ctx, r); err != nil {
		return nil, err
	}

	m.logger.Info("room created",
		zap.String("room_id", r.ID),
		zap.String("code", r.Code),
		zap.String("host", hostID),
	)
	return r, nil
}

func (m *Manager) allocateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code := m.codeFunc()
		inUse, err := m.store.FindByCode(ctx, code, StatusWaiting)
		if err != nil {
			return "", err
		}
		if len(inUse) == 0 {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// FindJoinable lists waiting rooms with an open guest slot. With a
// code it returns only rooms carrying that code; without one it
// returns every candidate, oldest first, so the earliest-created room
// is offered first.
func (m *Manager) FindJoinable(ctx context.Context, code string) ([]*Room, error) {
	rooms, err := m.store.FindByCode(ctx, code, StatusWaiting)
	if err != nil {
		return nil, err
	}
	joinable := rooms[:0]
	for _, r := range rooms {
		if r.Guest == nil {
			joinable = append(joinable, r)
		}
	}
	return joinable, nil
}

// JoinRoom atomically takes the guest slot of one specific room. The
// predicate re-checked at write time is "status is waiting and the
// guest slot is empty"; of two racing joiners exactly one wins and
// the other gets ErrConflict. A caller already occupying either slot
// is reconnected without mutation.
func (m *Manager) JoinRoom(ctx context.Context, roomID, guestID string) (*JoinResult, error) {
	current, err := m.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if role, ok := current.RoleOf(guestID); ok {
		return &JoinResult{Room: current, Role: role, Rejoined: true}, nil
	}

	now := m.clock.Now().UTC()
	updated, err := m.store.ConditionalUpdate(ctx, roomID,
		func(r *Room) bool {
			return r.Status == StatusWaiting && r.Guest == nil
		},
		func(r *Room) error {
			r.Guest = NewParticipant(guestID, now)
			if m.autoStart {
				r.Status = StatusPlaying
				r.Host.Ready = true
				r.Guest.Ready = true
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	m.logger.Info("guest joined room",
		zap.String("room_id", updated.ID),
		zap.String("guest", guestID),
		zap.String("status", string(updated.Status)),
	)
	return &JoinResult{Room: updated, Role: RoleGuest}, nil
}

// AutoJoin finds a joinable room (optionally by code) and takes its
// guest slot, retrying with backoff against a fresh candidate list
// when every candidate is lost to a race. It never spins on a single
// room. Callers already in a room are reconnected to it.
func (m *Manager) AutoJoin(ctx context.Context, guestID, code string) (*JoinResult, error) {
	if existing, err := m.Membership(ctx, guestID); err != nil {
		return nil, err
	} else if existing != nil {
		return &JoinResult{Room: existing.Room, Role: existing.Role, Rejoined: true}, nil
	}

	var result *JoinResult
	err := m.joinRetry.Do(ctx, func(attempt int) error {
		candidates, err := m.FindJoinable(ctx, code)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return retry.Stop(ErrNoJoinableRooms)
		}
		for _, candidate := range candidates {
			joined, err := m.JoinRoom(ctx, candidate.ID, guestID)
			switch {
			case err == nil:
				result = joined
				return nil
			case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
				// Lost the race or the room was reclaimed; move on
				// to the next candidate.
				continue
			default:
				return retry.Stop(err)
			}
		}
		m.logger.Debug("all join candidates contended, retrying",
			zap.Int("attempt", attempt),
			zap.Int("candidates", len(candidates)),
		)
		return ErrConflict
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update applies mutate to the room document through the store's
// conditional update path, keeping it the single mutation channel
// even for callers outside this package.
func (m *Manager) Update(ctx context.Context, roomID string, mutate func(*Room) error) (*Room, error) {
	return m.store.ConditionalUpdate(ctx, roomID, nil, mutate)
}

// MarkReady records the caller's readiness. Once both sides are ready
// the room transitions to playing.
func (m *Manager) MarkReady(ctx context.Context, roomID, participantID string) (*Room, error) {
	updated, err := m.store.ConditionalUpdate(ctx, roomID,
		func(r *Room) bool {
			return r.Status == StatusWaiting && r.Full()
		},
		func(r *Room) error {
			role, ok := r.RoleOf(participantID)
			if !ok {
				return ErrNotParticipant
			}
			r.ParticipantFor(role).Ready = true
			if r.BothReady() {
				r.Status = StatusPlaying
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if updated.Status == StatusPlaying {
		m.logger.Info("match started",
			zap.String("room_id", updated.ID),
			zap.String("host", updated.Host.ID),
			zap.String("guest", updated.Guest.ID),
		)
	}
	return updated, nil
}

// LeaveRoom removes the caller from the room. A leaving host always
// ends the room, forfeiting to the guest when a match was in
// progress. A leaving guest frees the slot and reverts the room to
// waiting with a reset match state, so the host can be joined again.
func (m *Manager) LeaveRoom(ctx context.Context, roomID, participantID string) (*LeaveResult, error) {
	var result LeaveResult
	updated, err := m.store.ConditionalUpdate(ctx, roomID,
		func(r *Room) bool {
			return !r.Terminal()
		},
		func(r *Room) error {
			role, ok := r.RoleOf(participantID)
			if !ok {
				return ErrNotParticipant
			}
			if role == RoleHost {
				if r.Status == StatusPlaying && r.Guest != nil {
					r.Winner = RoleGuest.Side()
				}
				r.Status = StatusEnded
				result.Ended = true
				result.Winner = r.Winner
				return nil
			}
			r.Guest = nil
			r.Status = StatusWaiting
			r.Winner = 0
			host := NewParticipant(r.Host.ID, r.Host.JoinedAt)
			r.Host = host
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	result.Room = updated
	m.logger.Info("participant left room",
		zap.String("room_id", roomID),
		zap.String("participant", participantID),
		zap.Bool("ended", result.Ended),
	)
	return &result, nil
}

// ReclaimStale deletes waiting rooms whose UpdatedAt is older than
// the threshold. Playing and ended rooms are never touched, so the
// sweep is safe to run concurrently with live matches. The sweep is
// externally triggered; the manager never schedules itself.
func (m *Manager) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.clock.Now().UTC().Add(-olderThan)
	stale, err := m.store.FindStale(ctx, cutoff, StatusWaiting)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, r := range stale {
		if err := m.store.Delete(ctx, r.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
		m.logger.Info("reclaimed stale room",
			zap.String("room_id", r.ID),
			zap.String("code", r.Code),
			zap.Time("last_update", r.UpdatedAt),
		)
	}
	return removed, nil
}

// PurgeHosted deletes every room hosted by the identity, regardless
// of status.
func (m *Manager) PurgeHosted(ctx context.Context, hostID string) (int, error) {
	removed, err := m.store.DeleteByHost(ctx, hostID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("purged hosted rooms",
			zap.String("host", hostID),
			zap.Int("removed", removed),
		)
	}
	return removed, nil
}

// ListActive returns up to limit waiting and playing rooms, newest
// first.
func (m *Manager) ListActive(ctx context.Context, limit int) ([]*Room, error) {
	return m.store.ListActive(ctx, limit)
}

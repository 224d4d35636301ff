package match

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pengpeng/duel-server/internal/combat"
	"github.com/pengpeng/duel-server/internal/relay"
	"github.com/pengpeng/duel-server/internal/retry"
	"github.com/pengpeng/duel-server/internal/room"
)

type fixture struct {
	coordinator *Coordinator
	relay       *relay.PushRelay
	store       *room.MemoryStore
	clock       *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := room.NewMemoryStore(clock)
	logger := zaptest.NewLogger(t)
	mgr := room.NewManager(store, room.ManagerOptions{
		Clock:     clock,
		Logger:    logger,
		JoinRetry: retry.Policy{MaxAttempts: 3},
	})
	push := relay.NewPushRelay(20, logger)
	return &fixture{
		coordinator: NewCoordinator(mgr, push, logger),
		relay:       push,
		store:       store,
		clock:       clock,
	}
}

// startMatch drives create, join and the ready handshake to a playing
// room and returns its id.
func (f *fixture) startMatch(t *testing.T, host, guest string) string {
	t.Helper()
	ctx := context.Background()

	created := f.coordinator.Create(ctx, host)
	require.True(t, created.Success, created.Error)

	joined := f.coordinator.Join(ctx, guest, created.RoomID)
	require.True(t, joined.Success, joined.Error)

	require.True(t, f.coordinator.Ready(ctx, host, created.RoomID).Success)
	ready := f.coordinator.Ready(ctx, guest, created.RoomID)
	require.True(t, ready.Success, ready.Error)
	require.True(t, ready.Started)
	return created.RoomID
}

func kinds(msgs []room.Message) []room.MessageKind {
	out := make([]room.MessageKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestCoordinator_CreateRequiresCaller(t *testing.T) {
	f := newFixture(t)

	res := f.coordinator.Create(context.Background(), "")
	assert.False(t, res.Success)
	assert.Equal(t, ErrorValidation, res.ErrorKind)
}

func TestCoordinator_CreateConflictCarriesExistingRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.coordinator.Create(ctx, "alice")
	require.True(t, first.Success)

	second := f.coordinator.Create(ctx, "alice")
	assert.False(t, second.Success)
	assert.Equal(t, ErrorConflict, second.ErrorKind)
	assert.Equal(t, first.RoomID, second.ExistingRoomID)
}

func TestCoordinator_FindByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)

	found := f.coordinator.Find(ctx, "bob", created.Code)
	require.True(t, found.Success)
	require.Len(t, found.Rooms, 1)
	assert.Equal(t, created.RoomID, found.Rooms[0].ID)
	assert.Equal(t, room.StatusWaiting, found.Rooms[0].Status)

	miss := f.coordinator.Find(ctx, "bob", "000000")
	require.True(t, miss.Success)
	assert.Empty(t, miss.Rooms)
}

func TestCoordinator_FindReturnsExistingMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)

	found := f.coordinator.Find(ctx, "alice", "")
	require.True(t, found.Success)
	assert.Empty(t, found.Rooms)
	require.NotNil(t, found.Existing)
	assert.Equal(t, created.RoomID, found.Existing.ID)
	assert.Equal(t, room.RoleHost, found.ExistingRole)
}

func TestCoordinator_JoinAndReadyHandshake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)

	joined := f.coordinator.Join(ctx, "bob", created.RoomID)
	require.True(t, joined.Success)
	assert.Equal(t, room.RoleGuest, joined.Role)
	assert.Equal(t, room.StatusWaiting, joined.Room.Status)

	hostReady := f.coordinator.Ready(ctx, "alice", created.RoomID)
	require.True(t, hostReady.Success)
	assert.False(t, hostReady.Started)

	guestReady := f.coordinator.Ready(ctx, "bob", created.RoomID)
	require.True(t, guestReady.Success)
	assert.True(t, guestReady.Started)
	assert.Equal(t, room.StatusPlaying, guestReady.Room.Status)

	msgs, err := f.relay.Drain(ctx, created.RoomID, 0)
	require.NoError(t, err)
	assert.Equal(t, []room.MessageKind{
		room.MessagePlayerJoined,
		room.MessagePlayerReady,
		room.MessagePlayerReady,
		room.MessageGameStart,
	}, kinds(msgs))
}

func TestCoordinator_JoinUnknownRoom(t *testing.T) {
	f := newFixture(t)

	res := f.coordinator.Join(context.Background(), "bob", "missing")
	assert.False(t, res.Success)
	assert.Equal(t, ErrorNotFound, res.ErrorKind)
	assert.Equal(t, "room no longer available", res.Error)
}

func TestCoordinator_QuickJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)

	joined := f.coordinator.QuickJoin(ctx, "bob", "")
	require.True(t, joined.Success)
	assert.Equal(t, created.RoomID, joined.Room.ID)
	assert.Equal(t, room.RoleGuest, joined.Role)
}

func TestCoordinator_QuickJoinNoRooms(t *testing.T) {
	f := newFixture(t)

	res := f.coordinator.QuickJoin(context.Background(), "bob", "")
	assert.False(t, res.Success)
	assert.Equal(t, ErrorNotFound, res.ErrorKind)
}

func TestCoordinator_QuickJoinReconnects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	rejoined := f.coordinator.QuickJoin(ctx, "bob", "")
	require.True(t, rejoined.Success)
	assert.True(t, rejoined.Rejoined)
	assert.Equal(t, roomID, rejoined.Room.ID)
	assert.Equal(t, room.StatusPlaying, rejoined.Room.Status)
}

func TestCoordinator_ActFullDuel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	// Both sides gather qi, then alice lands a light attack on the
	// undefended bob.
	require.True(t, f.coordinator.Act(ctx, "alice", roomID, combat.ActionAccumulate).Success)
	require.True(t, f.coordinator.Act(ctx, "bob", roomID, combat.ActionAccumulate).Success)

	final := f.coordinator.Act(ctx, "alice", roomID, combat.ActionAttackLight)
	require.True(t, final.Success, final.Error)
	assert.True(t, final.Outcome.OpponentDefeated)
	assert.Equal(t, room.RoleHost.Side(), final.Winner)
	assert.Equal(t, room.StatusEnded, final.Room.Status)

	msgs, err := f.relay.Drain(ctx, roomID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, room.MessageGameOver, last.Kind)
	require.NotNil(t, last.State)
	assert.Equal(t, room.RoleHost.Side(), last.State.Winner)
}

func TestCoordinator_ActDefenseAbsorbs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	require.True(t, f.coordinator.Act(ctx, "alice", roomID, combat.ActionAccumulate).Success)
	require.True(t, f.coordinator.Act(ctx, "bob", roomID, combat.ActionDefendNormal).Success)

	attack := f.coordinator.Act(ctx, "alice", roomID, combat.ActionAttackLight)
	require.True(t, attack.Success)
	assert.True(t, attack.Outcome.Absorbed)
	assert.False(t, attack.Outcome.OpponentDefeated)
	assert.Zero(t, attack.Winner)
	assert.Equal(t, room.StatusPlaying, attack.Room.Status)
}

func TestCoordinator_ActRuleViolations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	// No qi gathered yet.
	broke := f.coordinator.Act(ctx, "alice", roomID, combat.ActionAttackHeavy)
	assert.False(t, broke.Success)
	assert.Equal(t, ErrorRuleViolation, broke.ErrorKind)

	malformed := f.coordinator.Act(ctx, "alice", roomID, combat.Action("fireball"))
	assert.False(t, malformed.Success)
	assert.Equal(t, ErrorValidation, malformed.ErrorKind)
}

func TestCoordinator_ActBeforeMatchStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)
	require.True(t, f.coordinator.Join(ctx, "bob", created.RoomID).Success)

	res := f.coordinator.Act(ctx, "alice", created.RoomID, combat.ActionAccumulate)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorValidation, res.ErrorKind)
}

func TestCoordinator_ActByOutsider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	res := f.coordinator.Act(ctx, "mallory", roomID, combat.ActionAccumulate)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorValidation, res.ErrorKind)
}

func TestCoordinator_ActAfterMatchEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")
	require.True(t, f.coordinator.Act(ctx, "alice", roomID, combat.ActionAccumulate).Success)
	final := f.coordinator.Act(ctx, "alice", roomID, combat.ActionAttackLight)
	require.True(t, final.Success)
	require.NotZero(t, final.Winner)

	// The winner is final; a late action is rejected as terminal, not
	// silently applied.
	late := f.coordinator.Act(ctx, "bob", roomID, combat.ActionAccumulate)
	assert.False(t, late.Success)
	assert.Equal(t, ErrorTerminal, late.ErrorKind)

	got, err := f.store.GetByID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusEnded, got.Status)
	assert.Equal(t, room.RoleHost.Side(), got.Winner)
}

func TestCoordinator_LeaveForfeitsLiveMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	left := f.coordinator.Leave(ctx, "alice", roomID)
	require.True(t, left.Success)
	assert.True(t, left.Ended)

	got, err := f.store.GetByID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusEnded, got.Status)
	assert.Equal(t, room.RoleGuest.Side(), got.Winner)

	msgs, err := f.relay.Drain(ctx, roomID, 0)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, room.MessageGameOver, last.Kind)
}

func TestCoordinator_GuestLeaveReopensRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	left := f.coordinator.Leave(ctx, "bob", roomID)
	require.True(t, left.Success)
	assert.False(t, left.Ended)

	got, err := f.store.GetByID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusWaiting, got.Status)
	assert.Nil(t, got.Guest)

	// A new guest can take the freed slot.
	joined := f.coordinator.Join(ctx, "carol", roomID)
	require.True(t, joined.Success)
	assert.Equal(t, room.RoleGuest, joined.Role)
}

func TestCoordinator_PollReturnsNewMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.startMatch(t, "alice", "bob")

	all := f.coordinator.Poll(ctx, "bob", roomID, 0)
	require.True(t, all.Success)
	require.NotEmpty(t, all.Messages)

	lastSeen := all.Messages[len(all.Messages)-1].Seq
	require.True(t, f.coordinator.Act(ctx, "alice", roomID, combat.ActionAccumulate).Success)

	fresh := f.coordinator.Poll(ctx, "bob", roomID, lastSeen)
	require.True(t, fresh.Success)
	require.Len(t, fresh.Messages, 1)
	assert.Equal(t, room.MessageAction, fresh.Messages[0].Kind)
	assert.Equal(t, "alice", fresh.Messages[0].Sender)
	assert.Equal(t, combat.ActionAccumulate, fresh.Messages[0].Action)
}

func TestCoordinator_ListRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.coordinator.ListRooms(ctx)
	require.True(t, empty.Success)
	assert.Zero(t, empty.Count)

	require.True(t, f.coordinator.Create(ctx, "alice").Success)
	f.clock.Advance(time.Second)
	require.True(t, f.coordinator.Create(ctx, "bob").Success)

	listed := f.coordinator.ListRooms(ctx)
	require.True(t, listed.Success)
	assert.Equal(t, 2, listed.Count)
	// Newest first.
	assert.Equal(t, "bob", listed.Rooms[0].Host.ID)
}

func TestCoordinator_PurgeMine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.coordinator.Create(ctx, "alice")
	require.True(t, created.Success)

	purged := f.coordinator.PurgeMine(ctx, "alice")
	require.True(t, purged.Success)
	assert.Equal(t, 1, purged.Removed)

	_, err := f.store.GetByID(ctx, created.RoomID)
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestCoordinator_PollRelayEndToEnd(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := room.NewMemoryStore(clock)
	logger := zaptest.NewLogger(t)
	mgr := room.NewManager(store, room.ManagerOptions{
		Clock:     clock,
		Logger:    logger,
		JoinRetry: retry.Policy{MaxAttempts: 3},
	})
	coordinator := NewCoordinator(mgr, relay.NewPollRelay(store, 20, logger), logger)
	ctx := context.Background()

	created := coordinator.Create(ctx, "alice")
	require.True(t, created.Success)
	require.True(t, coordinator.Join(ctx, "bob", created.RoomID).Success)
	require.True(t, coordinator.Ready(ctx, "alice", created.RoomID).Success)
	require.True(t, coordinator.Ready(ctx, "bob", created.RoomID).Success)

	// The backlog rides the room document, so a poller sees the whole
	// handshake with this strategy too.
	polled := coordinator.Poll(ctx, "bob", created.RoomID, 0)
	require.True(t, polled.Success)
	assert.Equal(t, []room.MessageKind{
		room.MessagePlayerJoined,
		room.MessagePlayerReady,
		room.MessagePlayerReady,
		room.MessageGameStart,
	}, kinds(polled.Messages))
}

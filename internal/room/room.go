// Package room holds the durable match room document, the store
// abstraction it is persisted through, and the lifecycle manager that
// owns creation, joining, leaving and stale reclamation.
package room

import (
	"time"

	"github.com/pengpeng/duel-server/internal/combat"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// Role identifies which slot of a room a participant occupies.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Side returns the numeric side (1 for host, 2 for guest) used in
// winner reporting.
func (r Role) Side() int {
	if r == RoleHost {
		return 1
	}
	return 2
}

// Participant is one occupied slot of a room.
type Participant struct {
	ID        string           `json:"id"`
	JoinedAt  time.Time        `json:"joinedAt"`
	Ready     bool             `json:"ready"`
	Combatant combat.Combatant `json:"combatant"`
}

// MessageKind classifies a relayed message.
type MessageKind string

const (
	MessagePlayerJoined MessageKind = "playerJoined"
	MessagePlayerLeft   MessageKind = "playerLeft"
	MessagePlayerReady  MessageKind = "playerReady"
	MessageGameStart    MessageKind = "gameStart"
	MessageAction       MessageKind = "action"
	MessageGameOver     MessageKind = "gameOver"
)

// State is a self-describing snapshot of the match carried by every
// relayed message. Subscribers may miss intermediate messages, so a
// message must never be a delta.
type State struct {
	Status Status       `json:"status"`
	Winner int          `json:"winner"`
	Host   *Participant `json:"host,omitempty"`
	Guest  *Participant `json:"guest,omitempty"`
}

// Message is one entry of a room's bounded backlog.
type Message struct {
	Seq    int64         `json:"seq"`
	Kind   MessageKind   `json:"kind"`
	Sender string        `json:"sender,omitempty"`
	Action combat.Action `json:"action,omitempty"`
	State  *State        `json:"state,omitempty"`
	SentAt time.Time     `json:"sentAt"`
}

// Room is the durable record for one pending or active match. It is
// only ever mutated through Store.ConditionalUpdate.
type Room struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	Status    Status       `json:"status"`
	Host      *Participant `json:"host,omitempty"`
	Guest     *Participant `json:"guest,omitempty"`
	Winner    int          `json:"winner"`
	Messages  []Message    `json:"messages,omitempty"`
	NextSeq   int64        `json:"nextSeq"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`

	// Version is the store's compare-and-swap token. It never
	// travels over the wire.
	Version int64 `json:"-"`
}

// Clone returns a deep copy so callers can never alias store-owned
// documents.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	if r.Host != nil {
		host := *r.Host
		out.Host = &host
	}
	if r.Guest != nil {
		guest := *r.Guest
		out.Guest = &guest
	}
	if r.Messages != nil {
		out.Messages = make([]Message, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	return &out
}

// RoleOf returns the slot the participant occupies, if any.
func (r *Room) RoleOf(participantID string) (Role, bool) {
	if r.Host != nil && r.Host.ID == participantID {
		return RoleHost, true
	}
	if r.Guest != nil && r.Guest.ID == participantID {
		return RoleGuest, true
	}
	return "", false
}

// ParticipantFor returns the participant in the given slot.
func (r *Room) ParticipantFor(role Role) *Participant {
	if role == RoleHost {
		return r.Host
	}
	return r.Guest
}

// OpponentOf returns the other slot's participant.
func (r *Room) OpponentOf(role Role) *Participant {
	if role == RoleHost {
		return r.Guest
	}
	return r.Host
}

// Full reports whether both slots are occupied.
func (r *Room) Full() bool {
	return r.Host != nil && r.Guest != nil
}

// BothReady reports whether both occupants have signalled readiness.
func (r *Room) BothReady() bool {
	return r.Full() && r.Host.Ready && r.Guest.Ready
}

// Terminal reports whether the room can no longer accept actions.
func (r *Room) Terminal() bool {
	return r.Status == StatusEnded
}

// MatchState builds the snapshot payload relayed to clients.
func (r *Room) MatchState() *State {
	s := &State{Status: r.Status, Winner: r.Winner}
	if r.Host != nil {
		host := *r.Host
		s.Host = &host
	}
	if r.Guest != nil {
		guest := *r.Guest
		s.Guest = &guest
	}
	return s
}

// AppendMessage adds a message to the backlog, assigning the next
// sequence number and pruning the backlog to limit entries. Losing
// entries older than the prune window is accepted behavior.
func (r *Room) AppendMessage(msg Message, limit int) Message {
	r.NextSeq++
	msg.Seq = r.NextSeq
	r.Messages = append(r.Messages, msg)
	if limit > 0 && len(r.Messages) > limit {
		r.Messages = append([]Message(nil), r.Messages[len(r.Messages)-limit:]...)
	}
	return msg
}

// NewParticipant returns an occupied slot with a fresh combatant.
func NewParticipant(id string, now time.Time) *Participant {
	return &Participant{
		ID:        id,
		JoinedAt:  now,
		Combatant: combat.NewCombatant(),
	}
}

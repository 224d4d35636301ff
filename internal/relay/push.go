package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/room"
)

// PushRelay fans published messages out to live per-room
// subscriptions. Delivery is latest-wins: a slow subscriber's buffer
// is overwritten rather than blocking the publisher, which is safe
// because every message is a full snapshot. A small ring is retained
// per room so Drain works against this strategy too.
type PushRelay struct {
	mu      sync.Mutex
	rooms   map[string]*pushRoom
	retain  int
	logger  *zap.Logger
	nextSub int64
}

type pushRoom struct {
	nextSeq int64
	ring    []room.Message
	subs    map[int64]chan room.Message
}

// NewPushRelay creates a push relay retaining up to retain messages
// per room for drains.
func NewPushRelay(retain int, logger *zap.Logger) *PushRelay {
	if retain <= 0 {
		retain = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushRelay{
		rooms:  make(map[string]*pushRoom),
		retain: retain,
		logger: logger,
	}
}

func (p *PushRelay) roomState(roomID string) *pushRoom {
	pr, ok := p.rooms[roomID]
	if !ok {
		pr = &pushRoom{subs: make(map[int64]chan room.Message)}
		p.rooms[roomID] = pr
	}
	return pr
}

// Publish assigns the next sequence number and hands the message to
// every subscriber without blocking.
func (p *PushRelay) Publish(ctx context.Context, roomID string, msg room.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := p.roomState(roomID)
	pr.nextSeq++
	msg.Seq = pr.nextSeq
	pr.ring = append(pr.ring, msg)
	if len(pr.ring) > p.retain {
		pr.ring = append([]room.Message(nil), pr.ring[len(pr.ring)-p.retain:]...)
	}

	for id, ch := range pr.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber lagging: replace its pending message.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
				p.logger.Debug("dropped push message",
					zap.String("room_id", roomID),
					zap.Int64("subscriber", id),
					zap.Int64("seq", msg.Seq),
				)
			}
		}
	}
	return nil
}

// Drain serves the retained ring, so pollers keep working even when
// this deployment runs the push strategy.
func (p *PushRelay) Drain(ctx context.Context, roomID string, afterSeq int64) ([]room.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.rooms[roomID]
	if !ok {
		return nil, nil
	}
	var out []room.Message
	for _, msg := range pr.ring {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Subscribe opens a live subscription for the room. The returned
// cancel function must be called to release it. The channel holds at
// most one pending message; older pending messages are overwritten.
func (p *PushRelay) Subscribe(roomID string) (<-chan room.Message, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := p.roomState(roomID)
	p.nextSub++
	id := p.nextSub
	ch := make(chan room.Message, 1)
	pr.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := pr.subs[id]; ok && cur == ch {
			delete(pr.subs, id)
			close(ch)
		}
		if len(pr.subs) == 0 && len(pr.ring) == 0 {
			delete(p.rooms, roomID)
		}
	}
	return ch, cancel
}

// Forget drops all retained state for a room, used when the room is
// deleted or ended.
func (p *PushRelay) Forget(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.rooms[roomID]
	if !ok {
		return
	}
	for id, ch := range pr.subs {
		delete(pr.subs, id)
		close(ch)
	}
	delete(p.rooms, roomID)
}

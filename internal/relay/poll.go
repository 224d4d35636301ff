package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pengpeng/duel-server/internal/retry"
	"github.com/pengpeng/duel-server/internal/room"
)

// PollRelay appends messages to the room document's bounded backlog
// and serves drains from it. Consumers poll with their last seen
// sequence number; entries pruned past the backlog cap are lost by
// design.
type PollRelay struct {
	store   room.Store
	backlog int
	retry   retry.Policy
	logger  *zap.Logger
}

// NewPollRelay creates a poll relay over the given store, pruning the
// backlog to backlog entries (20 when zero).
func NewPollRelay(store room.Store, backlog int, logger *zap.Logger) *PollRelay {
	if backlog <= 0 {
		backlog = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollRelay{
		store:   store,
		backlog: backlog,
		// Publishing only races on the version counter, never on a
		// semantic predicate, so a short zero-delay retry suffices.
		retry:  retry.Policy{MaxAttempts: 3},
		logger: logger,
	}
}

// Publish appends the message to the room's backlog through a
// conditional update, retrying lost version races.
func (p *PollRelay) Publish(ctx context.Context, roomID string, msg room.Message) error {
	return p.retry.Do(ctx, func(attempt int) error {
		_, err := p.store.ConditionalUpdate(ctx, roomID, nil, func(r *room.Room) error {
			r.AppendMessage(msg, p.backlog)
			return nil
		})
		if errors.Is(err, room.ErrConflict) {
			p.logger.Debug("backlog append lost version race",
				zap.String("room_id", roomID),
				zap.Int("attempt", attempt),
			)
			return err
		}
		if err != nil {
			return retry.Stop(err)
		}
		return nil
	})
}

// Drain reads the room and returns backlog entries newer than
// afterSeq, oldest first.
func (p *PollRelay) Drain(ctx context.Context, roomID string, afterSeq int64) ([]room.Message, error) {
	r, err := p.store.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var out []room.Message
	for _, msg := range r.Messages {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

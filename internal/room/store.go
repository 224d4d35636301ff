package room

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Semantic store errors. These are distinct from transient
// availability failures, which are reported as *UnavailableError.
var (
	// ErrNotFound means the room does not exist (it may have been
	// reclaimed mid-operation).
	ErrNotFound = errors.New("room not found")
	// ErrConflict means a conditional update's predicate no longer
	// held at write time, or another writer won a version race.
	ErrConflict = errors.New("room state changed concurrently")
)

// UnavailableError wraps a transient store failure. Callers may retry
// these; semantic errors they must not.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Store is the durability substrate for room documents. It does not
// own rooms semantically; all invariants live in the lifecycle
// manager and coordinator. ConditionalUpdate is the sole mutation
// path and the only cross-request serialization point in the system.
type Store interface {
	// Create persists a new room and returns its identifier.
	Create(ctx context.Context, r *Room) (string, error)

	// GetByID returns the room or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Room, error)

	// FindByCode returns rooms matching the code (empty code matches
	// all) filtered by status, oldest first.
	FindByCode(ctx context.Context, code string, statuses ...Status) ([]*Room, error)

	// FindByParticipant returns rooms where the identity occupies the
	// host or guest slot, oldest first.
	FindByParticipant(ctx context.Context, participantID string) ([]*Room, error)

	// FindStale returns rooms whose UpdatedAt is older than the given
	// instant, filtered by status, oldest first.
	FindStale(ctx context.Context, olderThan time.Time, statuses ...Status) ([]*Room, error)

	// ListActive returns waiting and playing rooms, newest first,
	// capped at limit.
	ListActive(ctx context.Context, limit int) ([]*Room, error)

	// ConditionalUpdate atomically re-checks pred against the current
	// document and, if it holds, applies mutate and persists the
	// result. A failed predicate or a lost write race returns
	// ErrConflict; an error returned by mutate aborts the update and
	// is passed through unchanged. The returned room is the persisted
	// state.
	ConditionalUpdate(ctx context.Context, id string, pred func(*Room) bool, mutate func(*Room) error) (*Room, error)

	// Delete removes the room. Deleting an absent room returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteByHost removes every room hosted by the identity and
	// returns how many were removed.
	DeleteByHost(ctx context.Context, hostID string) (int, error)
}

func statusMatches(s Status, filter []Status) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if s == f {
			return true
		}
	}
	return false
}

package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore keeps room documents in process memory. It implements
// the same compare-and-swap contract as the durable stores, so the
// lifecycle manager and coordinator behave identically against it.
// Used for tests and single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	clock clockwork.Clock
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		rooms: make(map[string]*Room),
		clock: clock,
	}
}

// Create persists a new room and returns its identifier.
func (s *MemoryStore) Create(ctx context.Context, r *Room) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := r.Clone()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := s.clock.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1
	s.rooms[doc.ID] = doc
	r.ID = doc.ID
	return doc.ID, nil
}

// GetByID returns the room or ErrNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) collect(keep func(*Room) bool) []*Room {
	out := make([]*Room, 0)
	for _, doc := range s.rooms {
		if keep(doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindByCode returns rooms matching the code filtered by status,
// oldest first.
func (s *MemoryStore) FindByCode(ctx context.Context, code string, statuses ...Status) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *Room) bool {
		if code != "" && r.Code != code {
			return false
		}
		return statusMatches(r.Status, statuses)
	}), nil
}

// FindByParticipant returns rooms occupied by the identity.
func (s *MemoryStore) FindByParticipant(ctx context.Context, participantID string) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *Room) bool {
		_, ok := r.RoleOf(participantID)
		return ok
	}), nil
}

// FindStale returns rooms not touched since olderThan.
func (s *MemoryStore) FindStale(ctx context.Context, olderThan time.Time, statuses ...Status) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(r *Room) bool {
		return r.UpdatedAt.Before(olderThan) && statusMatches(r.Status, statuses)
	}), nil
}

// ListActive returns waiting and playing rooms, newest first.
func (s *MemoryStore) ListActive(ctx context.Context, limit int) ([]*Room, error) {
	s.mu.RLock()
	rooms := s.collect(func(r *Room) bool {
		return r.Status == StatusWaiting || r.Status == StatusPlaying
	})
	s.mu.RUnlock()

	// collect sorts oldest first; active listings read newest first.
	for i, j := 0, len(rooms)-1; i < j; i, j = i+1, j-1 {
		rooms[i], rooms[j] = rooms[j], rooms[i]
	}
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

// ConditionalUpdate re-checks pred and applies mutate under the store
// lock, guaranteeing exactly one winner between racing writers.
func (s *MemoryStore) ConditionalUpdate(ctx context.Context, id string, pred func(*Room) bool, mutate func(*Room) error) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	if pred != nil && !pred(doc) {
		return nil, ErrConflict
	}

	next := doc.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = doc.Version + 1
	next.UpdatedAt = s.clock.Now().UTC()
	s.rooms[id] = next
	return next.Clone(), nil
}

// Delete removes the room.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

// DeleteByHost removes every room hosted by the identity.
func (s *MemoryStore) DeleteByHost(ctx context.Context, hostID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, doc := range s.rooms {
		if doc.Host != nil && doc.Host.ID == hostID {
			delete(s.rooms, id)
			removed++
		}
	}
	return removed, nil
}

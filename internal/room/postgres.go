package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists room documents as JSONB rows with an
// optimistic version column. The version check in UPDATE ... WHERE is
// what gives ConditionalUpdate its exactly-one-winner guarantee.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a store to an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the rooms table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS duel_rooms (
			id         TEXT PRIMARY KEY,
			code       TEXT NOT NULL,
			status     TEXT NOT NULL,
			doc        JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS duel_rooms_code_status_idx ON duel_rooms (code, status);
		CREATE INDEX IF NOT EXISTS duel_rooms_updated_at_idx ON duel_rooms (updated_at);
	`)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func encodeRoom(r *Room) ([]byte, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	return doc, nil
}

func decodeRoom(doc []byte, version int64) (*Room, error) {
	var r Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	r.Version = version
	return &r, nil
}

// Create persists a new room and returns its identifier.
func (s *PostgresStore) Create(ctx context.Context, r *Room) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	doc, err := encodeRoom(r)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO duel_rooms (id, code, status, doc, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
	`, r.ID, r.Code, string(r.Status), doc, now)
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	return r.ID, nil
}

// GetByID returns the room or ErrNotFound.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Room, error) {
	var doc []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT doc, version FROM duel_rooms WHERE id = $1`, id,
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	return decodeRoom(doc, version)
}

func statusStrings(statuses []Status) []string {
	if len(statuses) == 0 {
		return []string{string(StatusWaiting), string(StatusPlaying), string(StatusEnded)}
	}
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *PostgresStore) queryRooms(ctx context.Context, query string, args ...any) ([]*Room, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, &UnavailableError{Err: err}
		}
		r, err := decodeRoom(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Err: err}
	}
	return out, nil
}

// FindByCode returns rooms matching the code filtered by status,
// oldest first.
func (s *PostgresStore) FindByCode(ctx context.Context, code string, statuses ...Status) ([]*Room, error) {
	return s.queryRooms(ctx, `
		SELECT doc, version FROM duel_rooms
		WHERE ($1 = '' OR code = $1) AND status = ANY($2)
		ORDER BY created_at ASC
	`, code, statusStrings(statuses))
}

// FindByParticipant returns rooms occupied by the identity.
func (s *PostgresStore) FindByParticipant(ctx context.Context, participantID string) ([]*Room, error) {
	return s.queryRooms(ctx, `
		SELECT doc, version FROM duel_rooms
		WHERE doc->'host'->>'id' = $1 OR doc->'guest'->>'id' = $1
		ORDER BY created_at ASC
	`, participantID)
}

// FindStale returns rooms not touched since olderThan.
func (s *PostgresStore) FindStale(ctx context.Context, olderThan time.Time, statuses ...Status) ([]*Room, error) {
	return s.queryRooms(ctx, `
		SELECT doc, version FROM duel_rooms
		WHERE updated_at < $1 AND status = ANY($2)
		ORDER BY created_at ASC
	`, olderThan.UTC(), statusStrings(statuses))
}

// ListActive returns waiting and playing rooms, newest first.
func (s *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Room, error) {
	return s.queryRooms(ctx, `
		SELECT doc, version FROM duel_rooms
		WHERE status = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, []string{string(StatusWaiting), string(StatusPlaying)}, limit)
}

// ConditionalUpdate loads the current document, re-checks pred,
// applies mutate and writes back guarded by the version it read. A
// lost version race or a failed predicate is ErrConflict.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id string, pred func(*Room) bool, mutate func(*Room) error) (*Room, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pred != nil && !pred(current) {
		return nil, ErrConflict
	}

	if err := mutate(current); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	current.UpdatedAt = now
	readVersion := current.Version
	current.Version = readVersion + 1

	doc, err := encodeRoom(current)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE duel_rooms
		SET doc = $2, code = $3, status = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6
	`, id, doc, current.Code, string(current.Status), now, readVersion)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	if tag.RowsAffected() == 0 {
		// Either another writer bumped the version or the room was
		// deleted underneath us.
		if _, getErr := s.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return current, nil
}

// Delete removes the room.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM duel_rooms WHERE id = $1`, id)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByHost removes every room hosted by the identity.
func (s *PostgresStore) DeleteByHost(ctx context.Context, hostID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM duel_rooms WHERE doc->'host'->>'id' = $1`, hostID)
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	return int(tag.RowsAffected()), nil
}

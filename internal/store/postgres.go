package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyanife/douyu-barrage-crawler/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool       *pgxpool.Pool
	roomsTable string
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL, roomsTable string) (*PostgresStore, error) {
	if err := checkIdent(roomsTable); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, roomsTable: roomsTable}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureRoomTable creates the control table if it does not exist.
func (s *PostgresStore) EnsureRoomTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			room_id VARCHAR(20) PRIMARY KEY,
			is_paused BOOLEAN NOT NULL
		)
	`, s.roomsTable))
	return err
}

// FetchDesiredRooms reads all control table rows.
func (s *PostgresStore) FetchDesiredRooms(ctx context.Context) ([]models.DesiredRoom, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT room_id, is_paused FROM %q`, s.roomsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.DesiredRoom
	for rows.Next() {
		var room models.DesiredRoom
		if err := rows.Scan(&room.RoomID, &room.Paused); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddRoom inserts a room in the running state. Returns false when the
// room already exists.
func (s *PostgresStore) AddRoom(ctx context.Context, roomID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %q (room_id, is_paused) VALUES ($1, FALSE)
		ON CONFLICT (room_id) DO NOTHING
	`, s.roomsTable), roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveRoom deletes a room. Returns false when the room was not present.
func (s *PostgresStore) RemoveRoom(ctx context.Context, roomID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %q WHERE room_id = $1`, s.roomsTable), roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetRoomPaused updates a room's paused flag. Returns false when the
// room was not present.
func (s *PostgresStore) SetRoomPaused(ctx context.Context, roomID string, paused bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %q SET is_paused = $1 WHERE room_id = $2`, s.roomsTable), paused, roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EnsureEventTable creates a room's event table if it does not exist.
func (s *PostgresStore) EnsureEventTable(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id serial PRIMARY KEY,
			userid varchar(20) NOT NULL,
			nickname varchar(100) NOT NULL,
			time timestamptz,
			payload jsonb NOT NULL
		)
	`, table))
	return err
}

// InsertEvents writes a batch of events in one round trip. Partial
// failure is reported as a single error for the whole batch.
func (s *PostgresStore) InsertEvents(ctx context.Context, table string, events []models.ChatEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := checkIdent(table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %q (userid, nickname, time, payload) VALUES ($1, $2, $3, $4::jsonb)
	`, table)

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		batch.Queue(query, ev.UserID, ev.Nickname, ev.Time, string(payload))
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cyanife/douyu-barrage-crawler/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the embedded
// alternative to PostgresStore for single-host deployments.
type SQLiteStore struct {
	db         *sql.DB
	roomsTable string
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/barrage.db".
func NewSQLiteStore(ctx context.Context, dbPath, roomsTable string) (*SQLiteStore, error) {
	if err := checkIdent(roomsTable); err != nil {
		return nil, err
	}
	if dbPath == "" {
		dbPath = "./data/barrage.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, roomsTable: roomsTable}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureRoomTable creates the control table if it does not exist.
func (s *SQLiteStore) EnsureRoomTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			room_id TEXT PRIMARY KEY,
			is_paused INTEGER NOT NULL
		)
	`, s.roomsTable))
	return err
}

// FetchDesiredRooms reads all control table rows.
func (s *SQLiteStore) FetchDesiredRooms(ctx context.Context) ([]models.DesiredRoom, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
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
func (s *SQLiteStore) AddRoom(ctx context.Context, roomID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %q (room_id, is_paused) VALUES (?, 0)
	`, s.roomsTable), roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveRoom deletes a room. Returns false when the room was not present.
func (s *SQLiteStore) RemoveRoom(ctx context.Context, roomID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %q WHERE room_id = ?`, s.roomsTable), roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRoomPaused updates a room's paused flag. Returns false when the
// room was not present.
func (s *SQLiteStore) SetRoomPaused(ctx context.Context, roomID string, paused bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET is_paused = ? WHERE room_id = ?`, s.roomsTable), paused, roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EnsureEventTable creates a room's event table if it does not exist.
func (s *SQLiteStore) EnsureEventTable(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			userid TEXT NOT NULL,
			nickname TEXT NOT NULL,
			time DATETIME,
			payload TEXT NOT NULL
		)
	`, table))
	return err
}

// InsertEvents writes a batch of events inside one transaction. Partial
// failure is reported as a single error for the whole batch.
func (s *SQLiteStore) InsertEvents(ctx context.Context, table string, events []models.ChatEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := checkIdent(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (userid, nickname, time, payload) VALUES (?, ?, ?, ?)
	`, table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.UserID, ev.Nickname, ev.Time, string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

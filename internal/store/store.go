package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/cyanife/douyu-barrage-crawler/internal/models"
)

// Store defines the relational storage consumed by the crawler: the
// operator-managed control table of desired rooms, and one event table
// per crawled room. Both PostgresStore and SQLiteStore implement this
// interface. Implementations must be safe for concurrent batched writes
// from many sessions.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Control table (desired state)
	EnsureRoomTable(ctx context.Context) error
	FetchDesiredRooms(ctx context.Context) ([]models.DesiredRoom, error)
	AddRoom(ctx context.Context, roomID string) (bool, error)
	RemoveRoom(ctx context.Context, roomID string) (bool, error)
	SetRoomPaused(ctx context.Context, roomID string, paused bool) (bool, error)

	// Event tables (one per room)
	EnsureEventTable(ctx context.Context, table string) error
	InsertEvents(ctx context.Context, table string, events []models.ChatEvent) error
}

// identPattern restricts interpolated table names. Room ids are numeric
// strings, so prefix_roomid never needs anything beyond this.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EventTable returns the event table name for a room.
func EventTable(prefix, roomID string) string {
	return prefix + "_" + roomID
}

// ValidIdent reports whether s is usable as a quoted SQL identifier.
func ValidIdent(s string) bool {
	return identPattern.MatchString(s)
}

func checkIdent(s string) error {
	if !ValidIdent(s) {
		return fmt.Errorf("store: invalid table name %q", s)
	}
	return nil
}

// roomctl manages the crawler's control table: the set of rooms the
// fleet should monitor and their pause flags.
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/cyanife/douyu-barrage-crawler/internal/config"
	"github.com/cyanife/douyu-barrage-crawler/internal/store"
)

var roomIDPattern = regexp.MustCompile(`^[0-9]{1,20}$`)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: roomctl <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  migrate          create the control table")
	fmt.Fprintln(os.Stderr, "  list             list rooms and their states")
	fmt.Fprintln(os.Stderr, "  start <roomid>   add a room in the running state")
	fmt.Fprintln(os.Stderr, "  stop <roomid>    remove a room")
	fmt.Fprintln(os.Stderr, "  pause <roomid>   pause a room")
	fmt.Fprintln(os.Stderr, "  resume <roomid>  resume a paused room")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch cmd {
	case "migrate":
		if err := st.EnsureRoomTable(ctx); err != nil {
			fail("Migration failed: %v", err)
		}
		fmt.Println("Migration finished!")
	case "list":
		rooms, err := st.FetchDesiredRooms(ctx)
		if err != nil {
			fail("Failed to list rooms: %v", err)
		}
		for _, room := range rooms {
			status := "RUNNING"
			if room.Paused {
				status = "PAUSED"
			}
			fmt.Printf("Room ID: %s, Status: %s\n", room.RoomID, status)
		}
	case "start":
		roomID := roomArg()
		added, err := st.AddRoom(ctx, roomID)
		if err != nil {
			fail("Failed to start room: %v", err)
		}
		if !added {
			fail("Room ID: %s has already started.", roomID)
		}
		fmt.Printf("Room ID: %s, Status: RUNNING\n", roomID)
	case "stop":
		roomID := roomArg()
		removed, err := st.RemoveRoom(ctx, roomID)
		if err != nil {
			fail("Failed to stop room: %v", err)
		}
		if !removed {
			fail("Room not found. ID: %s", roomID)
		}
		fmt.Printf("Crawler stopped. Room ID: %s\n", roomID)
	case "pause", "resume":
		roomID := roomArg()
		paused := cmd == "pause"
		found, err := st.SetRoomPaused(ctx, roomID, paused)
		if err != nil {
			fail("Failed to update room: %v", err)
		}
		if !found {
			fail("Room not found. ID: %s", roomID)
		}
		status := "RUNNING"
		if paused {
			status = "PAUSED"
		}
		fmt.Printf("Room ID: %s, Status: %s\n", roomID, status)
	default:
		usage()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.RoomsTable)
	}
	return store.NewSQLiteStore(ctx, cfg.SQLitePath, cfg.RoomsTable)
}

func roomArg() string {
	if len(os.Args) < 3 {
		usage()
	}
	roomID := os.Args[2]
	if !roomIDPattern.MatchString(roomID) {
		fail("Invalid room id %q: must be 1-20 digits", roomID)
	}
	return roomID
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

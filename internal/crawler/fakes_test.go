package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cyanife/douyu-barrage-crawler/internal/models"
)

var errFakeClosed = errors.New("fake transport: closed")

// fakeTransport is an in-memory Transport. Frames pushed on frames come
// out of Receive; a nil frame simulates a clean close from the peer.
type fakeTransport struct {
	frames chan []byte

	mu      sync.Mutex
	open    bool
	opens   int
	openErr error
	sent    [][]byte
	closeCh chan struct{} // re-armed on every Open
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (t *fakeTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	t.open = true
	t.opens++
	t.closeCh = make(chan struct{})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.open = false
		close(t.closeCh)
	}
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errFakeClosed
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	closeCh := t.closeCh
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, errFakeClosed
	}
	select {
	case frame := <-t.frames:
		return frame, nil
	case <-closeCh:
		return nil, errFakeClosed
	}
}

func (t *fakeTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// fakeStore is an in-memory Store. Inserted batches are echoed on
// batches so tests can wait for them.
type fakeStore struct {
	batches chan []models.ChatEvent

	mu       sync.Mutex
	rooms    []models.DesiredRoom
	fetchErr error
	ensured  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: make(chan []models.ChatEvent, 16)}
}

func (s *fakeStore) setRooms(rooms []models.DesiredRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = rooms
}

func (s *fakeStore) setFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

func (s *fakeStore) Close()                         {}
func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) EnsureRoomTable(ctx context.Context) error { return nil }

func (s *fakeStore) FetchDesiredRooms(ctx context.Context) ([]models.DesiredRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]models.DesiredRoom(nil), s.rooms...), nil
}

func (s *fakeStore) AddRoom(ctx context.Context, roomID string) (bool, error) { return true, nil }
func (s *fakeStore) RemoveRoom(ctx context.Context, roomID string) (bool, error) {
	return true, nil
}
func (s *fakeStore) SetRoomPaused(ctx context.Context, roomID string, paused bool) (bool, error) {
	return true, nil
}

func (s *fakeStore) EnsureEventTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, table)
	return nil
}

func (s *fakeStore) InsertEvents(ctx context.Context, table string, events []models.ChatEvent) error {
	s.batches <- events
	return nil
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

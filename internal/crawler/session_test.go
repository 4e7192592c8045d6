package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyanife/douyu-barrage-crawler/internal/stt"
)

func testSession(t *testing.T, ft *fakeTransport, fs *fakeStore) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		RoomID:            "100",
		Username:          "0",
		UID:               "0",
		EventType:         "chatmsg",
		Table:             "chatmsg_100",
		HeartbeatInterval: time.Hour, // keep the keepalive out of the way
	}, ft, fs, nil, zerolog.Nop())
}

func parseSent(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	bodies := stt.Unpack(frame)
	if len(bodies) != 1 {
		t.Fatalf("sent frame contains %d bodies", len(bodies))
	}
	m, ok := stt.Parse(bodies[0]).(map[string]any)
	if !ok {
		t.Fatalf("sent body %q is not a mapping", bodies[0])
	}
	return m
}

func TestSessionLoginSequence(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)
	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return len(ft.sentFrames()) >= 2 }, "login sequence")

	sent := ft.sentFrames()
	login := parseSent(t, sent[0])
	if login["type"] != "loginreq" || login["room_id"] != "100" || login["uid"] != "0" {
		t.Errorf("login = %#v", login)
	}
	join := parseSent(t, sent[1])
	if join["type"] != "joingroup" || join["gid"] != "-9999" || join["rid"] != "100" {
		t.Errorf("join = %#v", join)
	}

	// The room's event table was prepared before connecting.
	fs.mu.Lock()
	ensured := append([]string(nil), fs.ensured...)
	fs.mu.Unlock()
	if len(ensured) == 0 || ensured[0] != "chatmsg_100" {
		t.Errorf("ensured tables = %v", ensured)
	}
}

func TestSessionStoresMatchingEvents(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)
	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, ft.isOpen, "connect")

	// One matching message, one gift message to be filtered out.
	frame := append(
		stt.Pack("type@=chatmsg/uid@=42/nn@=Alice/cst@=1700000000/"),
		stt.Pack("type@=dgb/uid@=9/")...,
	)
	ft.frames <- frame

	select {
	case batch := <-fs.batches:
		if len(batch) != 1 {
			t.Fatalf("batch size = %d, want 1", len(batch))
		}
		ev := batch[0]
		if ev.UserID != "42" || ev.Nickname != "Alice" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Time == nil || ev.Time.Unix() != 1700000000 {
			t.Errorf("event time = %v", ev.Time)
		}
	case <-time.After(time.Second):
		t.Fatal("no batch stored")
	}
}

func TestSessionStopBeforeConnect(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = errors.New("gateway unreachable")
	fs := newFakeStore()
	s := testSession(t, ft, fs)

	runDone := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(runDone)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	if ft.isOpen() {
		t.Error("transport left open")
	}
}

func TestSessionStopClosesTransport(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)
	go s.Run(context.Background())

	waitFor(t, time.Second, ft.isOpen, "connect")
	s.Stop()
	if ft.isOpen() {
		t.Error("transport still open after Stop")
	}
	// Stop is idempotent.
	s.Stop()
}

func TestPauseResumeIdempotent(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)

	if s.Paused() {
		t.Fatal("new session should not be paused")
	}
	s.Pause()
	s.Pause()
	if !s.Paused() {
		t.Error("Paused() = false after Pause")
	}
	s.Resume()
	s.Resume()
	if s.Paused() {
		t.Error("Paused() = true after Resume")
	}
}

func TestSessionPauseSendsLogoutAndReconnectsOnResume(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)
	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, ft.isOpen, "connect")

	s.Pause()
	// The gate is observed at the top of the receive loop; deliver one
	// more frame so the loop wakes and sees it.
	ft.frames <- stt.Pack("type@=chatmsg/uid@=1/nn@=Bob/cst@=1700000001/")
	<-fs.batches // loop-top semantics: the in-flight frame is still stored

	waitFor(t, time.Second, func() bool {
		for _, frame := range ft.sentFrames() {
			for _, body := range stt.Unpack(frame) {
				if m, ok := stt.Parse(body).(map[string]any); ok && m["type"] == "logout" {
					return true
				}
			}
		}
		return false
	}, "logout after pause")

	if !s.Paused() {
		t.Error("session should report paused")
	}

	opensBefore := ft.openCount()
	s.Resume()
	waitFor(t, time.Second, func() bool { return ft.openCount() > opensBefore }, "reconnect after resume")
}

func TestSessionReconnectsAfterCleanClose(t *testing.T) {
	ft := newFakeTransport()
	fs := newFakeStore()
	s := testSession(t, ft, fs)
	go s.Run(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, ft.isOpen, "connect")
	ft.frames <- nil // clean close from the peer
	waitFor(t, time.Second, func() bool { return ft.openCount() >= 2 }, "reconnect")
}

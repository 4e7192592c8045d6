// Package crawler contains the per-room session state machine and the
// fleet controller that reconciles live sessions against the desired
// state declared in the control table.
package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyanife/douyu-barrage-crawler/internal/metrics"
	"github.com/cyanife/douyu-barrage-crawler/internal/models"
	"github.com/cyanife/douyu-barrage-crawler/internal/store"
	"github.com/cyanife/douyu-barrage-crawler/internal/stt"
	"github.com/cyanife/douyu-barrage-crawler/internal/transport"
)

const (
	maxBackoff  = 30 * time.Second
	baseBackoff = time.Second
)

// errLoopDone marks a task that ended for a normal reason (pause, clean
// close). It cancels the session's task group like an error would, but
// is swallowed before it reaches the retry loop.
var errLoopDone = errors.New("session: loop ended")

// SessionConfig carries the per-room and gateway-identity knobs of one
// session.
type SessionConfig struct {
	RoomID            string
	Username          string
	UID               string
	EventType         string // STT "type" value to persist
	Table             string // event table for this room
	HeartbeatInterval time.Duration
}

// Session owns one room's transport connection and runs the
// connect/login/receive/heartbeat cycle until stopped. Pause is an
// orthogonal flag observed at the top of the retry and receive loops,
// never mid-operation.
type Session struct {
	cfg    SessionConfig
	tr     transport.Transport
	store  store.Store
	redis  *store.RedisStore // optional fan-out, may be nil
	logger zerolog.Logger

	// Precomputed wire frames.
	loginMsg     []byte
	joinMsg      []byte
	heartbeatMsg []byte
	logoutMsg    []byte

	// connMu makes the closed-check atomic with connection setup, so
	// Stop never closes a transport that is mid-connect.
	connMu sync.Mutex

	stateMu sync.Mutex
	closed  bool
	pauseCh chan struct{} // non-nil while paused, closed on resume

	closeCh chan struct{} // closed by Stop
	done    chan struct{} // closed when Run exits
}

// NewSession creates a session. Run must be called exactly once; redis
// may be nil.
func NewSession(cfg SessionConfig, tr transport.Transport, st store.Store, redis *store.RedisStore, logger zerolog.Logger) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}
	return &Session{
		cfg:    cfg,
		tr:     tr,
		store:  st,
		redis:  redis,
		logger: logger.With().Str("room", cfg.RoomID).Logger(),
		loginMsg: stt.Pack(stt.Render([]stt.Field{
			{Key: "type", Value: "loginreq"},
			{Key: "dfl", Value: "sn@=105/ss@=1/"},
			{Key: "ver", Value: "20190610"},
			{Key: "aver", Value: "218101901"},
			{Key: "ct", Value: "0"},
			{Key: "room_id", Value: cfg.RoomID},
			{Key: "username", Value: cfg.Username},
			{Key: "uid", Value: cfg.UID},
		})),
		joinMsg: stt.Pack(stt.Render([]stt.Field{
			{Key: "type", Value: "joingroup"},
			{Key: "gid", Value: "-9999"},
			{Key: "rid", Value: cfg.RoomID},
		})),
		heartbeatMsg: stt.Pack(stt.Render([]stt.Field{{Key: "type", Value: "mrkl"}})),
		logoutMsg:    stt.Pack(stt.Render([]stt.Field{{Key: "type", Value: "logout"}})),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// RoomID returns the session's room identifier.
func (s *Session) RoomID() string {
	return s.cfg.RoomID
}

// Run executes the retry loop until Stop is called or ctx ends. Table
// preparation or connect failures re-enter the loop with capped
// exponential backoff; an established session that ends resets the
// backoff.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	backoff := baseBackoff

	for {
		s.logger.Info().Msg("initializing session")
		if !s.waitWhilePaused(ctx) {
			return
		}

		s.connMu.Lock()
		if s.isClosed() {
			s.connMu.Unlock()
			s.logger.Info().Msg("session closing")
			return
		}
		err := s.connect(ctx)
		s.connMu.Unlock()

		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warn().Err(err).Msg("connect failed")
			if !s.sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = baseBackoff
		s.logger.Info().Msg("connected, receiving messages")

		if err := s.active(ctx); err != nil {
			s.logger.Error().Err(err).Msg("session error")
		}
		s.tr.Close()
		s.logger.Info().Msg("session ended, restarting or closing")
	}
}

// connect prepares the room's event table, opens the transport, and runs
// the login sequence. Callers hold connMu.
func (s *Session) connect(ctx context.Context) error {
	if err := s.store.EnsureEventTable(ctx, s.cfg.Table); err != nil {
		return err
	}
	metrics.Reconnects.WithLabelValues(s.cfg.RoomID).Inc()
	if err := s.tr.Open(ctx); err != nil {
		return err
	}
	// Login must complete before joingroup; both before receiving.
	if err := s.tr.Send(s.loginMsg); err != nil {
		s.tr.Close()
		return err
	}
	if err := s.tr.Send(s.joinMsg); err != nil {
		s.tr.Close()
		return err
	}
	return nil
}

// active runs the receive and heartbeat tasks until either completes,
// then cancels and joins the other. Whatever ends first wins: the group
// context cancels, the watcher closes the transport to unblock a pending
// Receive, and both tasks are joined before returning. Only errors that
// are neither cancellation nor a normal loop end are reported.
func (s *Session) active(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.receiveLoop(gctx); err != nil {
			return err
		}
		return errLoopDone
	})
	g.Go(func() error {
		return s.heartbeatLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.tr.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errLoopDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receiveLoop reads reassembled frames, decodes them, and hands matching
// events to storage in batches. It ends with a best-effort logout when
// the pause gate arms, and ends silently on a clean close or once the
// session is cancelled or stopped.
func (s *Session) receiveLoop(ctx context.Context) error {
	for !s.Paused() {
		frame, err := s.tr.Receive()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}
		if frame == nil {
			// clean close from the gateway
			return nil
		}
		metrics.FramesReceived.WithLabelValues(s.cfg.RoomID).Inc()

		events := s.decode(frame)
		if len(events) == 0 {
			continue
		}
		s.saveBatch(ctx, events)
	}
	_ = s.tr.Send(s.logoutMsg)
	return nil
}

// heartbeatLoop sends the keepalive on a fixed cadence until cancelled.
func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := s.tr.Send(s.heartbeatMsg); err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return ctx.Err()
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// decode extracts all STT messages from a frame and keeps those whose
// type matches the configured event type.
func (s *Session) decode(frame []byte) []models.ChatEvent {
	var events []models.ChatEvent
	for _, body := range stt.Unpack(frame) {
		m, ok := stt.Parse(body).(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != s.cfg.EventType {
			continue
		}
		events = append(events, models.EventFromPayload(m))
	}
	return events
}

// saveBatch inserts one batch of events; failures are logged and the
// batch is dropped, never re-queued. The redis fan-out is best-effort.
func (s *Session) saveBatch(ctx context.Context, events []models.ChatEvent) {
	start := time.Now()
	if err := s.store.InsertEvents(ctx, s.cfg.Table, events); err != nil {
		metrics.InsertFailures.WithLabelValues(s.cfg.RoomID).Inc()
		s.logger.Error().Err(err).Int("events", len(events)).Msg("insert failed, dropping batch")
		return
	}
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	metrics.EventsStored.WithLabelValues(s.cfg.RoomID).Add(float64(len(events)))

	if s.redis != nil {
		if err := s.redis.PublishEvents(ctx, s.cfg.RoomID, events); err != nil {
			s.logger.Debug().Err(err).Msg("redis publish failed")
		}
	}
}

// Pause arms the pause gate. Idempotent.
func (s *Session) Pause() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.pauseCh == nil {
		s.pauseCh = make(chan struct{})
	}
}

// Resume disarms the pause gate, waking anything waiting on it. The next
// Pause arms a fresh gate, so a stale waiter can never observe a later
// resume. Idempotent.
func (s *Session) Resume() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.pauseCh != nil {
		close(s.pauseCh)
		s.pauseCh = nil
	}
}

// Paused reports whether the pause gate is armed.
func (s *Session) Paused() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.pauseCh != nil
}

func (s *Session) isClosed() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closed
}

// waitWhilePaused blocks while the pause gate is armed. It returns false
// when the session should exit instead of reconnecting.
func (s *Session) waitWhilePaused(ctx context.Context) bool {
	for {
		s.stateMu.Lock()
		closed, ch := s.closed, s.pauseCh
		s.stateMu.Unlock()
		if closed {
			return false
		}
		if ch == nil {
			return ctx.Err() == nil
		}
		s.logger.Info().Msg("paused")
		select {
		case <-ch:
		case <-s.closeCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// sleep waits for d, ending early when the session is stopped or ctx
// ends. Returns false when the session should exit.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.closeCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop terminates the session and waits until the retry loop has fully
// exited, so callers can rely on no further transport or storage
// activity. The transport close takes the same lock as connect, so a
// mid-flight connection setup always completes or aborts before it is
// torn down. Idempotent.
func (s *Session) Stop() {
	s.stateMu.Lock()
	first := !s.closed
	s.closed = true
	s.stateMu.Unlock()

	if first {
		close(s.closeCh)
		s.connMu.Lock()
		s.tr.Close()
		s.connMu.Unlock()
	}
	<-s.done
}

package crawler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyanife/douyu-barrage-crawler/internal/config"
	"github.com/cyanife/douyu-barrage-crawler/internal/metrics"
	"github.com/cyanife/douyu-barrage-crawler/internal/store"
	"github.com/cyanife/douyu-barrage-crawler/internal/transport"
)

// Fleet keeps the set of live room sessions in sync with the desired
// rooms declared in the control table. It owns the lifetime of every
// session it creates.
type Fleet struct {
	store      store.Store
	logger     zerolog.Logger
	interval   time.Duration
	newSession func(roomID string) *Session

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup // session Run goroutines and async stops
}

// NewFleet creates a fleet controller. Sessions it spawns dial the
// gateway configured in cfg and persist through st; redis may be nil.
func NewFleet(st store.Store, redis *store.RedisStore, cfg *config.Config, logger zerolog.Logger) *Fleet {
	f := &Fleet{
		store:    st,
		logger:   logger,
		interval: cfg.PollInterval,
		sessions: make(map[string]*Session),
	}
	f.newSession = func(roomID string) *Session {
		return NewSession(SessionConfig{
			RoomID:            roomID,
			Username:          cfg.Username,
			UID:               cfg.UID,
			EventType:         cfg.EventType,
			Table:             store.EventTable(cfg.TablePrefix, roomID),
			HeartbeatInterval: cfg.HeartbeatInterval,
		}, transport.NewGateway(cfg.GatewayHost, cfg.GatewayPortMin, cfg.GatewayPortMax), st, redis, logger)
	}
	return f
}

// SessionState is a point-in-time view of one live session.
type SessionState struct {
	RoomID string `json:"room_id"`
	Paused bool   `json:"paused"`
}

// Snapshot returns the live sessions ordered by room id.
func (f *Fleet) Snapshot() []SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make([]SessionState, 0, len(f.sessions))
	for id, sess := range f.sessions {
		states = append(states, SessionState{RoomID: id, Paused: sess.Paused()})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].RoomID < states[j].RoomID })
	return states
}

// Run polls the control table on a fixed cadence and reconciles until
// ctx ends, then stops every live session and waits for all of them to
// finish.
func (f *Fleet) Run(ctx context.Context) {
	f.logger.Info().Dur("interval", f.interval).Msg("starting fleet controller")
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return
		case <-ticker.C:
			f.reconcile(ctx)
		}
	}
}

// reconcile applies one diff of desired state against live sessions:
// absent rooms are stopped, paused flags are synced, new rooms are
// started. A failed fetch skips the tick; a transient control-table
// outage must not take the fleet down.
func (f *Fleet) reconcile(ctx context.Context) {
	rooms, err := f.store.FetchDesiredRooms(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ReconcileFailures.Inc()
		f.logger.Warn().Err(err).Msg("desired-state fetch failed, skipping tick")
		return
	}

	desired := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		desired[room.RoomID] = room.Paused
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Removed: stop asynchronously, the tick does not wait on shutdown.
	for id, sess := range f.sessions {
		if _, ok := desired[id]; ok {
			continue
		}
		delete(f.sessions, id)
		f.logger.Info().Str("room", id).Msg("room removed, stopping session")
		f.wg.Add(1)
		go func(sess *Session) {
			defer f.wg.Done()
			sess.Stop()
		}(sess)
	}

	// Updated and added.
	for _, room := range rooms {
		if sess, ok := f.sessions[room.RoomID]; ok {
			if sess.Paused() != room.Paused {
				if room.Paused {
					f.logger.Info().Str("room", room.RoomID).Msg("pausing session")
					sess.Pause()
				} else {
					f.logger.Info().Str("room", room.RoomID).Msg("resuming session")
					sess.Resume()
				}
			}
			continue
		}

		sess := f.newSession(room.RoomID)
		if room.Paused {
			sess.Pause()
		}
		f.sessions[room.RoomID] = sess
		f.logger.Info().Str("room", room.RoomID).Bool("paused", room.Paused).Msg("room added, starting session")
		f.wg.Add(1)
		go func(sess *Session) {
			defer f.wg.Done()
			sess.Run(ctx)
		}(sess)
	}

	metrics.SessionsActive.Set(float64(len(f.sessions)))
	metrics.ReconcileTicks.Inc()
}

// shutdown stops all live sessions concurrently and waits for every
// session goroutine to exit.
func (f *Fleet) shutdown() {
	f.mu.Lock()
	sessions := f.sessions
	f.sessions = make(map[string]*Session)
	f.mu.Unlock()

	f.logger.Info().Int("sessions", len(sessions)).Msg("stopping fleet")
	var stops sync.WaitGroup
	for _, sess := range sessions {
		stops.Add(1)
		go func(sess *Session) {
			defer stops.Done()
			sess.Stop()
		}(sess)
	}
	stops.Wait()
	f.wg.Wait()
	metrics.SessionsActive.Set(0)
	f.logger.Info().Msg("fleet stopped")
}

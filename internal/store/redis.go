package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cyanife/douyu-barrage-crawler/internal/models"
)

const eventTTL = 24 * time.Hour

// RedisStore keeps a rolling window of recent events per room so live
// dashboards can read without touching the relational store. It is an
// optional sidecar to Store, not part of the interface; all writes are
// best-effort.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomEventsKey returns the key for a room's recent-event sorted set.
func roomEventsKey(roomID string) string {
	return fmt.Sprintf("room:%s:events", roomID)
}

// publishedEvent is the fan-out wire shape: the event plus a sortable
// ingest id.
type publishedEvent struct {
	ID string `json:"id"` // ULID
	models.ChatEvent
}

// PublishEvents adds a batch of events to the room's sorted set, scored
// by event time (ingest time when the event carries none), and refreshes
// the window TTL.
func (s *RedisStore) PublishEvents(ctx context.Context, roomID string, events []models.ChatEvent) error {
	if len(events) == 0 {
		return nil
	}
	key := roomEventsKey(roomID)

	members := make([]redis.Z, 0, len(events))
	for _, ev := range events {
		score := time.Now().UnixMilli()
		if ev.Time != nil {
			score = ev.Time.UnixMilli()
		}
		data, err := json.Marshal(publishedEvent{ID: ulid.Make().String(), ChatEvent: ev})
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(score), Member: string(data)})
	}

	if err := s.client.ZAdd(ctx, key, members...).Err(); err != nil {
		return err
	}
	s.client.Expire(ctx, key, eventTTL)
	return nil
}

// RecentEvents returns up to limit most recent events for a room, newest
// first.
func (s *RedisStore) RecentEvents(ctx context.Context, roomID string, limit int) ([]models.ChatEvent, error) {
	raw, err := s.client.ZRevRange(ctx, roomEventsKey(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.ChatEvent, 0, len(raw))
	for _, item := range raw {
		var ev publishedEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue // skip malformed entries
		}
		events = append(events, ev.ChatEvent)
	}
	return events, nil
}

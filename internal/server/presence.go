package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records TTL-based "user is active in room" markers. Presence is
// best-effort: store failures are logged and swallowed, never surfaced to
// message handling.
type Presence interface {
	Touch(ctx context.Context, user, room string)
	Clear(ctx context.Context, user, room string)
}

func presenceKey(user, room string) string {
	return "presence:user:" + user + ":" + room
}

// RedisPresence stores presence markers in Redis with a TTL that is
// refreshed on every inbound activity.
type RedisPresence struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPresence wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisPresence(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: ttl, logger: logger}
}

// Touch refreshes the marker's TTL, creating it if absent.
func (p *RedisPresence) Touch(ctx context.Context, user, room string) {
	if err := p.rdb.Set(ctx, presenceKey(user, room), "1", p.ttl).Err(); err != nil {
		p.logger.Debug("presence refresh failed", "user", user, "room", room, "error", err)
	}
}

// Clear deletes the marker on disconnect.
func (p *RedisPresence) Clear(ctx context.Context, user, room string) {
	if err := p.rdb.Del(ctx, presenceKey(user, room)).Err(); err != nil {
		p.logger.Debug("presence delete failed", "user", user, "room", room, "error", err)
	}
}

// NoopPresence disables presence tracking; used when no store is
// configured and by tests.
type NoopPresence struct{}

// Touch implements Presence.
func (NoopPresence) Touch(context.Context, string, string) {}

// Clear implements Presence.
func (NoopPresence) Clear(context.Context, string, string) {}

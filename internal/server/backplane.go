package server

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Backplane is the shared channel layer connecting all server processes.
type Backplane interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (BackplaneSub, error)
}

// BackplaneSub is one open subscription to a single channel.
type BackplaneSub interface {
	// Receive blocks until the next payload arrives, the subscription is
	// closed, or ctx is cancelled.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

var errSubscriptionClosed = errors.New("backplane subscription closed")

// channelForRoom derives the backplane channel name for a room.
func channelForRoom(room string) string {
	return "room:" + room
}

// RedisBackplane implements Backplane over Redis pub/sub.
type RedisBackplane struct {
	rdb *redis.Client
}

// NewRedisBackplane wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisBackplane(rdb *redis.Client) *RedisBackplane {
	return &RedisBackplane{rdb: rdb}
}

// Publish sends the payload to every subscriber of the channel, on any
// process. Delivery is at-most-once: with zero subscribers the message is
// dropped.
func (b *RedisBackplane) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription and confirms it with the server, so
// transport failures surface here rather than on the first Receive.
func (b *RedisBackplane) Subscribe(ctx context.Context, channel string) (BackplaneSub, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return &redisSub{pubsub: pubsub}, nil
}

type redisSub struct {
	pubsub *redis.PubSub
}

func (s *redisSub) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}

// MemoryBackplane is an in-process Backplane for single-process
// deployments and tests. Its ordering and at-most-once semantics match the
// Redis implementation.
type MemoryBackplane struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
}

// NewMemoryBackplane creates an empty in-process backplane.
func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers the payload to every current subscriber of the channel.
// A subscriber whose buffer is full misses the message.
func (b *MemoryBackplane) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]*memorySub, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// SubscriberCount reports how many subscriptions are open on the channel.
func (b *MemoryBackplane) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Subscribe opens a buffered subscription to the channel.
func (b *MemoryBackplane) Subscribe(_ context.Context, channel string) (BackplaneSub, error) {
	s := &memorySub{
		bp:      b,
		channel: channel,
		ch:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*memorySub]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

type memorySub struct {
	bp        *MemoryBackplane
	channel   string
	ch        chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *memorySub) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-s.closed:
		return nil, errSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySub) Close() error {
	s.closeOnce.Do(func() {
		s.bp.mu.Lock()
		if set := s.bp.subs[s.channel]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bp.subs, s.channel)
			}
		}
		s.bp.mu.Unlock()
		close(s.closed)
	})
	return nil
}

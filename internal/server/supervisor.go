package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBackoffFloor = time.Second
	defaultBackoffCap   = 10 * time.Second
)

// Supervisor owns at most one live subscriber task per room in this
// process. Tasks are started by the first local connection to a room and
// stopped once the registry reports the room empty. Reference counting is
// implicit: the registry's Count is the single source of truth, re-read at
// every decision point.
type Supervisor struct {
	registry  *Registry
	backplane Backplane
	logger    *slog.Logger

	backoffFloor time.Duration
	backoffCap   time.Duration

	mu    sync.Mutex
	tasks map[string]*subscriberTask
}

type subscriberTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *subscriberTask) terminated() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// NewSupervisor creates a supervisor with the default backoff policy.
func NewSupervisor(registry *Registry, backplane Backplane, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		registry:     registry,
		backplane:    backplane,
		logger:       logger,
		backoffFloor: defaultBackoffFloor,
		backoffCap:   defaultBackoffCap,
		tasks:        make(map[string]*subscriberTask),
	}
}

// Ensure starts the subscriber task for the room unless a live one already
// exists. The check and the create happen under one lock, so concurrent
// calls can never start two tasks for the same room.
func (s *Supervisor) Ensure(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[room]; ok && !task.terminated() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &subscriberTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[room] = task
	go s.run(ctx, room, task)
}

// MaybeStop tears down the room's subscriber task once no local connection
// needs it. While Count(room) > 0 it is a no-op. It waits for the task to
// fully terminate before returning, so a rapid disconnect-reconnect cannot
// leak a duplicate subscription.
func (s *Supervisor) MaybeStop(room string) {
	if s.registry.Count(room) > 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[room]
	if !ok {
		return
	}
	delete(s.tasks, room)
	task.cancel()
	<-task.done
}

// CancelAll cancels every tracked task and waits for all of them to
// terminate; used at process shutdown.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	tasks := make([]*subscriberTask, 0, len(s.tasks))
	for room, task := range s.tasks {
		tasks = append(tasks, task)
		delete(s.tasks, room)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// run is the subscriber task body. It terminates when the room has no
// local listeners or when cancelled; transport failures are retried with
// capped exponential backoff.
func (s *Supervisor) run(ctx context.Context, room string, task *subscriberTask) {
	defer close(task.done)

	channel := channelForRoom(room)
	backoff := s.backoffFloor

	for {
		if s.registry.Count(room) == 0 {
			s.logger.Info("subscriber stopping, room empty", "room", room)
			return
		}

		sub, err := s.backplane.Subscribe(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = s.sleepBackoff(ctx, room, backoff, err)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		s.logger.Info("subscribed to backplane channel", "channel", channel)
		backoff = s.backoffFloor

		err = s.consume(ctx, room, sub)
		_ = sub.Close()
		if err == nil || ctx.Err() != nil {
			return
		}
		backoff = s.sleepBackoff(ctx, room, backoff, err)
		if ctx.Err() != nil {
			return
		}
	}
}

// consume pumps backplane messages into the local registry. It returns nil
// once the room has no local listeners left, and the transport or
// cancellation error otherwise.
func (s *Supervisor) consume(ctx context.Context, room string, sub BackplaneSub) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}

		// The last local connection may have left while this message was
		// in flight; re-check before fanning out.
		if s.registry.Count(room) == 0 {
			s.logger.Info("subscriber stopping, room emptied mid-stream", "room", room)
			return nil
		}

		if !json.Valid(payload) {
			payload, _ = NewErrorEnvelope("bad_payload").Encode()
		}
		s.registry.FanOut(room, payload)
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context, room string, backoff time.Duration, cause error) time.Duration {
	s.logger.Warn("backplane subscription error, backing off",
		"room", room, "backoff", backoff, "error", cause)
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}
	return nextBackoff(backoff, s.backoffCap)
}

// nextBackoff doubles the current delay up to the cap.
func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}

package server

import (
	"log/slog"
	"sync"
)

// Conn is the registry's view of a connection. The underlying socket is
// owned by the session that created it; the registry only sends.
type Conn interface {
	ID() string
	User() string
	Send(data []byte) error
	Close() error
}

// Registry is the process-local table of active connections per room.
// A room key exists if and only if it has at least one connection; the
// empty set is removed immediately. All operations are safe for
// concurrent use.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]map[Conn]struct{}
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]map[Conn]struct{}),
		logger: logger,
	}
}

// Add inserts the connection into the room's set, creating the set if
// absent. Adding a connection that is already present is a no-op.
func (r *Registry) Add(room string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[room]
	if !ok {
		set = make(map[Conn]struct{})
		r.rooms[room] = set
	}
	set[c] = struct{}{}
}

// Remove deletes the connection from the room's set and drops the room key
// once the set empties. Removing an absent connection or room is a no-op.
func (r *Registry) Remove(room string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
}

// Count returns the current local connection count for the room. The
// supervisor reads it fresh at every subscribe/unsubscribe decision.
func (r *Registry) Count(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Snapshot returns a point-in-time copy of the room's connections, taken
// under the same lock as mutation so fan-out iterates over a stable list.
func (r *Registry) Snapshot(room string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.rooms[room]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// FanOut sends one already-serialized payload to every connection in the
// room. A failed send evicts only that connection; delivery to the rest
// always proceeds.
func (r *Registry) FanOut(room string, payload []byte) {
	for _, c := range r.Snapshot(room) {
		if err := c.Send(payload); err != nil {
			r.logger.Warn("fan-out send failed, evicting connection",
				"room", room, "conn", c.ID(), "user", c.User(), "error", err)
			r.Remove(room, c)
		}
	}
}

// CloseAll force-closes every registered connection; used at process
// shutdown to unblock the sessions so they can drain.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var conns []Conn
	for _, set := range r.rooms {
		for c := range set {
			conns = append(conns, c)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			r.logger.Debug("closing connection at shutdown", "conn", c.ID(), "error", err)
		}
	}
}

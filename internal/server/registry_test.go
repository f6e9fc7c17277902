package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id   string
	user string

	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func (m *mockConn) ID() string   { return m.id }
func (m *mockConn) User() string { return m.user }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(testLogger())
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}

	r.Add("lobby", a)
	r.Add("lobby", b)
	assert.Equal(t, 2, r.Count("lobby"))
	assert.Len(t, r.Snapshot("lobby"), 2)

	r.Remove("lobby", a)
	assert.Equal(t, 1, r.Count("lobby"))

	r.Remove("lobby", b)
	assert.Equal(t, 0, r.Count("lobby"))

	r.mu.Lock()
	_, exists := r.rooms["lobby"]
	r.mu.Unlock()
	assert.False(t, exists, "empty room key must be removed")
}

func TestRegistryAddIdempotent(t *testing.T) {
	r := NewRegistry(testLogger())
	a := &mockConn{id: "a"}

	r.Add("lobby", a)
	r.Add("lobby", a)
	assert.Equal(t, 1, r.Count("lobby"))
}

func TestRegistryRemoveAbsent(t *testing.T) {
	r := NewRegistry(testLogger())
	a := &mockConn{id: "a"}

	r.Remove("lobby", a)
	assert.Equal(t, 0, r.Count("lobby"))

	r.Add("lobby", a)
	r.Remove("other", a)
	assert.Equal(t, 1, r.Count("lobby"))
}

func TestRegistryCountMatchesSnapshot(t *testing.T) {
	r := NewRegistry(testLogger())
	rng := rand.New(rand.NewSource(42))
	conns := make([]*mockConn, 16)
	for i := range conns {
		conns[i] = &mockConn{id: fmt.Sprintf("c%d", i)}
	}
	rooms := []string{"alpha", "beta", "gamma"}

	for op := 0; op < 500; op++ {
		room := rooms[rng.Intn(len(rooms))]
		c := conns[rng.Intn(len(conns))]
		if rng.Intn(2) == 0 {
			r.Add(room, c)
		} else {
			r.Remove(room, c)
		}

		for _, room := range rooms {
			count := r.Count(room)
			require.Len(t, r.Snapshot(room), count)

			r.mu.Lock()
			_, exists := r.rooms[room]
			r.mu.Unlock()
			require.Equal(t, count >= 1, exists,
				"room key presence must match count >= 1")
		}
	}
}

func TestFanOutEvictsFailedConn(t *testing.T) {
	r := NewRegistry(testLogger())
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b", sendErr: errors.New("broken pipe")}
	c := &mockConn{id: "c"}

	r.Add("lobby", a)
	r.Add("lobby", b)
	r.Add("lobby", c)

	payload := []byte(`{"type":"chat.delivery"}`)
	r.FanOut("lobby", payload)

	require.Len(t, a.getReceived(), 1)
	assert.Equal(t, payload, a.getReceived()[0])
	require.Len(t, c.getReceived(), 1)
	assert.Empty(t, b.getReceived())

	assert.Equal(t, 2, r.Count("lobby"), "failed conn must be evicted")
}

func TestFanOutEmptyRoom(t *testing.T) {
	r := NewRegistry(testLogger())
	r.FanOut("nobody", []byte("x"))
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &mockConn{id: fmt.Sprintf("c%d", i)}
			for j := 0; j < 100; j++ {
				r.Add("lobby", c)
				r.Count("lobby")
				r.FanOut("lobby", []byte("m"))
				r.Remove("lobby", c)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count("lobby"))
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry(testLogger())
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	r.Add("lobby", a)
	r.Add("other", b)

	r.CloseAll()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

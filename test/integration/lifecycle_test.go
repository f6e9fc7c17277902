package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/server"
)

func TestHeartbeatPingsFlow(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.IdleTimeout = time.Minute
	ts, _ := newRelayServer(t, cfg, server.NewMemoryBackplane())

	conn := dial(t, ts, "lobby", "A")

	env := readEnvelope(t, conn, 2*time.Second)
	if env.Type != "system.ping" {
		t.Fatalf("Expected heartbeat ping, got %+v", env)
	}
	if env.TS <= 0 {
		t.Error("Heartbeat ping must carry a timestamp")
	}
}

func TestIdleSessionClosedWithTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.IdleTimeout = 60 * time.Millisecond
	ts, _ := newRelayServer(t, cfg, server.NewMemoryBackplane())

	conn := dial(t, ts, "lobby", "A")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // heartbeat pings until the idle cutoff
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("Expected close error, got %v", err)
		}
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("Expected close code 1000, got %d", closeErr.Code)
		}
		if closeErr.Text != "idle timeout" {
			t.Errorf("Expected close reason %q, got %q", "idle timeout", closeErr.Text)
		}
		return
	}
}

func TestClientTrafficDefersIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.IdleTimeout = 80 * time.Millisecond
	ts, _ := newRelayServer(t, cfg, server.NewMemoryBackplane())

	conn := dial(t, ts, "lobby", "A")

	// Keep writing past several idle windows; the connection must stay up.
	for i := 0; i < 8; i++ {
		sendJSON(t, conn, `{"type":"system.pong"}`)
		time.Sleep(40 * time.Millisecond)
	}

	sendJSON(t, conn, `{"type":"system.ping","id":"alive"}`)
	env := readEnvelope(t, conn, 2*time.Second, "system.ping")
	if env.Type != "system.ack" || env.Ref != "alive" {
		t.Fatalf("Session should have outlived the idle window: %+v", env)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	backplane := server.NewMemoryBackplane()
	ts, _ := newRelayServer(t, testConfig(), backplane)

	connA := dial(t, ts, "alpha", "A")
	connB := dial(t, ts, "beta", "B")
	waitForSubscriber(t, backplane, "alpha")
	waitForSubscriber(t, backplane, "beta")

	sendJSON(t, connA, `{"type":"chat.message","room":"alpha","text":"secret"}`)

	// Sender sees its own delivery, so the publish definitely went through.
	env := readEnvelope(t, connA, 2*time.Second, "system.ping")
	if env.Type != "chat.delivery" {
		t.Fatalf("Expected delivery in alpha, got %+v", env)
	}

	if err := connB.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, raw, err := connB.ReadMessage(); err == nil {
		t.Fatalf("Room beta must not see alpha traffic, got %q", raw)
	}
}

func TestSubscriberStopsAfterLastClientLeaves(t *testing.T) {
	backplane := server.NewMemoryBackplane()
	ts, _ := newRelayServer(t, testConfig(), backplane)

	conn := dial(t, ts, "lobby", "A")
	waitForSubscriber(t, backplane, "lobby")

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if backplane.SubscriberCount("room:lobby") == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Backplane subscription survived the last client leaving")
}

func TestShutdownClosesClients(t *testing.T) {
	backplane := server.NewMemoryBackplane()
	ts, app := newRelayServer(t, testConfig(), backplane)

	conn := dial(t, ts, "lobby", "A")
	waitForSubscriber(t, backplane, "lobby")

	app.Shutdown()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // connection torn down by shutdown
		}
	}
}

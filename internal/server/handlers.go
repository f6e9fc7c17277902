package server

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/websocket"
)

// roomNamePattern restricts room names to a short, URL-safe charset.
var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validRoomName(room string) bool {
	return roomNamePattern.MatchString(room)
}

// bearerToken extracts the bearer token from the "token" query parameter,
// falling back to the "access_token" cookie.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// WebSocketHandler serves /ws/{room}. It upgrades the connection, runs the
// handshake checks (room syntax, origin, bearer token), and hands the
// socket to a Session. Every rejection closes with a policy-violation code
// and a short reason before any session state is allocated.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	room := r.PathValue("room")
	origin := r.Header.Get("Origin")
	token := bearerToken(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origin policy is enforced below, where a violation can be
		// answered on the socket with a 1008 close instead of an HTTP 403.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if !validRoomName(room) {
		a.rejectConn(conn, "bad room")
		return
	}
	if !a.cfg.origins.Allowed(origin) {
		a.logger.Warn("connection from disallowed origin", "origin", origin)
		a.rejectConn(conn, "bad origin")
		return
	}
	claims := verifyToken(token, a.cfg.JWTSecret, a.cfg.JWTAlg)
	if claims == nil {
		a.rejectConn(conn, "unauthorized")
		return
	}

	session := NewSession(conn, room, subjectFromClaims(claims), a)
	session.Run(r.Context())
}

// rejectConn refuses a freshly upgraded connection with close code 1008
// (policy violation) and a short reason.
func (a *App) rejectConn(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		a.logger.Debug("rejection close failed", "reason", reason, "error", err)
	}
	_ = conn.Close()
}

// HealthHandler provides a simple health check endpoint that returns
// server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "room relay is running")
}

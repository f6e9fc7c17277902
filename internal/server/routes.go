package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application
// routes: the health check and the room session endpoint.
func (a *App) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws/{room}", a.WebSocketHandler)
	return mux
}

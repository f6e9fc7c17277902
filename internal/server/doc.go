// Package server implements the room relay core: the WebSocket session
// lifecycle, the process-local room registry, and the per-room backplane
// subscription supervisor, together with the envelope protocol they
// exchange.
//
// The implementation is organized into specialized files for configuration,
// the registry, the supervisor, sessions, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server

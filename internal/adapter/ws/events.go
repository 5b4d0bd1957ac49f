package ws

import (
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// Event type constants for WebSocket messages.
const (
	EventToken      = "session.token"
	EventLogUpdated = "session.log"
	EventCompleted  = "session.complete"
	EventFailed     = "session.error"
)

// TokenEvent is sent for every applied token delta. Created is set when
// the delta opened a new entity buffer.
type TokenEvent struct {
	Pattern session.Pattern `json:"pattern"`
	session.TokenUpdate
}

// LogEvent carries the full step log after a step or on completion.
type LogEvent struct {
	Pattern session.Pattern `json:"pattern"`
	Steps   []stream.Step   `json:"steps"`
}

// FailedEvent carries the user-facing failure message.
type FailedEvent struct {
	Pattern session.Pattern `json:"pattern"`
	Message string          `json:"message"`
}
